package export

import (
	"fmt"
	"sync"

	"github.com/cliplab/cliplab-agent/internal/edit"
)

// State is a phase of an export job. Transitions only move forward:
// Idle → Validating → Exporting → WritingMetadata → Verifying, ending in
// Succeeded or Failed.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateExporting
	StateWritingMetadata
	StateVerifying
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateExporting:
		return "exporting"
	case StateWritingMetadata:
		return "writing_metadata"
	case StateVerifying:
		return "verifying"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the job is finished, successfully or not.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Update is one observable step of a job. Fraction is the latest progress
// in [0,1]; Err is set only on a failed terminal update.
type Update struct {
	State    State
	Fraction float64
	Err      error
}

// VerificationError means the export finished without a transform error but
// the output on disk is unusable.
type VerificationError struct {
	Path   string
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("output verification failed for %s: %s", e.Path, e.Reason)
}

// Job is one in-flight or finished export. State transitions are published
// on the updates channel, which is closed after the terminal update; the
// unbounded per-frame progress stream is coalesced into the snapshot and
// only sampled into updates at state boundaries.
type Job struct {
	ID         string
	SourcePath string
	Params     edit.Parameters

	cancel func()

	mu         sync.Mutex
	state      State
	fraction   float64
	outputPath string
	err        error

	updates chan Update
}

func newJob(id, sourcePath string, params edit.Parameters, cancel func()) *Job {
	return &Job{
		ID:         id,
		SourcePath: sourcePath,
		Params:     params,
		cancel:     cancel,
		state:      StateIdle,
		updates:    make(chan Update, 8),
	}
}

// Updates returns the job's state-transition stream. It terminates with a
// Succeeded or Failed update and is then closed.
func (j *Job) Updates() <-chan Update {
	return j.updates
}

// Cancel requests cancellation. The job still passes through its terminal
// state; partial output is left on disk and no provenance is written.
func (j *Job) Cancel() {
	j.cancel()
}

// Snapshot returns the job's current state, progress fraction, output path
// and terminal error.
func (j *Job) Snapshot() (State, float64, string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, j.fraction, j.outputPath, j.err
}

// setState advances the job and publishes an update. The channel is sized
// for the bounded number of transitions, so the send never blocks as long
// as transitions only move forward.
func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	u := Update{State: s, Fraction: j.fraction, Err: j.err}
	j.mu.Unlock()

	j.updates <- u
	if s.Terminal() {
		close(j.updates)
	}
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
	j.setState(StateFailed)
}

// setProgress records a progress fraction, clamped to [0,1] and never
// moving backwards. Returns the recorded value.
func (j *Job) setProgress(f float64) float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	if f > j.fraction {
		j.fraction = f
	}
	return j.fraction
}

func (j *Job) setOutputPath(path string) {
	j.mu.Lock()
	j.outputPath = path
	j.mu.Unlock()
}

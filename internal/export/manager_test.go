package export

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cliplab/cliplab-agent/internal/db"
	"github.com/cliplab/cliplab-agent/internal/edit"
	"github.com/cliplab/cliplab-agent/internal/jobs"
	"github.com/cliplab/cliplab-agent/internal/provenance"
	"github.com/cliplab/cliplab-agent/internal/transform"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupManager(t *testing.T, ft transform.FrameTransform) (*Manager, string) {
	t.Helper()

	root := t.TempDir()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := discardLogger()
	m := NewManager(root, ft, provenance.NewStore(logger), jobs.NewRepository(database.Conn()), logger)
	return m, root
}

func writeSource(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake video bytes"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

// drain consumes the update stream until it closes and returns the
// sequence of states observed.
func drain(t *testing.T, job *Job) []State {
	t.Helper()
	var states []State
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-job.Updates():
			if !ok {
				return states
			}
			states = append(states, u.State)
		case <-timeout:
			t.Fatalf("job did not finish, states so far: %v", states)
		}
	}
}

func TestManager_SuccessfulExport(t *testing.T) {
	stub := transform.NewStub(discardLogger())
	m, root := setupManager(t, stub)
	src := writeSource(t, t.TempDir(), "clip.mp4")

	params := edit.NewParameters(src)
	params.Brightness = 20

	job, err := m.Start(context.Background(), src, params)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	states := drain(t, job)
	want := []State{StateValidating, StateExporting, StateWritingMetadata, StateVerifying, StateSucceeded}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}

	state, fraction, outputPath, jobErr := job.Snapshot()
	if state != StateSucceeded || jobErr != nil {
		t.Fatalf("Snapshot() = %v, %v", state, jobErr)
	}
	if fraction != 1 {
		t.Errorf("fraction = %v, want 1", fraction)
	}
	if filepath.Dir(outputPath) != root {
		t.Errorf("output %s not under root %s", outputPath, root)
	}
	if info, err := os.Stat(outputPath); err != nil || info.Size() == 0 {
		t.Errorf("output missing or empty: %v", err)
	}

	rec, err := provenance.NewStore(discardLogger()).Read(outputPath)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if rec == nil {
		t.Fatal("no provenance record written")
	}
	if rec.OriginalPath != src {
		t.Errorf("OriginalPath = %s, want %s", rec.OriginalPath, src)
	}
	if rec.Edits.Brightness != 20 {
		t.Errorf("Edits.Brightness = %v, want 20", rec.Edits.Brightness)
	}
}

func TestManager_EndToEndTrimRotateBrighten(t *testing.T) {
	stub := transform.NewStub(discardLogger())
	stub.DurationMs = 10000
	m, root := setupManager(t, stub)
	src := writeSource(t, t.TempDir(), "clip.mp4")

	params := edit.NewParameters(src)
	params.TrimStartMs = 2000
	params.TrimEndMs = 8000
	params.Brightness = 10
	params.RotationAngle = 90

	job, err := m.Start(context.Background(), src, params)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	states := drain(t, job)
	if states[len(states)-1] != StateSucceeded {
		t.Fatalf("final state = %v, want succeeded", states[len(states)-1])
	}

	_, _, outputPath, _ := job.Snapshot()
	if filepath.Dir(outputPath) != root {
		t.Errorf("output %s not under root %s", outputPath, root)
	}

	rec, err := provenance.NewStore(discardLogger()).Read(outputPath)
	if err != nil || rec == nil {
		t.Fatalf("sidecar read = %v, %v", rec, err)
	}
	if rec.Edits.RotationAngle != 90 {
		t.Errorf("Edits.RotationAngle = %d, want 90", rec.Edits.RotationAngle)
	}
	if rec.Edits.Brightness != 10 {
		t.Errorf("Edits.Brightness = %v, want 10", rec.Edits.Brightness)
	}
	if rec.Edits.TrimStartMs != 2000 || rec.Edits.TrimEndMs != 8000 {
		t.Errorf("trim = [%d,%d], want [2000,8000]", rec.Edits.TrimStartMs, rec.Edits.TrimEndMs)
	}
}

func TestManager_TrivialEditCopiesBytes(t *testing.T) {
	m, _ := setupManager(t, &failingTransform{}) // must not be invoked
	src := writeSource(t, t.TempDir(), "clip.mp4")

	job, err := m.Start(context.Background(), src, edit.NewParameters(src))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	states := drain(t, job)
	if states[len(states)-1] != StateSucceeded {
		t.Fatalf("final state = %v, want succeeded", states[len(states)-1])
	}

	_, _, outputPath, _ := job.Snapshot()
	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != "fake video bytes" {
		t.Errorf("output bytes differ from source")
	}
}

func TestManager_BusyRejection(t *testing.T) {
	blocking := newBlockingTransform()
	m, _ := setupManager(t, blocking)
	src := writeSource(t, t.TempDir(), "clip.mp4")

	params := edit.NewParameters(src)
	params.RotationAngle = 90

	job, err := m.Start(context.Background(), src, params)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-blocking.started

	if _, err := m.Start(context.Background(), src, params); !errors.Is(err, ErrExportBusy) {
		t.Errorf("second Start() error = %v, want ErrExportBusy", err)
	}

	// A different source is not blocked.
	other := writeSource(t, t.TempDir(), "other.mp4")
	otherJob, err := m.Start(context.Background(), other, edit.NewParameters(other))
	if err != nil {
		t.Fatalf("Start(other) error = %v", err)
	}
	drain(t, otherJob)

	blocking.release()
	drain(t, job)

	// After completion the source is free again.
	if _, err := m.Start(context.Background(), src, params); err != nil {
		t.Errorf("Start() after completion error = %v", err)
	}
}

func TestManager_MissingSource(t *testing.T) {
	m, _ := setupManager(t, transform.NewStub(discardLogger()))

	_, err := m.Start(context.Background(), "/nowhere/clip.mp4", edit.NewParameters("/nowhere/clip.mp4"))
	if !errors.Is(err, ErrSourceMissing) {
		t.Errorf("Start() error = %v, want ErrSourceMissing", err)
	}
}

func TestManager_InvalidParametersFailJob(t *testing.T) {
	m, _ := setupManager(t, transform.NewStub(discardLogger()))
	src := writeSource(t, t.TempDir(), "clip.mp4")

	params := edit.NewParameters(src)
	params.RotationAngle = 45

	job, err := m.Start(context.Background(), src, params)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	states := drain(t, job)
	want := []State{StateValidating, StateFailed}
	if len(states) != 2 || states[0] != want[0] || states[1] != want[1] {
		t.Fatalf("states = %v, want %v", states, want)
	}

	var verr *edit.ValidationError
	_, _, _, jobErr := job.Snapshot()
	if !errors.As(jobErr, &verr) {
		t.Errorf("job error = %v, want *edit.ValidationError", jobErr)
	}
}

func TestManager_TransformFailureNoProvenance(t *testing.T) {
	m, root := setupManager(t, &failingTransform{})
	src := writeSource(t, t.TempDir(), "clip.mp4")

	params := edit.NewParameters(src)
	params.RotationAngle = 180

	job, err := m.Start(context.Background(), src, params)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	states := drain(t, job)
	if states[len(states)-1] != StateFailed {
		t.Fatalf("final state = %v, want failed", states[len(states)-1])
	}

	// The partial output stays, the sidecar must not exist.
	_, _, outputPath, _ := job.Snapshot()
	if _, err := os.Stat(outputPath); err != nil {
		t.Errorf("partial output was removed: %v", err)
	}
	if _, err := os.Stat(provenance.SidecarPath(outputPath)); !os.IsNotExist(err) {
		t.Errorf("sidecar written for failed export")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == provenance.SidecarSuffix {
			t.Errorf("unexpected sidecar %s", e.Name())
		}
	}
}

func TestManager_CancelFailsJob(t *testing.T) {
	blocking := newBlockingTransform()
	m, _ := setupManager(t, blocking)
	src := writeSource(t, t.TempDir(), "clip.mp4")

	params := edit.NewParameters(src)
	params.RotationAngle = 90

	job, err := m.Start(context.Background(), src, params)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-blocking.started

	job.Cancel()
	states := drain(t, job)
	if states[len(states)-1] != StateFailed {
		t.Fatalf("final state = %v, want failed", states[len(states)-1])
	}

	_, _, outputPath, jobErr := job.Snapshot()
	if !errors.Is(jobErr, context.Canceled) {
		t.Errorf("job error = %v, want context.Canceled", jobErr)
	}
	if _, err := os.Stat(provenance.SidecarPath(outputPath)); !os.IsNotExist(err) {
		t.Errorf("sidecar written for canceled export")
	}
}

func TestManager_GetJobWhileRunning(t *testing.T) {
	blocking := newBlockingTransform()
	m, _ := setupManager(t, blocking)
	src := writeSource(t, t.TempDir(), "clip.mp4")

	params := edit.NewParameters(src)
	params.RotationAngle = 90

	job, err := m.Start(context.Background(), src, params)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-blocking.started

	if got := m.GetJob(job.ID); got != job {
		t.Errorf("GetJob(%s) = %v, want the running job", job.ID, got)
	}
	if got := m.GetJob("nope"); got != nil {
		t.Errorf("GetJob(unknown) = %v, want nil", got)
	}

	blocking.release()
	drain(t, job)

	deadline := time.Now().Add(2 * time.Second)
	for m.GetJob(job.ID) != nil {
		if time.Now().After(deadline) {
			t.Fatal("finished job still tracked as in flight")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_DistinctOutputNames(t *testing.T) {
	m, _ := setupManager(t, transform.NewStub(discardLogger()))
	dir := t.TempDir()

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		src := writeSource(t, dir, "clip"+string(rune('a'+i))+".mp4")
		job, err := m.Start(context.Background(), src, edit.NewParameters(src))
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		drain(t, job)
		_, _, outputPath, _ := job.Snapshot()
		if seen[outputPath] {
			t.Fatalf("output name %s reused", outputPath)
		}
		seen[outputPath] = true
	}
}

func TestManager_PersistsHistory(t *testing.T) {
	root := t.TempDir()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	defer database.Close()
	repo := jobs.NewRepository(database.Conn())

	logger := discardLogger()
	m := NewManager(root, transform.NewStub(logger), provenance.NewStore(logger), repo, logger)
	src := writeSource(t, t.TempDir(), "clip.mp4")

	params := edit.NewParameters(src)
	params.Contrast = 1.5

	job, err := m.Start(context.Background(), src, params)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	drain(t, job)

	row, err := repo.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if row == nil {
		t.Fatal("job not persisted")
	}
	if row.Status != jobs.StatusCompleted {
		t.Errorf("Status = %s, want completed", row.Status)
	}
	if row.Progress != 100 {
		t.Errorf("Progress = %d, want 100", row.Progress)
	}
	if row.OutputPath == "" {
		t.Errorf("OutputPath not persisted")
	}
}

// failingTransform reports a plausible duration so validation passes, then
// writes a partial output and fails.
type failingTransform struct{}

func (f *failingTransform) Probe(ctx context.Context, path string) (*transform.ProbeResult, error) {
	return &transform.ProbeResult{DurationMs: 10000}, nil
}

func (f *failingTransform) Transform(ctx context.Context, sourcePath string, params edit.ValidParameters, outputPath string, progress func(float64)) error {
	os.WriteFile(outputPath, []byte("partial"), 0644)
	return &transform.Error{ExitCode: 1, StderrTail: "boom"}
}

// blockingTransform blocks until released or canceled, signalling on
// started once Transform is entered.
type blockingTransform struct {
	started chan struct{}
	gate    chan struct{}
}

func newBlockingTransform() *blockingTransform {
	return &blockingTransform{
		started: make(chan struct{}, 8),
		gate:    make(chan struct{}),
	}
}

func (b *blockingTransform) release() { close(b.gate) }

func (b *blockingTransform) Probe(ctx context.Context, path string) (*transform.ProbeResult, error) {
	return &transform.ProbeResult{DurationMs: 10000}, nil
}

func (b *blockingTransform) Transform(ctx context.Context, sourcePath string, params edit.ValidParameters, outputPath string, progress func(float64)) error {
	b.started <- struct{}{}
	select {
	case <-b.gate:
		return transform.CopyFile(ctx, sourcePath, outputPath)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package export runs edit exports as background jobs: validate the
// parameters, render the output next to the library, write the provenance
// sidecar, verify the result. At most one job runs per source file.
package export

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cliplab/cliplab-agent/internal/edit"
	"github.com/cliplab/cliplab-agent/internal/jobs"
	"github.com/cliplab/cliplab-agent/internal/provenance"
	"github.com/cliplab/cliplab-agent/internal/transform"
)

var (
	// ErrExportBusy rejects a second export for a source that already has
	// one in flight. Callers retry after the running job finishes.
	ErrExportBusy = errors.New("an export for this source is already running")

	// ErrSourceMissing rejects an export whose source file does not exist.
	ErrSourceMissing = errors.New("source file does not exist")
)

// OutputExpecter marks paths the manager is about to create, so the
// library watcher does not flag them as foreign writes.
type OutputExpecter interface {
	Expect(path string)
}

// Manager starts and tracks export jobs. Busy and missing-source checks
// happen synchronously in Start; everything else runs in the job goroutine.
type Manager struct {
	root      string
	transform transform.FrameTransform
	store     *provenance.Store
	repo      jobs.Repository
	namer     *Namer
	expecter  OutputExpecter
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]*Job
}

func NewManager(root string, t transform.FrameTransform, store *provenance.Store, repo jobs.Repository, logger *slog.Logger) *Manager {
	return &Manager{
		root:      root,
		transform: t,
		store:     store,
		repo:      repo,
		namer:     NewNamer(),
		logger:    logger,
		inflight:  make(map[string]*Job),
	}
}

// ExpectOutputs registers a watcher that should be told about paths the
// manager creates. Must be called before the first Start.
func (m *Manager) ExpectOutputs(e OutputExpecter) {
	m.expecter = e
}

// Start launches an export for sourcePath with the given parameters. It
// returns ErrExportBusy if a job for the same source is in flight and
// ErrSourceMissing if the source is gone, both without creating a job.
func (m *Manager) Start(ctx context.Context, sourcePath string, params edit.Parameters) (*Job, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, ErrSourceMissing
	}

	m.mu.Lock()
	if _, busy := m.inflight[sourcePath]; busy {
		m.mu.Unlock()
		return nil, ErrExportBusy
	}

	// The job outlives the caller's request; only Cancel and shutdown stop
	// it, not the submitting HTTP request finishing.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := newJob(jobs.NewID(), sourcePath, params, cancel)
	m.inflight[sourcePath] = job
	m.mu.Unlock()

	now := time.Now().UTC()
	err := m.repo.CreateJob(jobCtx, &jobs.ExportJob{
		ID:         job.ID,
		SourcePath: sourcePath,
		Status:     jobs.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		m.logger.Warn("failed to persist export job", "job_id", job.ID, "error", err)
	}

	go m.run(jobCtx, job)
	return job, nil
}

// GetJob returns the in-flight job with the given ID, or nil once it has
// reached a terminal state. Finished jobs live on in the history table.
func (m *Manager) GetJob(id string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.inflight {
		if job.ID == id {
			return job
		}
	}
	return nil
}

func (m *Manager) run(ctx context.Context, job *Job) {
	defer func() {
		m.mu.Lock()
		delete(m.inflight, job.SourcePath)
		m.mu.Unlock()
	}()

	logger := m.logger.With("job_id", job.ID, "source", job.SourcePath)
	logger.Info("export started")

	m.setStatus(job.ID, jobs.StatusRunning, "")
	job.setState(StateValidating)

	probe, err := m.transform.Probe(ctx, job.SourcePath)
	if err != nil {
		m.finishFailed(job, logger, err)
		return
	}

	valid, err := edit.Validate(job.Params, probe.DurationMs)
	if err != nil {
		m.finishFailed(job, logger, err)
		return
	}

	ext := filepath.Ext(job.SourcePath)
	outputPath, err := m.namer.OutputPath(m.root, ext)
	if err != nil {
		m.finishFailed(job, logger, err)
		return
	}
	job.setOutputPath(outputPath)
	if m.expecter != nil {
		m.expecter.Expect(outputPath)
		m.expecter.Expect(provenance.SidecarPath(outputPath))
	}
	if err := m.repo.UpdateJobOutput(ctx, job.ID, outputPath); err != nil {
		logger.Warn("failed to persist output path", "error", err)
	}

	job.setState(StateExporting)

	if job.Params.Trivial(probe.DurationMs) {
		logger.Info("edit set is a no-op, copying source", "output", outputPath)
		err = transform.CopyFile(ctx, job.SourcePath, outputPath)
		job.setProgress(1)
	} else {
		err = m.transform.Transform(ctx, job.SourcePath, valid, outputPath, func(f float64) {
			recorded := job.setProgress(f)
			m.persistProgress(job.ID, recorded)
		})
	}
	if err != nil {
		// The partial output stays on disk; no provenance is written for
		// a failed or canceled export.
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		m.finishFailed(job, logger, err)
		return
	}

	job.setState(StateWritingMetadata)
	rec := &provenance.Record{
		OriginalPath: job.SourcePath,
		ProcessedAt:  time.Now().UTC(),
		Edits:        valid.Parameters,
		Version:      provenance.SchemaVersion,
	}
	if err := m.store.Write(outputPath, rec); err != nil {
		// The output itself is intact, so a sidecar failure does not fail
		// the job. The file just loses its lineage.
		logger.Warn("failed to write provenance sidecar", "output", outputPath, "error", err)
	}

	job.setState(StateVerifying)
	if err := verifyOutput(outputPath); err != nil {
		m.finishFailed(job, logger, err)
		return
	}

	job.setProgress(1)
	m.persistProgress(job.ID, 1)
	m.setStatus(job.ID, jobs.StatusCompleted, "")
	job.setState(StateSucceeded)
	logger.Info("export succeeded", "output", outputPath)
}

func (m *Manager) finishFailed(job *Job, logger *slog.Logger, err error) {
	m.setStatus(job.ID, jobs.StatusFailed, err.Error())
	job.fail(err)
	logger.Error("export failed", "error", err)
}

// setStatus and persistProgress write to the history table with a fresh
// context: the job context may already be canceled, and the terminal row
// must still land.
func (m *Manager) setStatus(jobID, status, errorMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.repo.UpdateJobStatus(ctx, jobID, status, errorMsg); err != nil {
		m.logger.Warn("failed to persist job status", "job_id", jobID, "error", err)
	}
}

func (m *Manager) persistProgress(jobID string, fraction float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.repo.UpdateJobProgress(ctx, jobID, int(fraction*100)); err != nil {
		m.logger.Warn("failed to persist job progress", "job_id", jobID, "error", err)
	}
}

func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &VerificationError{Path: path, Reason: "output file is missing"}
	}
	if info.Size() == 0 {
		return &VerificationError{Path: path, Reason: "output file is empty"}
	}
	return nil
}

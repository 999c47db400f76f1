package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cliplab/cliplab-agent/internal/db"
)

func setupRepo(t *testing.T) Repository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func newJob(source string) *ExportJob {
	now := time.Now()
	return &ExportJob{
		ID:         NewID(),
		SourcePath: source,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestRepository_CreateAndGetJob(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := newJob("/videos/a.mp4")
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	got, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetJob() = nil")
	}
	if got.SourcePath != "/videos/a.mp4" {
		t.Errorf("SourcePath = %q", got.SourcePath)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.OutputPath != "" {
		t.Errorf("OutputPath = %q, want empty", got.OutputPath)
	}
}

func TestRepository_GetJobMissing(t *testing.T) {
	repo := setupRepo(t)

	got, err := repo.GetJob(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetJob() = %+v, want nil", got)
	}
}

func TestRepository_UpdateJob(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	job := newJob("/videos/a.mp4")
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if err := repo.UpdateJobProgress(ctx, job.ID, 40); err != nil {
		t.Fatalf("UpdateJobProgress() error = %v", err)
	}
	if err := repo.UpdateJobOutput(ctx, job.ID, "/lib/export_1.mp4"); err != nil {
		t.Fatalf("UpdateJobOutput() error = %v", err)
	}
	if err := repo.UpdateJobStatus(ctx, job.ID, StatusFailed, "transform exited 1"); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}

	got, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Progress != 40 {
		t.Errorf("Progress = %d, want 40", got.Progress)
	}
	if got.OutputPath != "/lib/export_1.mp4" {
		t.Errorf("OutputPath = %q", got.OutputPath)
	}
	if got.Status != StatusFailed || got.Error != "transform exited 1" {
		t.Errorf("Status/Error = %q/%q", got.Status, got.Error)
	}
}

func TestRepository_ListJobsNewestFirst(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	older := newJob("/videos/a.mp4")
	older.CreatedAt = time.Now().Add(-time.Hour)
	older.UpdatedAt = older.CreatedAt
	newer := newJob("/videos/b.mp4")

	if err := repo.CreateJob(ctx, older); err != nil {
		t.Fatalf("CreateJob(older) error = %v", err)
	}
	if err := repo.CreateJob(ctx, newer); err != nil {
		t.Fatalf("CreateJob(newer) error = %v", err)
	}

	jobs, err := repo.ListJobs(ctx, 10)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("ListJobs() returned %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != newer.ID {
		t.Errorf("jobs[0].ID = %s, want newest job first", jobs[0].ID)
	}
}

func TestRepository_Config(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	val, err := repo.GetConfig(ctx, "auth_token")
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if val != "" {
		t.Errorf("GetConfig() on empty table = %q, want empty", val)
	}

	if err := repo.SetConfig(ctx, "auth_token", "secret"); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if err := repo.SetConfig(ctx, "auth_token", "rotated"); err != nil {
		t.Fatalf("SetConfig() upsert error = %v", err)
	}

	val, err = repo.GetConfig(ctx, "auth_token")
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if val != "rotated" {
		t.Errorf("GetConfig() = %q, want rotated", val)
	}
}

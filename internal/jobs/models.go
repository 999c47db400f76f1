// Package jobs persists export-job history and agent configuration in
// SQLite, so progress and outcomes survive API polling and restarts.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ExportJob is one row of export history. Progress is a percentage in
// [0,100]; the live fractional progress flows through the export manager,
// this row is the durable view.
type ExportJob struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	OutputPath string    `json:"output_path,omitempty"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func NewID() string {
	return uuid.NewString()
}

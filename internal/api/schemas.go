package api

import (
	"time"

	"github.com/cliplab/cliplab-agent/internal/edit"
	"github.com/cliplab/cliplab-agent/internal/jobs"
	"github.com/cliplab/cliplab-agent/internal/library"
	"github.com/cliplab/cliplab-agent/internal/provenance"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State       string       `json:"state"`
	LastError   string       `json:"last_error,omitempty"`
	FilesCount  int          `json:"files_count"`
	JobsRunning int          `json:"jobs_running"`
	ActiveJob   *JobResponse `json:"active_job,omitempty"`
}

type LibraryEntryResponse struct {
	Path       string              `json:"path"`
	Filename   string              `json:"filename"`
	Size       int64               `json:"size"`
	ModTime    string              `json:"mod_time"`
	Processed  bool                `json:"processed"`
	Provenance *ProvenanceResponse `json:"provenance,omitempty"`
}

type LibraryResponse struct {
	Files []LibraryEntryResponse `json:"files"`
}

type ProvenanceResponse struct {
	OriginalPath string          `json:"original_path"`
	ProcessedAt  string          `json:"processed_at"`
	Edits        edit.Parameters `json:"edits"`
	Version      string          `json:"version"`
}

type LineageResponse struct {
	Chain []ProvenanceResponse `json:"chain"`
	// Truncated is set when the chain hit the hop bound, which indicates a
	// lineage cycle on disk.
	Truncated bool `json:"truncated,omitempty"`
}

type PreviewRequest struct {
	Path  string          `json:"path"`
	Edits edit.Parameters `json:"edits"`
}

type ExportRequest struct {
	SourcePath string          `json:"source_path"`
	Edits      edit.Parameters `json:"edits"`
}

type ExportResponse struct {
	JobID string `json:"job_id"`
}

type JobResponse struct {
	ID         string `json:"id"`
	SourcePath string `json:"source_path"`
	OutputPath string `json:"output_path,omitempty"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func EntryToResponse(e *library.Entry) LibraryEntryResponse {
	resp := LibraryEntryResponse{
		Path:      e.Path,
		Filename:  e.Filename,
		Size:      e.Size,
		ModTime:   e.ModTime.Format(time.RFC3339),
		Processed: e.IsProcessed(),
	}
	if e.Provenance != nil {
		rec := RecordToResponse(e.Provenance)
		resp.Provenance = &rec
	}
	return resp
}

func RecordToResponse(rec *provenance.Record) ProvenanceResponse {
	return ProvenanceResponse{
		OriginalPath: rec.OriginalPath,
		ProcessedAt:  rec.ProcessedAt.Format(time.RFC3339),
		Edits:        rec.Edits,
		Version:      rec.Version,
	}
}

func JobToResponse(j *jobs.ExportJob) JobResponse {
	return JobResponse{
		ID:         j.ID,
		SourcePath: j.SourcePath,
		OutputPath: j.OutputPath,
		Status:     j.Status,
		Progress:   j.Progress,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  j.UpdatedAt.Format(time.RFC3339),
	}
}

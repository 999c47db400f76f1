package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cliplab/cliplab-agent/internal/edit"
	"github.com/cliplab/cliplab-agent/internal/export"
	"github.com/cliplab/cliplab-agent/internal/jobs"
	"github.com/cliplab/cliplab-agent/internal/library"
	"github.com/cliplab/cliplab-agent/internal/provenance"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/library", listLibraryHandler(cfg))
		r.Delete("/library", deleteLibraryFileHandler(cfg))
		r.Get("/library/lineage", lineageHandler(cfg))
		r.Get("/library/play", playbackHandler(cfg))
		r.Get("/library/preview", previewHandler(cfg))
		r.Post("/library/preview", renderPreviewHandler(cfg))
		r.Post("/exports", startExportHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
		r.Delete("/exports/{id}", cancelExportHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  "0.1.0",
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		entries, err := cfg.Library.List()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to read library", "INTERNAL_ERROR")
			return
		}

		recent, _ := cfg.Repository.ListJobs(ctx, 10)

		state := "idle"
		var activeJob *JobResponse
		jobsRunning := 0
		lastError := ""

		for _, j := range recent {
			if j.Status == jobs.StatusRunning || j.Status == jobs.StatusPending {
				state = "exporting"
				resp := JobToResponse(j)
				activeJob = &resp
				jobsRunning++
			}
			if j.Status == jobs.StatusFailed && lastError == "" {
				lastError = j.Error
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		WriteJSON(w, http.StatusOK, StatusResponse{
			State:       state,
			LastError:   lastError,
			FilesCount:  len(entries),
			JobsRunning: jobsRunning,
			ActiveJob:   activeJob,
		})
	}
}

func listLibraryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := cfg.Library.List()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list library", "INTERNAL_ERROR")
			return
		}

		resp := LibraryResponse{Files: make([]LibraryEntryResponse, len(entries))}
		for i, e := range entries {
			resp.Files[i] = EntryToResponse(e)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func deleteLibraryFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		err := cfg.Library.Delete(path)
		var containment *library.ContainmentError
		switch {
		case errors.As(err, &containment):
			WriteError(w, http.StatusBadRequest, err.Error(), "PATH_OUTSIDE_LIBRARY")
			return
		case err != nil:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func lineageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		abs, err := cfg.Library.Resolve(path)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "PATH_OUTSIDE_LIBRARY")
			return
		}

		chain, err := cfg.Provenance.ChainOf(abs)
		resp := LineageResponse{Chain: make([]ProvenanceResponse, len(chain))}
		for i, rec := range chain {
			resp.Chain[i] = RecordToResponse(rec)
		}

		var cycle *provenance.CycleError
		switch {
		case errors.As(err, &cycle):
			// The collected records are still valid; flag the cut.
			resp.Truncated = true
		case err != nil:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func playbackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		abs, err := cfg.Library.Resolve(path)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "PATH_OUTSIDE_LIBRARY")
			return
		}

		if err := cfg.Playback.ServeFile(w, r, abs); err != nil {
			cfg.Logger.Error("playback error", "error", err, "path", abs)
		}
	}
}

func previewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// No generator without a working ffmpeg; previews are disabled.
		if cfg.Previews == nil {
			WriteError(w, http.StatusServiceUnavailable, "previews are disabled", "PREVIEWS_DISABLED")
			return
		}

		path := r.URL.Query().Get("path")
		if path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		abs, err := cfg.Library.Resolve(path)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "PATH_OUTSIDE_LIBRARY")
			return
		}

		poster, err := cfg.Previews.Poster(r.Context(), abs)
		if err != nil {
			WriteError(w, http.StatusNotFound, "preview unavailable", "PREVIEW_UNAVAILABLE")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		http.ServeFile(w, r, poster)
	}
}

// renderPreviewHandler renders a frame with a pending edit set applied, so
// a caller can inspect an edit before exporting it.
func renderPreviewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Previews == nil {
			WriteError(w, http.StatusServiceUnavailable, "previews are disabled", "PREVIEWS_DISABLED")
			return
		}

		var req PreviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		abs, err := cfg.Library.Resolve(req.Path)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "PATH_OUTSIDE_LIBRARY")
			return
		}

		out := filepath.Join(os.TempDir(), "cliplab_preview_"+jobs.NewID()+".png")
		defer os.Remove(out)

		params := normalizeEdits(abs, req.Edits)
		if err := cfg.Previews.Render(r.Context(), abs, params, out); err != nil {
			WriteError(w, http.StatusNotFound, "preview unavailable", "PREVIEW_UNAVAILABLE")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		http.ServeFile(w, r, out)
	}
}

func startExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.SourcePath == "" {
			WriteError(w, http.StatusBadRequest, "source_path is required", "BAD_REQUEST")
			return
		}

		params := normalizeEdits(req.SourcePath, req.Edits)

		job, err := cfg.Exports.Start(r.Context(), req.SourcePath, params)
		switch {
		case errors.Is(err, export.ErrExportBusy):
			WriteError(w, http.StatusConflict, err.Error(), "EXPORT_BUSY")
			return
		case errors.Is(err, export.ErrSourceMissing):
			WriteError(w, http.StatusNotFound, err.Error(), "SOURCE_MISSING")
			return
		case err != nil:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, ExportResponse{JobID: job.ID})
	}
}

// normalizeEdits binds an edit set to its source path and fills in the
// neutral contrast for requests that omit the field, since a JSON zero
// would otherwise fail validation as full black.
func normalizeEdits(sourcePath string, edits edit.Parameters) edit.Parameters {
	params := edits
	params.SourcePath = sourcePath
	if params.Contrast == 0 {
		params.Contrast = edit.NewParameters(sourcePath).Contrast
	}
	return params
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job := cfg.Exports.GetJob(id)
		if job == nil {
			// Either unknown or already finished; the history row settles it.
			row, err := cfg.Repository.GetJob(r.Context(), id)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			if row == nil {
				WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusConflict, "job already finished", "JOB_FINISHED")
			return
		}

		job.Cancel()
		WriteJSON(w, http.StatusAccepted, ExportResponse{JobID: job.ID})
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Repository.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recent, err := cfg.Repository.ListJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(recent))}
		for i, j := range recent {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

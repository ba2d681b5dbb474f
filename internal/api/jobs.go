package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"docuscene/pkg/pipeline"
	"docuscene/pkg/scheduler"
)

// JobKindDocument labels document conversion jobs.
const JobKindDocument = "document"

// maxBodyBytes bounds POST /api/jobs payloads, inline text included.
const maxBodyBytes = 8 << 20

// Scheduler is the job queue the handler talks to.
type Scheduler interface {
	Submit(kind string, payload any, p scheduler.Priority, fn scheduler.JobFunc) string
	Status(id string) (scheduler.Job, bool)
	List() []scheduler.Job
	Cancel(id string) bool
	Stats() scheduler.Stats
}

// Processor converts one document.
type Processor interface {
	ProcessFile(ctx context.Context, path string, opts pipeline.Options) (*pipeline.Result, error)
	ProcessText(ctx context.Context, name, text string, opts pipeline.Options) (*pipeline.Result, error)
}

// SubmitRequest is the body of POST /api/jobs. Exactly one of Path and Text
// must be set.
type SubmitRequest struct {
	Path     string `json:"path,omitempty"`
	Name     string `json:"name,omitempty"`
	Text     string `json:"text,omitempty"`
	Priority string `json:"priority,omitempty"`
	Manifest string `json:"manifest,omitempty"` // Optional output path (.json, .jsonl, .parquet)
}

// JobsHandler serves the conversion job endpoints.
type JobsHandler struct {
	jobs      Scheduler
	processor Processor
}

// NewJobsHandler creates a JobsHandler.
func NewJobsHandler(jobs Scheduler, p Processor) *JobsHandler {
	return &JobsHandler{jobs: jobs, processor: p}
}

// HandleSubmit queues a document conversion.
func (h *JobsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req.Path = strings.TrimSpace(req.Path)
	hasText := strings.TrimSpace(req.Text) != ""
	switch {
	case req.Path == "" && !hasText:
		writeError(w, http.StatusBadRequest, "one of path or text is required")
		return
	case req.Path != "" && hasText:
		writeError(w, http.StatusBadRequest, "path and text are mutually exclusive")
		return
	}

	p, err := scheduler.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := h.jobs.Submit(JobKindDocument, req, p, h.convert(req, p))
	slog.Info("Conversion job submitted", "id", id, "priority", p, "path", req.Path)

	job, _ := h.jobs.Status(id)
	writeJSON(w, http.StatusAccepted, job)
}

func (h *JobsHandler) convert(req SubmitRequest, p scheduler.Priority) scheduler.JobFunc {
	return func(ctx context.Context, job *scheduler.Job, progress func(int)) (any, error) {
		opts := pipeline.Options{Priority: p}
		var (
			res *pipeline.Result
			err error
		)
		if req.Path != "" {
			res, err = h.processor.ProcessFile(ctx, req.Path, opts)
		} else {
			name := req.Name
			if name == "" {
				name = job.ID
			}
			res, err = h.processor.ProcessText(ctx, name, req.Text, opts)
		}
		if err != nil {
			return nil, err
		}
		progress(90)

		if req.Manifest != "" {
			if err := pipeline.WriteManifest(req.Manifest, res); err != nil {
				return nil, fmt.Errorf("failed to write manifest: %w", err)
			}
		}
		return res, nil
	}
}

// HandleList returns every known job.
func (h *JobsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.List()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.Status) == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	writeJSON(w, http.StatusOK, jobs)
}

// HandleGet returns one job.
func (h *JobsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Status(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, scheduler.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleCancel cancels a queued or running job.
func (h *JobsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := h.jobs.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, scheduler.ErrNotFound.Error())
		return
	}
	if !h.jobs.Cancel(id) {
		writeError(w, http.StatusConflict, "job already "+string(job.Status))
		return
	}
	job, _ = h.jobs.Status(id)
	writeJSON(w, http.StatusOK, job)
}

// HandleStats returns per-state job counts.
func (h *JobsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.Stats())
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/versevid/versevid/internal/models"
	"github.com/versevid/versevid/internal/progress"
	"github.com/versevid/versevid/internal/queue"
)

type Handler struct {
	tracker *progress.Tracker
	queue   *queue.Queue
}

func NewHandler(tracker *progress.Tracker, q *queue.Queue) *Handler {
	return &Handler{
		tracker: tracker,
		queue:   q,
	}
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Validate
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "URL is required")
		return
	}
	if parsed, err := url.Parse(req.URL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		respondError(w, http.StatusBadRequest, "URL must be absolute (http or https)")
		return
	}
	if req.SceneCount != nil && (*req.SceneCount < 0 || *req.SceneCount > 50) {
		respondError(w, http.StatusBadRequest, "scene_count must be between 0 and 50")
		return
	}

	// Set defaults
	opts := models.RenderOptions{
		Style:              "cinematic",
		TransitionType:     models.TransitionFade,
		TransitionDuration: 1.0,
	}
	if req.Style != nil && *req.Style != "" {
		opts.Style = *req.Style
	}
	if req.SceneCount != nil {
		opts.SceneCount = *req.SceneCount
	}
	if req.TransitionType != nil && *req.TransitionType != "" {
		opts.TransitionType = models.TransitionType(*req.TransitionType)
	}
	if req.TransitionDuration != nil && *req.TransitionDuration > 0 {
		opts.TransitionDuration = *req.TransitionDuration
	}

	jobID := "job_" + time.Now().Format("20060102_150405") + "_" + uuid.NewString()[:8]

	// Create the durable record before enqueueing so a fast worker never
	// races a job it cannot find.
	job := h.tracker.CreateJob(jobID, "Music Video", req.URL)

	if err := h.queue.Enqueue(r.Context(), &queue.Job{
		JobID:   jobID,
		Source:  req.URL,
		Options: opts,
	}); err != nil {
		h.tracker.Fail(jobID, "failed to enqueue job")
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// ListJobs handles GET /v1/jobs
// Query params:
//   - status: filter by job status (running, completed, failed)
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" {
		switch models.JobStatus(statusFilter) {
		case models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed:
			// valid
		default:
			respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: running, completed, failed")
			return
		}
	}

	jobs := h.tracker.List()
	filtered := make([]models.Job, 0, len(jobs))
	for _, job := range jobs {
		if statusFilter != "" && string(job.Status) != statusFilter {
			continue
		}
		filtered = append(filtered, job)
	}

	respondJSON(w, http.StatusOK, models.ListJobsResponse{
		Jobs:  filtered,
		Total: len(filtered),
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.tracker.Get(jobID)
	if err != nil {
		if errors.Is(err, progress.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Job not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// GetJobDownload handles GET /v1/jobs/{id}/download
func (h *Handler) GetJobDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.tracker.Get(jobID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	if job.Status != models.JobStatusCompleted || job.OutputPath == "" {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}

	if _, err := os.Stat(job.OutputPath); err != nil {
		respondError(w, http.StatusNotFound, "Video file is no longer available")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+downloadName(job)+"\"")
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, job.OutputPath)
}

// downloadName picks a user-facing filename for the attachment header.
func downloadName(job models.Job) string {
	base := strings.TrimSuffix(job.OutputPath, "/")
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if base == "" {
		base = job.ID + ".mp4"
	}
	return base
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

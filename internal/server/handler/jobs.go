package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/rcldev/tokenarena/internal/domain"
)

// JobsHandler exposes the delayed-job queue to operators: live counts, the
// failed set, manual retry, and the purge-everything maintenance hatch.
type JobsHandler struct {
	scheduler domain.Scheduler
	logger    *slog.Logger
}

// NewJobsHandler creates a JobsHandler over the given scheduler.
func NewJobsHandler(scheduler domain.Scheduler, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{
		scheduler: scheduler,
		logger:    logger,
	}
}

// Stats returns the per-state job counts.
// GET /api/jobs/stats
func (h *JobsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.scheduler.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: queue stats failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// failedJobResponse is the wire shape of one parked job.
type failedJobResponse struct {
	ID        string            `json:"id"`
	Payload   domain.JobPayload `json:"payload"`
	Attempt   int               `json:"attempt"`
	LastError string            `json:"last_error,omitempty"`
}

// ListFailed returns every job parked after exhausting its retries.
// GET /api/jobs/failed
func (h *JobsHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.scheduler.FailedJobs(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list failed jobs failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list failed jobs")
		return
	}

	out := make([]failedJobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, failedJobResponse{
			ID:        j.ID,
			Payload:   j.Payload,
			Attempt:   j.Attempt,
			LastError: j.LastError,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  out,
		"count": len(out),
	})
}

// RetryFailed requeues one parked job for immediate execution.
// POST /api/jobs/failed/{id}/retry
func (h *JobsHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	if err := h.scheduler.RetryFailed(r.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found in failed set")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: retry failed job failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to retry job")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: failed job requeued",
		slog.String("job_id", jobID),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued", "job_id": jobID})
}

// Purge removes every job regardless of state. Maintenance only.
// DELETE /api/jobs
func (h *JobsHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.PurgeAll(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: purge queue failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to purge queue")
		return
	}

	h.logger.WarnContext(r.Context(), "handler: queue purged")
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/mentionlab/benchd/internal/model"
	"github.com/mentionlab/benchd/internal/service/enqueue"
	"github.com/mentionlab/benchd/internal/storage"
)

// HandleCreateRun handles POST /v1/runs.
func (h *Handlers) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.db.CreateRun(r.Context())
	if err != nil {
		h.logger.Error("create run", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not create run")
		return
	}
	writeJSON(w, r, http.StatusCreated, run)
}

// HandleEnqueueRun handles POST /v1/runs/{run_id}/enqueue: expands the run
// into jobs and publishes them.
func (h *Handlers) HandleEnqueueRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run id")
		return
	}

	var req model.EnqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	resp, err := h.enqueueSvc.Enqueue(r.Context(), runID, req)
	if err != nil {
		switch {
		case errors.Is(err, enqueue.ErrInvalidArgument):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		case errors.Is(err, enqueue.ErrRunNotFound):
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
		default:
			h.logger.Error("enqueue run", "run_id", runID, "error", err)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "enqueue failed")
		}
		return
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run id")
		return
	}

	run, err := h.db.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.logger.Error("get run", "run_id", runID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not load run")
		return
	}

	writeJSON(w, r, http.StatusOK, run)
}

// HandleGetRunProgress handles GET /v1/runs/{run_id}/progress.
func (h *Handlers) HandleGetRunProgress(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run id")
		return
	}

	exists, err := h.db.RunExists(r.Context(), runID)
	if err != nil {
		h.logger.Error("check run", "run_id", runID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not load run")
		return
	}
	if !exists {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
		return
	}

	progress, err := h.db.GetJobProgress(r.Context(), runID)
	if err != nil {
		h.logger.Error("get run progress", "run_id", runID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not load progress")
		return
	}

	writeJSON(w, r, http.StatusOK, progress)
}

package routes

import (
	"errors"
	"net/http"

	"mediagent/job"
	"mediagent/logger"
	"mediagent/models"
)

type EnqueueRequest struct {
	IDs         []string `json:"ids" validate:"required,min=1,dive,required"`
	KeepBackup  bool     `json:"keep_backup"`
	FlushCache  bool     `json:"flush_cache"`
	ReplaceURLs bool     `json:"replace_urls"`
}

type RevertRequest struct {
	ItemID string `json:"item_id" validate:"required"`
}

func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	n, err := h.scheduler.Enqueue(req.IDs, models.JobOptions{
		KeepBackup:  req.KeepBackup,
		FlushCache:  req.FlushCache,
		ReplaceURLs: req.ReplaceURLs,
	})
	var verr *job.ValidationError
	if errors.As(err, &verr) {
		writeJSONError(w, verr.Err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		logger.Errorf("Failed to enqueue %v: %v", req.IDs, err)
		writeJSONError(w, "failed to enqueue", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"queue_size": n,
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.scheduler.Status()
	if err != nil {
		logger.Errorf("Failed to read queue status: %v", err)
		writeJSONError(w, "failed to read queue", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	pending, err := h.scheduler.Clear()
	if err != nil {
		logger.Errorf("Failed to clear queue: %v", err)
		writeJSONError(w, "failed to clear queue", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"pending": pending,
	})
}

func (h *Handler) Revert(w http.ResponseWriter, r *http.Request) {
	var req RevertRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	_, err := h.pipeline.Revert(r.Context(), req.ItemID)
	switch {
	case err == nil:
		h.scheduler.Kick()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"id":      req.ItemID,
		})
	case job.IsRevertNotFound(err):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	default:
		logger.Errorf("Revert of %s failed: %v", req.ItemID, err)
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}

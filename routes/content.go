package routes

import (
	"errors"
	"io"
	"net/http"

	"mediagent/content"
	"mediagent/logger"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) PutContent(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if err := h.content.Put(key, body); err != nil {
		logger.Errorf("Failed to store content %s: %v", key, err)
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "key": key})
}

func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := h.content.Get(key)
	if errors.Is(err, content.ErrNotFound) {
		writeJSONError(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Errorf("Failed to read content %s: %v", key, err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(value)
}

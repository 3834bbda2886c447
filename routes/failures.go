package routes

import (
	"net/http"

	"mediagent/logger"
)

// FailureList lists failed conversion jobs, newest first
func (h *Handler) FailureList(w http.ResponseWriter, r *http.Request) {
	failuresList, err := h.failures.ListFailures()
	if err != nil {
		logger.Errorf("Failed to list failures: %v", err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"failures": failuresList,
		"count":    len(failuresList),
	})
}

package routes

import (
	"net/http"

	"mediagent/logger"
)

func (h *Handler) BackupList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.backups.List()
	if err != nil {
		logger.Errorf("Failed to list backups: %v", err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// BackupSweep runs the retention sweep now instead of waiting for the daily run
func (h *Handler) BackupSweep(w http.ResponseWriter, r *http.Request) {
	removed, err := h.backups.RetentionSweep(r.Context())
	if err != nil {
		logger.Errorf("Retention sweep failed after %d removal(s): %v", removed, err)
		writeJSONError(w, "retention sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"removed": removed,
	})
}

package routes

import (
	"errors"
	"net/http"

	"mediagent/logger"
	"mediagent/media"
)

type RegisterMediaRequest struct {
	ItemID string `json:"item_id" validate:"required"`
	Path   string `json:"path" validate:"required"`
}

type RenameMediaRequest struct {
	ItemID   string `json:"item_id" validate:"required"`
	Filename string `json:"filename" validate:"required"`
}

type SideloadRequest struct {
	ItemID string `json:"item_id" validate:"required"`
	URL    string `json:"url" validate:"required,http_url"`
}

func mediaErrorStatus(err error) int {
	switch {
	case errors.Is(err, media.ErrNotFound), errors.Is(err, media.ErrFileMissing):
		return http.StatusNotFound
	case errors.Is(err, media.ErrInvalidPath), errors.Is(err, media.ErrNotAnImage):
		return http.StatusBadRequest
	case errors.Is(err, media.ErrHasHistory):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) RegisterMedia(w http.ResponseWriter, r *http.Request) {
	var req RegisterMediaRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.library.Register(r.Context(), req.ItemID, req.Path)
	if err != nil {
		logger.Warnf("Failed to register media %s: %v", req.ItemID, err)
		writeJSONError(w, err.Error(), mediaErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) RenameMedia(w http.ResponseWriter, r *http.Request) {
	var req RenameMediaRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.pipeline.Rename(r.Context(), req.ItemID, req.Filename)
	if err != nil {
		logger.Warnf("Failed to rename media %s: %v", req.ItemID, err)
		writeJSONError(w, err.Error(), mediaErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"path":    item.Path,
	})
}

func (h *Handler) SideloadMedia(w http.ResponseWriter, r *http.Request) {
	var req SideloadRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.sideloader.Sideload(r.Context(), req.ItemID, req.URL)
	if err != nil {
		logger.Warnf("Sideload of %s for item %s failed: %v", req.URL, req.ItemID, err)
		code := mediaErrorStatus(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadGateway
		}
		writeJSONError(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

package routes

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"mediagent/auth"
	"mediagent/backup"
	"mediagent/content"
	"mediagent/failures"
	"mediagent/job"
	"mediagent/logger"
	"mediagent/media"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler serves the agent's command channel
type Handler struct {
	auth       *auth.Authenticator
	scheduler  *job.Scheduler
	pipeline   *job.Pipeline
	backups    *backup.Store
	failures   *failures.Store
	library    *media.Library
	sideloader *media.Sideloader
	content    *content.Store
	validator  *validator.Validate
}

// Deps are the components the handlers dispatch to
type Deps struct {
	Auth       *auth.Authenticator
	Scheduler  *job.Scheduler
	Pipeline   *job.Pipeline
	Backups    *backup.Store
	Failures   *failures.Store
	Library    *media.Library
	Sideloader *media.Sideloader
	Content    *content.Store
}

func New(d Deps) *Handler {
	return &Handler{
		auth:       d.Auth,
		scheduler:  d.Scheduler,
		pipeline:   d.Pipeline,
		backups:    d.Backups,
		failures:   d.Failures,
		library:    d.Library,
		sideloader: d.Sideloader,
		content:    d.Content,
		validator:  validator.New(),
	}
}

func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/health", HealthHandler)
	r.Get("/version", VersionHandler)

	r.Group(func(r chi.Router) {
		r.Use(h.requireSignature)

		r.Route("/queue", func(r chi.Router) {
			r.Post("/enqueue", h.Enqueue)
			r.Get("/status", h.Status)
			r.Post("/clear", h.Clear)
			r.Post("/revert", h.Revert)
			r.Get("/failures", h.FailureList)
		})
		r.Route("/backups", func(r chi.Router) {
			r.Get("/", h.BackupList)
			r.Post("/sweep", h.BackupSweep)
		})
		r.Route("/media", func(r chi.Router) {
			r.Post("/", h.RegisterMedia)
			r.Post("/rename", h.RenameMedia)
			r.Post("/sideload", h.SideloadMedia)
		})
		r.Put("/content/{key}", h.PutContent)
		r.Get("/content/{key}", h.GetContent)
	})

	return r
}

// requireSignature rejects any request whose signature does not verify.
// The body is read once for the check and handed on unchanged.
func (h *Handler) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeJSONError(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		r.Body.Close()

		if err := h.auth.Validate(r.Header, body); err != nil {
			code := string(auth.CodeBadSignature)
			var authErr *auth.Error
			if errors.As(err, &authErr) {
				code = string(authErr.Code)
			}
			logger.Warnf("Rejected %s %s from %s: %v", r.Method, r.URL.Path, r.RemoteAddr, err)
			writeJSONError(w, code, http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/convert"
	"github.com/starford/raido/internal/state"
)

// NewRouter creates a chi router with all status API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth
// group.
func NewRouter(conv *convert.Converter, db state.Store, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(conv, db)

	r := chi.NewRouter()
	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		r.Get("/status", h.Status)
		r.Get("/diagnostics", h.Diagnostics)
		r.Get("/resolve", h.Resolve)
		r.Post("/rebuild", h.Rebuild)

		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kodebase/internal/artifactservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *artifactservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/artifacts", h.ListArtifacts)
	r.Post("/artifacts", h.CreateArtifact)
	r.Route("/artifacts/{id}", func(r chi.Router) {
		r.Get("/", h.GetArtifact)
		r.Get("/dependencies", h.Dependencies)
		r.Get("/dependents", h.Dependents)
		r.Get("/chain", h.Chain)
		r.Get("/blocked", h.Blocked)
		r.Get("/context", h.Context)
		r.Post("/validate", h.ValidateArtifact)
		r.Post("/fix", h.Fix)
		for _, a := range artifactservice.Actions {
			r.Post("/"+string(a), h.Action(a))
		}
	})

	r.Get("/graph/cycles", h.Cycles)
	r.Get("/graph/cross-level", h.CrossLevel)
	r.Get("/graph/consistency", h.Consistency)

	r.Post("/validate", h.ValidateAll)
	r.Post("/cascades", h.ExecuteCascade)
	r.Post("/links", h.Link)

	r.Get("/search", h.Search)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

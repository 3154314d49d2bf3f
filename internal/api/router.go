package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"glowcheck.app/ingredient-assistant/internal/config"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		r.Group(func(r chi.Router) {
			// Auth is optional: the endpoint is open unless a JWT
			// secret is configured.
			if config.AppConfig.AuthJWTSecret != "" {
				r.Use(BearerAuthMiddleware)
			}
			r.Post("/assistant", apiHandler.AssistantHandler)
		})
	})

	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/micro-nova/lpaplayer/internal/auth"
)

// NewRouter creates and returns the main HTTP router. A nil authSvc leaves
// the API open.
func NewRouter(ctrl Controller, authSvc *auth.Service, bus EventBus) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	h := &Handlers{ctrl: ctrl, events: bus}

	r.Route("/api", func(r chi.Router) {
		if authSvc != nil {
			r.Use(authSvc.Middleware)
		}

		r.Get("/", h.getStatus)
		r.Get("/status", h.getStatus)
		r.Get("/settings", h.getSettings)

		// Playback control
		r.Post("/start", h.start)
		r.Post("/pause", h.pause)
		r.Post("/resume", h.resume)
		r.Post("/seek", h.seek)
		r.Post("/reset", h.reset)

		// Output
		r.Post("/route", h.setRoute)
		r.Get("/effects", h.getEffects)
		r.Post("/effects", h.setEffects)

		// SSE
		r.Get("/subscribe", h.sseEvents)
	})

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

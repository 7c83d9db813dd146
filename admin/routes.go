package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin chi router, unprefixed
func NewRouter(handlers *AdminHandlers) chi.Router {
	r := chi.NewRouter()

	r.Route("/isolation", func(r chi.Router) {
		r.Use(AuthMiddleware)
		r.Get("/levels", handlers.handleListLevels)
		r.Get("/default", handlers.handleGetDefault)
		r.Put("/default", handlers.handleSetDefault)
		r.Post("/parse", handlers.handleParse)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", handlers.handleListSessions)
			r.Post("/", handlers.handleOpenSession)
			r.Post("/restore", handlers.handleRestoreSession)
			r.Get("/{connID}", handlers.handleGetSession)
			r.Delete("/{connID}", handlers.handleCloseSession)
			r.Post("/{connID}/statements", handlers.handleExecStatement)
			r.Get("/{connID}/snapshot", handlers.handleSnapshotSession)
		})
	})

	return r
}

// RegisterRoutes mounts the admin API under /admin on mux
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := NewRouter(handlers)

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("Admin endpoints enabled at /admin/isolation/*")
}

package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/healthz", s.health)

	r.Route("/tenant/{tenant}", func(r chi.Router) {
		r.Route("/command", func(r chi.Router) {
			r.Get("/", s.listCommands)
			r.Post("/", s.registerCommand)

			r.Route("/{name}", func(r chi.Router) {
				r.Delete("/", s.removeCommand)
				r.Post("/rename", s.renameCommand)
				r.Post("/invoke", s.invokeCommand)
			})
		})

		r.Get("/catalog", s.tenantCatalog)
		r.Post("/describe", s.describeCommand)
		r.Post("/provision", s.provisionTenant)
	})

	// Event streaming (SSE)
	r.Get("/event", s.allEvents)
}

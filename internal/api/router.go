package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
//
// Node keys appear as one or two path segments: "machine", "L1B" and
// "CM02" are single segments, cavities are "CM02/3". The two-segment
// routes below capture the cavity form.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/hierarchy", s.handleHierarchy)

		r.Route("/nodes/{node}", func(r chi.Router) {
			r.Post("/setup", s.handleSetup)
			r.Post("/shutdown", s.handleShutdown)
			r.Post("/abort", s.handleAbort)
			r.Get("/status", s.handleStatus)
			r.Get("/results", s.handleResults)
			r.Get("/quenches", s.handleQuenches)

			// Cavity form: /nodes/CM02/3/...
			r.Route("/{cavity:[1-8]}", func(r chi.Router) {
				r.Post("/setup", s.handleSetup)
				r.Post("/shutdown", s.handleShutdown)
				r.Post("/abort", s.handleAbort)
				r.Get("/status", s.handleStatus)
				r.Get("/results", s.handleResults)
				r.Get("/quenches", s.handleQuenches)
			})
		})

		r.Get("/quenches", s.handleQuenches)

		// Simulator diagnostics, mounted only against the fake backend.
		if s.sim != nil {
			r.Route("/sim", func(r chi.Router) {
				r.Get("/pvs", s.handleSimPVs)
				r.Get("/pvs/{name}", s.handleSimPVGet)
				r.Post("/quench/{node}/{cavity:[1-8]}", s.handleSimForceQuench)
			})
		}
	})

	return r
}

// nodeKey reassembles the hierarchy key from the route parameters.
func nodeKey(r *http.Request) string {
	node := chi.URLParam(r, "node")
	if cavity := chi.URLParam(r, "cavity"); cavity != "" {
		return node + "/" + cavity
	}
	return node
}

// Package api exposes the relay over HTTP: the streaming chat endpoint plus
// conversation index, read and delete.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chatrelay/internal/metrics"
)

// NewRouter wires all routes. The metrics collector is optional; nil
// disables the /metrics endpoint.
func NewRouter(h *Handler, collector *metrics.Collector) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(requestLogger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HealthHandler)
		r.Post("/chat", h.ChatHandler)
		r.Get("/conversations", h.ListConversationsHandler)
		r.Get("/conversations/{id}", h.GetConversationHandler)
		r.Delete("/conversations/{id}", h.DeleteConversationHandler)
	})

	if collector != nil {
		r.Get("/metrics", collector.Handler())
	}

	return r
}

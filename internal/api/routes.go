package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/relaydb/relaydb/internal/dispatcher"
)

// SetupRoutes builds the HTTP surface: the websocket endpoint callers
// attach through, plus health and introspection.
func SetupRoutes(log *zap.Logger, d *dispatcher.Dispatcher) http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware(log))

	r.Get("/healthz", handleHealthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/connections", handleConnections(d))
	})
	r.Get("/ws", handleWS(log, d))

	return r
}

package server

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/maauso/thumbnail-api/internal/metrics"
)

// Config contains server configuration options.
type Config struct {
	// Metrics enables request metrics and the /metrics endpoint when set.
	Metrics *metrics.Metrics
	// Tracer starts request spans. The global tracer is used when nil.
	Tracer trace.Tracer
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// The root accepts every method so that the handler owns the 405 body.
	mux.HandleFunc("/{$}", h.Thumbnail)
	mux.HandleFunc("GET /health", h.Health)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger),
		cfg.Metrics.Middleware,
		TracingMiddleware(cfg.Tracer),
		CORSMiddleware,
	)

	return chain(mux)
}

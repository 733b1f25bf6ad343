package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"tickechain/gateway/middleware"
)

// Rate limit keys applied to the public surfaces.
const (
	RateLimitRPC  = "rpc"
	RateLimitLogs = "logs"
)

type Config struct {
	RPC           http.Handler
	LogStream     http.Handler
	HealthHandler http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// New assembles the node's HTTP surface: JSON-RPC at /rpc, the committed log
// stream at /ws/logs, health and Prometheus metrics.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Tracing)
	}

	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Get("/healthz", health.ServeHTTP)

	if cfg.RPC != nil {
		r.Group(func(sr chi.Router) {
			if obs != nil {
				sr.Use(obs.Middleware("rpc"))
			}
			if cfg.RateLimiter != nil {
				sr.Use(cfg.RateLimiter.Middleware(RateLimitRPC))
			}
			if cfg.Authenticator != nil {
				sr.Use(cfg.Authenticator.Middleware())
			}
			sr.Handle("/rpc", cfg.RPC)
		})
	}

	// The websocket upgrade needs the raw writer, so the stream skips the
	// status-recording middleware.
	if cfg.LogStream != nil {
		r.Group(func(sr chi.Router) {
			if cfg.RateLimiter != nil {
				sr.Use(cfg.RateLimiter.Middleware(RateLimitLogs))
			}
			sr.Handle("/ws/logs", cfg.LogStream)
		})
	}

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r
}

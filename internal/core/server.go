// Package core provides the operational HTTP surface of the engine: health
// probes, the metrics snapshot, and a pipeline status view. The publishing
// pipeline itself is driven by timers and events, not by this server.
package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"slowpress/internal/config"
	"slowpress/internal/monitor"
	"slowpress/internal/types"
)

// BatchStatus is the read surface of the batch processor.
type BatchStatus interface {
	LastResult() *types.BatchResult
	Interval() time.Duration
}

// QueueStatus reports the offline content queue depth.
type QueueStatus interface {
	GetQueueSize(ctx context.Context) (int, error)
}

// RateLimiter decides whether a request identity is within its window
// limit.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, scope, userID, ip string) (bool, error)
}

// Server hosts the ops endpoints. All dependencies are injected so tests
// can run it against fakes.
type Server struct {
	Config  *config.Config
	Logger  types.Logger
	Monitor *monitor.Service
	Probes  []monitor.Probe
	Batch   BatchStatus
	Queue   QueueStatus
	Limiter RateLimiter

	router *chi.Mux
}

// NewServer builds the ops server and mounts its routes.
func NewServer(cfg *config.Config, logger types.Logger, mon *monitor.Service) *Server {
	s := &Server{
		Config:  cfg,
		Logger:  logger,
		Monitor: mon,
		router:  chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))
	s.router.Use(s.RateLimit)

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/metrics", s.HandleMetrics)
	s.router.Get("/status", s.HandleStatus)
	return s
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RateLimit enforces the api-scope window limit per caller IP. With no
// Limiter configured the middleware passes through. Limiter errors fail
// open so a counter-store outage cannot take the ops surface down with it.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		allowed, err := s.Limiter.CheckRateLimit(r.Context(), "api", "", r.RemoteAddr)
		if err != nil {
			s.Logger.Error("rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			s.Logger.Warn("rate limit exceeded",
				"ip", r.RemoteAddr,
				"method", r.Method,
				"path", r.URL.Path,
			)
			JSON(w, http.StatusTooManyRequests, map[string]any{
				"error": "rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleMetrics returns the last collected metrics snapshot.
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.Monitor.Metrics())
}

// HandleStatus returns the pipeline status view: overall health, component
// checks, the last batch outcome, and the offline queue depth.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": string(s.Monitor.OverallHealth()),
		"checks": s.Monitor.GetHealthChecks(),
	}
	if s.Batch != nil {
		resp["batch_interval"] = s.Batch.Interval().String()
		if last := s.Batch.LastResult(); last != nil {
			resp["last_batch"] = last
		}
	}
	if s.Queue != nil {
		if size, err := s.Queue.GetQueueSize(r.Context()); err == nil {
			resp["offline_queue_size"] = size
		}
	}
	JSON(w, http.StatusOK, resp)
}

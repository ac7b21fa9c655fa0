// SPDX-License-Identifier: MIT

// Package api serves the watch-event HTTP API of watchd.
package api

import (
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/getkin/kin-openapi/routers"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vidmember/watchtrack/internal/api/middleware"
	"github.com/vidmember/watchtrack/internal/health"
	wtlog "github.com/vidmember/watchtrack/internal/log"
	"github.com/vidmember/watchtrack/internal/watchevents"
	"github.com/vidmember/watchtrack/internal/watchstore"
)

// AnonymousUser owns events submitted without a principal when users are optional.
const AnonymousUser = "anonymous"

// Config configures the HTTP surface.
type Config struct {
	// RequireUser rejects watch-event requests without X-User-ID.
	RequireUser bool
	// RateLimit is the number of requests per RateWindow per principal; 0 disables.
	RateLimit  int
	RateWindow time.Duration
	// RateLimitWhitelist holds IPs or CIDRs exempt from rate limiting.
	RateLimitWhitelist []string
	// TracingService names server spans; empty disables tracing.
	TracingService string
	Version        string
	// ServeMetrics mounts /metrics on the API router.
	ServeMetrics bool
}

// Server is the watch-event API.
type Server struct {
	cfg    Config
	store  watchstore.Store
	health *health.Manager
	logger zerolog.Logger
	router http.Handler

	requireUser atomic.Bool
}

// New builds the router. The embedded OpenAPI document must load.
func New(cfg Config, store watchstore.Store) (*Server, error) {
	if store == nil {
		return nil, errors.New("api: store is required")
	}
	_, oaRouter, err := loadOpenAPI()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		health: health.NewManager(cfg.Version),
		logger: wtlog.WithComponent("api"),
	}
	s.requireUser.Store(cfg.RequireUser)
	s.health.RegisterChecker(health.NewPingChecker("store", store.Ping))
	s.router = s.routes(oaRouter)
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ApplyConfig updates the settings that can change without rebuilding the
// router. Only RequireUser is live; rate limits apply after a restart.
func (s *Server) ApplyConfig(cfg Config) {
	if old := s.requireUser.Swap(cfg.RequireUser); old != cfg.RequireUser {
		s.logger.Info().
			Str("event", "api.config_applied").
			Bool("require_user", cfg.RequireUser).
			Msg("api configuration updated")
	}
}

// HealthManager exposes the health checks for additional registrations.
func (s *Server) HealthManager() *health.Manager {
	return s.health
}

func (s *Server) routes(oaRouter routers.Router) http.Handler {
	window := s.cfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	if s.cfg.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/watch-events/api/watch-events", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(middleware.RateLimit(middleware.RateLimitConfig{
				RequestLimit: s.cfg.RateLimit,
				WindowSize:   window,
				KeyFunc:      middleware.KeyByUser(watchevents.UserHeader),
				Whitelist:    s.cfg.RateLimitWhitelist,
			}))
		}
		r.Use(validateRequests(oaRouter))
		r.Use(s.principal)

		r.Post("/", s.handleCreate)
		r.Get("/{host_id}", s.handleList)
		r.Get("/{host_id}/resume", s.handleResume)
	})
	return r
}

// principal resolves the viewer from X-User-ID.
func (s *Server) principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(watchevents.UserHeader))
		if user == "" {
			if s.requireUser.Load() {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			user = AnonymousUser
		}
		ctx := wtlog.ContextWithUserID(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Package server exposes the gate over HTTP: a middleware that enforces the
// access policy on gated routes, payment-challenge delivery via 402
// responses, and the operational endpoints (health, pulse, Prometheus
// exposition). Tool dispatch itself lives upstream and is reached through a
// reverse proxy.
package server

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glazyr/paygate/config"
	"github.com/glazyr/paygate/gate"
	"github.com/glazyr/paygate/ledger"
	"github.com/glazyr/paygate/logger"
	"github.com/glazyr/paygate/usage"
)

// Server wires the gate, ledger, and usage tracker into an http.Handler.
type Server struct {
	cfg     *config.Config
	gate    *gate.Gate
	store   ledger.Store
	usage   *usage.Tracker
	logger  logger.Logger
	version string
	started time.Time
	router  chi.Router
	proxy   http.Handler
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVersion sets the version string reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New builds the HTTP surface. Every route except the operational endpoints
// passes through the gate middleware.
func New(cfg *config.Config, g *gate.Gate, store ledger.Store, tracker *usage.Tracker, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		gate:    g,
		store:   store,
		usage:   tracker,
		logger:  logger.NoopLogger{},
		version: "dev",
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Server.Upstream != "" {
		target, err := url.Parse(cfg.Server.Upstream)
		if err != nil {
			return nil, err
		}
		s.proxy = httputil.NewSingleHostReverseProxy(target)
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestID)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics/pulse", s.handlePulse)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(gr chi.Router) {
		gr.Use(s.GateMiddleware)
		gr.Handle("/*", http.HandlerFunc(s.handleUpstream))
	})

	s.router = r
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleUpstream forwards an allowed request to the configured tool server.
func (s *Server) handleUpstream(w http.ResponseWriter, r *http.Request) {
	if s.proxy == nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "no upstream configured",
		})
		return
	}
	s.proxy.ServeHTTP(w, r)
}

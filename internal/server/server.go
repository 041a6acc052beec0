// Package server exposes breaker status, health and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/faultline/internal/core/apperror"
	"github.com/vietddude/faultline/internal/core/correlation"
	redisclient "github.com/vietddude/faultline/internal/infra/redis"
	"github.com/vietddude/faultline/internal/resilience/breaker"
)

// Health states reported by /health.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// Registry is the breaker registry the server reports on.
type Registry interface {
	Statuses() []breaker.Status
	Reset(name string) error
}

// ClusterSource lists breaker snapshots published by every instance.
type ClusterSource interface {
	ClusterStatuses(ctx context.Context) ([]redisclient.InstanceStatus, error)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string         `json:"status"`
	Breakers map[string]int `json:"breakers"`
}

// Server provides the HTTP status surface.
type Server struct {
	registry   Registry
	cluster    ClusterSource
	production bool
	log        *slog.Logger
	server     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithProduction sanitizes error responses.
func WithProduction(production bool) Option { return func(s *Server) { s.production = production } }

// WithCluster enables GET /breakers/cluster.
func WithCluster(c ClusterSource) Option { return func(s *Server) { s.cluster = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

// New creates a new status server.
func New(port int, registry Registry, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /breakers", s.handleBreakers)
	mux.HandleFunc("GET /breakers/cluster", s.handleCluster)
	mux.HandleFunc("POST /breakers/{name}/reset", s.handleReset)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: Correlation(mux),
	}
	return s
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start starts the HTTP server.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Serve serves on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	if err := s.server.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.registry.Statuses()
	resp := HealthResponse{Status: StatusHealthy, Breakers: make(map[string]int)}

	open := 0
	for _, st := range statuses {
		resp.Breakers[st.State.String()]++
		if st.State != breaker.StateClosed {
			resp.Status = StatusDegraded
		}
		if st.State == breaker.StateOpen {
			open++
		}
	}
	// Every dependency unavailable
	if len(statuses) > 0 && open == len(statuses) {
		resp.Status = StatusCritical
	}

	code := http.StatusOK
	if resp.Status == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.Statuses())
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil {
		s.WriteError(w, r, apperror.New(apperror.CodeServiceUnavailable, "cluster status store is not configured",
			apperror.WithRetryable(false)))
		return
	}
	list, err := s.cluster.ClusterStatuses(r.Context())
	if err != nil {
		s.WriteError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.registry.Reset(name); err != nil {
		s.WriteError(w, r, err)
		return
	}
	s.log.Info("Circuit breaker reset",
		"dependency", name,
		"correlation_id", correlation.FromContext(r.Context()),
		"request_id", correlation.RequestIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

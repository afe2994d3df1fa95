package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"cleanupd/internal/index"
	"cleanupd/internal/logging"
	"cleanupd/internal/policy"
	"cleanupd/internal/usage"
)

// PolicyStore is the policy access the control plane needs.
type PolicyStore interface {
	Snapshot(ctx context.Context) ([]policy.DirectoryPolicy, []policy.LoadIssue, error)
	Get(ctx context.Context, id string) (policy.DirectoryPolicy, error)
	Write(ctx context.Context, p policy.DirectoryPolicy) (policy.DirectoryPolicy, error)
	Delete(ctx context.Context, id string) error
}

// IndexReader is the read-only index access the control plane needs.
type IndexReader interface {
	RecentHistory(ctx context.Context, limit int) ([]index.HistoryRecord, error)
	CheckHealth(ctx context.Context) (index.DatabaseHealth, error)
}

// UsageCollector builds the metrics read model.
type UsageCollector interface {
	Collect(ctx context.Context, policies []policy.DirectoryPolicy) (usage.Report, error)
}

// Deps bundles the server's collaborators.
type Deps struct {
	Policies PolicyStore
	Index    IndexReader
	Usage    UsageCollector
	Logger   *slog.Logger
}

// Server is the HTTP control plane. It never deletes files.
type Server struct {
	bind     string
	token    string
	logger   *slog.Logger
	policies PolicyStore
	index    IndexReader
	usage    UsageCollector
	metrics  *metrics
	now      func() time.Time

	handler  http.Handler
	listener net.Listener
	server   *http.Server
}

// New builds a Server listening on bind. An empty token disables auth.
func New(bind, token string, deps Deps) (*Server, error) {
	if deps.Policies == nil || deps.Index == nil || deps.Usage == nil {
		return nil, errors.New("control plane: policies, index and usage are required")
	}
	s := &Server{
		bind:     strings.TrimSpace(bind),
		token:    token,
		logger:   logging.NewComponentLogger(deps.Logger, "api-server"),
		policies: deps.Policies,
		index:    deps.Index,
		usage:    deps.Usage,
		metrics:  newMetrics(),
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.metrics.instrument("/health", s.handleHealth))
	// The exposition names every target path, so it sits behind the token.
	mux.HandleFunc("GET /metrics", s.api("/metrics", s.handlePrometheus))
	mux.HandleFunc("GET /api/policies", s.api("/api/policies", s.handleListPolicies))
	mux.HandleFunc("GET /api/policies/{id}", s.api("/api/policies/{id}", s.handleGetPolicy))
	mux.HandleFunc("PUT /api/policies/{id}", s.api("/api/policies/{id}", s.handlePutPolicy))
	mux.HandleFunc("DELETE /api/policies/{id}", s.api("/api/policies/{id}", s.handleDeletePolicy))
	mux.HandleFunc("GET /api/metrics", s.api("/api/metrics", s.handleMetrics))
	mux.HandleFunc("GET /api/history", s.api("/api/history", s.handleHistory))
	s.handler = mux

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// api wraps a /api/* handler with auth and instrumentation.
func (s *Server) api(route string, h http.HandlerFunc) http.HandlerFunc {
	return s.metrics.instrument(route, authMiddleware(s.token, h))
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and serves in the background until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth_enabled", s.token != ""),
		logging.String(logging.FieldEventType, "api_listening"),
	)
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	requestTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server serves harvest status over HTTP.
type Server struct {
	router chi.Router
	source StatusSource
	logger *zap.Logger
}

// Options wires optional Prometheus collaborators. A nil Registry uses the
// default registry for both registration and scraping.
type Options struct {
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// NewServer builds the router.
func NewServer(source StatusSource, opts Options) (*Server, error) {
	if source == nil {
		return nil, errors.New("status source is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if opts.Registry != nil {
		reg, gatherer = opts.Registry, opts.Registry
	}
	metrics, err := newHTTPMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	s := &Server{source: source, logger: logger}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/progress", s.progress)
		r.Get("/failures", s.failures)
	})
	s.router = r
	return s, nil
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown status server: %w", err)
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if _, err := s.source.Status(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "state unreadable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	status, err := s.source.Status(ctx)
	if err != nil {
		s.logger.Error("read status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) failures(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	failures, err := s.source.Failures(ctx)
	if err != nil {
		s.logger.Error("read failures failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read failures")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

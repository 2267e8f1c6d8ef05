package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultMetricsPath = "/metrics"

// Server serves Prometheus metrics over HTTP
type Server struct {
	metrics *Metrics
	addr    string
	logger  *slog.Logger

	httpServer *http.Server
	listenAddr string
}

// NewServer creates a new metrics HTTP server
func NewServer(m *Metrics, addr string, logger *slog.Logger) *Server {
	if addr == "" {
		addr = ":9090"
	}
	return &Server{
		metrics: m,
		addr:    addr,
		logger:  logger,
	}
}

// Start binds the listener synchronously, serves in the background, and
// shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(defaultMetricsPath, promhttp.HandlerFor(
		s.metrics.Registry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind metrics listener on %s: %w", s.addr, err)
	}
	s.listenAddr = ln.Addr().String()

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("metrics server shutdown error", "error", err)
		}
	}()

	s.logger.Info("metrics server started", "addr", s.listenAddr, "path", defaultMetricsPath)
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.listenAddr
}

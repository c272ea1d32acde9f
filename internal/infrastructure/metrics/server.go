package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"liqrisk/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server handles Prometheus metrics export on a dedicated port
type Server struct {
	port     int
	logger   core.ILogger
	gatherer prometheus.Gatherer

	mu  sync.Mutex
	srv *http.Server
	lis net.Listener
}

// NewServer creates a new metrics server for the default registry
func NewServer(port int, logger core.ILogger) *Server {
	return NewServerWithGatherer(port, prometheus.DefaultGatherer, logger)
}

// NewServerWithGatherer creates a metrics server exporting gatherer
func NewServerWithGatherer(port int, gatherer prometheus.Gatherer, logger core.ILogger) *Server {
	return &Server{
		port:     port,
		gatherer: gatherer,
		logger:   logger.WithField("component", "metrics_server"),
	}
}

// Handler returns the /metrics route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start serves metrics until ctx is done. Port 0 picks a free port.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	s.mu.Lock()
	s.lis = lis
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	s.logger.Info("Starting Prometheus metrics server", "addr", lis.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.logger.Error("Metrics server failed", "error", err)
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("Stopping metrics server")
	return srv.Shutdown(ctx)
}

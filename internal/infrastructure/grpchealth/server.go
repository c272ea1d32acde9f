// Package grpchealth publishes the component health aggregate over the
// standard gRPC health checking protocol.
package grpchealth

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"liqrisk/internal/core"
	"liqrisk/internal/infrastructure/health"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix namespaces per-component service names
const ServicePrefix = "liqrisk."

// ServiceName is the health service name reported for a component
func ServiceName(component string) string {
	return ServicePrefix + component
}

// Server mirrors a HealthManager into a gRPC health service
type Server struct {
	manager  *health.HealthManager
	logger   core.ILogger
	interval time.Duration

	health *grpchealth.Server
	grpc   *grpc.Server
	mu     sync.Mutex
}

// NewServer creates a health server that re-evaluates checks every interval
func NewServer(manager *health.HealthManager, interval time.Duration, logger core.ILogger) *Server {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	hs := grpchealth.NewServer()
	gs := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)

	return &Server{
		manager:  manager,
		logger:   logger.WithField("component", "grpc_health"),
		interval: interval,
		health:   hs,
		grpc:     gs,
	}
}

// Sync evaluates every check once and updates the serving status of each
// component and of the overall ("") service.
func (s *Server) Sync() {
	overall := grpc_health_v1.HealthCheckResponse_SERVING
	for component, err := range s.manager.Check() {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if err != nil {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			overall = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(ServiceName(component), status)
	}
	s.health.SetServingStatus("", overall)
}

// Serve serves on lis and re-syncs until ctx is done
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Sync()

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.grpc.Serve(lis)
	}()

	s.logger.Info("gRPC health server serving", "addr", lis.Addr().String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errChan:
			return err
		case <-ticker.C:
			s.Sync()
		case <-ctx.Done():
			s.Stop()
			return nil
		}
	}
}

// Start listens on addr and serves until ctx is done
func (s *Server) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Stop marks every service NOT_SERVING and stops the gRPC server
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Stopping gRPC health server")
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

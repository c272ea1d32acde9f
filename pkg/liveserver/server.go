package liveserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"liqrisk/internal/core"
	"liqrisk/internal/risk"
	"liqrisk/internal/risk/liquidation"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	websocketActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "liqrisk_websocket_active_connections",
		Help: "Current number of open websocket sessions",
	})

	requestsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liqrisk_requests_rejected_total",
		Help: "Requests and websocket upgrades refused before reaching the calculator",
	}, []string{"reason"})

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liqrisk_http_requests_total",
		Help: "Total number of risk API requests by route and status code",
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(websocketActiveConnections, requestsRejectedTotal, httpRequestsTotal)
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	maxBodyBytes   = 1 << 20

	shutdownTimeout = 5 * time.Second
)

// API routes
const (
	RouteRisk     = "/api/v1/risk"
	RouteCurveCSV = "/api/v1/risk/curve.csv"
	RouteSweep    = "/api/v1/risk/sweep"
	RouteWS       = "/ws"
	RouteHealth   = "/health"
	RouteMetrics  = "/metrics"
)

var supportedModes = []liquidation.Mode{liquidation.ModeHealthFactor, liquidation.ModeLTV}

// Calculator is the risk service the server exposes
type Calculator interface {
	core.IRiskCalculator
	Sweep(ctx context.Context, req risk.SweepRequest) ([]risk.SweepRow, error)
}

// Server exposes the risk calculator over HTTP and WebSocket
type Server struct {
	hub      *Hub
	calc     Calculator
	logger   Logger
	gate     *admission
	upgrader websocket.Upgrader

	mu     sync.Mutex
	health core.IHealthMonitor
	static http.Handler
	srv    *http.Server
	addr   string
}

// NewServer creates a server admitting websocket origins from allowedOrigins
func NewServer(hub *Hub, calc Calculator, logger Logger, allowedOrigins []string) *Server {
	s := &Server{
		hub:    hub,
		calc:   calc,
		logger: logger,
		gate:   newAdmission(allowedOrigins),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	reason := s.gate.originReason(origin)
	if reason == "" {
		return true
	}
	s.reject(r, reason, "origin", origin)
	return false
}

// allow applies the per-IP rate limit
func (s *Server) allow(r *http.Request) bool {
	if s.gate.allowIP(remoteIP(r)) {
		return true
	}
	s.reject(r, reasonRateLimit)
	return false
}

func (s *Server) reject(r *http.Request, reason string, kv ...interface{}) {
	requestsRejectedTotal.WithLabelValues(reason).Inc()
	if s.logger != nil {
		fields := append([]interface{}{"reason", reason, "remote_addr", r.RemoteAddr, "path", r.URL.Path}, kv...)
		s.logger.Warn("Request rejected", fields...)
	}
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	static := s.static
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+RouteRisk, s.rateLimited("compute", s.handleComputePost))
	mux.HandleFunc("GET "+RouteRisk, s.rateLimited("compute", s.handleComputeGet))
	mux.HandleFunc("GET "+RouteCurveCSV, s.rateLimited("curve_csv", s.handleCurveCSV))
	mux.HandleFunc("POST "+RouteSweep, s.rateLimited("sweep", s.handleSweep))
	mux.HandleFunc("GET "+RouteWS, s.handleWebSocket)
	mux.HandleFunc("GET "+RouteHealth, s.handleHealth)
	mux.Handle("GET "+RouteMetrics, promhttp.Handler())
	if static != nil {
		mux.Handle("/", static)
	}
	return mux
}

// Start listens on addr and serves until ctx is done
func (s *Server) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.addr = lis.Addr().String()
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("Live server listening", "addr", lis.Addr().String())
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(lis) }()

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go s.pruneLimiters(pruneCtx, pruneInterval)

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

// pruneLimiters drops idle per-IP buckets every interval until ctx is done
func (s *Server) pruneLimiters(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := s.gate.prune(now.Add(-limiterIdleTTL)); removed > 0 && s.logger != nil {
				s.logger.Debug("Pruned idle rate limiters", "removed", removed)
			}
		}
	}
}

// Stop tells connected clients the server is going away and drains requests
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	notified := s.hub.Shutdown()
	if s.logger != nil {
		s.logger.Info("Stopping live server", "notified_sessions", notified)
	}
	return srv.Shutdown(ctx)
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// SetHealthMonitor attaches the component health aggregate served on /health
func (s *Server) SetHealthMonitor(m core.IHealthMonitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = m
}

// SetStaticDir serves files from dir on unmatched routes. Call before Handler.
func (s *Server) SetStaticDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.static = http.FileServer(http.Dir(dir))
}

// SetProduction refuses the "*" origin when prod is set
func (s *Server) SetProduction(prod bool) {
	s.gate.setProduction(prod)
}

// SetMaxConnections bounds concurrent websocket sessions
func (s *Server) SetMaxConnections(max int) {
	s.gate.setMaxConnections(max)
}

// SetRateLimit sets the per-IP request rate. A zero limit disables it.
func (s *Server) SetRateLimit(limit float64, burst int) {
	s.gate.setRate(limit, burst)
}

// Address returns the bound listen address once started
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// IsRunning reports whether Start has bound a listener
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

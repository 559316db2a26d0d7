// Package httphealth serves the fixed `GET /health` endpoint every
// component exposes on its own loopback port: system 8081,
// config 8082, device 8083, control 8084, logging 8085. It is grounded on
// infrastructure/service's health-check shape (status string,
// uptime, structured JSON body) collapsed to a single hand-rolled
// http.ServeMux ("no router library earns its
// place for five tiny fixed endpoints").
package httphealth

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/volteria/controller-core/internal/metrics"
)

// Status is one of the four values a component's
// /health response.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusStarting  Status = "starting"
	StatusStopped   Status = "stopped"
)

// Response is the fixed JSON shape every component's /health returns,
// embedding service-specific fields via Extra.
type Response struct {
	Status    Status         `json:"status"`
	Service   string         `json:"service"`
	UptimeS   int64          `json:"uptime_seconds"`
	Timestamp string         `json:"timestamp"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Reporter lets a component publish its current health atomically; the
// HTTP handler reads the latest snapshot without blocking on the
// component's own event loop.
type Reporter struct {
	mu      sync.RWMutex
	service string
	start   time.Time
	status  Status
	extra   func() map[string]any
}

// NewReporter creates a Reporter starting in StatusStarting.
func NewReporter(service string) *Reporter {
	return &Reporter{
		service: service,
		start:   time.Now(),
		status:  StatusStarting,
	}
}

// SetStatus updates the published status (healthy/unhealthy/stopped).
func (r *Reporter) SetStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// SetExtraFunc installs a callback invoked on every /health request to
// populate component-specific fields (device count, operation mode, cloud
// sync stats, …).
func (r *Reporter) SetExtraFunc(fn func() map[string]any) {
	r.mu.Lock()
	r.extra = fn
	r.mu.Unlock()
}

// Snapshot renders the current Response.
func (r *Reporter) Snapshot() Response {
	r.mu.RLock()
	status := r.status
	extraFn := r.extra
	r.mu.RUnlock()

	var extra map[string]any
	if extraFn != nil {
		extra = extraFn()
	}

	return Response{
		Status:    status,
		Service:   r.service,
		UptimeS:   int64(time.Since(r.start).Seconds()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Extra:     extra,
	}
}

// Server hosts /health and /metrics for one component on its loopback port.
type Server struct {
	addr     string
	reporter *Reporter
	registry *metrics.Registry
	httpSrv  *http.Server
}

// NewServer builds a Server bound to addr (e.g. "127.0.0.1:8083").
func NewServer(addr string, reporter *Reporter, registry *metrics.Registry) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp := reporter.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	if registry != nil {
		mux.Handle("/metrics", registry.Handler())
	}

	return &Server{
		addr:     addr,
		reporter: reporter,
		registry: registry,
		httpSrv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// ListenAndServe starts the HTTP server; it blocks until the server is shut
// down, matching net/http.Server's own convention.
func (s *Server) ListenAndServe() error {
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown closes the server immediately, without waiting for in-flight
// requests to finish.
func (s *Server) Shutdown() error {
	return s.httpSrv.Close()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the service is ready to accept connections.
type ReadinessChecker func() bool

// Package-level counters so the identity and realtime layers can record
// events without holding a Server handle.
var (
	connectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zenith_realtime_connections_open",
		Help: "Number of currently attached realtime connections",
	})
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zenith_realtime_connections_total",
		Help: "Total number of realtime connections attached",
	})
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenith_events_published_total",
			Help: "Total number of events published by channel",
		},
		[]string{"channel"},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenith_events_dropped_total",
			Help: "Total number of events dropped due to full subscriber buffers",
		},
		[]string{"channel"},
	)
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenith_logins_total",
			Help: "Total number of login attempts by status",
		},
		[]string{"status"},
	)
	registrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenith_registrations_total",
			Help: "Total number of registration attempts by status",
		},
		[]string{"status"},
	)
)

// RecordConnectionOpened tracks a realtime connection attach.
func RecordConnectionOpened() {
	connectionsOpen.Inc()
	connectionsTotal.Inc()
}

// RecordConnectionClosed tracks a realtime connection detach.
func RecordConnectionClosed() {
	connectionsOpen.Dec()
}

// RecordEventPublished tracks a publish on a channel.
func RecordEventPublished(channel string) {
	eventsPublished.WithLabelValues(channel).Inc()
}

// RecordEventDropped tracks a delivery dropped for a full subscriber.
func RecordEventDropped(channel string) {
	eventsDropped.WithLabelValues(channel).Inc()
}

// RecordLogin tracks a login attempt; status is "ok" or "failed".
func RecordLogin(status string) {
	loginsTotal.WithLabelValues(status).Inc()
}

// RecordRegistration tracks a registration attempt; status is "ok" or "failed".
func RecordRegistration(status string) {
	registrationsTotal.WithLabelValues(status).Inc()
}

// registerMetrics adds the Zenith metrics to a registry.
func registerMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		connectionsOpen,
		connectionsTotal,
		eventsPublished,
		eventsDropped,
		loginsTotal,
		registrationsTotal,
	)
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100").
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Fresh registry to avoid polluting the global one.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registerMetrics(registry)

	return &Server{
		addr:     addr,
		registry: registry,
		isReady:  readinessChecker,
	}
}

// Start begins serving observability endpoints.
// It returns an error channel that receives any error from the HTTP server
// after it starts; the channel is closed when the server stops gracefully.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}

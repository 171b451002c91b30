package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	requests    *prometheus.CounterVec
	rows        *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	connections prometheus.Gauge
	rejected    *prometheus.CounterVec
	auth        *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		// requests counts statements by operation and outcome.
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csvmgr_requests_total",
				Help: "Total number of requests",
			},
			[]string{"op", "status"},
		),
		rows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csvmgr_rows_total",
				Help: "Rows returned, updated, deleted or appended",
			},
			[]string{"op"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "csvmgr_request_duration_seconds",
				Help:    "Request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		connections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "csvmgr_connections",
				Help: "Open client connections",
			},
		),
		rejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csvmgr_rejected_total",
				Help: "Requests or connections refused before execution",
			},
			[]string{"reason"},
		),
		auth: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csvmgr_auth_total",
				Help: "Authentication attempts",
			},
			[]string{"status"},
		),
	}
}

func (m *metrics) observe(op string, start time.Time, rows int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.requests.WithLabelValues(op, status).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if rows > 0 {
		m.rows.WithLabelValues(op).Add(float64(rows))
	}
}

func (m *metrics) observeAuth(ok bool) {
	if ok {
		m.auth.WithLabelValues("ok").Inc()
	} else {
		m.auth.WithLabelValues("error").Inc()
	}
}

// serveMetrics exposes gatherer at /metrics on addr. The listener is
// bound before it returns.
func serveMetrics(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) (*http.Server, net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	return srv, listener.Addr(), nil
}

// Package metrics exposes Prometheus metrics for the HTTP front end, the
// connection pool, the query cache and the load harness. Every Metrics value
// owns its registry, so tests and multiple servers in one process never
// collide on registration.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FairForge/loadlab/internal/loadtest"
)

const namespace = "loadlab"

// Metrics holds all Prometheus metrics for one process
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	LatencyHistogram *prometheus.HistogramVec
	HarnessRequests  *prometheus.CounterVec
	HarnessLatency   *prometheus.HistogramVec
	HarnessLevel     *prometheus.GaugeVec
	registry         *prometheus.Registry
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		LatencyHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HarnessRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "harness_requests_total",
				Help:      "Requests issued by the load harness by outcome",
			},
			[]string{"test", "outcome"},
		),
		HarnessLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "harness_request_duration_seconds",
				Help:      "Latency observed by the load harness in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"test"},
		),
		HarnessLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "harness_concurrency",
				Help:      "Concurrency level of the most recent harness sample",
			},
			[]string{"test"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.RequestCounter,
		m.LatencyHistogram,
		m.HarnessRequests,
		m.HarnessLatency,
		m.HarnessLevel,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// IncrementRequest increments the request counter
func (m *Metrics) IncrementRequest(method, route string, status int) {
	m.RequestCounter.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// RecordLatency records request latency
func (m *Metrics) RecordLatency(method, route string, seconds float64) {
	m.LatencyHistogram.WithLabelValues(method, route).Observe(seconds)
}

// Recorder returns a harness recorder that feeds the harness metrics under
// the given test name.
func (m *Metrics) Recorder(test string) loadtest.Recorder {
	latency := m.HarnessLatency.WithLabelValues(test)
	level := m.HarnessLevel.WithLabelValues(test)
	return loadtest.RecorderFunc(func(s loadtest.Sample) {
		outcome := "success"
		if !s.Success {
			outcome = string(s.Failure)
		}
		m.HarnessRequests.WithLabelValues(test, outcome).Inc()
		latency.Observe(s.Duration.Seconds())
		level.Set(float64(s.Level))
	})
}

// Register adds an extra collector, such as a pool or cache collector.
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the registry at /metrics on ln until ctx is done.
func (m *Metrics) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

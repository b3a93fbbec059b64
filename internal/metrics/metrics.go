// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes Prometheus collectors for search and download
// tracking. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Metrics struct {
	registry *prometheus.Registry

	ProviderSearches   *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec
	RecordsByStatus    *prometheus.GaugeVec
	Transitions        *prometheus.CounterVec
	RateLimitBackoffs  prometheus.Counter
	TransientFailures  prometheus.Counter
	ExtractionDuration prometheus.Histogram
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ProviderSearches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gamedrop_provider_searches_total",
			Help: "Provider searches by outcome",
		}, []string{"provider", "outcome"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gamedrop_provider_search_duration_seconds",
			Help:    "Time spent waiting on a provider search",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		RecordsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gamedrop_downloads",
			Help: "Tracked downloads by status",
		}, []string{"status"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gamedrop_download_transitions_total",
			Help: "Download status transitions by target status",
		}, []string{"status"}),
		RateLimitBackoffs: factory.NewCounter(prometheus.CounterOpts{
			Name: "gamedrop_rate_limit_backoffs_total",
			Help: "Remote polls deferred because of rate limiting",
		}),
		TransientFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gamedrop_transient_failures_total",
			Help: "Remote polls that failed with a transient network error",
		}),
		ExtractionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gamedrop_extraction_duration_seconds",
			Help:    "Time spent extracting archives",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (m *Metrics) ObserveProviderSearch(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderSearches.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRateLimit() {
	if m == nil {
		return
	}
	m.RateLimitBackoffs.Inc()
}

func (m *Metrics) ObserveTransientFailure() {
	if m == nil {
		return
	}
	m.TransientFailures.Inc()
}

func (m *Metrics) ObserveExtraction(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ExtractionDuration.Observe(elapsed.Seconds())
}

// SetStatusCounts replaces the per-status gauge values.
func (m *Metrics) SetStatusCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.RecordsByStatus.Reset()
	for status, n := range counts {
		m.RecordsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics on its own listener.
type Server struct {
	server *http.Server
}

func NewServer(m *Metrics, host string, port int) *Server {
	r := chi.NewRouter()
	r.Handle("/metrics", m.Handler())

	return &Server{
		server: &http.Server{
			Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Package metrics exposes Prometheus collectors for the add, delete, search
// and reload paths. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recall"

// Metrics holds every collector registered by New.
type Metrics struct {
	registry *prometheus.Registry

	adds           *prometheus.CounterVec
	addDuration    *prometheus.HistogramVec
	deletes        *prometheus.CounterVec
	degradations   *prometheus.CounterVec
	searches       *prometheus.CounterVec
	searchDuration prometheus.Histogram
	reloads        *prometheus.CounterVec
	indexEntries   prometheus.Gauge
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		adds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adds_total",
			Help:      "Add operations by content type and outcome.",
		}, []string{"content_type", "status"}),
		addDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "add_duration_seconds",
			Help:      "Wall time of add operations.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"content_type"}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Delete operations by content type and outcome.",
		}, []string{"content_type", "status"}),
		degradations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degradations_total",
			Help:      "Best-effort services that did not deliver during an add.",
		}, []string{"flag"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Search requests by outcome.",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Wall time of search requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_reloads_total",
			Help:      "Rebuilds of the in-memory search handle by trigger.",
		}, []string{"trigger"}),
		indexEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_entries",
			Help:      "Chunks held by the search handle after the last rebuild.",
		}),
	}
	m.registry.MustRegister(
		m.adds, m.addDuration, m.deletes, m.degradations,
		m.searches, m.searchDuration, m.reloads, m.indexEntries,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveAdd records one add outcome.
func (m *Metrics) ObserveAdd(contentType, status string, degraded []string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.adds.WithLabelValues(contentType, status).Inc()
	m.addDuration.WithLabelValues(contentType).Observe(elapsed.Seconds())
	for _, flag := range degraded {
		m.degradations.WithLabelValues(flag).Inc()
	}
}

// ObserveDelete records one delete outcome.
func (m *Metrics) ObserveDelete(contentType, status string) {
	if m == nil {
		return
	}
	m.deletes.WithLabelValues(contentType, status).Inc()
}

// ObserveSearch records one search. err decides the outcome label.
func (m *Metrics) ObserveSearch(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.searches.WithLabelValues(outcome).Inc()
	m.searchDuration.Observe(elapsed.Seconds())
}

// ObserveReload records a handle rebuild holding entries chunks.
func (m *Metrics) ObserveReload(trigger string, entries int) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(trigger).Inc()
	m.indexEntries.Set(float64(entries))
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if m == nil {
		return errors.New("metrics are disabled")
	}
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

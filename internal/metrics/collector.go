// Package metrics exposes cache activity as Prometheus metrics, optionally
// served over HTTP. The collector registers on its own registry so embedding
// applications keep their default registry clean.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamvault/streamvault/internal/config"
	cacheerrors "github.com/streamvault/streamvault/pkg/errors"
	"github.com/streamvault/streamvault/pkg/types"
)

// Collector implements types.MetricsCollector on Prometheus instruments.
type Collector struct {
	mu       sync.Mutex
	cfg      config.MetricsConfig
	logger   *slog.Logger
	registry *prometheus.Registry

	hits              *prometheus.CounterVec
	misses            *prometheus.CounterVec
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	evictions         *prometheus.CounterVec
	cleanupDuration   prometheus.Histogram
	sizeBytes         prometheus.Gauge
	utilization       prometheus.Gauge
	entryCount        *prometheus.GaugeVec

	server  *http.Server
	started bool
}

// NewCollector builds a collector from the metrics configuration.
func NewCollector(cfg config.MetricsConfig, logger *slog.Logger) (*Collector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "streamvault"
	}

	c := &Collector{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),

		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_hits_total",
			Help:      "Cache hits by storage area.",
		}, []string{"area"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_misses_total",
			Help:      "Cache misses by storage area.",
		}, []string{"area"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_operations_total",
			Help:      "Cache operations by type and outcome.",
		}, []string{"operation", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "cache_operation_duration_seconds",
			Help:      "Cache operation latency by type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted, by reason.",
		}, []string{"reason"}),
		cleanupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "cleanup_pass_duration_seconds",
			Help:      "Duration of full cleanup passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		sizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "cache_size_bytes",
			Help:      "Total cached bytes across all areas.",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "cache_utilization_ratio",
			Help:      "Cached bytes as a fraction of the configured ceiling.",
		}),
		entryCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "cache_entries",
			Help:      "Number of cached entries by storage area.",
		}, []string{"area"}),
	}

	for _, col := range []prometheus.Collector{
		c.hits, c.misses, c.operations, c.operationDuration,
		c.evictions, c.cleanupDuration, c.sizeBytes, c.utilization, c.entryCount,
	} {
		if err := c.registry.Register(col); err != nil {
			return nil, cacheerrors.Wrap(cacheerrors.ErrCodeNotInitialized, "failed to register metric", err).
				WithComponent("metrics")
		}
	}

	return c, nil
}

// Registry returns the collector's private registry, for embedding the
// metrics into an existing HTTP surface instead of Start.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start serves the metrics endpoint on the configured port. No-op when the
// endpoint is disabled in config.
func (c *Collector) Start() error {
	if !c.cfg.Enabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return cacheerrors.New(cacheerrors.ErrCodeAlreadyStarted, "metrics server already running").
			WithComponent("metrics")
	}

	path := c.cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.started = true

	go func() {
		c.logger.Info("metrics server listening", "addr", c.server.Addr, "path", path)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	return c.server.Shutdown(ctx)
}

func (c *Collector) RecordHit(area types.Area) {
	c.hits.WithLabelValues(string(area)).Inc()
}

func (c *Collector) RecordMiss(area types.Area) {
	c.misses.WithLabelValues(string(area)).Inc()
}

func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	c.operations.WithLabelValues(operation, status).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) RecordEviction(reason string, count int) {
	c.evictions.WithLabelValues(reason).Add(float64(count))
}

func (c *Collector) RecordCleanupPass(duration time.Duration) {
	c.cleanupDuration.Observe(duration.Seconds())
}

func (c *Collector) UpdateSize(bytes int64) {
	c.sizeBytes.Set(float64(bytes))
}

func (c *Collector) UpdateUtilization(fraction float64) {
	c.utilization.Set(fraction)
}

func (c *Collector) UpdateEntryCount(area types.Area, count int) {
	c.entryCount.WithLabelValues(string(area)).Set(float64(count))
}

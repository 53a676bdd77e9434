// Package metrics exposes cache engine statistics through Prometheus and
// evaluates threshold-based alerts against periodic samples.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaultcache/vaultcache/internal/cache"
	"github.com/vaultcache/vaultcache/pkg/logutil"
)

// StatsSource supplies engine snapshots to the sampling loop.
type StatsSource func() cache.Stats

// Config represents metrics configuration
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port"`
	Path           string        `yaml:"path"`
	Namespace      string        `yaml:"namespace"`
	UpdateInterval time.Duration `yaml:"update_interval"`
	Alerts         AlertConfig   `yaml:"alerts"`
}

// DefaultConfig returns metrics defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Port:           9180,
		Path:           "/metrics",
		Namespace:      "vaultcache",
		UpdateInterval: 10 * time.Second,
		Alerts:         DefaultAlertConfig(),
	}
}

// Collector samples engine statistics, exports them as Prometheus metrics,
// and raises alerts when thresholds are crossed.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	source   StatsSource
	registry *prometheus.Registry
	logger   *logutil.Logger

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	requestCounter    *prometheus.CounterVec
	entriesGauge      prometheus.Gauge
	memoryGauge       prometheus.Gauge
	hitRateGauge      prometheus.Gauge
	pressureGauge     prometheus.Gauge
	evictionCounter   prometheus.Counter
	errorCounter      *prometheus.CounterVec

	alerts        []Alert
	lastEvictions uint64

	server *http.Server
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a collector bound to a stats source.
func NewCollector(config *Config, source StatsSource, logger *logutil.Logger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logutil.Discard()
	}

	c := &Collector{
		config: config,
		source: source,
		logger: logger.WithComponent("metrics"),
		done:   make(chan struct{}),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return c, nil
}

// Start launches the exposition endpoint and the sampling loop.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	if c.config.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))

		c.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", c.config.Port),
			Handler:           mux,
			ReadHeaderTimeout: 30 * time.Second,
		}

		go func() {
			if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				c.logger.Error("metrics server failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	c.wg.Add(1)
	go c.sampleLoop(ctx)
	return nil
}

// Stop shuts down the endpoint and the sampling loop.
func (c *Collector) Stop(ctx context.Context) error {
	close(c.done)
	c.wg.Wait()
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records one engine operation with its duration and outcome.
func (c *Collector) RecordOperation(operation string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		c.errorCounter.With(prometheus.Labels{"operation": operation}).Inc()
	}
	c.operationCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
}

// RecordHit records a cache hit.
func (c *Collector) RecordHit() {
	if c.config.Enabled {
		c.requestCounter.With(prometheus.Labels{"type": "hit"}).Inc()
	}
}

// RecordMiss records a cache miss.
func (c *Collector) RecordMiss() {
	if c.config.Enabled {
		c.requestCounter.With(prometheus.Labels{"type": "miss"}).Inc()
	}
}

// Sample pulls one snapshot, updates gauges, and evaluates alert rules.
func (c *Collector) Sample() {
	if !c.config.Enabled || c.source == nil {
		return
	}

	stats := c.source()

	c.entriesGauge.Set(float64(stats.TotalEntries))
	c.memoryGauge.Set(float64(stats.MemoryUsage))
	c.hitRateGauge.Set(stats.HitRate)
	c.pressureGauge.Set(pressureOrdinal(stats.PressureLevel))

	c.mu.Lock()
	if stats.Evictions >= c.lastEvictions {
		c.evictionCounter.Add(float64(stats.Evictions - c.lastEvictions))
	}
	c.lastEvictions = stats.Evictions
	c.mu.Unlock()

	c.evaluateAlerts(stats)
}

// Alerts returns the alerts raised so far.
func (c *Collector) Alerts() []Alert {
	c.mu.RLock()
	defer c.mu.RUnlock()
	alerts := make([]Alert, len(c.alerts))
	copy(alerts, c.alerts)
	return alerts
}

// ClearAlerts drops the alert history.
func (c *Collector) ClearAlerts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = nil
}

func (c *Collector) sampleLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.Sample()
		}
	}
}

func (c *Collector) initMetrics() error {
	ns := c.config.Namespace

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Duration of cache operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 12), // 1µs to ~4s
		},
		[]string{"operation"},
	)

	c.requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "requests_total",
			Help:      "Total number of cache requests by outcome",
		},
		[]string{"type"},
	)

	c.entriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "entries",
		Help:      "Current number of cache entries",
	})

	c.memoryGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "memory_bytes",
		Help:      "Current accounted cache memory usage",
	})

	c.hitRateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "hit_rate",
		Help:      "Cache hit rate since last reset",
	})

	c.pressureGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "pressure_level",
		Help:      "Memory pressure level (0=low 1=medium 2=high 3=critical)",
	})

	c.evictionCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "evictions_total",
		Help:      "Total number of evicted entries",
	})

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Total number of operation errors",
		},
		[]string{"operation"},
	)

	collectors := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.requestCounter,
		c.entriesGauge,
		c.memoryGauge,
		c.hitRateGauge,
		c.pressureGauge,
		c.evictionCounter,
		c.errorCounter,
	}
	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func pressureOrdinal(level string) float64 {
	switch level {
	case "low":
		return 0
	case "medium":
		return 1
	case "high":
		return 2
	case "critical":
		return 3
	default:
		return -1
	}
}

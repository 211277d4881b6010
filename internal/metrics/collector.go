package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fspropfaker/fspropfaker/internal/probe"
	"github.com/fspropfaker/fspropfaker/pkg/errors"
)

// Capacity gauge kinds.
const (
	KindRealTotal = "real_total"
	KindRealAvail = "real_avail"
	KindFakeTotal = "fake_total"
	KindFakeAvail = "fake_avail"
	KindFakeFree  = "fake_free"
)

// Collector records faker operations and capacity numbers in a private
// Prometheus registry.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
	capacityGauge     *prometheus.GaugeVec
	blockSizeGauge    prometheus.Gauge

	operations map[string]*OperationMetrics
	lastReset  time.Time
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Namespace: "fspropfaker",
		Labels:    make(map[string]string),
	}
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastOperation time.Time     `json:"last_operation"`
	LastError     string        `json:"last_error,omitempty"`
}

// NewCollector creates a new metrics collector. A disabled collector accepts
// every call and records nothing.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	collector := &Collector{
		config:     config,
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// RecordOperation records one faker operation (statfs query or setter).
func (c *Collector) RecordOperation(operation string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		c.errorCounter.WithLabelValues(operation, string(errors.CodeOf(err))).Inc()
	}
	c.operationCounter.WithLabelValues(operation, status).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	m, exists := c.operations[operation]
	if !exists {
		m = &OperationMetrics{}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.AvgDuration = m.TotalDuration / time.Duration(m.Count)
	m.LastOperation = time.Now()
	if err != nil {
		m.Errors++
		m.LastError = err.Error()
	}
}

// UpdateCapacity publishes the real and faked block counts of one query.
func (c *Collector) UpdateCapacity(real, fake probe.Snapshot) {
	if !c.config.Enabled {
		return
	}

	c.blockSizeGauge.Set(float64(fake.BlockSize))
	c.capacityGauge.WithLabelValues(KindRealTotal).Set(float64(real.TotalBlocks))
	c.capacityGauge.WithLabelValues(KindRealAvail).Set(float64(real.AvailBlocks))
	c.capacityGauge.WithLabelValues(KindFakeTotal).Set(float64(fake.TotalBlocks))
	c.capacityGauge.WithLabelValues(KindFakeAvail).Set(float64(fake.AvailBlocks))
	c.capacityGauge.WithLabelValues(KindFakeFree).Set(float64(fake.FreeBlocks))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the private registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// GetMetrics returns a copy of the per-operation summary.
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		copied := *v
		operations[k] = &copied
	}

	return map[string]interface{}{
		"operations": operations,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset).String(),
	}
}

// ResetMetrics clears the per-operation summary. Prometheus counters keep counting.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// DebugOperationsHandler writes the per-operation summary as a text table.
func (c *Collector) DebugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("fspropfaker operations\n")
	writef("======================\n\n")
	writef("Uptime: %v\n", time.Since(c.lastReset).Round(time.Second))
	writef("Last Reset: %v\n\n", c.lastReset.Format(time.RFC3339))

	if len(c.operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	names := make([]string, 0, len(c.operations))
	for name := range c.operations {
		names = append(names, name)
	}
	sort.Strings(names)

	writef("%-16s %10s %10s %14s %10s\n", "Operation", "Count", "Errors", "Avg Duration", "Last Op")
	writef("%-16s %10s %10s %14s %10s\n", "---------", "-----", "------", "------------", "-------")
	for _, name := range names {
		op := c.operations[name]
		writef("%-16s %10d %10d %14v %10s\n",
			name, op.Count, op.Errors, op.AvgDuration, op.LastOperation.Format("15:04:05"))
	}
}

func (c *Collector) initMetrics() {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operations_total",
			Help:        "Total number of faker operations",
			ConstLabels: c.config.Labels,
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operation_duration_seconds",
			Help:        "Duration of faker operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			ConstLabels: c.config.Labels,
		},
		[]string{"operation"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of failed operations by error code",
			ConstLabels: c.config.Labels,
		},
		[]string{"operation", "code"},
	)

	c.capacityGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "capacity_blocks",
			Help:        "Real and faked capacity reported by the last statfs query, in blocks",
			ConstLabels: c.config.Labels,
		},
		[]string{"kind"},
	)

	c.blockSizeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "block_size_bytes",
			Help:        "Block size of the mounted root",
			ConstLabels: c.config.Labels,
		},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.errorCounter,
		c.capacityGauge,
		c.blockSizeGauge,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

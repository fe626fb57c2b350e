package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus counters/histograms for the VFS kernel-callback
// surface, the object-store driver, and the sync engine, generalized from
// the teacher's internal/metrics.Collector and narrowed to this domain's
// operations.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	vfsOps        *prometheus.CounterVec
	vfsOpDuration *prometheus.HistogramVec
	storeCommands *prometheus.CounterVec
	commits       prometheus.Counter
	syncRuns      *prometheus.CounterVec
	openHandles   prometheus.Gauge
}

// MetricsConfig configures the metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled   bool
	Port      int
	Path      string
	Namespace string
}

// DefaultMetricsConfig returns the default metrics configuration: enabled,
// on :9837/metrics, under the "sharebox" namespace.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:   true,
		Port:      9837,
		Path:      "/metrics",
		Namespace: "sharebox",
	}
}

// NewMetrics builds a Metrics instance and registers its collectors.
func NewMetrics(config *MetricsConfig) *Metrics {
	if config == nil {
		config = DefaultMetricsConfig()
	}
	if !config.Enabled {
		return &Metrics{config: config}
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{config: config, registry: registry}

	m.vfsOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "vfs_operations_total",
		Help:      "Count of VFS kernel-callback invocations by operation and outcome.",
	}, []string{"operation", "outcome"})

	m.vfsOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Name:      "vfs_operation_duration_seconds",
		Help:      "Latency of VFS kernel-callback invocations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	m.storeCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "store_commands_total",
		Help:      "Count of object-store subprocess invocations by command and outcome.",
	}, []string{"command", "outcome"})

	m.commits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "commits_total",
		Help:      "Count of revisions committed to the object store.",
	})

	m.syncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "sync_runs_total",
		Help:      "Count of sync engine runs by outcome (merged, conflict, error).",
	}, []string{"outcome"})

	m.openHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "open_file_handles",
		Help:      "Current count of entries in the open file table.",
	})

	registry.MustRegister(m.vfsOps, m.vfsOpDuration, m.storeCommands, m.commits, m.syncRuns, m.openHandles)

	return m
}

// Start serves /metrics on the configured port until ctx is canceled.
func (m *Metrics) Start(ctx context.Context) error {
	if m.config == nil || !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", m.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// RecordVFSOp records one kernel-callback invocation.
func (m *Metrics) RecordVFSOp(operation string, duration time.Duration, success bool) {
	if m == nil || m.vfsOps == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.vfsOps.WithLabelValues(operation, outcome).Inc()
	m.vfsOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStoreCommand records one object-store subprocess invocation.
func (m *Metrics) RecordStoreCommand(command string, success bool) {
	if m == nil || m.storeCommands == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.storeCommands.WithLabelValues(command, outcome).Inc()
}

// RecordCommit increments the commit counter.
func (m *Metrics) RecordCommit() {
	if m == nil || m.commits == nil {
		return
	}
	m.commits.Inc()
}

// RecordSyncRun records the outcome of one SyncEngine run.
func (m *Metrics) RecordSyncRun(outcome string) {
	if m == nil || m.syncRuns == nil {
		return
	}
	m.syncRuns.WithLabelValues(outcome).Inc()
}

// SetOpenHandles sets the current open-file-table size gauge.
func (m *Metrics) SetOpenHandles(n int) {
	if m == nil || m.openHandles == nil {
		return
	}
	m.openHandles.Set(float64(n))
}

package metrics

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all scanconsole metrics
	namespace = "scanconsole"

	// Subsystems
	subsystemScan    = "scan"
	subsystemSession = "session"
	subsystemExport  = "export"
	subsystemConsole = "console"
	subsystemSystem  = "system"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Scan metrics
	scansTotal    *prometheus.CounterVec
	scanDuration  *prometheus.HistogramVec
	scansRejected *prometheus.CounterVec
	activeScans   prometheus.Gauge

	// Session metrics
	sessionOps *prometheus.CounterVec

	// Export metrics
	exportsTotal *prometheus.CounterVec

	// Console metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with its own registry
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initScanMetrics()
	pm.initSessionMetrics()
	pm.initConsoleMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initScanMetrics initializes scan-related metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scan submissions by type and classified result kind",
		},
		[]string{"scan_type", "kind"},
	)

	// Scans run on the backend without a client timeout, so the buckets reach far
	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scan submissions in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0, 1800.0},
		},
		[]string{"scan_type"},
	)

	pm.scansRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "rejected_total",
			Help:      "Total number of submissions refused before reaching the backend",
		},
		[]string{"scan_type", "reason"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of submissions awaiting a backend response",
		},
	)
}

// initSessionMetrics initializes session and export metrics
func (pm *PrometheusMetrics) initSessionMetrics() {
	pm.sessionOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "operations_total",
			Help:      "Total number of session operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	pm.exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemExport,
			Name:      "artifacts_total",
			Help:      "Total number of export artifacts written by format",
		},
		[]string{"format"},
	)
}

// initConsoleMetrics initializes console HTTP metrics
func (pm *PrometheusMetrics) initConsoleMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemConsole,
			Name:      "requests_total",
			Help:      "Total number of console HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemConsole,
			Name:      "request_duration_seconds",
			Help:      "Duration of console HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 300.0},
		},
		[]string{"method", "route"},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.scansTotal,
		pm.scanDuration,
		pm.scansRejected,
		pm.activeScans,
		pm.sessionOps,
		pm.exportsTotal,
		pm.httpRequests,
		pm.httpDuration,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Handler returns the exposition handler for this registry
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// ScanStarted implements Recorder
func (pm *PrometheusMetrics) ScanStarted(string) {
	pm.activeScans.Inc()
}

// ScanCompleted implements Recorder
func (pm *PrometheusMetrics) ScanCompleted(scanType, kind string, duration time.Duration) {
	pm.activeScans.Dec()
	pm.scansTotal.WithLabelValues(scanType, kind).Inc()
	pm.scanDuration.WithLabelValues(scanType).Observe(duration.Seconds())
}

// ScanRejected implements Recorder
func (pm *PrometheusMetrics) ScanRejected(scanType, reason string) {
	pm.scansRejected.WithLabelValues(scanType, reason).Inc()
}

// SessionOperation implements Recorder
func (pm *PrometheusMetrics) SessionOperation(operation, outcome string) {
	pm.sessionOps.WithLabelValues(operation, outcome).Inc()
}

// ExportWritten implements Recorder
func (pm *PrometheusMetrics) ExportWritten(format string) {
	pm.exportsTotal.WithLabelValues(format).Inc()
}

// HTTPRequest implements Recorder
func (pm *PrometheusMetrics) HTTPRequest(method, route string, status int, duration time.Duration) {
	pm.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	pm.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last system metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates refreshes system metrics until ctx is done
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

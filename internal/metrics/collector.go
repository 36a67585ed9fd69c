// Package metrics exposes export pipeline metrics in Prometheus format.
//
// All recording methods are safe on a nil *Collector, so components can be
// constructed without metrics in tests and in the one-shot CLI.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tablexport"

// Collector owns a private registry and the pipeline's metric families.
type Collector struct {
	registry *prometheus.Registry

	exportsTotal     *prometheus.CounterVec
	exportDuration   *prometheus.HistogramVec
	stageDuration    *prometheus.HistogramVec
	lockWait         *prometheus.HistogramVec
	converterRuns    *prometheus.CounterVec
	converterRunning prometheus.Gauge
	artifactBytes    prometheus.Histogram
	rateLimited      prometheus.Counter
}

// NewCollector creates and registers all metric families. If registry is nil a
// fresh one is created.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		registry: registry,
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Export runs by outcome (success or error kind).",
		}, []string{"outcome"}),
		exportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "End-to-end export run duration.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the converter lock.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"result"}),
		converterRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "converter_runs_total",
			Help:      "Converter subprocess runs by result.",
		}, []string{"result"}),
		converterRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "converter_running",
			Help:      "Converter subprocesses currently running in this process (0 or 1).",
		}),
		artifactBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_size_bytes",
			Help:      "Size of uploaded artifacts.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Export requests rejected by the per-caller rate limit.",
		}),
	}

	registry.MustRegister(
		c.exportsTotal,
		c.exportDuration,
		c.stageDuration,
		c.lockWait,
		c.converterRuns,
		c.converterRunning,
		c.artifactBytes,
		c.rateLimited,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (c *Collector) ObserveExport(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.exportsTotal.WithLabelValues(outcome).Inc()
	c.exportDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveLockWait records how long a run waited and whether it got the lock.
func (c *Collector) ObserveLockWait(d time.Duration, acquired bool) {
	if c == nil {
		return
	}
	result := "acquired"
	if !acquired {
		result = "busy"
	}
	c.lockWait.WithLabelValues(result).Observe(d.Seconds())
}

func (c *Collector) ConverterStarted() {
	if c == nil {
		return
	}
	c.converterRunning.Inc()
}

// ConverterFinished records a finished run; result is "ok", "failed" or "timeout".
func (c *Collector) ConverterFinished(result string) {
	if c == nil {
		return
	}
	c.converterRunning.Dec()
	c.converterRuns.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveArtifactSize(n int64) {
	if c == nil {
		return
	}
	c.artifactBytes.Observe(float64(n))
}

func (c *Collector) RateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}

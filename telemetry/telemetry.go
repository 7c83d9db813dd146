package telemetry

import (
	"net/http"

	"github.com/maxpert/isolevel/cfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "isolevel"

// levelLabel is appended to every per-isolation metric
const levelLabel = "level"

var registry *prometheus.Registry

// Histogram observes durations
type Histogram interface {
	Observe(float64)
}

// Counter only goes up
type Counter interface {
	Inc()
}

// Gauge tracks a value that moves both ways
type Gauge interface {
	Set(float64)
	Inc()
	Dec()
}

// CounterVec, GaugeVec and HistogramVec resolve a metric by label values, in declaration order
type CounterVec interface {
	With(labels ...string) Counter
}

type GaugeVec interface {
	With(labels ...string) Gauge
}

type HistogramVec interface {
	With(labels ...string) Histogram
}

// NoopStat satisfies every metric interface and records nothing.
// Metrics stay no-op until InitializeTelemetry runs with Prometheus enabled.
type NoopStat struct{}

func (NoopStat) Observe(float64) {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Inc()            {}
func (NoopStat) Dec()            {}

// labeled adapts any label-indexed lookup to the Vec interfaces above
type labeled[M any] func(labels ...string) M

func (l labeled[M]) With(labels ...string) M { return l(labels...) }

var (
	noopCounterVec   = labeled[Counter](func(...string) Counter { return NoopStat{} })
	noopGaugeVec     = labeled[Gauge](func(...string) Gauge { return NoopStat{} })
	noopHistogramVec = labeled[Histogram](func(...string) Histogram { return NoopStat{} })
)

func withLevel(labels []string) []string {
	return append(append([]string(nil), labels...), levelLabel)
}

// newGauge registers an unlabeled gauge
func newGauge(name, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	registry.MustRegister(g)
	return g
}

// newCounterVec registers a counter labeled exactly by labels
func newCounterVec(name, help string, labels ...string) CounterVec {
	if registry == nil {
		return noopCounterVec
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	registry.MustRegister(vec)
	return labeled[Counter](func(values ...string) Counter { return vec.WithLabelValues(values...) })
}

// newLevelCounterVec registers a counter labeled by labels then isolation level.
// With takes the level label value last.
func newLevelCounterVec(name, help string, labels ...string) CounterVec {
	return newCounterVec(name, help, withLevel(labels)...)
}

// newLevelGaugeVec registers a gauge labeled by isolation level only
func newLevelGaugeVec(name, help string) GaugeVec {
	if registry == nil {
		return noopGaugeVec
	}

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, []string{levelLabel})
	registry.MustRegister(vec)
	return labeled[Gauge](func(values ...string) Gauge { return vec.WithLabelValues(values...) })
}

// newLevelHistogramVec registers a histogram labeled by isolation level only
func newLevelHistogramVec(name, help string, buckets []float64) HistogramVec {
	if registry == nil {
		return noopHistogramVec
	}

	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, []string{levelLabel})
	registry.MustRegister(vec)
	return labeled[Histogram](func(values ...string) Histogram { return vec.WithLabelValues(values...) })
}

// InitializeTelemetry creates the Prometheus registry and registers every metric.
// It does nothing when Prometheus is disabled in config.
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()

	// Register process and Go runtime collectors for CPU/memory metrics
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	InitMetrics()

	log.Info().Msg("Prometheus metrics enabled - served on admin port at /metrics")
}

// GetMetricsHandler returns the HTTP handler for Prometheus metrics
// Returns nil if Prometheus is not enabled
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

const namespace = "rooftop"

// Metrics holds the Prometheus collectors for pipeline runs. Each Metrics
// owns its registry, so a one-shot CLI process can export to a
// node-exporter textfile without touching the default registry.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal          *prometheus.CounterVec   // labels: status
	StageDuration      *prometheus.HistogramVec // labels: stage
	StageRows          *prometheus.GaugeVec     // labels: stage
	StageErrors        *prometheus.CounterVec   // labels: stage, kind
	FeatureErrors      *prometheus.CounterVec   // labels: feature, kind
	ExcludedFootprints prometheus.Counter
	FlatAreas          prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final status.",
		}, []string{"status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"stage"}),
		StageRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_rows",
			Help:      "Rows produced by the last run of each stage.",
		}, []string{"stage"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Stage failures by error kind (config, data, process, other).",
		}, []string{"stage", "kind"}),
		FeatureErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_errors_total",
			Help:      "Features skipped during the feature fold.",
		}, []string{"feature", "kind"}),
		ExcludedFootprints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "excluded_footprints_total",
			Help:      "Footprints excluded for zero or undefined total area.",
		}),
		FlatAreas: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flat_areas",
			Help:      "Flat-area polygons produced by the last run.",
		}),
	}

	m.Registry.MustRegister(
		m.RunsTotal,
		m.StageDuration,
		m.StageRows,
		m.StageErrors,
		m.FeatureErrors,
		m.ExcludedFootprints,
		m.FlatAreas,
	)

	return m
}

// WriteTextfile writes the registry in the text exposition format to path,
// atomically, for the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return eris.Wrapf(err, "monitoring: write textfile %s", path)
	}
	return nil
}

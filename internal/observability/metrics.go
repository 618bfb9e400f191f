package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// feature-extraction pipeline.
type Metrics struct {
	ReportsConsumed  prometheus.Counter
	FeaturesProduced prometheus.Counter
	TransformErrors  prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Grid sampling metrics.
	OutOfBoundsReports  prometheus.Counter
	ProductBinds        *prometheus.CounterVec // labels: outcome={success,error}
	ProductBindDuration prometheus.Histogram
	SampleDuration      prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ReportsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_grid",
			Name:      "reports_consumed_total",
			Help:      "Total storm reports read from the source topic.",
		}),
		FeaturesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_grid",
			Name:      "features_produced_total",
			Help:      "Total feature vectors written to the sink topic.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_grid",
			Name:      "transform_errors_total",
			Help:      "Total reports skipped because sampling failed.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_grid",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storm_grid",
			Name:      "batch_size",
			Help:      "Number of reports per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storm_grid",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		OutOfBoundsReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_grid",
			Name:      "out_of_bounds_reports_total",
			Help:      "Reports whose location fell outside the grid extent.",
		}),
		ProductBinds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_grid",
			Name:      "product_binds_total",
			Help:      "Grid products fetched and opened, by outcome.",
		}, []string{"outcome"}),
		ProductBindDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storm_grid",
			Name:      "product_bind_duration_seconds",
			Help:      "Time to locate, download, and open a grid product.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
		SampleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storm_grid",
			Name:      "sample_duration_seconds",
			Help:      "Time to sample the grid for one report.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
	}

	prometheus.MustRegister(
		m.ReportsConsumed,
		m.FeaturesProduced,
		m.TransformErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.OutOfBoundsReports,
		m.ProductBinds,
		m.ProductBindDuration,
		m.SampleDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ReportsConsumed:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "storm_grid", Name: "reports_consumed_total"}),
		FeaturesProduced:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "storm_grid", Name: "features_produced_total"}),
		TransformErrors:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "storm_grid", Name: "transform_errors_total"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "storm_grid", Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "storm_grid", Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "storm_grid", Name: "batch_processing_duration_seconds"}),
		OutOfBoundsReports:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "storm_grid", Name: "out_of_bounds_reports_total"}),
		ProductBinds:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "storm_grid", Name: "product_binds_total"}, []string{"outcome"}),
		ProductBindDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "storm_grid", Name: "product_bind_duration_seconds"}),
		SampleDuration:          prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "storm_grid", Name: "sample_duration_seconds"}),
	}
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tornado_season"

// Metrics holds the Prometheus counters, histograms, and gauges for an
// analysis run.
type Metrics struct {
	TracksLoaded   prometheus.Counter
	TracksSkipped  prometheus.Counter
	TracksFiltered prometheus.Gauge
	YearsAnalyzed  prometheus.Gauge

	StageDuration *prometheus.HistogramVec // labels: stage

	// Model fitting metrics.
	FitDuration       *prometheus.HistogramVec // labels: model
	FitFailures       *prometheus.CounterVec   // labels: model
	SamplerAcceptance *prometheus.GaugeVec     // labels: model
	SamplerMaxRhat    *prometheus.GaugeVec     // labels: model

	SummariesPublished prometheus.Counter
	PipelineRunning    prometheus.Gauge
	LastRunSuccess     prometheus.Gauge
}

var (
	stageBuckets = []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 300}
	fitBuckets   = []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900}
)

func newMetrics() *Metrics {
	return &Metrics{
		TracksLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_loaded_total",
			Help:      "Tornado tracks parsed from the shapefile.",
		}),
		TracksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_skipped_total",
			Help:      "Shapefile records dropped for lacking a usable date.",
		}),
		TracksFiltered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracks_filtered",
			Help:      "Tracks passing the year and magnitude thresholds in the last run.",
		}),
		YearsAnalyzed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "years_analyzed",
			Help:      "Years present in the count table of the last run.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   stageBuckets,
		}, []string{"stage"}),
		FitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_duration_seconds",
			Help:      "Model fitting duration by model.",
			Buckets:   fitBuckets,
		}, []string{"model"}),
		FitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fit_failures_total",
			Help:      "Model fits that returned an error.",
		}, []string{"model"}),
		SamplerAcceptance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampler_acceptance_rate",
			Help:      "Mean post-warmup Metropolis acceptance rate by model.",
		}, []string{"model"}),
		SamplerMaxRhat: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampler_max_rhat",
			Help:      "Largest split R-hat over global parameters by model.",
		}, []string{"model"}),
		SummariesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_published_total",
			Help:      "Season summaries written to Kafka.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while an analysis run is in progress.",
		}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run completed, 0 if it failed.",
		}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TracksLoaded,
		m.TracksSkipped,
		m.TracksFiltered,
		m.YearsAnalyzed,
		m.StageDuration,
		m.FitDuration,
		m.FitFailures,
		m.SamplerAcceptance,
		m.SamplerMaxRhat,
		m.SummariesPublished,
		m.PipelineRunning,
		m.LastRunSuccess,
	}
}

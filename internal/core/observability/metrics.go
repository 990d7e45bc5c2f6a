package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	featurePagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_pages_total",
			Help: "Feature service pages fetched, by layer.",
		},
		[]string{"layer"},
	)

	featuresFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "features_fetched_total",
			Help: "Features received from the feature service, by layer.",
		},
		[]string{"layer"},
	)

	featuresSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_features_skipped_total",
			Help: "Line features skipped because their geometry could not be measured.",
		},
		[]string{"layer"},
	)

	analyticsPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_passes_total",
			Help: "Analytics passes by outcome (ok, error, stale).",
		},
		[]string{"outcome"},
	)

	analyticsPassDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analytics_pass_duration_seconds",
			Help:    "Duration of a full analytics pass in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	debounceTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debounce_triggers_total",
			Help: "Recompute triggers received by the scheduler, by reason.",
		},
		[]string{"reason"},
	)

	debounceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debounce_runs_total",
			Help: "Analytics runs started by the scheduler, by mode (debounced, immediate).",
		},
		[]string{"mode"},
	)

	publishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_errors_total",
			Help: "Failed result publications, by sink.",
		},
		[]string{"sink"},
	)

	dataChangeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datachange_events_total",
			Help: "Data-change events processed, by outcome (triggered, ignored, invalid).",
		},
		[]string{"outcome"},
	)

	kafkaConsumerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors, by kind.",
		},
		[]string{"kind"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

// Collectors returns the application collectors so a dedicated registry can expose them too.
// Build info is left out; the dedicated registry carries its own.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		featurePagesTotal,
		featuresFetchedTotal,
		featuresSkippedTotal,
		analyticsPassesTotal,
		analyticsPassDurationSeconds,
		debounceTriggersTotal,
		debounceRunsTotal,
		publishErrorsTotal,
		dataChangeEventsTotal,
		kafkaConsumerErrorsTotal,
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ObservePage(layer string, features int) {
	featurePagesTotal.WithLabelValues(layer).Inc()
	featuresFetchedTotal.WithLabelValues(layer).Add(float64(features))
}

func AddFeaturesSkipped(layer string, n int) {
	if n <= 0 {
		return
	}
	featuresSkippedTotal.WithLabelValues(layer).Add(float64(n))
}

func ObservePass(outcome string, durationSeconds float64) {
	analyticsPassesTotal.WithLabelValues(outcome).Inc()
	analyticsPassDurationSeconds.Observe(durationSeconds)
}

func IncTrigger(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	debounceTriggersTotal.WithLabelValues(reason).Inc()
}

func IncRun(mode string) {
	debounceRunsTotal.WithLabelValues(mode).Inc()
}

func IncPublishError(sink string) {
	publishErrorsTotal.WithLabelValues(sink).Inc()
}

func IncDataChange(outcome string) {
	dataChangeEventsTotal.WithLabelValues(outcome).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrorsTotal.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

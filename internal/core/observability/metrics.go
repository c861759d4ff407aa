// Package observability holds the gateway's Prometheus series and the small
// helpers handlers call to record them.
package observability

import (
	"errors"
	"strconv"
	"time"

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

	upstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Upstream calls that failed or returned a non-2xx status.",
		},
		[]string{"upstream"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Feature info cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of redis cache operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"op", "result"},
	)

	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfst_transactions_total",
			Help: "WFS-T transaction documents by version and outcome.",
		},
		[]string{"version", "outcome"},
	)

	featureInfoDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "featureinfo_decoded_total",
			Help: "GetFeatureInfo responses decoded, by detected format.",
		},
		[]string{"format"},
	)

	featureInfoFeatures = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "featureinfo_features",
			Help:    "Features per decoded GetFeatureInfo response.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	tileAddresses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wms_addresses_total",
			Help: "WMS request addresses computed, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	changeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_events_total",
			Help: "Feature change events by publish outcome.",
		},
		[]string{"outcome"},
	)

	invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Cache invalidations driven by consumed change events.",
		},
		[]string{"outcome"},
	)

	invalidationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cache_invalidation_duration_seconds",
			Help:    "Time to apply one consumed change event.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)
)

// Collectors lists the series Init exposes. Build info stays on the default
// registry; a metrics.Provider carries its own.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		upstreamLatencySeconds, upstreamErrorsTotal,
		cacheResults, cacheOpSeconds,
		transactionsTotal,
		featureInfoDecoded, featureInfoFeatures,
		tileAddresses,
		changeEvents,
		invalidations, invalidationSeconds,
	}
}

// Init additionally exposes the series on reg. The default registry always
// carries them.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
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

func IncUpstreamError(upstream string) {
	upstreamErrorsTotal.WithLabelValues(upstream).Inc()
}

// IncCacheResult counts one lookup; tier is "l1" or "l2", outcome "hit",
// "miss" or "error".
func IncCacheResult(tier, outcome string) {
	cacheResults.WithLabelValues(tier, outcome).Inc()
}

func ObserveCacheOp(op string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpSeconds.WithLabelValues(op, result).Observe(d.Seconds())
}

func IncTransaction(version, outcome string) {
	transactionsTotal.WithLabelValues(version, outcome).Inc()
}

func ObserveFeatureInfo(format string, features int) {
	featureInfoDecoded.WithLabelValues(format).Inc()
	featureInfoFeatures.Observe(float64(features))
}

// IncAddress counts one computed WMS address; kind is "getmap" or
// "featureinfo".
func IncAddress(kind, outcome string) {
	tileAddresses.WithLabelValues(kind, outcome).Inc()
}

func IncChangeEvent(outcome string) {
	changeEvents.WithLabelValues(outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

// ObserveInvalidation records one consumed change event; outcome is "ok",
// "decode" or "cache".
func ObserveInvalidation(outcome string, d time.Duration) {
	invalidations.WithLabelValues(outcome).Inc()
	invalidationSeconds.Observe(d.Seconds())
}

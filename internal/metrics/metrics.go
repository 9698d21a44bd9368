package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels provider-backed analysis runs.
	OutcomeSuccess = "success"
	// OutcomeDegraded labels analyses served by the local rule engine.
	OutcomeDegraded = "degraded"
	// OutcomeError labels analyses that returned an error to the caller.
	OutcomeError = "error"

	// LayerIngress labels per-client request limiting.
	LayerIngress = "ingress"
	// LayerEgress labels the global provider budget.
	LayerEgress = "egress"
)

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Name:      "predictions_total",
			Help:      "Total predictions served, partitioned by sentiment.",
		},
		[]string{"sentiment"},
	)

	predictionLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentry",
			Name:      "prediction_latency_seconds",
			Help:      "Model inference latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Name:      "rate_limited_total",
			Help:      "Requests denied by a rate limiter, partitioned by layer.",
		},
		[]string{"layer"},
	)

	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Name:      "cache_requests_total",
			Help:      "Report cache lookups, partitioned by result (hit, miss, bypass).",
		},
		[]string{"result"},
	)

	analysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Name:      "analysis_total",
			Help:      "Performance analyses handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentry",
			Name:      "analysis_seconds",
			Help:      "End-to-end analysis latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	providerRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentry",
			Name:      "provider_retries_total",
			Help:      "Retry attempts issued against the analysis provider.",
		},
	)
)

// Register attaches sentry-gate collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		predictionsTotal,
		predictionLatencySeconds,
		rateLimitedTotal,
		cacheRequestsTotal,
		analysisTotal,
		analysisSeconds,
		providerRetriesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePrediction records one served prediction.
func ObservePrediction(sentiment string, latency time.Duration) {
	predictionsTotal.WithLabelValues(sentiment).Inc()
	if latency < 0 {
		latency = 0
	}
	predictionLatencySeconds.Observe(latency.Seconds())
}

// IncRateLimited counts a denied request on the given layer.
func IncRateLimited(layer string) {
	rateLimitedTotal.WithLabelValues(layer).Inc()
}

// IncCacheRequest counts one report cache lookup by result.
func IncCacheRequest(result string) {
	cacheRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveAnalysis records an analysis duration and outcome label.
func ObserveAnalysis(duration time.Duration, outcome string) {
	analysisTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisSeconds.Observe(duration.Seconds())
}

// IncProviderRetries counts retry attempts against the provider.
func IncProviderRetries(n int) {
	if n <= 0 {
		return
	}
	providerRetriesTotal.Add(float64(n))
}

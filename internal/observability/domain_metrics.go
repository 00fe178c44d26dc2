package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	nlQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotquery_nl_queries_total",
			Help: "Total number of natural-language queries by SQL source and outcome.",
		},
		[]string{"source", "outcome"},
	)
	nlQueryLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iotquery_nl_query_latency_ms",
			Help:    "End-to-end natural-language query latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)
	generatorAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotquery_generator_attempts_total",
			Help: "Total number of external SQL generator calls by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	generatorFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iotquery_generator_fallbacks_total",
			Help: "Total number of queries that fell back to rule-based synthesis.",
		},
	)
	knowledgeRecordFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iotquery_knowledge_record_failures_total",
			Help: "Total number of query outcomes that could not be recorded in the knowledge store.",
		},
	)
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotquery_auth_failures_total",
			Help: "Total number of rejected API requests by reason.",
		},
		[]string{"reason"},
	)
	generatorHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iotquery_generator_healthy",
			Help: "Result of the last health check per SQL generator (1 healthy, 0 unhealthy).",
		},
		[]string{"provider"},
	)
	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iotquery_rate_limited_total",
			Help: "Total number of questions rejected by the per-caller rate limit.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		nlQueriesTotal,
		nlQueryLatencyMs,
		generatorAttemptsTotal,
		generatorFallbacksTotal,
		knowledgeRecordFailuresTotal,
		authFailuresTotal,
		generatorHealthy,
		rateLimitedTotal,
	)
}

func ObserveNLQuery(source string, success bool, elapsed time.Duration) {
	if source == "" {
		source = "none"
	}
	nlQueriesTotal.WithLabelValues(source, outcome(success)).Inc()
	nlQueryLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func SetGeneratorHealth(provider string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	generatorHealthy.WithLabelValues(provider).Set(value)
}

func ObserveGeneratorAttempt(provider string, success bool) {
	generatorAttemptsTotal.WithLabelValues(provider, outcome(success)).Inc()
}

func IncrementGeneratorFallback() {
	generatorFallbacksTotal.Inc()
}

func IncrementKnowledgeRecordFailure() {
	knowledgeRecordFailuresTotal.Inc()
}

// IncrementAuthFailure counts a rejected request; reason is "missing_key",
// "invalid_key" or "forbidden".
func IncrementAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}

func IncrementRateLimited() {
	rateLimitedTotal.Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

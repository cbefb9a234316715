package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_requests_total",
			Help: "Total number of generation requests processed",
		},
		[]string{"provider", "model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrouter_request_duration_seconds",
			Help:    "Generation request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_attempts_total",
			Help: "Total number of provider call attempts, including retries",
		},
		[]string{"provider", "outcome"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_retries_total",
			Help: "Total number of retried provider attempts",
		},
		[]string{"provider"},
	)

	FallbackDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrouter_fallback_depth",
			Help:    "Number of providers attempted before a request resolved",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		},
		[]string{"status"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"provider", "model", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_cost_usd_total",
			Help: "Total provider cost in USD",
		},
		[]string{"provider", "model"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modelrouter_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modelrouter_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelrouter_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	CircuitBreakerSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_circuit_breaker_skips_total",
			Help: "Requests skipped because a provider's breaker was open",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_provider_errors_total",
			Help: "Total number of provider errors by classification",
		},
		[]string{"provider", "kind"},
	)

	OutboundRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrouter_outbound_rate_limit_hits_total",
			Help: "Dispatches deferred by the per-provider outbound rate limiter",
		},
		[]string{"provider"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrouter_active_streams",
			Help: "Number of active streaming responses",
		},
	)
)

func RecordRequest(provider, model, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(provider, model, status).Inc()
	RequestDuration.WithLabelValues(provider, model).Observe(durationSec)
}

func RecordAttempt(provider, outcome string) {
	AttemptsTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordRetry(provider string) {
	RetriesTotal.WithLabelValues(provider).Inc()
}

func RecordFallbackDepth(status string, providers int) {
	FallbackDepth.WithLabelValues(status).Observe(float64(providers))
}

func RecordTokens(provider, model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

func RecordCost(provider, model string, costUSD float64) {
	CostTotal.WithLabelValues(provider, model).Add(costUSD)
}

func RecordProviderError(provider, kind string) {
	ProviderErrors.WithLabelValues(provider, kind).Inc()
}

func RecordBreakerSkip(provider string) {
	CircuitBreakerSkips.WithLabelValues(provider).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

func RecordOutboundRateLimitHit(provider string) {
	OutboundRateLimitHits.WithLabelValues(provider).Inc()
}

func StreamStarted() {
	ActiveStreams.Inc()
}

func StreamFinished() {
	ActiveStreams.Dec()
}

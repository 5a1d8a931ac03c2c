package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the analysis core.
type Metrics struct {
	CacheLookupTotal     *prometheus.CounterVec
	ContextBuildMs       prometheus.Histogram
	ProviderAttemptTotal *prometheus.CounterVec
	FallbackSuccessTotal *prometheus.CounterVec
	TokensTotal          *prometheus.CounterVec
	CostUSDTotal         *prometheus.CounterVec
	RateLimitHitTotal    *prometheus.CounterVec
	WorkflowUnitTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		CacheLookupTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdesk_context_cache_lookup_total",
			Help: "Context cache lookups by outcome (hit, miss, refresh).",
		}, []string{"outcome"}),

		ContextBuildMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartdesk_context_build_ms",
			Help:    "Enriched context build duration in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}),

		ProviderAttemptTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdesk_provider_attempt_total",
			Help: "Completion attempts per provider by outcome.",
		}, []string{"provider", "outcome"}),

		FallbackSuccessTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdesk_fallback_success_total",
			Help: "Completions that succeeded on a fallback provider.",
		}, []string{"provider"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdesk_tokens_total",
			Help: "Total tokens processed.",
		}, []string{"provider", "model", "direction"}),

		CostUSDTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdesk_cost_usd_total",
			Help: "Estimated total cost in USD.",
		}, []string{"provider", "model"}),

		RateLimitHitTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdesk_rate_limit_hit_total",
			Help: "Rate limit denials by dimension.",
		}, []string{"dimension", "subject"}),

		WorkflowUnitTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chartdesk_workflow_unit_total",
			Help: "Workflow units processed by step and outcome.",
		}, []string{"step", "outcome"}),
	}
}

// RecordCacheLookup records one cache lookup outcome.
func (m *Metrics) RecordCacheLookup(outcome string) {
	m.CacheLookupTotal.WithLabelValues(outcome).Inc()
}

// ObserveContextBuild records one context build duration.
func (m *Metrics) ObserveContextBuild(ms float64) {
	m.ContextBuildMs.Observe(ms)
}

// RecordAttempt records one provider attempt outcome.
func (m *Metrics) RecordAttempt(provider, outcome string) {
	m.ProviderAttemptTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordFallbackSuccess records a completion served by a fallback provider.
func (m *Metrics) RecordFallbackSuccess(provider string) {
	m.FallbackSuccessTotal.WithLabelValues(provider).Inc()
}

// RecordCompletion records tokens and cost for a successful completion.
func (m *Metrics) RecordCompletion(provider, model string, inputTokens, outputTokens int, costUSD float64) {
	if inputTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
	if costUSD > 0 {
		m.CostUSDTotal.WithLabelValues(provider, model).Add(costUSD)
	}
}

// RecordRateLimitHit records a rate limit denial.
func (m *Metrics) RecordRateLimitHit(dimension, subject string) {
	m.RateLimitHitTotal.WithLabelValues(dimension, subject).Inc()
}

// RecordWorkflowUnit records one workflow unit outcome.
func (m *Metrics) RecordWorkflowUnit(step, outcome string) {
	m.WorkflowUnitTotal.WithLabelValues(step, outcome).Inc()
}

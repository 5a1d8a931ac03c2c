package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chartdesk/analysis-core/internal/config"
	"github.com/chartdesk/analysis-core/internal/provider"
	"github.com/chartdesk/analysis-core/internal/telemetry"
	"github.com/chartdesk/analysis-core/internal/types"
)

// ErrAllProvidersExhausted is returned when every candidate in the fallback
// chain has failed.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// ErrUnknownProvider is returned when the requested provider id is not
// registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool
	Reason  string
}

// RateLimiter gates completion attempts per provider. A denial is retryable:
// the chain moves on to the next candidate.
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, subject string, cost int) (Decision, error)
}

// UsageRecorder receives token and cost accounting for successful
// completions. Calls are fire-and-forget from the orchestrator's perspective.
type UsageRecorder interface {
	Record(ctx context.Context, subject, model string, inputTokens, outputTokens int, costUSD float64)
}

// Orchestrator dispatches completion requests across registered providers with
// bounded retry and fallback.
type Orchestrator struct {
	registry *provider.Registry
	limiter  RateLimiter
	usage    UsageRecorder
	health   *HealthTracker
	metrics  *telemetry.Metrics

	maxRetries     int
	retryDelay     time.Duration
	requestTimeout time.Duration
	fallbackOrder  []string
}

// New creates an orchestrator. limiter, usage and metrics may be nil.
func New(registry *provider.Registry, cfg config.OrchestratorConfig, limiter RateLimiter, usage UsageRecorder, metrics *telemetry.Metrics) *Orchestrator {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 90 * time.Second
	}
	failureThreshold := cfg.CircuitBreaker.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	probeInterval := cfg.CircuitBreaker.RecoveryProbeInterval
	if probeInterval <= 0 {
		probeInterval = 15 * time.Second
	}

	return &Orchestrator{
		registry:       registry,
		limiter:        limiter,
		usage:          usage,
		health:         NewHealthTracker(failureThreshold, probeInterval),
		metrics:        metrics,
		maxRetries:     maxRetries,
		retryDelay:     retryDelay,
		requestTimeout: requestTimeout,
		fallbackOrder:  cfg.FallbackOrder,
	}
}

// Chain returns the attempt sequence for a requested provider: the provider
// itself followed by the configured fallback order (minus the provider),
// truncated to maxRetries distinct candidates.
func (o *Orchestrator) Chain(providerID string) []string {
	chain := make([]string, 0, len(o.fallbackOrder)+1)
	chain = append(chain, providerID)
	for _, id := range o.fallbackOrder {
		if id == providerID {
			continue
		}
		chain = append(chain, id)
	}
	if len(chain) > o.maxRetries {
		chain = chain[:o.maxRetries]
	}
	return chain
}

// GenerateCompletion executes one logical completion request. It tries the
// requested provider first, then the configured fallbacks in order, never in
// parallel: speculative calls to paid backends multiply spend.
func (o *Orchestrator) GenerateCompletion(ctx context.Context, providerID string, req *types.CompletionRequest) (*types.CompletionResult, error) {
	if _, _, ok := o.registry.Get(providerID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	chain := o.Chain(providerID)
	var lastErr error

	for i, id := range chain {
		cfg, client, ok := o.registry.Get(id)
		if !ok {
			lastErr = fmt.Errorf("%w: %s", ErrUnknownProvider, id)
			continue
		}

		if !o.health.IsAvailable(id) {
			lastErr = fmt.Errorf("provider %s: circuit open", id)
			o.recordAttempt(id, "circuit_open")
			continue
		}

		if o.limiter != nil {
			decision, err := o.limiter.CheckAndConsume(ctx, id, estimateCost(req))
			if err == nil && !decision.Allowed {
				slog.Warn("provider rate limited",
					"request_id", req.RequestID,
					"provider", id,
					"reason", decision.Reason,
				)
				if o.metrics != nil {
					o.metrics.RecordRateLimitHit("rpm", id)
				}
				lastErr = fmt.Errorf("provider %s: rate limited: %s", id, decision.Reason)
				o.recordAttempt(id, "rate_limited")
				if i < len(chain)-1 {
					if err := o.backoff(ctx, i); err != nil {
						return nil, err
					}
				}
				continue
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.requestTimeout)
		result, err := client.Complete(callCtx, cfg.Model, req)
		cancel()

		if err == nil {
			o.health.RecordSuccess(id)
			o.recordAttempt(id, "success")
			result.Provider = id
			result.CostUSD = completionCost(cfg, result.Usage)

			if i > 0 {
				slog.Info("fallback provider succeeded",
					"request_id", req.RequestID,
					"provider", id,
					"requested", providerID,
					"attempt", i+1,
				)
				if o.metrics != nil {
					o.metrics.RecordFallbackSuccess(id)
				}
			}
			if o.metrics != nil {
				o.metrics.RecordCompletion(id, cfg.Model, result.Usage.InputTokens, result.Usage.OutputTokens, result.CostUSD)
			}
			o.reportUsage(id, cfg.Model, result)
			return result, nil
		}

		o.health.RecordFailure(id)

		var perr *provider.Error
		if errors.As(err, &perr) && perr.Fatal() {
			o.recordAttempt(id, "fatal")
			slog.Error("provider failed with non-retryable error",
				"request_id", req.RequestID,
				"provider", id,
				"error", err,
			)
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}

		o.recordAttempt(id, "error")
		slog.Warn("provider attempt failed",
			"request_id", req.RequestID,
			"provider", id,
			"attempt", i+1,
			"error", err,
		)
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i < len(chain)-1 {
			if err := o.backoff(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrAllProvidersExhausted, lastErr)
}

// backoff waits retryDelay × (attempt+1) — linear, not exponential — or until
// the context is canceled.
func (o *Orchestrator) backoff(ctx context.Context, attempt int) error {
	delay := o.retryDelay * time.Duration(attempt+1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reportUsage hands accounting to the usage recorder without blocking the
// caller.
func (o *Orchestrator) reportUsage(id, model string, result *types.CompletionResult) {
	if o.usage == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o.usage.Record(ctx, id, model, result.Usage.InputTokens, result.Usage.OutputTokens, result.CostUSD)
	}()
}

func (o *Orchestrator) recordAttempt(id, outcome string) {
	if o.metrics != nil {
		o.metrics.RecordAttempt(id, outcome)
	}
}

func completionCost(cfg config.ProviderConfig, usage types.Usage) float64 {
	return float64(usage.InputTokens)*cfg.Pricing.InputPerToken +
		float64(usage.OutputTokens)*cfg.Pricing.OutputPerToken
}

// estimateCost is the rate-limit cost of one attempt. Token-level estimation
// happens upstream; here a request counts as one unit plus any estimate the
// caller attached.
func estimateCost(req *types.CompletionRequest) int {
	if req.EstimatedTokens > 0 {
		return req.EstimatedTokens
	}
	return 1
}

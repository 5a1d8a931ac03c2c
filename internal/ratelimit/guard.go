package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/chartdesk/analysis-core/internal/config"
	"github.com/chartdesk/analysis-core/internal/orchestrator"
)

// Guard enforces per-provider request and token budgets in front of the
// completion orchestrator. Limits come from the provider config and are
// swapped wholesale on config reload.
type Guard struct {
	limiter *Limiter

	mu     sync.RWMutex
	limits map[string]config.RateLimitConfig
}

// NewGuard wraps a limiter. Providers without configured limits pass freely.
func NewGuard(limiter *Limiter) *Guard {
	return &Guard{
		limiter: limiter,
		limits:  make(map[string]config.RateLimitConfig),
	}
}

// SetLimits replaces the per-provider limit table. Called at startup and from
// the config reload hook.
func (g *Guard) SetLimits(providers map[string]config.ProviderConfig) {
	limits := make(map[string]config.RateLimitConfig, len(providers))
	for id, p := range providers {
		limits[id] = p.RateLimit
	}
	g.mu.Lock()
	g.limits = limits
	g.mu.Unlock()
}

// CheckAndConsume admits or rejects one completion attempt against the
// provider's request and token budgets. estimatedTokens may be zero when the
// caller has no estimate; the token budget is then not consulted.
func (g *Guard) CheckAndConsume(ctx context.Context, providerID string, estimatedTokens int) (orchestrator.Decision, error) {
	g.mu.RLock()
	limit, ok := g.limits[providerID]
	g.mu.RUnlock()
	if !ok {
		return orchestrator.Decision{Allowed: true}, nil
	}

	if limit.RequestsPerMinute > 0 {
		res, err := g.limiter.Check(ctx, "provider:"+providerID, limit.RequestsPerMinute, time.Minute)
		if err != nil {
			return orchestrator.Decision{Allowed: true}, nil
		}
		if !res.Allowed {
			return orchestrator.Decision{Allowed: false, Reason: "requests per minute exceeded"}, nil
		}
	}

	if limit.TokensPerMinute > 0 && estimatedTokens > 0 {
		res, err := g.limiter.ConsumeTokens(ctx, "provider:"+providerID, int64(estimatedTokens), limit.TokensPerMinute)
		if err != nil {
			return orchestrator.Decision{Allowed: true}, nil
		}
		if !res.Allowed {
			return orchestrator.Decision{Allowed: false, Reason: "tokens per minute exceeded"}, nil
		}
	}

	return orchestrator.Decision{Allowed: true}, nil
}

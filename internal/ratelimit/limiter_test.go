package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/chartdesk/analysis-core/internal/config"
)

func TestLimiter_NilRedis_FailOpen(t *testing.T) {
	l := NewLimiter(nil)
	result, err := l.Check(context.Background(), "test:key", 60, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("expected allowed when Redis is nil")
	}
	if result.Remaining != 59 {
		t.Errorf("expected remaining=59, got %d", result.Remaining)
	}
}

func TestLimiter_NilRedis_MultipleChecks(t *testing.T) {
	l := NewLimiter(nil)
	// Without Redis, every check passes (fail open)
	for i := 0; i < 100; i++ {
		result, _ := l.Check(context.Background(), "test:key", 10, time.Minute)
		if !result.Allowed {
			t.Fatalf("expected allowed on check %d", i)
		}
	}
}

func TestLimiter_NilRedis_ConsumeTokens(t *testing.T) {
	l := NewLimiter(nil)
	result, err := l.ConsumeTokens(context.Background(), "provider:openai-main", 5000, 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("expected allowed when Redis is nil")
	}
}

func TestGuard_UnknownProviderAllowed(t *testing.T) {
	g := NewGuard(NewLimiter(nil))
	d, err := g.CheckAndConsume(context.Background(), "ghost", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("expected providers without limits to pass")
	}
}

func TestGuard_SetLimitsReplacesTable(t *testing.T) {
	g := NewGuard(NewLimiter(nil))
	g.SetLimits(map[string]config.ProviderConfig{
		"openai-main": {RateLimit: config.RateLimitConfig{RequestsPerMinute: 60}},
	})

	// Nil Redis fails open, so the check passes; the point is that the limit
	// table lookup and check path run without error.
	d, err := g.CheckAndConsume(context.Background(), "openai-main", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("expected allowed with nil Redis")
	}

	g.SetLimits(map[string]config.ProviderConfig{})
	d, _ = g.CheckAndConsume(context.Background(), "openai-main", 100)
	if !d.Allowed {
		t.Error("expected allowed after limits removed")
	}
}

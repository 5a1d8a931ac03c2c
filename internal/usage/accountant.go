// Package usage tracks per-provider spend so operators can see what each AI
// backend costs per day. Recording is best-effort: callers fire it off the
// request path and a Redis outage loses counters, never completions.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshot is one day's accumulated usage for a subject.
type Snapshot struct {
	Requests     int64   `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Accountant accumulates daily usage counters in Redis hashes. If rdb is nil
// every call is a no-op.
type Accountant struct {
	rdb *redis.Client
}

func NewAccountant(rdb *redis.Client) *Accountant {
	return &Accountant{rdb: rdb}
}

func dailyUsageKey(subject string, day time.Time) string {
	return fmt.Sprintf("chartdesk:usage:daily:%s:%s", subject, day.UTC().Format("2006-01-02"))
}

// Record adds one completion's usage to the subject's daily counters.
func (a *Accountant) Record(ctx context.Context, subject, model string, inputTokens, outputTokens int, costUSD float64) {
	if a.rdb == nil {
		return
	}

	key := dailyUsageKey(subject, time.Now())
	pipe := a.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, "requests", 1)
	pipe.HIncrBy(ctx, key, "input_tokens", int64(inputTokens))
	pipe.HIncrBy(ctx, key, "output_tokens", int64(outputTokens))
	pipe.HIncrByFloat(ctx, key, "cost_usd", costUSD)
	if model != "" {
		pipe.HIncrBy(ctx, key, "model:"+model, 1)
	}
	// Keep counters two full days so yesterday stays inspectable.
	pipe.Expire(ctx, key, 48*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("usage recording failed", "subject", subject, "error", err)
	}
}

// Daily returns the subject's counters for the given day. Missing keys come
// back as a zero snapshot.
func (a *Accountant) Daily(ctx context.Context, subject string, day time.Time) (Snapshot, error) {
	if a.rdb == nil {
		return Snapshot{}, nil
	}

	fields, err := a.rdb.HGetAll(ctx, dailyUsageKey(subject, day)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read usage counters: %w", err)
	}

	var snap Snapshot
	snap.Requests, _ = strconv.ParseInt(fields["requests"], 10, 64)
	snap.InputTokens, _ = strconv.ParseInt(fields["input_tokens"], 10, 64)
	snap.OutputTokens, _ = strconv.ParseInt(fields["output_tokens"], 10, 64)
	snap.CostUSD, _ = strconv.ParseFloat(fields["cost_usd"], 64)
	return snap, nil
}

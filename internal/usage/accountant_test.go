package usage

import (
	"context"
	"testing"
	"time"
)

func TestAccountant_NilRedis_RecordNoOp(t *testing.T) {
	a := NewAccountant(nil)
	// Must not panic or block without Redis.
	a.Record(context.Background(), "openai-main", "gpt-4o", 100, 50, 0.015)
}

func TestAccountant_NilRedis_DailyZero(t *testing.T) {
	a := NewAccountant(nil)
	snap, err := a.Daily(context.Background(), "openai-main", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Requests != 0 || snap.CostUSD != 0 {
		t.Errorf("expected zero snapshot, got %+v", snap)
	}
}

func TestDailyUsageKey_DatePartition(t *testing.T) {
	day := time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC)
	key := dailyUsageKey("openai-main", day)
	want := "chartdesk:usage:daily:openai-main:2026-03-14"
	if key != want {
		t.Errorf("expected %s, got %s", want, key)
	}
}

package contextcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chartdesk/analysis-core/internal/config"
	"github.com/chartdesk/analysis-core/internal/types"
)

// fakeBuilder implements Builder for testing.
type fakeBuilder struct {
	mu         sync.Mutex
	builds     int
	partBuilds int
	buildErr   error
	partErr    error
	sources    int
	confidence float64
}

func (f *fakeBuilder) Build(_ context.Context, sessionID string, _ BuildOptions) (*types.EnrichedContext, error) {
	f.mu.Lock()
	f.builds++
	f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}

	ec := &types.EnrichedContext{SessionID: sessionID}
	for i := 0; i < f.sources; i++ {
		part := []types.ContextPart{types.PartProjectStructure, types.PartMarketInsights, types.PartTechAnalysis}[i%3]
		ec.SetSection(part, &types.ContextSection{
			Summary:    fmt.Sprintf("summary %d", i),
			Confidence: f.confidence,
			Source:     "test",
		})
	}
	return ec, nil
}

func (f *fakeBuilder) BuildPart(_ context.Context, _ string, part types.ContextPart, _ BuildOptions) (*types.ContextSection, error) {
	f.mu.Lock()
	f.partBuilds++
	f.mu.Unlock()
	if f.partErr != nil {
		return nil, f.partErr
	}
	return &types.ContextSection{Summary: "rebuilt " + string(part), Confidence: 0.9, Source: "test"}, nil
}

func (f *fakeBuilder) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		Capacity:      100,
		BaseTTL:       30 * time.Minute,
		MinTTL:        5 * time.Minute,
		SweepInterval: time.Hour,
	}
}

func TestComputeTTL(t *testing.T) {
	base := 30 * time.Minute
	min := 5 * time.Minute

	cases := []struct {
		name       string
		sources    int
		confidence float64
		want       time.Duration
	}{
		{"rich high confidence", 3, 0.9, time.Duration(float64(base) * 1.5 * 1.3)}, // 58.5m
		{"empty context", 0, 0, 9 * time.Minute},
		{"low confidence", 1, 0.3, 15 * time.Minute},
		{"mid everything", 2, 0.6, 30 * time.Minute},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := computeTTL(types.ContextMetadata{
				DataSourceCount: tc.sources,
				TotalConfidence: tc.confidence,
			}, base, min)
			if got != tc.want {
				t.Errorf("computeTTL(%d sources, %.1f conf) = %v, want %v", tc.sources, tc.confidence, got, tc.want)
			}
		})
	}
}

func TestComputeTTL_Floor(t *testing.T) {
	// base small enough that the empty-context multiplier drops below floor
	got := computeTTL(types.ContextMetadata{DataSourceCount: 0}, 10*time.Minute, 5*time.Minute)
	if got != 5*time.Minute {
		t.Errorf("expected floor 5m, got %v", got)
	}
}

func TestGetOrUpdate_HitServesCachedWithoutRebuild(t *testing.T) {
	builder := &fakeBuilder{sources: 2, confidence: 0.7}
	c := New(builder, testCacheConfig(), nil)
	defer c.Close()

	first, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("expected the same cached context on hit")
	}
	if builder.buildCount() != 1 {
		t.Errorf("expected 1 build, got %d", builder.buildCount())
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
}

func TestGetOrUpdate_ForceRefreshRebuilds(t *testing.T) {
	builder := &fakeBuilder{sources: 2, confidence: 0.7}
	c := New(builder, testCacheConfig(), nil)
	defer c.Close()

	if _, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builder.buildCount() != 2 {
		t.Errorf("expected 2 builds with forceRefresh, got %d", builder.buildCount())
	}
}

func TestGetOrUpdate_BuilderErrorPropagatesUncached(t *testing.T) {
	boom := errors.New("upstream unavailable")
	builder := &fakeBuilder{buildErr: boom}
	c := New(builder, testCacheConfig(), nil)
	defer c.Close()

	_, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false)
	if !errors.Is(err, boom) {
		t.Fatalf("expected builder error, got %v", err)
	}
	if c.Stats().Entries != 0 {
		t.Error("failed build must not leave an entry behind")
	}
}

func TestGetOrUpdate_ExpiredEntryRebuilds(t *testing.T) {
	builder := &fakeBuilder{sources: 0}
	cfg := testCacheConfig()
	cfg.BaseTTL = 10 * time.Millisecond
	cfg.MinTTL = time.Millisecond
	c := New(builder, cfg, nil)
	defer c.Close()

	if _, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builder.buildCount() != 2 {
		t.Errorf("expected rebuild after expiry, got %d builds", builder.buildCount())
	}
}

func TestInsert_EvictsOldestAtCapacity(t *testing.T) {
	builder := &fakeBuilder{sources: 1, confidence: 0.5}
	cfg := testCacheConfig()
	cfg.Capacity = 3
	c := New(builder, cfg, nil)
	defer c.Close()

	for i := 0; i < 4; i++ {
		sessionID := fmt.Sprintf("s%d", i)
		if _, err := c.GetOrUpdate(context.Background(), sessionID, BuildOptions{}, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Distinct createdAt per entry so eviction order is deterministic.
		time.Sleep(2 * time.Millisecond)
	}

	if got := c.Stats().Entries; got != 3 {
		t.Fatalf("expected 3 entries after eviction, got %d", got)
	}

	// s0 was oldest, so a lookup for it must miss and rebuild.
	before := builder.buildCount()
	if _, err := c.GetOrUpdate(context.Background(), "s0", BuildOptions{}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builder.buildCount() != before+1 {
		t.Error("expected s0 to have been evicted as the oldest entry")
	}
}

func TestSweep_RemovesExpired(t *testing.T) {
	builder := &fakeBuilder{sources: 0}
	cfg := testCacheConfig()
	cfg.BaseTTL = 10 * time.Millisecond
	cfg.MinTTL = time.Millisecond
	c := New(builder, cfg, nil)
	defer c.Close()

	if _, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	c.sweep()
	if got := c.Stats().Entries; got != 0 {
		t.Errorf("expected sweep to remove expired entry, got %d entries", got)
	}
}

func TestInvalidatePart_MergesSection(t *testing.T) {
	builder := &fakeBuilder{sources: 1, confidence: 0.5}
	c := New(builder, testCacheConfig(), nil)
	defer c.Close()

	if _, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.InvalidatePart(context.Background(), "s1", types.PartMarketInsights, BuildOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ec, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builder.buildCount() != 1 {
		t.Errorf("partial invalidation must not trigger a full rebuild, got %d builds", builder.buildCount())
	}
	section := ec.Section(types.PartMarketInsights)
	if section == nil || section.Summary != "rebuilt marketInsights" {
		t.Errorf("expected merged section, got %+v", section)
	}
	if ec.Metadata.DataSourceCount != 2 {
		t.Errorf("expected metadata recomputed to 2 sources, got %d", ec.Metadata.DataSourceCount)
	}
}

func TestInvalidatePart_HandedOutContextStaysConsistent(t *testing.T) {
	builder := &fakeBuilder{sources: 1, confidence: 0.5}
	c := New(builder, testCacheConfig(), nil)
	defer c.Close()

	ec, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Readers hold on to the returned context while partial invalidations
	// rewrite the cached one. The reader's copy must never change under it.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if ec.Section(types.PartMarketInsights) != nil {
				t.Error("handed-out context gained a section it was built without")
				return
			}
			if ec.Metadata.DataSourceCount != 1 {
				t.Errorf("handed-out metadata changed: %d sources", ec.Metadata.DataSourceCount)
				return
			}
		}
	}()

	for i := 0; i < 20; i++ {
		if err := c.InvalidatePart(context.Background(), "s1", types.PartMarketInsights, BuildOptions{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	fresh, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh == ec {
		t.Error("expected a new context value after partial invalidation")
	}
	if fresh.Section(types.PartMarketInsights) == nil {
		t.Error("expected the fresh lookup to carry the rebuilt section")
	}
}

func TestInvalidatePart_FailureDropsEntry(t *testing.T) {
	builder := &fakeBuilder{sources: 1, confidence: 0.5}
	c := New(builder, testCacheConfig(), nil)
	defer c.Close()

	if _, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	builder.partErr = errors.New("source unreachable")
	err := c.InvalidatePart(context.Background(), "s1", types.PartTechAnalysis, BuildOptions{})
	if err == nil {
		t.Fatal("expected error from failed partial rebuild")
	}
	if c.Stats().Entries != 0 {
		t.Error("failed partial rebuild must drop the whole entry")
	}
}

func TestInvalidatePart_UnknownPart(t *testing.T) {
	c := New(&fakeBuilder{}, testCacheConfig(), nil)
	defer c.Close()

	if err := c.InvalidatePart(context.Background(), "s1", "budget", BuildOptions{}); err == nil {
		t.Fatal("expected error for unknown part")
	}
}

func TestInvalidatePart_NotCached(t *testing.T) {
	c := New(&fakeBuilder{}, testCacheConfig(), nil)
	defer c.Close()

	if err := c.InvalidatePart(context.Background(), "ghost", types.PartTechAnalysis, BuildOptions{}); !errors.Is(err, ErrNotCached) {
		t.Fatalf("expected ErrNotCached, got %v", err)
	}
}

func TestClearAndInvalidate(t *testing.T) {
	builder := &fakeBuilder{sources: 1, confidence: 0.5}
	c := New(builder, testCacheConfig(), nil)
	defer c.Close()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := c.GetOrUpdate(context.Background(), id, BuildOptions{}, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	c.Invalidate("a")
	if got := c.Stats().Entries; got != 2 {
		t.Errorf("expected 2 entries after Invalidate, got %d", got)
	}

	c.Clear()
	if got := c.Stats().Entries; got != 0 {
		t.Errorf("expected 0 entries after Clear, got %d", got)
	}
}

func TestStats_Averages(t *testing.T) {
	builder := &fakeBuilder{sources: 2, confidence: 0.7}
	c := New(builder, testCacheConfig(), nil)
	defer c.Close()

	if _, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.GetOrUpdate(context.Background(), "s1", BuildOptions{}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := c.Stats()
	if stats.HitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %v", stats.HitRate)
	}
	if stats.MemoryBytes == 0 {
		t.Error("expected non-zero memory estimate")
	}
	if stats.OldestCreatedAt.IsZero() || stats.NewestCreatedAt.IsZero() {
		t.Error("expected timestamps in stats")
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := New(&fakeBuilder{}, testCacheConfig(), nil)
	c.Close()
	c.Close()
}

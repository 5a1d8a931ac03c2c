package contextcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chartdesk/analysis-core/internal/config"
	"github.com/chartdesk/analysis-core/internal/telemetry"
	"github.com/chartdesk/analysis-core/internal/types"
)

// ErrNotCached is returned by InvalidatePart when the session has no cached
// entry to patch.
var ErrNotCached = errors.New("session not cached")

// entry wraps one cached context. Owned exclusively by the cache; never
// exposed outside it.
type entry struct {
	context        *types.EnrichedContext
	createdAt      time.Time
	lastAccessedAt time.Time
	ttl            time.Duration
	accessCount    int64
	sizeBytes      int
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Cache is an in-process, time-aware cache of enriched context records keyed
// by analysis session. Safe for concurrent use; the mutex protects only map
// mutation — it is never held across a builder call, so concurrent misses for
// the same key may both invoke the builder (wasteful but safe).
type Cache struct {
	builder Builder
	metrics *telemetry.Metrics

	capacity      int
	baseTTL       time.Duration
	minTTL        time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	hits         uint64
	misses       uint64
	buildCount   int64
	buildTotalMs int64

	stop chan struct{}
	done chan struct{}
}

// New creates a cache and starts its background sweep. Callers own the
// lifecycle and must Close it. metrics may be nil.
func New(builder Builder, cfg config.CacheConfig, metrics *telemetry.Metrics) *Cache {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 100
	}
	baseTTL := cfg.BaseTTL
	if baseTTL <= 0 {
		baseTTL = 30 * time.Minute
	}
	minTTL := cfg.MinTTL
	if minTTL <= 0 {
		minTTL = 5 * time.Minute
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}

	c := &Cache{
		builder:       builder,
		metrics:       metrics,
		capacity:      capacity,
		baseTTL:       baseTTL,
		minTTL:        minTTL,
		sweepInterval: sweepInterval,
		entries:       make(map[string]*entry),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the background sweep. The cache remains usable for lookups
// afterwards but no longer expires entries on its own.
func (c *Cache) Close() {
	select {
	case <-c.stop:
		return
	default:
	}
	close(c.stop)
	<-c.done
}

// GetOrUpdate returns the cached context for a session, building it via the
// Builder on miss, expiry, or forced refresh. Builder errors propagate
// unmodified and nothing is cached on failure.
func (c *Cache) GetOrUpdate(ctx context.Context, sessionID string, opts BuildOptions, forceRefresh bool) (*types.EnrichedContext, error) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[sessionID]; ok && !forceRefresh && !e.expired(now) {
		e.accessCount++
		e.lastAccessedAt = now
		c.hits++
		cached := e.context
		c.mu.Unlock()
		c.recordLookup("hit")
		return cached, nil
	}
	c.misses++
	c.mu.Unlock()

	outcome := "miss"
	if forceRefresh {
		outcome = "refresh"
	}
	c.recordLookup(outcome)

	started := time.Now()
	built, err := c.builder.Build(ctx, sessionID, opts)
	if err != nil {
		return nil, err
	}
	elapsedMs := time.Since(started).Milliseconds()
	built.Metadata.ProcessingTimeMs = elapsedMs

	if c.metrics != nil {
		c.metrics.ObserveContextBuild(float64(elapsedMs))
	}

	c.insert(sessionID, built, elapsedMs)

	slog.Debug("enriched context built",
		"session_id", sessionID,
		"data_sources", built.Metadata.DataSourceCount,
		"confidence", built.Metadata.TotalConfidence,
		"build_ms", elapsedMs,
	)
	return built, nil
}

func (c *Cache) insert(sessionID string, built *types.EnrichedContext, buildMs int64) {
	now := time.Now()
	e := &entry{
		context:        built,
		createdAt:      now,
		lastAccessedAt: now,
		ttl:            computeTTL(built.Metadata, c.baseTTL, c.minTTL),
		accessCount:    1,
		sizeBytes:      approxSize(built),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[sessionID]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[sessionID] = e
	c.buildCount++
	c.buildTotalMs += buildMs
}

// evictOldestLocked removes the entry with the smallest createdAt across the
// whole cache. Entries are homogeneous in rebuild cost, so creation order is
// a sufficient eviction key. Must be called with mu held.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldest) {
			oldestKey = key
			oldest = e.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// InvalidatePart rebuilds exactly one sub-result via the builder and merges
// it into the cached context, avoiding a full rebuild when only one data
// source changed. If the partial rebuild fails the whole entry is dropped:
// never serve a context that might be internally inconsistent.
func (c *Cache) InvalidatePart(ctx context.Context, sessionID string, part types.ContextPart, opts BuildOptions) error {
	if !types.ValidPart(part) {
		return fmt.Errorf("unknown context part %q", part)
	}

	c.mu.Lock()
	_, ok := c.entries[sessionID]
	c.mu.Unlock()
	if !ok {
		return ErrNotCached
	}

	section, err := c.builder.BuildPart(ctx, sessionID, part, opts)
	if err != nil {
		c.Invalidate(sessionID)
		slog.Warn("partial context rebuild failed, entry dropped",
			"session_id", sessionID,
			"part", string(part),
			"error", err,
		)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok {
		// Entry disappeared while rebuilding (sweep or explicit invalidation).
		return ErrNotCached
	}
	// Copy-on-write: GetOrUpdate hands out the cached pointer, so the merged
	// section goes into a fresh context and the entry swaps to it. Callers
	// holding the old pointer keep a consistent snapshot.
	merged := *e.context
	merged.SetSection(part, section)
	e.context = &merged
	e.ttl = computeTTL(merged.Metadata, c.baseTTL, c.minTTL)
	e.createdAt = time.Now()
	e.sizeBytes = approxSize(&merged)
	return nil
}

// Invalidate removes one session unconditionally.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}

// Clear removes all entries unconditionally.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Stats is a read-only snapshot of cache behavior.
type Stats struct {
	Entries         int       `json:"entries"`
	Hits            uint64    `json:"hits"`
	Misses          uint64    `json:"misses"`
	HitRate         float64   `json:"hit_rate"`
	AvgBuildMs      float64   `json:"avg_build_ms"`
	MemoryBytes     int       `json:"memory_bytes"`
	OldestCreatedAt time.Time `json:"oldest_created_at,omitempty"`
	NewestCreatedAt time.Time `json:"newest_created_at,omitempty"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	if c.buildCount > 0 {
		s.AvgBuildMs = float64(c.buildTotalMs) / float64(c.buildCount)
	}
	for _, e := range c.entries {
		s.MemoryBytes += e.sizeBytes
		if s.OldestCreatedAt.IsZero() || e.createdAt.Before(s.OldestCreatedAt) {
			s.OldestCreatedAt = e.createdAt
		}
		if e.createdAt.After(s.NewestCreatedAt) {
			s.NewestCreatedAt = e.createdAt
		}
	}
	return s
}

// sweepLoop periodically removes expired entries so sessions that are never
// revisited do not pin memory. Snapshot-then-delete: expiry decisions are made
// on a snapshot so in-flight lookups are never blocked for the scan.
func (c *Cache) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()

	c.mu.Lock()
	expired := make([]string, 0)
	for key, e := range c.entries {
		if e.expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if len(expired) > 0 {
		slog.Debug("cache sweep removed expired entries", "count", len(expired))
	}
}

func (c *Cache) recordLookup(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(outcome)
	}
}

// approxSize is a serialized-size heuristic for the memory footprint stat.
func approxSize(ec *types.EnrichedContext) int {
	data, err := json.Marshal(ec)
	if err != nil {
		return 0
	}
	return len(data)
}

package contextcache

import (
	"time"

	"github.com/chartdesk/analysis-core/internal/types"
)

// computeTTL derives an entry's lifetime from how the context was assembled.
// Context built from many high-confidence sources is expensive to rebuild and
// unlikely to go stale quickly, so it lives longer; thin or low-confidence
// context is cheap to rebuild and likely wrong, so it expires fast.
func computeTTL(meta types.ContextMetadata, base, min time.Duration) time.Duration {
	ttl := float64(base)

	switch {
	case meta.DataSourceCount >= 3:
		ttl *= 1.5
	case meta.DataSourceCount == 0:
		ttl *= 0.3
	}

	// TotalConfidence is undefined when nothing was assembled; only scale by
	// it when at least one source contributed.
	if meta.DataSourceCount > 0 {
		switch {
		case meta.TotalConfidence > 0.8:
			ttl *= 1.3
		case meta.TotalConfidence < 0.4:
			ttl *= 0.5
		}
	}

	if d := time.Duration(ttl); d > min {
		return d
	}
	return min
}

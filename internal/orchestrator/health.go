package orchestrator

import (
	"context"
	"time"

	"github.com/chartdesk/analysis-core/internal/types"
)

const healthCheckTimeout = 10 * time.Second

// HealthCheck issues a minimal synthetic completion against one provider (or
// all registered providers when providerID is empty) and reports reachability.
// Intended for pre-flighting expensive workflows, not the hot path.
func (o *Orchestrator) HealthCheck(ctx context.Context, providerID string) map[string]bool {
	ids := []string{providerID}
	if providerID == "" {
		ids = o.registry.IDs()
	}

	results := make(map[string]bool, len(ids))
	for _, id := range ids {
		results[id] = o.probe(ctx, id)
	}
	return results
}

func (o *Orchestrator) probe(ctx context.Context, id string) bool {
	cfg, client, ok := o.registry.Get(id)
	if !ok {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	one := 1
	_, err := client.Complete(probeCtx, cfg.Model, &types.CompletionRequest{
		Messages:  []types.Message{{Role: "user", Content: "ping"}},
		MaxTokens: &one,
	})
	return err == nil
}

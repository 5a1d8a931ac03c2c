package contextcache

import (
	"context"

	"github.com/chartdesk/analysis-core/internal/types"
)

// BuildOptions select which data sources the builder consults and how deep it
// digs. Passed through to the builder untouched.
type BuildOptions struct {
	ProjectID       string   `json:"project_id,omitempty"`
	DocumentIDs     []string `json:"document_ids,omitempty"`
	IncludeMarket   bool     `json:"include_market"`
	IncludeTech     bool     `json:"include_tech"`
	MaxDocumentSize int      `json:"max_document_size,omitempty"`
}

// Builder assembles enriched context from the project, document, market and
// tech data sources. Implemented outside this package; the cache only calls
// it on miss or explicit refresh.
type Builder interface {
	Build(ctx context.Context, sessionID string, opts BuildOptions) (*types.EnrichedContext, error)
	BuildPart(ctx context.Context, sessionID string, part types.ContextPart, opts BuildOptions) (*types.ContextSection, error)
}

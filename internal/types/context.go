package types

import "time"

// ContextPart names one independently-sourced sub-result of an enriched
// context.
type ContextPart string

const (
	PartProjectStructure ContextPart = "projectStructure"
	PartMarketInsights   ContextPart = "marketInsights"
	PartTechAnalysis     ContextPart = "techAnalysis"
)

// ValidPart reports whether p names a known context part.
func ValidPart(p ContextPart) bool {
	switch p {
	case PartProjectStructure, PartMarketInsights, PartTechAnalysis:
		return true
	}
	return false
}

// ContextSection is one confidence-scored sub-result assembled from a single
// data source.
type ContextSection struct {
	Summary    string         `json:"summary"`
	Details    map[string]any `json:"details,omitempty"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source,omitempty"`
}

// EnrichedContext is the aggregated, confidence-scored snapshot assembled from
// multiple independent data sources for one analysis session. It is the unit
// cached by the context cache and consumed by the workflow engine.
type EnrichedContext struct {
	SessionID        string          `json:"session_id"`
	ProjectStructure *ContextSection `json:"project_structure,omitempty"`
	MarketInsights   *ContextSection `json:"market_insights,omitempty"`
	TechAnalysis     *ContextSection `json:"tech_analysis,omitempty"`
	Metadata         ContextMetadata `json:"metadata"`
}

type ContextMetadata struct {
	DataSourceCount  int       `json:"data_source_count"`
	TotalConfidence  float64   `json:"total_confidence"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Section returns the named sub-result, or nil when absent.
func (c *EnrichedContext) Section(part ContextPart) *ContextSection {
	switch part {
	case PartProjectStructure:
		return c.ProjectStructure
	case PartMarketInsights:
		return c.MarketInsights
	case PartTechAnalysis:
		return c.TechAnalysis
	}
	return nil
}

// SetSection replaces the named sub-result and recomputes metadata.
func (c *EnrichedContext) SetSection(part ContextPart, s *ContextSection) {
	switch part {
	case PartProjectStructure:
		c.ProjectStructure = s
	case PartMarketInsights:
		c.MarketInsights = s
	case PartTechAnalysis:
		c.TechAnalysis = s
	}
	c.RecomputeMetadata()
}

// RecomputeMetadata re-derives DataSourceCount and TotalConfidence from the
// populated sections. TotalConfidence is zero when no sections are populated.
func (c *EnrichedContext) RecomputeMetadata() {
	count := 0
	sum := 0.0
	for _, s := range []*ContextSection{c.ProjectStructure, c.MarketInsights, c.TechAnalysis} {
		if s == nil {
			continue
		}
		count++
		sum += s.Confidence
	}
	c.Metadata.DataSourceCount = count
	if count > 0 {
		c.Metadata.TotalConfidence = sum / float64(count)
	} else {
		c.Metadata.TotalConfidence = 0
	}
	c.Metadata.LastUpdated = time.Now().UTC()
}

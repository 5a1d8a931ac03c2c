// Package enrich assembles enriched analysis context from the session's prior
// artifacts. Each context part is sourced from the latest record of one
// workflow step, so later steps build on what earlier steps produced.
package enrich

import (
	"context"
	"fmt"

	"github.com/chartdesk/analysis-core/internal/contextcache"
	"github.com/chartdesk/analysis-core/internal/types"
	"github.com/chartdesk/analysis-core/internal/workflow"
)

// partSource maps each context part to the workflow step whose artifact
// feeds it.
var partSource = map[types.ContextPart]workflow.Step{
	types.PartProjectStructure: workflow.StepSetup,
	types.PartTechAnalysis:     workflow.StepAnalysis,
	types.PartMarketInsights:   workflow.StepReport,
}

// RecordBuilder implements contextcache.Builder on top of the analysis record
// store. A session with no prior records yields an empty context, which the
// cache keeps only briefly.
type RecordBuilder struct {
	store workflow.RecordStore
}

func NewRecordBuilder(store workflow.RecordStore) *RecordBuilder {
	return &RecordBuilder{store: store}
}

func (b *RecordBuilder) Build(ctx context.Context, sessionID string, opts contextcache.BuildOptions) (*types.EnrichedContext, error) {
	records, err := b.store.Query(ctx, workflow.RecordFilter{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("load session records: %w", err)
	}

	ec := &types.EnrichedContext{SessionID: sessionID}
	for part, step := range partSource {
		if !partEnabled(part, opts) {
			continue
		}
		if section := sectionFromRecords(records, step); section != nil {
			ec.SetSection(part, section)
		}
	}
	ec.RecomputeMetadata()
	return ec, nil
}

func (b *RecordBuilder) BuildPart(ctx context.Context, sessionID string, part types.ContextPart, opts contextcache.BuildOptions) (*types.ContextSection, error) {
	step, ok := partSource[part]
	if !ok {
		return nil, fmt.Errorf("no source for context part %q", part)
	}

	records, err := b.store.Query(ctx, workflow.RecordFilter{SessionID: sessionID, Step: step, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("load %s records: %w", step, err)
	}
	section := sectionFromRecords(records, step)
	if section == nil {
		return nil, fmt.Errorf("no %s artifact recorded for session %s", step, sessionID)
	}
	return section, nil
}

func partEnabled(part types.ContextPart, opts contextcache.BuildOptions) bool {
	switch part {
	case types.PartMarketInsights:
		return opts.IncludeMarket
	case types.PartTechAnalysis:
		return opts.IncludeTech
	}
	return true
}

// sectionFromRecords converts the newest record of a step into a context
// section. Confidence reflects how cleanly the artifact was produced: the unit
// success ratio, halved when the run degraded.
func sectionFromRecords(records []*workflow.AnalysisRecord, step workflow.Step) *types.ContextSection {
	var latest *workflow.AnalysisRecord
	for _, rec := range records {
		if rec.Step != step {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil
	}

	total := latest.SuccessCount + latest.ErrorCount
	confidence := 0.0
	if total > 0 {
		confidence = float64(latest.SuccessCount) / float64(total)
	}
	if latest.Degraded {
		confidence *= 0.5
	}

	return &types.ContextSection{
		Summary:    fmt.Sprintf("%s artifact from %s (%d/%d units)", step, latest.CreatedAt.Format("2006-01-02 15:04"), latest.SuccessCount, total),
		Details:    latest.Payload,
		Confidence: confidence,
		Source:     "analysis_records",
	}
}

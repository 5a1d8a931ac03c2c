package workflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chartdesk/analysis-core/internal/contextcache"
	"github.com/chartdesk/analysis-core/internal/extract"
	"github.com/chartdesk/analysis-core/internal/telemetry"
	"github.com/chartdesk/analysis-core/internal/types"
)

// ContextProvider is the slice of the context cache the engine needs.
type ContextProvider interface {
	GetOrUpdate(ctx context.Context, sessionID string, opts contextcache.BuildOptions, forceRefresh bool) (*types.EnrichedContext, error)
}

// CompletionClient is the slice of the provider orchestrator the engine needs.
type CompletionClient interface {
	GenerateCompletion(ctx context.Context, providerID string, req *types.CompletionRequest) (*types.CompletionResult, error)
}

// Engine dispatches analysis workflow steps. Each step assembles enriched
// context, runs a phase of generation units against the completion client, and
// persists the aggregate artifact. Failures degrade — a step falls back to a
// context-free variant rather than failing the workflow.
type Engine struct {
	contexts    ContextProvider
	completions CompletionClient
	store       RecordStore
	metrics     *telemetry.Metrics
	providerID  string
}

// NewEngine wires the engine. metrics may be nil.
func NewEngine(contexts ContextProvider, completions CompletionClient, store RecordStore, providerID string, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		contexts:    contexts,
		completions: completions,
		store:       store,
		metrics:     metrics,
		providerID:  providerID,
	}
}

// RunStep executes one workflow step for a session and persists the result.
// The returned record is also the persisted one. onProgress may be nil.
func (e *Engine) RunStep(ctx context.Context, session Session, step Step, onProgress func(PhaseProgress)) (*AnalysisRecord, error) {
	if _, ok := ParseStep(string(step)); !ok {
		return nil, fmt.Errorf("unknown workflow step %q", step)
	}

	degraded := false
	enriched, err := e.contexts.GetOrUpdate(ctx, session.ID, buildOptions(session), false)
	if err != nil {
		slog.Warn("context build failed, running step context-free",
			"session_id", session.ID,
			"step", string(step),
			"error", err,
		)
		degraded = true
		enriched = nil
	}

	units := e.unitsForStep(session, step, enriched)
	progress, err := RunPhasedGeneration(ctx, units, onProgress)
	if err != nil {
		return nil, err
	}

	// Every unit failed: retry once with the simpler context-free variant
	// before accepting an empty artifact.
	if progress.SuccessCount == 0 && enriched != nil {
		slog.Warn("all units failed with context, retrying context-free",
			"session_id", session.ID,
			"step", string(step),
		)
		degraded = true
		progress, err = RunPhasedGeneration(ctx, e.unitsForStep(session, step, nil), onProgress)
		if err != nil {
			return nil, err
		}
	}

	if e.metrics != nil {
		for _, u := range progress.Units {
			e.metrics.RecordWorkflowUnit(string(step), string(u.State))
		}
	}

	rec := &AnalysisRecord{
		ID:           newRecordID(),
		SessionID:    session.ID,
		Step:         step,
		Payload:      assemblePayload(progress),
		Degraded:     degraded || progress.ErrorCount > 0,
		SuccessCount: progress.SuccessCount,
		ErrorCount:   progress.ErrorCount,
		Provider:     e.providerID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist %s artifact: %w", step, err)
	}

	slog.Info("workflow step completed",
		"session_id", session.ID,
		"step", string(step),
		"success_count", rec.SuccessCount,
		"error_count", rec.ErrorCount,
		"degraded", rec.Degraded,
	)
	return rec, nil
}

// assemblePayload flattens unit outputs into one artifact keyed by unit id.
// Degraded units appear with their error so the artifact records what is
// missing, not just what succeeded.
func assemblePayload(progress *PhaseProgress) map[string]any {
	payload := make(map[string]any, len(progress.Units))
	for _, u := range progress.Units {
		if u.State == UnitCompleted {
			payload[u.UnitID] = u.Output
			continue
		}
		payload[u.UnitID] = map[string]any{"degraded": true, "error": u.Error}
	}
	return payload
}

func buildOptions(session Session) contextcache.BuildOptions {
	return contextcache.BuildOptions{
		ProjectID:     session.ProjectID,
		IncludeMarket: true,
		IncludeTech:   true,
	}
}

// unitsForStep builds the generation units for a step. With enriched context
// the prompts carry the relevant section summaries; without it they fall back
// to self-contained variants.
func (e *Engine) unitsForStep(session Session, step Step, enriched *types.EnrichedContext) []Unit {
	specs := stepUnits[step]
	units := make([]Unit, 0, len(specs))
	for _, s := range specs {
		s := s
		units = append(units, Unit{
			ID:    s.id,
			Title: s.title,
			Generate: func(ctx context.Context) (map[string]any, error) {
				return e.generateUnit(ctx, session, s, enriched)
			},
		})
	}
	return units
}

func (e *Engine) generateUnit(ctx context.Context, session Session, spec unitSpec, enriched *types.EnrichedContext) (map[string]any, error) {
	req := &types.CompletionRequest{
		SessionID: session.ID,
		Messages: []types.Message{
			{Role: "system", Content: systemPrompt(enriched)},
			{Role: "user", Content: spec.prompt},
		},
	}

	result, err := e.completions.GenerateCompletion(ctx, e.providerID, req)
	if err != nil {
		return nil, err
	}

	extracted := extract.ExtractDeep(result.Content)
	if extracted.Failed {
		// The completion succeeded but came back unstructured. Keep the raw
		// snippet so the artifact is inspectable instead of silently empty.
		return map[string]any{
			"extraction_failed": true,
			"raw_text":          extracted.RawText,
		}, nil
	}
	return extracted.Data, nil
}

// systemPrompt frames the assistant role, folding in whichever context
// sections were assembled. A nil context yields the context-free variant.
func systemPrompt(enriched *types.EnrichedContext) string {
	var b strings.Builder
	b.WriteString("You are a project analysis assistant for a project management platform. ")
	b.WriteString("Respond with a single JSON object and nothing else.")

	if enriched == nil {
		return b.String()
	}
	for _, part := range []types.ContextPart{types.PartProjectStructure, types.PartMarketInsights, types.PartTechAnalysis} {
		section := enriched.Section(part)
		if section == nil || section.Summary == "" {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(string(part))
		b.WriteString(": ")
		b.WriteString(section.Summary)
	}
	return b.String()
}

type unitSpec struct {
	id     string
	title  string
	prompt string
}

var stepUnits = map[Step][]unitSpec{
	StepSetup: {
		{
			id:     "projectProfile",
			title:  "Project profile",
			prompt: `Summarize the project's goals, scope, and constraints. Return {"goals": [...], "scope": "...", "constraints": [...]}.`,
		},
	},
	StepAnalysis: {
		{
			id:     "overview",
			title:  "Analysis overview",
			prompt: `Assess the current state of the project. Return {"summary": "...", "health": "green|yellow|red", "highlights": [...]}.`,
		},
		{
			id:     "risks",
			title:  "Risk assessment",
			prompt: `Identify the top project risks. Return {"risks": [{"title": "...", "severity": "low|medium|high", "mitigation": "..."}]}.`,
		},
		{
			id:     "recommendations",
			title:  "Recommendations",
			prompt: `Recommend concrete next actions. Return {"recommendations": [{"action": "...", "rationale": "...", "priority": 1}]}.`,
		},
	},
	StepQuestions: {
		{
			id:     "clarifyingQuestions",
			title:  "Clarifying questions",
			prompt: `List the open questions that block deeper analysis. Return {"questions": [{"question": "...", "why": "..."}]}.`,
		},
	},
	StepReport: {
		{
			id:     "executiveSummary",
			title:  "Executive summary",
			prompt: `Write an executive summary of the analysis. Return {"summary": "...", "confidence": 0.0}.`,
		},
		{
			id:     "timeline",
			title:  "Timeline",
			prompt: `Propose a delivery timeline with milestones. Return {"milestones": [{"name": "...", "eta_weeks": 1}]}.`,
		},
		{
			id:     "nextSteps",
			title:  "Next steps",
			prompt: `List immediate next steps for the team. Return {"steps": [{"step": "...", "owner_role": "..."}]}.`,
		},
	},
}

func newRecordID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("rec_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}

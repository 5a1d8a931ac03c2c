// Package api exposes the analysis core over HTTP: step execution, record
// queries, cache control, and provider health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chartdesk/analysis-core/internal/contextcache"
	"github.com/chartdesk/analysis-core/internal/httputil"
	"github.com/chartdesk/analysis-core/internal/orchestrator"
	"github.com/chartdesk/analysis-core/internal/types"
	"github.com/chartdesk/analysis-core/internal/workflow"
)

// StepRunner executes one workflow step.
type StepRunner interface {
	RunStep(ctx context.Context, session workflow.Session, step workflow.Step, onProgress func(workflow.PhaseProgress)) (*workflow.AnalysisRecord, error)
}

// CacheControl is the slice of the context cache the handlers need.
type CacheControl interface {
	Stats() contextcache.Stats
	Invalidate(sessionID string)
	InvalidatePart(ctx context.Context, sessionID string, part types.ContextPart, opts contextcache.BuildOptions) error
}

// HealthChecker probes provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context, providerID string) map[string]bool
}

// Handler holds dependencies for the analysis HTTP handlers.
type Handler struct {
	runner  StepRunner
	cache   CacheControl
	health  HealthChecker
	records workflow.RecordStore
}

func NewHandler(runner StepRunner, cache CacheControl, health HealthChecker, records workflow.RecordStore) *Handler {
	return &Handler{
		runner:  runner,
		cache:   cache,
		health:  health,
		records: records,
	}
}

type runStepRequest struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id"`
}

// RunStep handles POST /v1/analysis/{step}
func (h *Handler) RunStep(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	step, ok := workflow.ParseStep(chi.URLParam(r, "step"))
	if !ok {
		httputil.WriteNotFoundError(w, reqID, "unknown analysis step")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var req runStepRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if req.SessionID == "" {
		httputil.WriteBadRequestError(w, reqID, "session_id is required")
		return
	}

	session := workflow.Session{ID: req.SessionID, ProjectID: req.ProjectID}
	rec, err := h.runner.RunStep(r.Context(), session, step, nil)
	if err != nil {
		if errors.Is(err, orchestrator.ErrAllProvidersExhausted) {
			httputil.WriteServiceUnavailableError(w, reqID, "No provider available")
			return
		}
		slog.Error("workflow step failed",
			"request_id", reqID,
			"session_id", req.SessionID,
			"step", string(step),
			"error", err,
		)
		httputil.WriteInternalError(w, reqID, "Analysis step failed")
		return
	}

	slog.Info("analysis request completed",
		"request_id", reqID,
		"session_id", req.SessionID,
		"step", string(step),
		"success_count", rec.SuccessCount,
		"error_count", rec.ErrorCount,
		"degraded", rec.Degraded,
		"duration_ms", time.Since(receivedAt).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, rec)
}

// ListRecords handles GET /v1/analysis/{sessionID}/records
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	filter := workflow.RecordFilter{SessionID: chi.URLParam(r, "sessionID")}
	if step := r.URL.Query().Get("step"); step != "" {
		parsed, ok := workflow.ParseStep(step)
		if !ok {
			httputil.WriteBadRequestError(w, reqID, "unknown step filter")
			return
		}
		filter.Step = parsed
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			httputil.WriteBadRequestError(w, reqID, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	records, err := h.records.Query(r.Context(), filter)
	if err != nil {
		slog.Error("record query failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to query records")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// CacheStats handles GET /v1/cache/stats
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

// InvalidateCache handles POST /v1/cache/{sessionID}/invalidate
// With ?part= only that sub-result is rebuilt; without it the whole entry is
// dropped.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	sessionID := chi.URLParam(r, "sessionID")

	part := r.URL.Query().Get("part")
	if part == "" {
		h.cache.Invalidate(sessionID)
		writeJSON(w, http.StatusOK, map[string]any{"invalidated": sessionID})
		return
	}

	if !types.ValidPart(types.ContextPart(part)) {
		httputil.WriteBadRequestError(w, reqID, "unknown context part")
		return
	}

	var opts contextcache.BuildOptions
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err == nil && len(body) > 0 {
			if err := json.Unmarshal(body, &opts); err != nil {
				httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
				return
			}
		}
		r.Body.Close()
	}

	err := h.cache.InvalidatePart(r.Context(), sessionID, types.ContextPart(part), opts)
	if err != nil {
		if errors.Is(err, contextcache.ErrNotCached) {
			httputil.WriteNotFoundError(w, reqID, "session not cached")
			return
		}
		slog.Warn("partial invalidation failed",
			"request_id", reqID,
			"session_id", sessionID,
			"part", part,
			"error", err,
		)
		httputil.WriteInternalError(w, reqID, "Partial rebuild failed; entry dropped")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"invalidated": sessionID, "part": part})
}

// ProviderHealth handles GET /v1/providers/health
func (h *Handler) ProviderHealth(w http.ResponseWriter, r *http.Request) {
	results := h.health.HealthCheck(r.Context(), r.URL.Query().Get("provider"))
	writeJSON(w, http.StatusOK, map[string]any{"providers": results})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

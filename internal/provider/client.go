package provider

import (
	"context"
	"fmt"

	"github.com/chartdesk/analysis-core/internal/types"
)

// Backend families with built-in clients.
const (
	FamilyOpenAI    = "openai"
	FamilyAnthropic = "anthropic"
)

// BackendClient speaks one backend family's wire protocol and normalizes its
// responses into the canonical CompletionResult. Everything above this
// boundary is backend-agnostic.
type BackendClient interface {
	Family() string
	Complete(ctx context.Context, model string, req *types.CompletionRequest) (*types.CompletionResult, error)
}

// Error is a classified backend failure. Status carries the HTTP status when
// one was received; 0 means a transport-level failure.
type Error struct {
	Provider string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Fatal reports whether the failure is an authentication or configuration
// error. Retrying a fatal error on another attempt cannot help; the fallback
// chain aborts on these.
func (e *Error) Fatal() bool {
	switch e.Status {
	case 400, 401, 403, 404:
		return true
	}
	return false
}

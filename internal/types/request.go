package types

import "time"

// CompletionRequest is the canonical internal representation of one AI
// completion request. Backend-specific wire formats are derived from this type
// at the client boundary.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`

	// Metadata
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Internal tracking
	ReceivedAt      time.Time `json:"-"`
	EstimatedTokens int       `json:"-"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

package types

// FinishReason is the normalized reason a backend stopped generating.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
)

// CompletionResult is the outcome of one provider invocation, normalized
// across backend families. It is consumed immediately by the caller and never
// persisted by this layer.
type CompletionResult struct {
	Content      string       `json:"content"`
	Model        string       `json:"model"`
	Provider     string       `json:"provider"`
	Usage        Usage        `json:"usage"`
	CostUSD      float64      `json:"cost_usd"`
	LatencyMs    int64        `json:"latency_ms"`
	FinishReason FinishReason `json:"finish_reason"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chartdesk/analysis-core/internal/config"
	"github.com/chartdesk/analysis-core/internal/types"
)

// AnthropicClient speaks the Anthropic Messages API.
type AnthropicClient struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewAnthropicClient(cfg config.ProviderConfig, client *http.Client) *AnthropicClient {
	return &AnthropicClient{cfg: cfg, client: client}
}

func (c *AnthropicClient) Family() string { return FamilyAnthropic }

func (c *AnthropicClient) Complete(ctx context.Context, model string, req *types.CompletionRequest) (*types.CompletionResult, error) {
	// The canonical message format keeps system prompts inline; Anthropic wants
	// them in a dedicated field.
	var system string
	var messages []anthropicMessage
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, anthropicMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	// Anthropic requires max_tokens
	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := anthropicRequestBody{
		Model:       model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	url := c.cfg.BaseURL + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	if c.cfg.APIVersion != "" {
		httpReq.Header.Set("anthropic-version", c.cfg.APIVersion)
	}
	for k, v := range c.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	started := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Provider: FamilyAnthropic, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anthropic response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Provider: FamilyAnthropic, Status: resp.StatusCode, Message: string(respBody)}
	}

	var antResp anthropicResponseBody
	if err := json.Unmarshal(respBody, &antResp); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic response: %w", err)
	}

	var content string
	for _, block := range antResp.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}

	return &types.CompletionResult{
		Content:      content,
		Model:        antResp.Model,
		Provider:     FamilyAnthropic,
		LatencyMs:    time.Since(started).Milliseconds(),
		FinishReason: normalizeStopReason(antResp.StopReason),
		Usage: types.Usage{
			InputTokens:  antResp.Usage.InputTokens,
			OutputTokens: antResp.Usage.OutputTokens,
			TotalTokens:  antResp.Usage.InputTokens + antResp.Usage.OutputTokens,
		},
	}, nil
}

func normalizeStopReason(reason string) types.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return types.FinishStop
	case "max_tokens":
		return types.FinishLength
	default:
		return types.FinishError
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequestBody struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stop        []string           `json:"stop_sequences,omitempty"`
}

type anthropicResponseBody struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

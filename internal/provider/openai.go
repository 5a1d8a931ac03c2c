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

// OpenAIClient speaks the OpenAI chat-completions API (and OpenAI-compatible
// backends).
type OpenAIClient struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewOpenAIClient(cfg config.ProviderConfig, client *http.Client) *OpenAIClient {
	return &OpenAIClient{cfg: cfg, client: client}
}

func (c *OpenAIClient) Family() string { return FamilyOpenAI }

func (c *OpenAIClient) Complete(ctx context.Context, model string, req *types.CompletionRequest) (*types.CompletionResult, error) {
	body := openAIRequestBody{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	url := c.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	for k, v := range c.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	started := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Provider: FamilyOpenAI, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Provider: FamilyOpenAI, Status: resp.StatusCode, Message: string(respBody)}
	}

	var oaiResp openAIResponseBody
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("unmarshal openai response: %w", err)
	}

	result := &types.CompletionResult{
		Model:        oaiResp.Model,
		Provider:     FamilyOpenAI,
		LatencyMs:    time.Since(started).Milliseconds(),
		FinishReason: types.FinishError,
		Usage: types.Usage{
			InputTokens:  oaiResp.Usage.PromptTokens,
			OutputTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:  oaiResp.Usage.TotalTokens,
		},
	}

	if len(oaiResp.Choices) > 0 {
		result.Content = oaiResp.Choices[0].Message.Content
		result.FinishReason = normalizeOpenAIFinish(oaiResp.Choices[0].FinishReason)
	}

	return result, nil
}

func normalizeOpenAIFinish(reason string) types.FinishReason {
	switch reason {
	case "stop":
		return types.FinishStop
	case "length":
		return types.FinishLength
	default:
		return types.FinishError
	}
}

type openAIRequestBody struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIResponseBody struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      types.Message `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

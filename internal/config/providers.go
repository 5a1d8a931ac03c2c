package config

import "time"

type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig is the static description of one AI backend binding.
// Immutable after registration.
type ProviderConfig struct {
	Family        string            `yaml:"family"`
	Model         string            `yaml:"model"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	APIVersion    string            `yaml:"api_version,omitempty"`
	MaxTokens     int               `yaml:"max_tokens"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers,omitempty"`
	Pricing       PricingConfig     `yaml:"pricing"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit"`
}

// PricingConfig is USD per token for each direction.
type PricingConfig struct {
	InputPerToken  float64 `yaml:"input_per_token"`
	OutputPerToken float64 `yaml:"output_per_token"`
}

type RateLimitConfig struct {
	RequestsPerMinute int64 `yaml:"requests_per_minute"`
	TokensPerMinute   int64 `yaml:"tokens_per_minute"`
}

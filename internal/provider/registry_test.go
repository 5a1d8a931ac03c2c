package provider

import (
	"testing"

	"github.com/chartdesk/analysis-core/internal/config"
)

func TestRegistry_RegisterModel(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterModel("openai-main", config.ProviderConfig{
		Family:  FamilyOpenAI,
		Model:   "gpt-4o",
		BaseURL: "https://api.openai.com/v1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, client, ok := r.Get("openai-main")
	if !ok {
		t.Fatal("expected provider to be registered")
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %s", cfg.Model)
	}
	if client.Family() != FamilyOpenAI {
		t.Errorf("expected openai client, got %s", client.Family())
	}
}

func TestRegistry_UnknownFamily(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterModel("mystery", config.ProviderConfig{Family: "cohere"})
	if err == nil {
		t.Fatal("expected error for unsupported backend family")
	}
}

func TestRegistry_UnregisterModel(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterModel("anthropic-main", config.ProviderConfig{
		Family:  FamilyAnthropic,
		Model:   "claude-sonnet-4-5",
		BaseURL: "https://api.anthropic.com/v1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.UnregisterModel("anthropic-main")
	if _, _, ok := r.Get("anthropic-main"); ok {
		t.Error("expected provider to be removed")
	}
	if len(r.IDs()) != 0 {
		t.Errorf("expected empty registry, got %v", r.IDs())
	}
}

func TestBuildFromConfig_FailsOnBadProvider(t *testing.T) {
	_, err := BuildFromConfig(&config.ProvidersConfig{
		Providers: map[string]config.ProviderConfig{
			"good": {Family: FamilyOpenAI},
			"bad":  {Family: "totally-new"},
		},
	})
	if err == nil {
		t.Fatal("expected error when one provider has an unsupported family")
	}
}

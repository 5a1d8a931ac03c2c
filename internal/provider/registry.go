package provider

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chartdesk/analysis-core/internal/config"
)

// Registry holds provider configurations and their bound backend clients,
// both keyed by provider id. Configs are immutable after registration.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]config.ProviderConfig
	clients map[string]BackendClient
}

func NewRegistry() *Registry {
	return &Registry{
		configs: make(map[string]config.ProviderConfig),
		clients: make(map[string]BackendClient),
	}
}

// RegisterModel binds a provider config to a concrete backend client selected
// by the config's backend family.
func (r *Registry) RegisterModel(id string, cfg config.ProviderConfig) error {
	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	r.Register(id, cfg, client)
	return nil
}

// Register binds a provider config to an already-constructed client. Used by
// RegisterModel and by tests that inject fakes.
func (r *Registry) Register(id string, cfg config.ProviderConfig, client BackendClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[id] = cfg
	r.clients[id] = client
}

// UnregisterModel removes both the config and the bound client.
func (r *Registry) UnregisterModel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, id)
	delete(r.clients, id)
}

func (r *Registry) Get(id string) (config.ProviderConfig, BackendClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	if !ok {
		return config.ProviderConfig{}, nil, false
	}
	return cfg, r.clients[id], true
}

// IDs returns the registered provider ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	return ids
}

func buildClient(cfg config.ProviderConfig) (BackendClient, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        maxConcurrent,
			MaxIdleConnsPerHost: maxConcurrent,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}

	switch cfg.Family {
	case FamilyOpenAI:
		return NewOpenAIClient(cfg, client), nil
	case FamilyAnthropic:
		return NewAnthropicClient(cfg, client), nil
	default:
		return nil, fmt.Errorf("unsupported backend family %q", cfg.Family)
	}
}

// Reload atomically replaces the registry contents from a fresh providers
// config. On any build error the existing contents are kept untouched.
func (r *Registry) Reload(provCfg *config.ProvidersConfig) error {
	configs := make(map[string]config.ProviderConfig, len(provCfg.Providers))
	clients := make(map[string]BackendClient, len(provCfg.Providers))
	for id, cfg := range provCfg.Providers {
		client, err := buildClient(cfg)
		if err != nil {
			return fmt.Errorf("reload %s: %w", id, err)
		}
		configs[id] = cfg
		clients[id] = client
	}

	r.mu.Lock()
	r.configs = configs
	r.clients = clients
	r.mu.Unlock()
	return nil
}

// BuildFromConfig registers every provider in the providers config. Unknown
// backend families are an error: dispatching to a misconfigured backend can
// never succeed.
func BuildFromConfig(provCfg *config.ProvidersConfig) (*Registry, error) {
	registry := NewRegistry()
	for id, cfg := range provCfg.Providers {
		if err := registry.RegisterModel(id, cfg); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

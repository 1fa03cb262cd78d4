package llms

import (
	"fmt"

	"github.com/kanba-ai/kanba/pkg/registry"
)

// Registry holds named provider instances so agents can share them.
type Registry struct {
	*registry.Registry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		Registry: registry.New[Provider](),
	}
}

// RegisterFromConfig builds a provider from its config and registers it
// under the given name.
func (r *Registry) RegisterFromConfig(name string, cfg Config) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("LLM name cannot be empty")
	}

	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	if err := r.Register(name, provider); err != nil {
		return nil, err
	}
	return provider, nil
}

// NewProvider constructs a provider for the config's provider type.
func NewProvider(cfg Config) (Provider, error) {
	cfg.SetDefaults()
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case ProviderOllama:
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

package llms

import (
	"fmt"
	"os"
)

// Provider type identifiers accepted in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config describes one LLM provider instance.
type Config struct {
	Provider       string  `yaml:"provider" json:"provider"`
	Model          string  `yaml:"model" json:"model"`
	APIKey         string  `yaml:"api_key" json:"-"`
	Host           string  `yaml:"host" json:"host"`
	Temperature    float64 `yaml:"temperature" json:"temperature"`
	MaxTokens      int     `yaml:"max_tokens" json:"maxTokens"`
	TimeoutSeconds int     `yaml:"timeout" json:"timeout"`
	MaxRetries     int     `yaml:"max_retries" json:"maxRetries"`
}

func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" {
		switch c.Provider {
		case ProviderAnthropic:
			c.Model = "claude-3-5-sonnet-20241022"
		case ProviderOllama:
			c.Model = "llama3"
		default:
			c.Model = "gpt-4o-mini"
		}
	}
	if c.Host == "" {
		switch c.Provider {
		case ProviderOpenAI:
			c.Host = "https://api.openai.com"
		case ProviderAnthropic:
			c.Host = "https://api.anthropic.com"
		case ProviderOllama:
			c.Host = "http://localhost:11434"
		}
	}
	if c.APIKey == "" {
		switch c.Provider {
		case ProviderOpenAI:
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		case ProviderAnthropic:
			c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.APIKey == "" && c.Provider != ProviderOllama {
		return fmt.Errorf("api_key is required for provider %s", c.Provider)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", c.Temperature)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	return nil
}

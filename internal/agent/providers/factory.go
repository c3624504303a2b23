package providers

import (
	"fmt"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/config"
)

// FromConfig builds the default provider selected in cfg.
func FromConfig(cfg config.LLMConfig) (agent.LLMProvider, error) {
	id, provider := cfg.Provider()
	switch id {
	case "anthropic":
		p, err := NewAnthropicProvider(AnthropicConfig{
			APIKey:       provider.APIKey,
			BaseURL:      provider.BaseURL,
			MaxRetries:   provider.MaxRetries,
			DefaultModel: provider.DefaultModel,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "openai":
		p, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:       provider.APIKey,
			BaseURL:      provider.BaseURL,
			MaxRetries:   provider.MaxRetries,
			DefaultModel: provider.DefaultModel,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.DefaultProvider)
	}
}

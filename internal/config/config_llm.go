package config

import (
	"fmt"
	"sort"
	"strings"
)

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	MaxRetries   int    `yaml:"max_retries"`
}

// SupportedProviders lists the provider ids the runtime can build.
var SupportedProviders = []string{"anthropic", "openai"}

func (c LLMConfig) validate() []string {
	var issues []string
	provider := strings.ToLower(strings.TrimSpace(c.DefaultProvider))
	supported := false
	for _, id := range SupportedProviders {
		if id == provider {
			supported = true
			break
		}
	}
	if !supported {
		issues = append(issues, fmt.Sprintf("llm.default_provider %q is not supported (expected one of %s)",
			c.DefaultProvider, strings.Join(SupportedProviders, ", ")))
	}
	if len(c.Providers) > 0 {
		if _, ok := c.Providers[provider]; !ok {
			names := make([]string, 0, len(c.Providers))
			for name := range c.Providers {
				names = append(names, name)
			}
			sort.Strings(names)
			issues = append(issues, fmt.Sprintf("llm.default_provider %q has no entry in llm.providers (configured: %s)",
				c.DefaultProvider, strings.Join(names, ", ")))
		}
	}
	return issues
}

// Provider returns the settings of the default provider.
func (c LLMConfig) Provider() (string, LLMProviderConfig) {
	id := strings.ToLower(strings.TrimSpace(c.DefaultProvider))
	return id, c.Providers[id]
}

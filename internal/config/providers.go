package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/iceberg/internal/llm"
)

// Defaults for providers configured from plain API key variables.
const (
	DefaultOpenAIModel      = "gpt-4o-mini"
	DefaultAnthropicModel   = "claude-3-5-haiku-latest"
	DefaultOpenRouterModel  = "openai/gpt-4o-mini"
	DefaultOpenRouterURL    = "https://openrouter.ai/api/v1"
	DefaultProviderOrder    = "openai,anthropic,openrouter"
	defaultModelMaxTokens   = 1024
	defaultModelTemperature = 0.7
)

// providersFile is the YAML layout accepted by PROVIDERS_FILE.
type providersFile struct {
	Providers []llm.ProviderDescriptor `yaml:"providers"`
}

// LoadProviders returns the ordered provider list. PROVIDERS_FILE wins when
// set; otherwise one descriptor is built per API key present, ordered by
// PROVIDER_ORDER.
func LoadProviders() ([]llm.ProviderDescriptor, error) {
	if path := getEnv("PROVIDERS_FILE", ""); path != "" {
		return ReadProvidersFile(path)
	}
	return providersFromEnv(), nil
}

// ReadProvidersFile parses a YAML provider list. ${VAR} references in
// api_key and endpoint are expanded from the environment.
func ReadProvidersFile(path string) ([]llm.ProviderDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	var f providersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}
	for i := range f.Providers {
		p := &f.Providers[i]
		p.APIKey = os.ExpandEnv(p.APIKey)
		p.Endpoint = os.ExpandEnv(p.Endpoint)
		if p.Name == "" {
			p.Name = p.Kind
		}
		if p.MaxTokens <= 0 {
			p.MaxTokens = defaultModelMaxTokens
		}
	}
	return f.Providers, nil
}

func providersFromEnv() []llm.ProviderDescriptor {
	maxTokens := getEnvInt("MODEL_MAX_TOKENS", defaultModelMaxTokens)
	temperature := getEnvFloat("MODEL_TEMPERATURE", defaultModelTemperature)

	available := map[string]llm.ProviderDescriptor{}
	if key := getEnv("OPENAI_API_KEY", ""); key != "" {
		available["openai"] = llm.ProviderDescriptor{
			Name:     "openai",
			Kind:     llm.KindOpenAI,
			Endpoint: getEnv("OPENAI_BASE_URL", ""),
			APIKey:   key,
			Model:    getEnv("OPENAI_MODEL", DefaultOpenAIModel),
		}
	}
	if key := getEnv("ANTHROPIC_API_KEY", ""); key != "" {
		available["anthropic"] = llm.ProviderDescriptor{
			Name:   "anthropic",
			Kind:   llm.KindAnthropic,
			APIKey: key,
			Model:  getEnv("ANTHROPIC_MODEL", DefaultAnthropicModel),
		}
	}
	if key := getEnv("OPENROUTER_API_KEY", ""); key != "" {
		available["openrouter"] = llm.ProviderDescriptor{
			Name:     "openrouter",
			Kind:     llm.KindCompatible,
			Endpoint: getEnv("OPENROUTER_BASE_URL", DefaultOpenRouterURL),
			APIKey:   key,
			Model:    getEnv("OPENROUTER_MODEL", DefaultOpenRouterModel),
		}
	}

	var out []llm.ProviderDescriptor
	seen := map[string]bool{}
	for _, name := range strings.Split(getEnv("PROVIDER_ORDER", DefaultProviderOrder), ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		d, ok := available[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		d.MaxTokens = maxTokens
		d.Temperature = temperature
		out = append(out, d)
	}
	return out
}

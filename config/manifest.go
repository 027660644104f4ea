package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/ratelimit"
	"github.com/upb/llm-gateway/utils"
)

var (
	ErrManifestEmpty         = errors.New("manifest: at least one provider is required")
	ErrManifestDuplicateName = errors.New("manifest: duplicate provider name")
)

// Manifest lists the providers the gateway registers at startup
type Manifest struct {
	// EmbeddingProvider names the provider whose embeddings back the semantic cache
	EmbeddingProvider string          `yaml:"embedding_provider,omitempty"`
	Providers         []ProviderEntry `yaml:"providers"`
}

// ProviderEntry is one provider plus an optional dedicated rate limit
type ProviderEntry struct {
	providers.ProviderConfig `yaml:",inline"`
	RateLimit                *ratelimit.Config `yaml:"rate_limit,omitempty"`
}

// LoadManifest parses and validates a YAML provider manifest
func LoadManifest(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read %q: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: unmarshal %q: %w", path, err)
	}

	if err := ValidateManifest(m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// ValidateManifest checks names are unique and every entry is well formed
func ValidateManifest(m Manifest) error {
	if len(m.Providers) == 0 {
		return ErrManifestEmpty
	}

	seen := make(map[string]bool, len(m.Providers))
	for i, entry := range m.Providers {
		if err := utils.ValidateStruct(entry.ProviderConfig); err != nil {
			return fmt.Errorf("manifest: provider %d: %w", i, err)
		}
		if seen[entry.Name] {
			return fmt.Errorf("%w: %q", ErrManifestDuplicateName, entry.Name)
		}
		seen[entry.Name] = true

		if entry.RateLimit != nil {
			rl := *entry.RateLimit
			if err := rl.Validate(); err != nil {
				return fmt.Errorf("manifest: provider %q rate_limit: %w", entry.Name, err)
			}
		}
	}

	if m.EmbeddingProvider != "" && !seen[m.EmbeddingProvider] {
		return fmt.Errorf("manifest: embedding_provider %q is not listed", m.EmbeddingProvider)
	}
	return nil
}

// Manifest returns the provider manifest: the LLM_PROVIDERS_FILE contents
// when set, otherwise one entry per backend configured through env vars
func (c *ProvidersConfig) Manifest() (Manifest, error) {
	if c.File != "" {
		return LoadManifest(c.File)
	}

	m := Manifest{EmbeddingProvider: c.Embedding}
	if c.Ollama.BaseURL != "" {
		m.Providers = append(m.Providers, ProviderEntry{ProviderConfig: providers.ProviderConfig{
			Name:           providers.TypeOllama,
			Type:           providers.TypeOllama,
			BaseURL:        c.Ollama.BaseURL,
			Model:          c.Ollama.Model,
			EmbeddingModel: c.Ollama.Model,
			Timeout:        c.Ollama.Timeout,
		}})
	}
	if c.VLLM.BaseURL != "" {
		m.Providers = append(m.Providers, ProviderEntry{ProviderConfig: providers.ProviderConfig{
			Name:    providers.TypeVLLM,
			Type:    providers.TypeVLLM,
			BaseURL: c.VLLM.BaseURL,
			Model:   c.VLLM.Model,
			Timeout: c.VLLM.Timeout,
		}})
	}
	if c.OpenAI.APIKey != "" {
		m.Providers = append(m.Providers, ProviderEntry{ProviderConfig: providers.ProviderConfig{
			Name:       providers.TypeOpenAI,
			Type:       providers.TypeOpenAI,
			BaseURL:    c.OpenAI.BaseURL,
			Model:      c.OpenAI.Model,
			APIKey:     c.OpenAI.APIKey,
			Timeout:    c.OpenAI.Timeout,
			MaxRetries: c.OpenAI.MaxRetries,
		}})
	}

	if len(m.Providers) == 0 {
		return m, nil
	}
	if err := ValidateManifest(m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

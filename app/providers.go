package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/upb/llm-gateway/config"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/providers/local"
	"github.com/upb/llm-gateway/services/providers/ollama"
	"github.com/upb/llm-gateway/services/providers/openai"
	"github.com/upb/llm-gateway/services/providers/vllm"
)

// BuiltProvider pairs a constructed provider with its manifest entry
type BuiltProvider struct {
	Provider providers.Provider
	Entry    config.ProviderEntry
}

// DefaultLocalModels are the in-process models available to manifest
// entries of type local, keyed by the entry's model field
func DefaultLocalModels() map[string]local.Model {
	return map[string]local.Model{
		"echo": local.Echo,
	}
}

// BuildProviders constructs one provider per manifest entry, in manifest
// order. On error every provider built so far is closed.
func BuildProviders(m config.Manifest, localModels map[string]local.Model) ([]BuiltProvider, error) {
	built := make([]BuiltProvider, 0, len(m.Providers))
	for _, entry := range m.Providers {
		p, err := buildProvider(entry.ProviderConfig, localModels)
		if err != nil {
			closeAll(built)
			return nil, fmt.Errorf("provider %q: %w", entry.Name, err)
		}
		built = append(built, BuiltProvider{Provider: p, Entry: entry})
	}
	return built, nil
}

func buildProvider(cfg providers.ProviderConfig, localModels map[string]local.Model) (providers.Provider, error) {
	switch cfg.Type {
	case providers.TypeOllama:
		return ollama.New(cfg), nil
	case providers.TypeVLLM:
		return vllm.New(cfg), nil
	case providers.TypeOpenAI, providers.TypeAzure, providers.TypeCustom:
		return openai.New(cfg), nil
	case providers.TypeLocal:
		model, ok := localModels[cfg.Model]
		if !ok {
			return nil, fmt.Errorf("unknown local model %q", cfg.Model)
		}
		return local.New(cfg, model)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}
}

// embedderFor returns the provider named in the manifest as the cache
// embedder, or nil when none is named
func embedderFor(name string, built []BuiltProvider) (providers.Embedder, error) {
	if name == "" {
		return nil, nil
	}
	for _, b := range built {
		if b.Provider.Name() != name {
			continue
		}
		embedder, ok := b.Provider.(providers.Embedder)
		if !ok || !b.Provider.Capabilities().Embeddings {
			return nil, fmt.Errorf("embedding provider %q cannot embed", name)
		}
		return embedder, nil
	}
	return nil, fmt.Errorf("embedding provider %q is not configured", name)
}

func closeAll(built []BuiltProvider) error {
	var errs []error
	for _, b := range built {
		if closer, ok := b.Provider.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

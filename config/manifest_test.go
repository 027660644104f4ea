package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/ratelimit"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
embedding_provider: ollama
providers:
  - name: ollama
    type: ollama
    base_url: http://localhost:11434
    model: llama3
    embedding_model: nomic-embed-text
    timeout: 90s
    default: true
  - name: openai
    type: openai
    model: gpt-4o-mini
    api_key: sk-test
    headers:
      X-Team: platform
    rate_limit:
      strategy: sliding_window
      requests_per_minute: 30
      tokens_per_minute: 0
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Providers, 2)
	assert.Equal(t, "ollama", m.EmbeddingProvider)

	ollama := m.Providers[0]
	assert.Equal(t, "ollama", ollama.Name)
	assert.Equal(t, providers.TypeOllama, ollama.Type)
	assert.Equal(t, "nomic-embed-text", ollama.EmbeddingModel)
	assert.Equal(t, 90*time.Second, ollama.Timeout)
	assert.True(t, ollama.Default)
	assert.Nil(t, ollama.RateLimit)

	openai := m.Providers[1]
	assert.Equal(t, "sk-test", openai.APIKey)
	assert.Equal(t, "platform", openai.Headers["X-Team"])
	require.NotNil(t, openai.RateLimit)
	assert.Equal(t, ratelimit.StrategySlidingWindow, openai.RateLimit.Strategy)
	assert.Equal(t, 30, openai.RateLimit.RequestsPerMinute)
}

func TestLoadManifest_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", "providers: []\n"},
		{"bad yaml", "providers: [\n"},
		{"missing name", "providers:\n  - type: ollama\n"},
		{"unknown type", "providers:\n  - name: x\n    type: bedrock\n"},
		{"duplicate name", "providers:\n  - name: a\n    type: local\n  - name: a\n    type: vllm\n"},
		{"bad rate limit", "providers:\n  - name: a\n    type: local\n    rate_limit:\n      strategy: leaky\n"},
		{"unknown embedding provider", "embedding_provider: b\nproviders:\n  - name: a\n    type: local\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadManifest(writeManifest(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateManifest_Sentinels(t *testing.T) {
	assert.ErrorIs(t, ValidateManifest(Manifest{}), ErrManifestEmpty)

	dup := Manifest{Providers: []ProviderEntry{
		{ProviderConfig: providers.ProviderConfig{Name: "a", Type: providers.TypeLocal}},
		{ProviderConfig: providers.ProviderConfig{Name: "a", Type: providers.TypeLocal}},
	}}
	assert.ErrorIs(t, ValidateManifest(dup), ErrManifestDuplicateName)
}

func TestProvidersConfig_Manifest(t *testing.T) {
	t.Run("from env", func(t *testing.T) {
		c := ProvidersConfig{
			Embedding: "ollama",
			Ollama:    EndpointConfig{BaseURL: "http://localhost:11434", Model: "llama3"},
			VLLM:      EndpointConfig{BaseURL: "http://localhost:8000", Model: "mistral"},
			OpenAI:    OpenAIConfig{APIKey: "sk-test", BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
		}

		m, err := c.Manifest()
		require.NoError(t, err)
		require.Len(t, m.Providers, 3)
		assert.Equal(t, []string{"ollama", "vllm", "openai"}, []string{
			m.Providers[0].Name, m.Providers[1].Name, m.Providers[2].Name,
		})
		assert.Equal(t, "llama3", m.Providers[0].EmbeddingModel)
		assert.Equal(t, "ollama", m.EmbeddingProvider)
	})

	t.Run("nothing configured", func(t *testing.T) {
		m, err := (&ProvidersConfig{}).Manifest()
		require.NoError(t, err)
		assert.Empty(t, m.Providers)
	})

	t.Run("file wins", func(t *testing.T) {
		path := writeManifest(t, "providers:\n  - name: edge\n    type: local\n")
		c := ProvidersConfig{File: path, OpenAI: OpenAIConfig{APIKey: "sk-test"}}

		m, err := c.Manifest()
		require.NoError(t, err)
		require.Len(t, m.Providers, 1)
		assert.Equal(t, "edge", m.Providers[0].Name)
	})
}

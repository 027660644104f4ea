package providers

import (
	"context"
	"strings"
	"time"

	"github.com/upb/llm-gateway/services"
)

// Provider represents a single LLM backend behind the gateway
type Provider interface {
	// Name returns the unique provider name (e.g., "ollama", "vllm-a100")
	Name() string

	// Config returns the static configuration the provider was built with
	Config() ProviderConfig

	// Capabilities returns the statically declared feature set
	Capabilities() Capabilities

	// Status returns the last observed health status
	Status() Status

	// IsAvailable reports whether the provider may be selected for a call
	IsAvailable() bool

	// Generate performs a plain text completion
	Generate(ctx context.Context, req *GenerateRequest) (*Result, error)

	// Chat performs a chat completion over an ordered message list
	Chat(ctx context.Context, req *ChatRequest) (*Result, error)

	// HealthCheck checks the backend. It never returns an error; failures
	// are reported as false and reflected in Status.
	HealthCheck(ctx context.Context) bool
}

// Embedder is implemented by providers that can produce embedding vectors
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ModelLister is implemented by providers that can enumerate upstream models
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Capabilities declares what a provider supports
type Capabilities struct {
	Completions bool `json:"completions"`
	Chat        bool `json:"chat"`
	Embeddings  bool `json:"embeddings"`
	Streaming   bool `json:"streaming"`
}

// Status is the health status of a provider
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusRateLimited Status = "rate_limited"
	StatusError       Status = "error"
)

// Provider types understood by the manifest loader
const (
	TypeOllama = "ollama"
	TypeVLLM   = "vllm"
	TypeOpenAI = "openai"
	TypeAzure  = "azure"
	TypeCustom = "custom"
	TypeLocal  = "local"
)

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// Name is the unique registration name
	Name string `json:"name" yaml:"name" validate:"required"`

	// Type selects the adapter (ollama, vllm, openai, azure, custom, local)
	Type string `json:"type" yaml:"type" validate:"required,oneof=ollama vllm openai azure custom local"`

	// BaseURL for the API
	BaseURL string `json:"base_url,omitempty" yaml:"base_url"`

	// Model is the upstream model identifier
	Model string `json:"model" yaml:"model"`

	// EmbeddingModel is used by Embed when the backend supports it
	EmbeddingModel string `json:"embedding_model,omitempty" yaml:"embedding_model"`

	// APIKey for authentication
	APIKey string `json:"-" yaml:"api_key"`

	// Timeout for a single call
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`

	// Cooldown is how long the provider is skipped after a connection
	// failure; zero means DefaultCooldown
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown" validate:"gte=0"`

	// MaxRetries is advisory; the gateway retries across providers instead
	MaxRetries int `json:"max_retries" yaml:"max_retries" validate:"gte=0"`

	// MaxTokens is the default completion limit when a request sets none
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`

	// Temperature is the default sampling temperature
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`

	// TopP is the default nucleus sampling value
	TopP float64 `json:"top_p" yaml:"top_p" validate:"gte=0,lte=1"`

	// Headers added to every upstream request
	Headers map[string]string `json:"-" yaml:"headers"`

	// Default marks the provider as the gateway default
	Default bool `json:"default" yaml:"default"`
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:     60 * time.Second,
		MaxRetries:  3,
		MaxTokens:   512,
		Temperature: 0.7,
		TopP:        0.9,
		Headers:     make(map[string]string),
	}
}

// Params are the sampling parameters shared by Generate and Chat.
// Nil and zero values mean "use the provider default".
type Params struct {
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// GenerateRequest is a plain text completion request
type GenerateRequest struct {
	Prompt string `json:"prompt"`
	Params
}

// Validate checks the request for malformed input
func (r *GenerateRequest) Validate() error {
	if r == nil || strings.TrimSpace(r.Prompt) == "" {
		return services.NewValidationError("prompt cannot be empty")
	}
	return r.Params.validate()
}

// ChatMessage is a single message in a conversation
type ChatMessage struct {
	// Role can be "system", "user", "assistant" or "tool"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`

	// Name is an optional identifier for the message sender
	Name string `json:"name,omitempty"`
}

// ChatRequest is a chat completion request
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Params
}

// Validate checks the request for malformed input
func (r *ChatRequest) Validate() error {
	if r == nil || len(r.Messages) == 0 {
		return services.NewValidationError("messages cannot be empty")
	}
	for i, m := range r.Messages {
		if m.Role == "" {
			return services.NewValidationError("message role is required").WithDetail("index", i)
		}
	}
	return r.Params.validate()
}

// CacheKey flattens the conversation into the text used for cache lookups
func (r *ChatRequest) CacheKey() string {
	parts := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		parts[i] = m.Role + ":" + m.Content
	}
	return strings.Join(parts, "|")
}

func (p Params) validate() error {
	if p.MaxTokens < 0 {
		return services.NewValidationError("max_tokens cannot be negative")
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return services.NewValidationError("temperature must be between 0 and 2")
	}
	if p.TopP != nil && (*p.TopP < 0 || *p.TopP > 1) {
		return services.NewValidationError("top_p must be between 0 and 1")
	}
	return nil
}

// Result is the outcome of a successful generation
type Result struct {
	ID               string                 `json:"id"`
	Text             string                 `json:"text"`
	Model            string                 `json:"model"`
	Provider         string                 `json:"provider"`
	TokensUsed       int                    `json:"tokens_used"`
	PromptTokens     int                    `json:"prompt_tokens"`
	CompletionTokens int                    `json:"completion_tokens"`
	Latency          time.Duration          `json:"latency"`
	FinishReason     string                 `json:"finish_reason"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Cached reports whether the result was served from the response cache
func (r *Result) Cached() bool {
	if r == nil || r.Metadata == nil {
		return false
	}
	cached, _ := r.Metadata["cached"].(bool)
	return cached
}

// MaxTokensOr resolves the effective completion limit
func MaxTokensOr(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}

// FloatOr resolves an optional sampling parameter
func FloatOr(requested *float64, fallback float64) float64 {
	if requested != nil {
		return *requested
	}
	return fallback
}

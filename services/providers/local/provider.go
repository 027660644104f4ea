package local

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/upb/llm-gateway/services"
	"github.com/upb/llm-gateway/services/providers"
)

// Output is what an in-process model returns for a prompt
type Output struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
}

// Model runs inference in-process. Implementations must honor ctx.
type Model func(ctx context.Context, prompt string, params providers.Params) (Output, error)

// EmbedFunc produces an embedding in-process
type EmbedFunc func(ctx context.Context, text string) ([]float64, error)

// Provider wraps an injected in-process model
type Provider struct {
	*providers.Base
	model Model
	embed EmbedFunc
}

// Option customizes a Provider
type Option func(*Provider)

// WithEmbedding declares embedding support backed by fn
func WithEmbedding(fn EmbedFunc) Option {
	return func(p *Provider) { p.embed = fn }
}

// New creates a local provider. A nil model is rejected.
func New(config providers.ProviderConfig, model Model, opts ...Option) (*Provider, error) {
	if model == nil {
		return nil, services.NewValidationError("local provider requires a model")
	}
	if config.Name == "" {
		config.Name = providers.TypeLocal
	}
	if config.Model == "" {
		config.Model = "local"
	}

	p := &Provider{model: model}
	for _, opt := range opts {
		opt(p)
	}

	p.Base = providers.NewBase(config, providers.Capabilities{
		Completions: true,
		Chat:        true,
		Embeddings:  p.embed != nil,
	})
	return p, nil
}

// Generate runs the model on the prompt
func (p *Provider) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return p.run(ctx, req.Prompt, req.Params)
}

// Chat flattens the user turns into a single prompt
func (p *Provider) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return p.run(ctx, FlattenMessages(req.Messages), req.Params)
}

// Embed delegates to the configured embedding function
func (p *Provider) Embed(ctx context.Context, text string) ([]float64, error) {
	if p.embed == nil {
		return nil, services.NewValidationError("embeddings not supported by provider " + p.Name())
	}
	vector, err := p.embed(ctx, text)
	if err != nil {
		return nil, p.Fail(p.classify(err))
	}
	return vector, nil
}

// HealthCheck pings the model with a one-token prompt
func (p *Provider) HealthCheck(ctx context.Context) bool {
	if _, err := p.run(ctx, "ping", providers.Params{MaxTokens: 1}); err != nil {
		return false
	}
	return true
}

func (p *Provider) run(ctx context.Context, prompt string, params providers.Params) (*providers.Result, error) {
	startTime := time.Now()
	config := p.Config()
	if params.MaxTokens == 0 {
		params.MaxTokens = config.MaxTokens
	}

	out, err := p.model(ctx, prompt, params)
	if err != nil {
		return nil, p.Fail(p.classify(err))
	}
	p.Succeed()

	finishReason := out.FinishReason
	if finishReason == "" {
		finishReason = "stop"
	}
	id := uuid.NewString()

	return &providers.Result{
		ID:               id,
		Text:             out.Text,
		Model:            config.Model,
		Provider:         p.Name(),
		TokensUsed:       out.PromptTokens + out.CompletionTokens,
		PromptTokens:     out.PromptTokens,
		CompletionTokens: out.CompletionTokens,
		Latency:          time.Since(startTime),
		FinishReason:     finishReason,
		Metadata:         map[string]interface{}{"id": id},
		CreatedAt:        time.Now(),
	}, nil
}

// classify treats cancellation and deadlines as transport failures and
// everything else as a model failure
func (p *Provider) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return providers.NewTransportError(p.Name(), err)
	}
	if services.GetErrorType(err) != "" {
		return err
	}
	return providers.NewProtocolError(p.Name(), "local model failed", err)
}

// FlattenMessages joins the user turns of a conversation into one prompt
func FlattenMessages(messages []providers.ChatMessage) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Role == "user" {
			parts = append(parts, m.Content)
		}
	}
	if len(parts) == 0 && len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return strings.Join(parts, "\n")
}

// Echo returns the prompt unchanged, truncated to MaxTokens words. It backs
// the "echo" model of manifest entries with type local.
func Echo(ctx context.Context, prompt string, params providers.Params) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	words := strings.Fields(prompt)
	out := Output{PromptTokens: len(words), FinishReason: "stop"}
	if params.MaxTokens > 0 && len(words) > params.MaxTokens {
		words = words[:params.MaxTokens]
		out.FinishReason = "length"
	}
	out.Text = strings.Join(words, " ")
	out.CompletionTokens = len(words)
	return out, nil
}

package local

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/llm-gateway/services"
	"github.com/upb/llm-gateway/services/providers"
)

func echoModel(ctx context.Context, prompt string, params providers.Params) (Output, error) {
	return Output{
		Text:             strings.ToUpper(prompt),
		PromptTokens:     len(strings.Fields(prompt)),
		CompletionTokens: params.MaxTokens,
	}, nil
}

func TestNew(t *testing.T) {
	_, err := New(providers.ProviderConfig{}, nil)
	assert.True(t, services.IsValidationError(err))

	p, err := New(providers.ProviderConfig{}, echoModel)
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())
	assert.False(t, p.Capabilities().Embeddings)

	p, err = New(providers.ProviderConfig{Name: "tiny"}, echoModel,
		WithEmbedding(func(ctx context.Context, text string) ([]float64, error) {
			return []float64{1, 0}, nil
		}))
	require.NoError(t, err)
	assert.True(t, p.Capabilities().Embeddings)

	vector, err := p.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, vector)
}

func TestProvider_Generate(t *testing.T) {
	p, err := New(providers.ProviderConfig{Name: "tiny", Model: "phi", MaxTokens: 8}, echoModel)
	require.NoError(t, err)

	result, err := p.Generate(context.Background(), &providers.GenerateRequest{Prompt: "hello world"})
	require.NoError(t, err)

	assert.Equal(t, "HELLO WORLD", result.Text)
	assert.Equal(t, "phi", result.Model)
	assert.Equal(t, "tiny", result.Provider)
	assert.Equal(t, 2, result.PromptTokens)
	assert.Equal(t, 8, result.CompletionTokens)
	assert.Equal(t, 10, result.TokensUsed)
	assert.Equal(t, "stop", result.FinishReason)
}

func TestProvider_ChatFlattensUserTurns(t *testing.T) {
	var seen string
	p, err := New(providers.ProviderConfig{}, func(ctx context.Context, prompt string, params providers.Params) (Output, error) {
		seen = prompt
		return Output{Text: "ok"}, nil
	})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), &providers.ChatRequest{Messages: []providers.ChatMessage{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", seen)
}

func TestFlattenMessages_NoUserTurn(t *testing.T) {
	got := FlattenMessages([]providers.ChatMessage{{Role: "system", Content: "only system"}})
	assert.Equal(t, "only system", got)
}

func TestProvider_Failures(t *testing.T) {
	tests := []struct {
		name       string
		modelErr   error
		wantType   services.ErrorType
		wantStatus providers.Status
	}{
		{"model error", errors.New("out of memory"), services.ErrorTypeProtocol, providers.StatusError},
		{"deadline", context.DeadlineExceeded, services.ErrorTypeTransport, providers.StatusAvailable},
		{"cancelled", context.Canceled, services.ErrorTypeTransport, providers.StatusAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(providers.ProviderConfig{}, func(ctx context.Context, prompt string, params providers.Params) (Output, error) {
				return Output{}, tt.modelErr
			})
			require.NoError(t, err)

			_, err = p.Generate(context.Background(), &providers.GenerateRequest{Prompt: "hi"})
			assert.Equal(t, tt.wantType, services.GetErrorType(err))
			assert.Equal(t, tt.wantStatus, p.Status())
			assert.False(t, p.HealthCheck(context.Background()))
		})
	}
}

func TestProvider_HonorsContext(t *testing.T) {
	p, err := New(providers.ProviderConfig{}, func(ctx context.Context, prompt string, params providers.Params) (Output, error) {
		select {
		case <-time.After(time.Second):
			return Output{Text: "late"}, nil
		case <-ctx.Done():
			return Output{}, ctx.Err()
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = p.Generate(ctx, &providers.GenerateRequest{Prompt: "hi"})
	assert.True(t, services.IsTransportError(err))
	assert.Contains(t, err.Error(), "request timed out")
	assert.True(t, p.IsAvailable(), "a timeout keeps the provider selectable")
}

func TestProvider_EmbedUnsupported(t *testing.T) {
	p, err := New(providers.ProviderConfig{}, echoModel)
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "x")
	assert.True(t, services.IsValidationError(err))
}

func TestEcho(t *testing.T) {
	out, err := Echo(context.Background(), "one two three", providers.Params{})
	require.NoError(t, err)
	assert.Equal(t, Output{Text: "one two three", PromptTokens: 3, CompletionTokens: 3, FinishReason: "stop"}, out)

	out, err = Echo(context.Background(), "one two three", providers.Params{MaxTokens: 2})
	require.NoError(t, err)
	assert.Equal(t, "one two", out.Text)
	assert.Equal(t, "length", out.FinishReason)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Echo(ctx, "x", providers.Params{})
	assert.ErrorIs(t, err, context.Canceled)
}

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openaisdk "github.com/sashabaranov/go-openai"

	"github.com/upb/llm-gateway/services/providers"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultModel          = "gpt-3.5-turbo"
	defaultEmbeddingModel = "text-embedding-ada-002"
	healthCheckTimeout    = 5 * time.Second
)

// Adapter implements providers.Provider for any OpenAI-compatible API
// (OpenAI, Azure OpenAI, vLLM, llama.cpp server, ...)
type Adapter struct {
	*providers.Base
	client     *openaisdk.Client
	httpClient *http.Client
}

// Option customizes an Adapter
type Option func(*options)

type options struct {
	capabilities *providers.Capabilities
	httpClient   *http.Client
}

// WithCapabilities overrides the declared capabilities
func WithCapabilities(c providers.Capabilities) Option {
	return func(o *options) { o.capabilities = &c }
}

// WithHTTPClient replaces the upstream HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New creates a new OpenAI-compatible adapter. Providers of type "azure"
// use the Azure deployment URL scheme.
func New(config providers.ProviderConfig, opts ...Option) *Adapter {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if config.Name == "" {
		config.Name = providers.TypeOpenAI
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = defaultEmbeddingModel
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = providers.NewHTTPClient(config)
	}

	var clientConfig openaisdk.ClientConfig
	if config.Type == providers.TypeAzure {
		clientConfig = openaisdk.DefaultAzureConfig(config.APIKey, config.BaseURL)
	} else {
		clientConfig = openaisdk.DefaultConfig(config.APIKey)
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = httpClient

	capabilities := providers.Capabilities{
		Completions: true,
		Chat:        true,
		Embeddings:  true,
		Streaming:   true,
	}
	if o.capabilities != nil {
		capabilities = *o.capabilities
	}

	return &Adapter{
		Base:       providers.NewBase(config, capabilities),
		client:     openaisdk.NewClientWithConfig(clientConfig),
		httpClient: httpClient,
	}
}

// Generate performs a request against the completions endpoint. Models the
// upstream only serves through chat are routed to Chat transparently.
func (a *Adapter) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	config := a.Config()

	resp, err := a.client.CreateCompletion(ctx, openaisdk.CompletionRequest{
		Model:       config.Model,
		Prompt:      req.Prompt,
		MaxTokens:   providers.MaxTokensOr(req.MaxTokens, config.MaxTokens),
		Temperature: float32(providers.FloatOr(req.Temperature, config.Temperature)),
		TopP:        float32(providers.FloatOr(req.TopP, config.TopP)),
		Stop:        req.Stop,
	})
	if errors.Is(err, openaisdk.ErrCompletionUnsupportedModel) {
		return a.Chat(ctx, &providers.ChatRequest{
			Messages: []providers.ChatMessage{{Role: openaisdk.ChatMessageRoleUser, Content: req.Prompt}},
			Params:   req.Params,
		})
	}
	if err != nil {
		return nil, a.Fail(a.classify(err))
	}

	if len(resp.Choices) == 0 {
		return nil, a.Fail(providers.NewProtocolError(a.Name(), "no choices returned from API", nil))
	}
	a.Succeed()

	choice := resp.Choices[0]
	result := a.newResult(resp.ID, resp.Model, choice.Text, choice.FinishReason, resp.Usage, startTime)
	result.Metadata["created"] = resp.Created
	return result, nil
}

// Chat performs a chat completion request
func (a *Adapter) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	config := a.Config()

	messages := make([]openaisdk.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openaisdk.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
			Name:    msg.Name,
		}
	}

	resp, err := a.client.CreateChatCompletion(ctx, openaisdk.ChatCompletionRequest{
		Model:       config.Model,
		Messages:    messages,
		MaxTokens:   providers.MaxTokensOr(req.MaxTokens, config.MaxTokens),
		Temperature: float32(providers.FloatOr(req.Temperature, config.Temperature)),
		TopP:        float32(providers.FloatOr(req.TopP, config.TopP)),
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, a.Fail(a.classify(err))
	}

	if len(resp.Choices) == 0 {
		return nil, a.Fail(providers.NewProtocolError(a.Name(), "no choices returned from API", nil))
	}
	a.Succeed()

	choice := resp.Choices[0]
	result := a.newResult(resp.ID, resp.Model, choice.Message.Content, string(choice.FinishReason), resp.Usage, startTime)
	result.Metadata["role"] = choice.Message.Role
	if len(choice.Message.ToolCalls) > 0 {
		result.Metadata["tool_calls"] = choice.Message.ToolCalls
	}
	return result, nil
}

// Embed returns the embedding vector for text
func (a *Adapter) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openaisdk.EmbeddingRequest{
		Input: []string{text},
		Model: openaisdk.EmbeddingModel(a.Config().EmbeddingModel),
	})
	if err != nil {
		return nil, a.Fail(a.classify(err))
	}
	if len(resp.Data) == 0 {
		return nil, a.Fail(providers.NewProtocolError(a.Name(), "no embeddings returned from API", nil))
	}

	vector := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float64(v)
	}
	return vector, nil
}

// ListModels returns the model IDs served by the upstream
func (a *Adapter) ListModels(ctx context.Context) ([]string, error) {
	list, err := a.client.ListModels(ctx)
	if err != nil {
		return nil, a.classify(err)
	}

	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, m.ID)
	}
	return models, nil
}

// HealthCheck lists models as a minimal health check
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if _, err := a.client.ListModels(ctx); err != nil {
		a.Fail(a.classify(err))
		return false
	}

	a.Succeed()
	return true
}

// Close releases idle upstream connections
func (a *Adapter) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *Adapter) newResult(id, model, text, finishReason string, usage openaisdk.Usage, startTime time.Time) *providers.Result {
	if id == "" {
		id = uuid.NewString()
	}
	if model == "" {
		model = a.Config().Model
	}
	if finishReason == "" {
		finishReason = "stop"
	}

	return &providers.Result{
		ID:               id,
		Text:             text,
		Model:            model,
		Provider:         a.Name(),
		TokensUsed:       usage.TotalTokens,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Latency:          time.Since(startTime),
		FinishReason:     finishReason,
		Metadata: map[string]interface{}{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"id":                id,
		},
		CreatedAt: time.Now(),
	}
}

// classify maps client errors onto the gateway error taxonomy
func (a *Adapter) classify(err error) error {
	var apiErr *openaisdk.APIError
	if errors.As(err, &apiErr) {
		return providers.NewStatusError(a.Name(), apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openaisdk.RequestError
	if errors.As(err, &reqErr) {
		return providers.NewStatusError(a.Name(), reqErr.HTTPStatusCode, reqErr.Error())
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return providers.NewProtocolError(a.Name(), "malformed response", err)
	}

	return providers.NewTransportError(a.Name(), err)
}

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/upb/llm-gateway/services/providers"
)

const (
	defaultBaseURL     = "http://localhost:11434"
	defaultModel       = "llama3"
	healthCheckTimeout = 5 * time.Second
)

// Adapter implements providers.Provider over the native Ollama API
type Adapter struct {
	*providers.Base
	httpClient *http.Client
}

// New creates a new Ollama adapter
func New(config providers.ProviderConfig) *Adapter {
	if config.Name == "" {
		config.Name = providers.TypeOllama
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = config.Model
	}

	return &Adapter{
		Base: providers.NewBase(config, providers.Capabilities{
			Completions: true,
			Chat:        true,
			Embeddings:  true,
			Streaming:   true,
		}),
		httpClient: providers.NewHTTPClient(config),
	}
}

// Generate performs a request against /api/generate
func (a *Adapter) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	ollamaReq := &GenerateRequest{
		Model:   a.Config().Model,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: a.buildOptions(req.Params),
	}

	var ollamaResp GenerateResponse
	if err := a.post(ctx, "/api/generate", ollamaReq, &ollamaResp); err != nil {
		return nil, a.Fail(err)
	}
	a.Succeed()

	result := a.newResult(ollamaResp.Model, ollamaResp.Response, ollamaResp.DoneReason,
		ollamaResp.PromptEvalCount, ollamaResp.EvalCount, startTime)
	result.Metadata["total_duration_ns"] = ollamaResp.TotalDuration
	return result, nil
}

// Chat performs a request against /api/chat
func (a *Adapter) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	ollamaReq := &ChatRequest{
		Model:    a.Config().Model,
		Messages: make([]Message, len(req.Messages)),
		Stream:   false,
		Options:  a.buildOptions(req.Params),
	}
	for i, msg := range req.Messages {
		ollamaReq.Messages[i] = Message{Role: msg.Role, Content: msg.Content}
	}

	var ollamaResp ChatResponse
	if err := a.post(ctx, "/api/chat", ollamaReq, &ollamaResp); err != nil {
		return nil, a.Fail(err)
	}
	if ollamaResp.Message == nil {
		return nil, a.Fail(providers.NewProtocolError(a.Name(), "no message returned from API", nil))
	}
	a.Succeed()

	result := a.newResult(ollamaResp.Model, ollamaResp.Message.Content, ollamaResp.DoneReason,
		ollamaResp.PromptEvalCount, ollamaResp.EvalCount, startTime)
	result.Metadata["role"] = ollamaResp.Message.Role
	return result, nil
}

// Embed returns the embedding vector for text via /api/embeddings
func (a *Adapter) Embed(ctx context.Context, text string) ([]float64, error) {
	var resp EmbeddingResponse
	err := a.post(ctx, "/api/embeddings", &EmbeddingRequest{
		Model:  a.Config().EmbeddingModel,
		Prompt: text,
	}, &resp)
	if err != nil {
		return nil, a.Fail(err)
	}
	if len(resp.Embedding) == 0 {
		return nil, a.Fail(providers.NewProtocolError(a.Name(), "empty embedding returned from API", nil))
	}
	return resp.Embedding, nil
}

// ListModels returns the locally pulled models from /api/tags
func (a *Adapter) ListModels(ctx context.Context) ([]string, error) {
	var tags TagsResponse
	if err := a.get(ctx, "/api/tags", &tags); err != nil {
		return nil, err
	}

	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// HealthCheck lists /api/tags
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var tags TagsResponse
	if err := a.get(ctx, "/api/tags", &tags); err != nil {
		a.Fail(err)
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

// buildOptions converts sampling params to Ollama options, falling back to
// the provider defaults
func (a *Adapter) buildOptions(params providers.Params) *Options {
	config := a.Config()
	return &Options{
		NumPredict:  providers.MaxTokensOr(params.MaxTokens, config.MaxTokens),
		Temperature: providers.FloatOr(params.Temperature, config.Temperature),
		TopP:        providers.FloatOr(params.TopP, config.TopP),
		Stop:        params.Stop,
	}
}

func (a *Adapter) newResult(model, text, doneReason string, promptTokens, completionTokens int, startTime time.Time) *providers.Result {
	if model == "" {
		model = a.Config().Model
	}
	if doneReason == "" {
		doneReason = "stop"
	}
	id := uuid.NewString()

	return &providers.Result{
		ID:               id,
		Text:             text,
		Model:            model,
		Provider:         a.Name(),
		TokensUsed:       promptTokens + completionTokens,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Latency:          time.Since(startTime),
		FinishReason:     doneReason,
		Metadata: map[string]interface{}{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"id":                id,
		},
		CreatedAt: time.Now(),
	}
}

func (a *Adapter) post(ctx context.Context, path string, body, out interface{}) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return providers.NewProtocolError(a.Name(), "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Config().BaseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return providers.NewTransportError(a.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return a.do(httpReq, out)
}

func (a *Adapter) get(ctx context.Context, path string, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.Config().BaseURL+path, nil)
	if err != nil {
		return providers.NewTransportError(a.Name(), err)
	}
	return a.do(httpReq, out)
}

func (a *Adapter) do(httpReq *http.Request, out interface{}) error {
	if key := a.Config().APIKey; key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return providers.NewTransportError(a.Name(), err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return providers.NewTransportError(a.Name(), fmt.Errorf("failed to read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return providers.NewProtocolError(a.Name(), "failed to unmarshal response", err)
	}
	return nil
}

// handleErrorResponse extracts the Ollama error message when present
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return providers.NewStatusError(a.Name(), statusCode, errResp.Error)
	}
	return providers.NewStatusError(a.Name(), statusCode, string(body))
}

// Ollama-specific request/response types

type Options struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type GenerateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Options *Options `json:"options,omitempty"`
}

type GenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	TotalDuration   int64  `json:"total_duration"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

type ChatResponse struct {
	Model           string   `json:"model"`
	Message         *Message `json:"message"`
	Done            bool     `json:"done"`
	DoneReason      string   `json:"done_reason"`
	PromptEvalCount int      `json:"prompt_eval_count"`
	EvalCount       int      `json:"eval_count"`
}

type EmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type EmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

type TagsResponse struct {
	Models []ModelTag `json:"models"`
}

type ModelTag struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

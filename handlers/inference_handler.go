package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/middleware"
	"github.com/upb/llm-gateway/services/gateway"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/utils"
)

// Response headers set on every successful completion
const (
	ProviderHeader = "X-Provider"
	CacheHeader    = "X-Cache"
)

// SamplingParams are the optional sampling fields shared by both endpoints
type SamplingParams struct {
	MaxTokens   *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP        *float64 `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	Stop        []string `json:"stop,omitempty"`

	// Provider overrides routing. The X-Provider header or ?provider= query wins.
	Provider string `json:"provider,omitempty"`

	// Cache set to false bypasses the response cache for this call
	Cache *bool `json:"cache,omitempty"`
}

func (s SamplingParams) params() providers.Params {
	p := providers.Params{
		Temperature: s.Temperature,
		TopP:        s.TopP,
		Stop:        s.Stop,
	}
	if s.MaxTokens != nil {
		p.MaxTokens = *s.MaxTokens
	}
	return p
}

// CompletionRequest represents an OpenAI-compatible text completion request
type CompletionRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt" validate:"required"`
	SamplingParams
}

// ChatCompletionRequest represents an OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	SamplingParams
}

// ChatMessage represents a single chat message
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant tool"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionChoice is a text completion choice
type CompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

// CompletionResponse represents an OpenAI-compatible text completion response
type CompletionResponse struct {
	ID        string             `json:"id"`
	Object    string             `json:"object"`
	Created   int64              `json:"created"`
	Model     string             `json:"model"`
	Provider  string             `json:"provider"`
	Cached    bool               `json:"cached"`
	LatencyMs int64              `json:"latency_ms"`
	Choices   []CompletionChoice `json:"choices"`
	Usage     Usage              `json:"usage"`
}

// ChatChoice is a chat completion choice
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionResponse represents an OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID        string       `json:"id"`
	Object    string       `json:"object"`
	Created   int64        `json:"created"`
	Model     string       `json:"model"`
	Provider  string       `json:"provider"`
	Cached    bool         `json:"cached"`
	LatencyMs int64        `json:"latency_ms"`
	Choices   []ChatChoice `json:"choices"`
	Usage     Usage        `json:"usage"`
}

// Completer is the part of the gateway the inference endpoints need
type Completer interface {
	Generate(ctx context.Context, req *providers.GenerateRequest, opts ...gateway.CallOption) (*providers.Result, error)
	Chat(ctx context.Context, req *providers.ChatRequest, opts ...gateway.CallOption) (*providers.Result, error)
}

// InferenceHandler handles completion requests
type InferenceHandler struct {
	gateway Completer
	logger  *zap.Logger
}

// NewInferenceHandler creates a new InferenceHandler
func NewInferenceHandler(gw Completer, logger *zap.Logger) *InferenceHandler {
	return &InferenceHandler{
		gateway: gw,
		logger:  logger,
	}
}

// HandleCompletion handles POST /v1/completions
func (h *InferenceHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req CompletionRequest
	if !h.decode(w, r, requestID, &req) {
		return
	}

	result, err := h.gateway.Generate(ctx, &providers.GenerateRequest{
		Prompt: req.Prompt,
		Params: req.params(),
	}, h.callOptions(r, requestID, req.SamplingParams)...)
	if err != nil {
		h.logger.Warn("completion failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	setResultHeaders(w, result)
	response := CompletionResponse{
		ID:        result.ID,
		Object:    "text_completion",
		Created:   result.CreatedAt.Unix(),
		Model:     result.Model,
		Provider:  result.Provider,
		Cached:    result.Cached(),
		LatencyMs: result.Latency.Milliseconds(),
		Choices: []CompletionChoice{{
			Index:        0,
			Text:         result.Text,
			FinishReason: result.FinishReason,
		}},
		Usage: usageOf(result),
	}

	if err := utils.WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleChatCompletion handles POST /v1/chat/completions
func (h *InferenceHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req ChatCompletionRequest
	if !h.decode(w, r, requestID, &req) {
		return
	}

	messages := make([]providers.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = providers.ChatMessage{Role: m.Role, Content: m.Content, Name: m.Name}
	}

	h.logger.Debug("processing chat completion",
		zap.String("request_id", requestID),
		zap.Int("messages", len(messages)))

	result, err := h.gateway.Chat(ctx, &providers.ChatRequest{
		Messages: messages,
		Params:   req.params(),
	}, h.callOptions(r, requestID, req.SamplingParams)...)
	if err != nil {
		h.logger.Warn("chat completion failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	setResultHeaders(w, result)
	response := ChatCompletionResponse{
		ID:        result.ID,
		Object:    "chat.completion",
		Created:   result.CreatedAt.Unix(),
		Model:     result.Model,
		Provider:  result.Provider,
		Cached:    result.Cached(),
		LatencyMs: result.Latency.Milliseconds(),
		Choices: []ChatChoice{{
			Index: 0,
			Message: ChatMessage{
				Role:    "assistant",
				Content: result.Text,
			},
			FinishReason: result.FinishReason,
		}},
		Usage: usageOf(result),
	}

	if err := utils.WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *InferenceHandler) decode(w http.ResponseWriter, r *http.Request, requestID string, dst interface{}) bool {
	if err := utils.DecodeJSON(w, r, dst); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return false
	}
	return true
}

func (h *InferenceHandler) callOptions(r *http.Request, requestID string, s SamplingParams) []gateway.CallOption {
	var opts []gateway.CallOption
	if requestID != "" {
		opts = append(opts, gateway.WithRequestID(requestID))
	}
	if name := providerOverride(r, s.Provider); name != "" {
		opts = append(opts, gateway.WithProvider(name))
	}
	if s.Cache != nil && !*s.Cache {
		opts = append(opts, gateway.WithoutCache())
	}
	return opts
}

func providerOverride(r *http.Request, fromBody string) string {
	if name := r.Header.Get(ProviderHeader); name != "" {
		return name
	}
	if name := r.URL.Query().Get("provider"); name != "" {
		return name
	}
	return fromBody
}

func setResultHeaders(w http.ResponseWriter, result *providers.Result) {
	w.Header().Set(ProviderHeader, result.Provider)
	if result.Cached() {
		w.Header().Set(CacheHeader, "HIT")
	} else {
		w.Header().Set(CacheHeader, "MISS")
	}
}

func usageOf(result *providers.Result) Usage {
	total := result.TokensUsed
	if total == 0 {
		total = result.PromptTokens + result.CompletionTokens
	}
	return Usage{
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalTokens:      total,
	}
}

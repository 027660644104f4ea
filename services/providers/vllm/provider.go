package vllm

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/providers/openai"
)

const (
	defaultBaseURL     = "http://localhost:8000"
	healthCheckTimeout = 5 * time.Second
)

// Provider talks to a vLLM server. Generation goes through the OpenAI
// compatible API under /v1; health uses the native /health endpoint.
type Provider struct {
	*openai.Adapter
	healthURL  string
	httpClient *http.Client
}

// New creates a vLLM provider rooted at config.BaseURL (without /v1)
func New(config providers.ProviderConfig) *Provider {
	if config.Name == "" {
		config.Name = providers.TypeVLLM
	}
	root := strings.TrimSuffix(strings.TrimRight(config.BaseURL, "/"), "/v1")
	if root == "" {
		root = defaultBaseURL
	}
	config.BaseURL = root + "/v1"

	httpClient := providers.NewHTTPClient(config)

	return &Provider{
		Adapter: openai.New(config,
			openai.WithHTTPClient(httpClient),
			openai.WithCapabilities(providers.Capabilities{
				Completions: true,
				Chat:        true,
				Streaming:   true,
			}),
		),
		healthURL:  root + "/health",
		httpClient: httpClient,
	}
}

// HealthCheck calls GET /health
func (p *Provider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		p.Fail(providers.NewTransportError(p.Name(), err))
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.Fail(providers.NewTransportError(p.Name(), err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.Fail(providers.NewStatusError(p.Name(), resp.StatusCode, string(body)))
		return false
	}

	p.Succeed()
	return true
}

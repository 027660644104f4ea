package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/app"
	"github.com/upb/llm-gateway/config"
	"github.com/upb/llm-gateway/handlers"
	"github.com/upb/llm-gateway/internal/observability"
	"github.com/upb/llm-gateway/middleware"
	"github.com/upb/llm-gateway/services/gateway"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/providers/local"
)

func testDependencies(t *testing.T) *app.Dependencies {
	t.Helper()

	registry := prometheus.NewRegistry()
	recorder, err := observability.NewPrometheusRecorder(registry)
	require.NoError(t, err)

	cfg := gateway.DefaultConfig()
	cfg.CacheCleanupInterval = 0
	gw, err := gateway.New(cfg, zap.NewNop(), gateway.WithRecorder(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close(context.Background()) })

	p, err := local.New(providers.ProviderConfig{Name: "echo", Type: providers.TypeLocal, Model: "echo"}, local.Echo)
	require.NoError(t, err)
	require.NoError(t, gw.RegisterProvider(p, true, nil))

	return &app.Dependencies{
		Config: &config.Config{Server: config.ServerConfig{
			AllowedOrigins: []string{"*"},
			WriteTimeout:   10 * time.Second,
		}},
		Logger:  zap.NewNop(),
		Gateway: gw,
		Metrics: registry,
	}
}

func TestSetupRoutes(t *testing.T) {
	router := SetupRoutes(testDependencies(t))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"liveness", http.MethodGet, "/healthz", "", http.StatusOK},
		{"readiness", http.MethodGet, "/readyz", "", http.StatusOK},
		{"completion", http.MethodPost, "/v1/completions", `{"prompt":"hello gateway"}`, http.StatusOK},
		{"chat completion", http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`, http.StatusOK},
		{"list providers", http.MethodGet, "/v1/providers", "", http.StatusOK},
		{"provider health", http.MethodGet, "/v1/providers/health", "", http.StatusOK},
		{"models unsupported", http.MethodGet, "/v1/providers/echo/models", "", http.StatusBadRequest},
		{"stats", http.MethodGet, "/v1/stats", "", http.StatusOK},
		{"clear cache", http.MethodDelete, "/v1/cache", "", http.StatusNoContent},
		{"usage not mounted without database", http.MethodGet, "/v1/usage", "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestSetupRoutes_CompletionHeaders(t *testing.T) {
	router := SetupRoutes(testDependencies(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(`{"prompt":"hello"}`))
	req.Header.Set(middleware.RequestIDHeader, "client-id-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "client-id-1", w.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "echo", w.Header().Get(handlers.ProviderHeader))
	assert.Equal(t, "MISS", w.Header().Get(handlers.CacheHeader))
}

func TestSetupRoutes_Metrics(t *testing.T) {
	router := SetupRoutes(testDependencies(t))

	router.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(`{"prompt":"count"}`)))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `llm_gateway_provider_calls_total{operation="generate",outcome="success",provider="echo"} 1`)
}

func TestSetupRoutes_Auth(t *testing.T) {
	deps := testDependencies(t)
	deps.AuthMiddleware = middleware.NewAuthMiddleware(middleware.NewHMACValidator("s3cret", "", ""), zap.NewNop())
	router := SetupRoutes(deps)

	t.Run("health stays public", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("api requires a token", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token is accepted", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, err := token.SignedString([]byte("s3cret"))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

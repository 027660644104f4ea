package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/upb/llm-gateway/models"
	"github.com/upb/llm-gateway/services/gateway"
)

var _ gateway.Recorder = (*PrometheusRecorder)(nil)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
		enabled zapcore.Level
	}{
		{"json info", "info", "json", false, zapcore.InfoLevel},
		{"console debug", "DEBUG", "text", false, zapcore.DebugLevel},
		{"default format", "warn", "", false, zapcore.WarnLevel},
		{"bad level", "verbose", "json", true, 0},
		{"bad format", "info", "xml", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.enabled-1))
		})
	}
}

func TestPrometheusRecorder(t *testing.T) {
	registry := prometheus.NewRegistry()
	r, err := NewPrometheusRecorder(registry)
	require.NoError(t, err)

	r.ObserveCall("ollama", models.OperationGenerate, gateway.OutcomeSuccess, 200*time.Millisecond, 42)
	r.ObserveCall("ollama", models.OperationGenerate, gateway.OutcomeFailure, time.Second, 0)
	r.ObserveCacheLookup(models.OperationChat, true)
	r.ObserveCacheLookup(models.OperationChat, false)
	r.ObserveCacheLookup(models.OperationChat, false)
	r.ObserveRateLimited("vllm")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.calls.WithLabelValues("ollama", "generate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.calls.WithLabelValues("ollama", "generate", "failure")))
	assert.Equal(t, 42.0, testutil.ToFloat64(r.tokens.WithLabelValues("ollama")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cache.WithLabelValues("chat", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cache.WithLabelValues("chat", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rateLimited.WithLabelValues("vllm")))

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "llm_gateway_provider_calls_total"))
}

func TestPrometheusRecorder_Registration(t *testing.T) {
	_, err := NewPrometheusRecorder(nil)
	assert.Error(t, err)

	registry := prometheus.NewRegistry()
	_, err = NewPrometheusRecorder(registry)
	require.NoError(t, err)
	_, err = NewPrometheusRecorder(registry)
	assert.Error(t, err, "collectors already registered")
}

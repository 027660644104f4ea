package gateway

import (
	"sync"
	"time"
)

// ProviderMetrics holds the running counters for one provider. It is
// created at registration and only mutated by the gateway after a call.
type ProviderMetrics struct {
	mu              sync.Mutex
	totalRequests   int64
	successful      int64
	failed          int64
	totalTokens     int64
	totalLatency    time.Duration
	lastRequestTime time.Time
	lastError       string
}

// MetricsSnapshot is a point-in-time copy of ProviderMetrics
type MetricsSnapshot struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	TotalTokens        int64         `json:"total_tokens"`
	TotalLatency       time.Duration `json:"total_latency"`
	AvgLatency         time.Duration `json:"avg_latency"`
	SuccessRate        float64       `json:"success_rate"`
	LastRequestTime    *time.Time    `json:"last_request_time,omitempty"`
	LastError          string        `json:"last_error,omitempty"`
}

func (m *ProviderMetrics) recordSuccess(tokens int, latency time.Duration, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.successful++
	m.totalTokens += int64(tokens)
	m.totalLatency += latency
	m.lastRequestTime = at
}

func (m *ProviderMetrics) recordFailure(err error, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.failed++
	if err != nil {
		m.lastError = err.Error()
	}
	m.lastRequestTime = at
}

// AvgLatency is total latency divided by successful calls, 0 before any success
func (m *ProviderMetrics) AvgLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.avgLatency()
}

func (m *ProviderMetrics) avgLatency() time.Duration {
	if m.successful == 0 {
		return 0
	}
	return m.totalLatency / time.Duration(m.successful)
}

// Snapshot returns a copy of the counters with derived rates
func (m *ProviderMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	successRate := 1.0
	if m.totalRequests > 0 {
		successRate = float64(m.successful) / float64(m.totalRequests)
	}

	snap := MetricsSnapshot{
		TotalRequests:      m.totalRequests,
		SuccessfulRequests: m.successful,
		FailedRequests:     m.failed,
		TotalTokens:        m.totalTokens,
		TotalLatency:       m.totalLatency,
		AvgLatency:         m.avgLatency(),
		SuccessRate:        successRate,
		LastError:          m.lastError,
	}
	if !m.lastRequestTime.IsZero() {
		t := m.lastRequestTime
		snap.LastRequestTime = &t
	}
	return snap
}

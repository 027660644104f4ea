package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageStatus represents the outcome of a gateway call
type UsageStatus string

const (
	UsageStatusCompleted UsageStatus = "completed"
	UsageStatusFailed    UsageStatus = "failed"
	UsageStatusCached    UsageStatus = "cached"
)

// Operation names the gateway call that produced a usage record
type Operation string

const (
	OperationGenerate Operation = "generate"
	OperationChat     Operation = "chat"
)

// UsageRecord is one row of the usage ledger. A failed attempt against a
// single provider and the final outcome of a call are both recorded.
type UsageRecord struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	RequestID string      `json:"request_id" db:"request_id"`
	Operation Operation   `json:"operation" db:"operation"`
	Status    UsageStatus `json:"status" db:"status"`

	// Provider details
	Provider string `json:"provider" db:"provider"`
	Model    string `json:"model" db:"model"`

	// Metrics
	PromptTokens     int `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" db:"total_tokens"`
	LatencyMs        int `json:"latency_ms" db:"latency_ms"`

	// Error handling
	ErrorType    *string `json:"error_type,omitempty" db:"error_type"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the UsageRecord model
func (UsageRecord) TableName() string {
	return "gateway_usage"
}

// NewUsageRecord creates a new UsageRecord instance
func NewUsageRecord(requestID string, operation Operation, provider string) *UsageRecord {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &UsageRecord{
		ID:        uuid.New(),
		RequestID: requestID,
		Operation: operation,
		Provider:  provider,
		CreatedAt: time.Now(),
	}
}

// MarkAsCompleted fills the record from a successful call
func (u *UsageRecord) MarkAsCompleted(model string, promptTokens, completionTokens, totalTokens int, latency time.Duration) {
	u.Status = UsageStatusCompleted
	u.Model = model
	u.PromptTokens = promptTokens
	u.CompletionTokens = completionTokens
	u.TotalTokens = totalTokens
	if u.TotalTokens == 0 {
		u.TotalTokens = promptTokens + completionTokens
	}
	u.LatencyMs = int(latency.Milliseconds())
}

// MarkAsCached fills the record from a cache hit
func (u *UsageRecord) MarkAsCached(model string, totalTokens int) {
	u.Status = UsageStatusCached
	u.Model = model
	u.TotalTokens = totalTokens
}

// MarkAsFailed records a failed provider attempt
func (u *UsageRecord) MarkAsFailed(errorType, errorMessage string, latency time.Duration) {
	u.Status = UsageStatusFailed
	u.ErrorType = &errorType
	u.ErrorMessage = &errorMessage
	u.LatencyMs = int(latency.Milliseconds())
}

// UsageSummary aggregates the ledger per provider
type UsageSummary struct {
	Provider     string  `json:"provider" db:"provider"`
	Requests     int64   `json:"requests" db:"requests"`
	Failures     int64   `json:"failures" db:"failures"`
	CachedHits   int64   `json:"cached_hits" db:"cached_hits"`
	TotalTokens  int64   `json:"total_tokens" db:"total_tokens"`
	AvgLatencyMs float64 `json:"avg_latency_ms" db:"avg_latency_ms"`
}

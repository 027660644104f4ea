package gateway

import (
	"context"
	"time"

	"github.com/upb/llm-gateway/models"
)

// Call outcomes reported to a Recorder
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder receives gateway events, typically for metrics export
type Recorder interface {
	ObserveCall(provider string, operation models.Operation, outcome string, latency time.Duration, tokens int)
	ObserveCacheLookup(operation models.Operation, hit bool)
	ObserveRateLimited(provider string)
}

// UsageLog persists usage records, one per provider attempt and cache hit.
// The gateway writes them in batches from a background goroutine.
type UsageLog interface {
	RecordBatch(ctx context.Context, records []*models.UsageRecord) error
}

type nopRecorder struct{}

func (nopRecorder) ObserveCall(string, models.Operation, string, time.Duration, int) {}
func (nopRecorder) ObserveCacheLookup(models.Operation, bool)                        {}
func (nopRecorder) ObserveRateLimited(string)                                        {}

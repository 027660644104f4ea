package repositories

import (
	"context"
	"time"

	"github.com/upb/llm-gateway/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// UsageRepository persists the gateway usage ledger
type UsageRepository interface {
	// RecordBatch inserts records atomically
	RecordBatch(ctx context.Context, records []*models.UsageRecord) error

	// ListByRequestID returns every attempt recorded for a request, oldest first
	ListByRequestID(ctx context.Context, requestID string) ([]*models.UsageRecord, error)

	// ListRecent returns the newest records with pagination
	ListRecent(ctx context.Context, limit, offset int) ([]*models.UsageRecord, error)

	// SummaryByProvider aggregates records created within [start, end]
	SummaryByProvider(ctx context.Context, start, end time.Time) ([]*models.UsageSummary, error)

	// DeleteBefore prunes records older than cutoff and returns how many were removed
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Usage UsageRepository
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/models"
	"github.com/upb/llm-gateway/repositories"
)

const usageColumns = `id, request_id, operation, status, provider, model,
	prompt_tokens, completion_tokens, total_tokens, latency_ms,
	error_type, error_message, created_at`

// UsageRepository implements the repositories.UsageRepository interface
type UsageRepository struct {
	db     *DB
	tx     repositories.TransactionManager
	logger *zap.Logger
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB, logger *zap.Logger) *UsageRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageRepository{
		db:     db,
		tx:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

// Record inserts a usage record
func (r *UsageRepository) Record(ctx context.Context, record *models.UsageRecord) error {
	query := `
		INSERT INTO gateway_usage (` + usageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		record.ID,
		record.RequestID,
		record.Operation,
		record.Status,
		record.Provider,
		record.Model,
		record.PromptTokens,
		record.CompletionTokens,
		record.TotalTokens,
		record.LatencyMs,
		record.ErrorType,
		record.ErrorMessage,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	r.logger.Debug("usage recorded",
		zap.String("request_id", record.RequestID),
		zap.String("provider", record.Provider),
		zap.String("status", string(record.Status)))
	return nil
}

// RecordBatch inserts records in a single transaction
func (r *UsageRepository) RecordBatch(ctx context.Context, records []*models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.tx.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		for _, record := range records {
			if err := r.Record(ctx, record); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListByRequestID returns all attempts for a request, oldest first
func (r *UsageRepository) ListByRequestID(ctx context.Context, requestID string) ([]*models.UsageRecord, error) {
	query := `
		SELECT ` + usageColumns + `
		FROM gateway_usage
		WHERE request_id = $1
		ORDER BY created_at ASC
	`
	return r.queryUsage(ctx, query, requestID)
}

// ListRecent returns the newest records with pagination
func (r *UsageRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.UsageRecord, error) {
	query := `
		SELECT ` + usageColumns + `
		FROM gateway_usage
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	return r.queryUsage(ctx, query, limit, offset)
}

// SummaryByProvider aggregates the ledger per provider
func (r *UsageRepository) SummaryByProvider(ctx context.Context, start, end time.Time) ([]*models.UsageSummary, error) {
	query := `
		SELECT
			provider,
			COUNT(*) AS requests,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) AS failures,
			COUNT(CASE WHEN status = 'cached' THEN 1 END) AS cached_hits,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COALESCE(AVG(latency_ms), 0) AS avg_latency_ms
		FROM gateway_usage
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY provider
		ORDER BY provider
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	defer rows.Close()

	var summaries []*models.UsageSummary
	for rows.Next() {
		s := &models.UsageSummary{}
		if err := rows.Scan(&s.Provider, &s.Requests, &s.Failures, &s.CachedHits, &s.TotalTokens, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summary rows: %w", err)
	}

	return summaries, nil
}

// DeleteBefore prunes old records
func (r *UsageRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, `DELETE FROM gateway_usage WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("usage records pruned", zap.Int64("removed", removed), zap.Time("cutoff", cutoff))
	return removed, nil
}

func (r *UsageRepository) queryUsage(ctx context.Context, query string, args ...interface{}) ([]*models.UsageRecord, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var records []*models.UsageRecord
	for rows.Next() {
		rec := &models.UsageRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.RequestID,
			&rec.Operation,
			&rec.Status,
			&rec.Provider,
			&rec.Model,
			&rec.PromptTokens,
			&rec.CompletionTokens,
			&rec.TotalTokens,
			&rec.LatencyMs,
			&rec.ErrorType,
			&rec.ErrorMessage,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage rows: %w", err)
	}

	return records, nil
}

package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/models"
)

// Defaults for the usage writer when the config leaves a field at zero
const (
	defaultUsageBufferSize    = 1024
	defaultUsageBatchSize     = 50
	defaultUsageFlushInterval = time.Second
	defaultUsageWriteTimeout  = 5 * time.Second
)

// usageWriter batches usage records off the request path. Records are
// dropped when the buffer is full so a slow ledger never stalls a call.
type usageWriter struct {
	log      UsageLog
	logger   *zap.Logger
	batch    int
	interval time.Duration
	timeout  time.Duration

	mu      sync.RWMutex
	closed  bool
	records chan *models.UsageRecord
	done    chan struct{}
	dropped atomic.Uint64
}

func newUsageWriter(log UsageLog, config Config, logger *zap.Logger) *usageWriter {
	w := &usageWriter{
		log:      log,
		logger:   logger,
		batch:    orDefault(config.UsageBatchSize, defaultUsageBatchSize),
		interval: orDefaultDuration(config.UsageFlushInterval, defaultUsageFlushInterval),
		timeout:  orDefaultDuration(config.UsageWriteTimeout, defaultUsageWriteTimeout),
		records:  make(chan *models.UsageRecord, orDefault(config.UsageBufferSize, defaultUsageBufferSize)),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// enqueue never blocks; it reports false when the record was dropped
func (w *usageWriter) enqueue(record *models.UsageRecord) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}

	select {
	case w.records <- record:
		return true
	default:
		if w.dropped.Add(1)%100 == 1 {
			w.logger.Warn("usage buffer full, dropping records",
				zap.Uint64("dropped", w.dropped.Load()),
			)
		}
		return false
	}
}

func (w *usageWriter) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	pending := make([]*models.UsageRecord, 0, w.batch)
	for {
		select {
		case record, ok := <-w.records:
			if !ok {
				w.flush(pending)
				return
			}
			pending = append(pending, record)
			if len(pending) >= w.batch {
				w.flush(pending)
				pending = make([]*models.UsageRecord, 0, w.batch)
			}
		case <-ticker.C:
			if len(pending) > 0 {
				w.flush(pending)
				pending = make([]*models.UsageRecord, 0, w.batch)
			}
		}
	}
}

func (w *usageWriter) flush(records []*models.UsageRecord) {
	if len(records) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.log.RecordBatch(ctx, records); err != nil {
		w.logger.Error("failed to record usage",
			zap.Int("records", len(records)),
			zap.Error(err),
		)
	}
}

// close stops accepting records and waits for the final flush until ctx is done
func (w *usageWriter) close(ctx context.Context) {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.records)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("closing with usage records still being written")
	}
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func orDefaultDuration(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

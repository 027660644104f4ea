package gateway

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/models"
)

// stalledUsageLog blocks every write until released or its context ends
type stalledUsageLog struct {
	entered chan struct{}
	release chan struct{}
	writes  atomic.Int32
}

func newStalledUsageLog() *stalledUsageLog {
	return &stalledUsageLog{entered: make(chan struct{}, 64), release: make(chan struct{})}
}

func (s *stalledUsageLog) RecordBatch(ctx context.Context, records []*models.UsageRecord) error {
	s.writes.Add(1)
	s.entered <- struct{}{}
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestUsageLog_StalledLedgerNeverBlocksCalls(t *testing.T) {
	usage := newStalledUsageLog()
	cfg := testConfig()
	cfg.UsageBatchSize = 1
	cfg.UsageWriteTimeout = 50 * time.Millisecond

	g, err := New(cfg, zap.NewNop(), WithUsageLog(usage))
	require.NoError(t, err)
	register(t, g, newFake("a", nil))

	_, err = g.Generate(context.Background(), prompt("hi"))
	require.NoError(t, err)

	select {
	case <-usage.entered:
	case <-time.After(time.Second):
		t.Fatal("usage record was never written")
	}

	done := make(chan error, 1)
	go func() {
		result, err := g.Generate(context.Background(), prompt("hi"))
		if err == nil && !result.Cached() {
			t.Error("second call should be a cache hit")
		}
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cache hit blocked on the usage ledger")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, g.Close(ctx))
	assert.EqualValues(t, 2, usage.writes.Load(), "every write is bounded by the write timeout")
}

func TestUsageWriter_DropsWhenBufferFull(t *testing.T) {
	usage := newStalledUsageLog()
	w := newUsageWriter(usage, Config{UsageBufferSize: 1, UsageBatchSize: 1, UsageWriteTimeout: time.Minute}, zap.NewNop())

	require.True(t, w.enqueue(models.NewUsageRecord("r1", models.OperationGenerate, "a")))
	<-usage.entered

	assert.True(t, w.enqueue(models.NewUsageRecord("r2", models.OperationGenerate, "a")), "fills the buffer")
	assert.False(t, w.enqueue(models.NewUsageRecord("r3", models.OperationGenerate, "a")))
	assert.EqualValues(t, 1, w.dropped.Load())

	close(usage.release)
	w.close(context.Background())
	assert.EqualValues(t, 2, usage.writes.Load())
	assert.False(t, w.enqueue(models.NewUsageRecord("r4", models.OperationGenerate, "a")), "closed writer")
}

func TestUsageWriter_FlushesOnInterval(t *testing.T) {
	usage := &mockUsageLog{}
	usage.On("RecordBatch", mock.Anything, mock.Anything).Return(nil)
	w := newUsageWriter(usage, Config{UsageBatchSize: 100, UsageFlushInterval: 10 * time.Millisecond}, zap.NewNop())
	t.Cleanup(func() { w.close(context.Background()) })

	w.enqueue(models.NewUsageRecord("r1", models.OperationChat, "a"))

	assert.Eventually(t, func() bool { return len(usage.Records()) == 1 }, time.Second, 5*time.Millisecond)
}

package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/status"
)

func testConfig() config.QueueConfig {
	cfg := config.QueueConfig{}
	cfg.SetDefaults()
	return cfg
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(testConfig(), prometheus.NewRegistry())
	t.Cleanup(m.Stop)
	return m
}

func TestProcessAndWaitComplete(t *testing.T) {
	m := newTestManager(t)

	var processed atomic.Int64
	require.NoError(t, m.Bind(EmbeddingQueue, func(ctx context.Context, msg *Message) error {
		processed.Add(1)
		return nil
	}))
	require.NoError(t, m.Bind(SemanticQueue, func(ctx context.Context, msg *Message) error {
		return nil
	}))
	m.Start()

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := m.Enqueue(ctx, EmbeddingQueue, i)
		require.NoError(t, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snaps, err := m.WaitComplete(waitCtx)
	require.NoError(t, err)
	assert.EqualValues(t, 20, processed.Load())
	assert.EqualValues(t, 20, snaps[EmbeddingQueue].Processed)
	assert.Zero(t, snaps[EmbeddingQueue].Pending)
	assert.Zero(t, snaps[EmbeddingQueue].InFlight)
}

func TestRetryThenSuccess(t *testing.T) {
	m := newTestManager(t)

	var calls atomic.Int64
	require.NoError(t, m.Bind(EmbeddingQueue, func(ctx context.Context, msg *Message) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, m.Bind(SemanticQueue, func(ctx context.Context, msg *Message) error { return nil }))
	m.Start()

	_, err := m.Enqueue(context.Background(), EmbeddingQueue, "x")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snaps, err := m.WaitComplete(waitCtx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, snaps[EmbeddingQueue].Processed)
	assert.Zero(t, snaps[EmbeddingQueue].ErrorCount)
}

func TestExhaustedAttemptsRecorded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2
	m := NewManager(cfg, prometheus.NewRegistry())
	t.Cleanup(m.Stop)

	require.NoError(t, m.Bind(EmbeddingQueue, func(ctx context.Context, msg *Message) error {
		return errors.New("permanent")
	}))
	require.NoError(t, m.Bind(SemanticQueue, func(ctx context.Context, msg *Message) error { return nil }))
	m.Start()

	id, err := m.Enqueue(context.Background(), EmbeddingQueue, "x")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snaps, err := m.WaitComplete(waitCtx)
	require.NoError(t, err)

	snap := snaps[EmbeddingQueue]
	assert.EqualValues(t, 1, snap.ErrorCount)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, id, snap.Errors[0].MessageID)
	assert.Equal(t, 2, snap.Errors[0].Attempts)
	assert.Contains(t, snap.Errors[0].Error, "permanent")
}

func TestIdleImpliesProcessed(t *testing.T) {
	var done atomic.Int64
	q := newQueue("handoff", 16, 1, 1, 10, func(ctx context.Context, msg *Message) error {
		time.Sleep(200 * time.Microsecond)
		done.Add(1)
		return nil
	}, nil)
	q.start()
	t.Cleanup(q.stop)

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		_, err := q.Enqueue(ctx, i)
		require.NoError(t, err)
		deadline := time.Now().Add(5 * time.Second)
		for !q.Idle() {
			if time.Now().After(deadline) {
				t.Fatal("queue never drained")
			}
			time.Sleep(50 * time.Microsecond)
		}
		// An idle queue means the handler has finished, not merely that
		// the message left the channel.
		assert.EqualValues(t, i+1, done.Load())
	}
}

func TestEnqueueBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 1
	m := NewManager(cfg, prometheus.NewRegistry())
	t.Cleanup(m.Stop)

	// No workers started; the queue fills immediately.
	_, err := m.Enqueue(context.Background(), EmbeddingQueue, "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Enqueue(ctx, EmbeddingQueue, "second")
	assert.Equal(t, status.CodeResourceExhausted, status.CodeOf(err))
}

func TestWaitCompleteDeadline(t *testing.T) {
	m := newTestManager(t)
	block := make(chan struct{})
	require.NoError(t, m.Bind(EmbeddingQueue, func(ctx context.Context, msg *Message) error {
		<-block
		return nil
	}))
	require.NoError(t, m.Bind(SemanticQueue, func(ctx context.Context, msg *Message) error { return nil }))
	m.Start()
	defer close(block)

	_, err := m.Enqueue(context.Background(), EmbeddingQueue, "x")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = m.WaitComplete(ctx)
	assert.Equal(t, status.CodeDeadlineExceeded, status.CodeOf(err))
}

func TestUnknownQueue(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Enqueue(context.Background(), "bogus", nil)
	assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err))
	assert.Error(t, m.Bind("bogus", nil))
}

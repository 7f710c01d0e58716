package queue

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/status"
)

const (
	// EmbeddingQueue vectorizes nodes; SemanticQueue generates abstracts
	// and overviews through the VLM.
	EmbeddingQueue = "embedding"
	SemanticQueue  = "semantic"

	waitPollInterval = 500 * time.Millisecond
)

// Manager owns the named queues and their shared lifecycle.
type Manager struct {
	queues map[string]*Queue
}

// NewManager builds both queues. Handlers are bound later, before Start,
// so the processor layer can close over the manager for follow-up
// enqueues.
func NewManager(cfg config.QueueConfig, reg prometheus.Registerer) *Manager {
	metrics := newQueueMetrics(reg)
	m := &Manager{queues: make(map[string]*Queue)}
	m.queues[EmbeddingQueue] = newQueue(
		EmbeddingQueue, cfg.Capacity, cfg.EmbeddingWorkers, cfg.MaxAttempts, cfg.MaxErrors, nil, metrics)
	m.queues[SemanticQueue] = newQueue(
		SemanticQueue, cfg.Capacity, cfg.SemanticWorkers, cfg.MaxAttempts, cfg.MaxErrors, nil, metrics)
	return m
}

// Bind attaches the handler for a queue. Must happen before Start.
func (m *Manager) Bind(name string, h Handler) error {
	q, ok := m.queues[name]
	if !ok {
		return status.InvalidArgument("unknown queue: %s", name)
	}
	q.handler = h
	return nil
}

// Start launches every queue's worker pool.
func (m *Manager) Start() {
	for _, q := range m.queues {
		q.start()
	}
}

// Stop halts workers. Pending messages are dropped; persistent state is
// untouched, so a restart re-derives work from the tree.
func (m *Manager) Stop() {
	for _, q := range m.queues {
		q.stop()
	}
}

// Enqueue places a payload on a named queue.
func (m *Manager) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	q, ok := m.queues[name]
	if !ok {
		return "", status.InvalidArgument("unknown queue: %s", name)
	}
	return q.Enqueue(ctx, payload)
}

// Snapshot reports every queue's state.
func (m *Manager) Snapshot() map[string]Snapshot {
	out := make(map[string]Snapshot, len(m.queues))
	for name, q := range m.queues {
		out[name] = q.Snapshot()
	}
	return out
}

// WaitComplete blocks until every queue is idle, polling twice a second.
// Context expiry maps to DEADLINE_EXCEEDED.
func (m *Manager) WaitComplete(ctx context.Context) (map[string]Snapshot, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		idle := true
		for _, q := range m.queues {
			if !q.Idle() {
				idle = false
				break
			}
		}
		if idle {
			return m.Snapshot(), nil
		}
		select {
		case <-ctx.Done():
			return m.Snapshot(), status.DeadlineExceeded("queues still busy").WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

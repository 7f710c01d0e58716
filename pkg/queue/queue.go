// Package queue runs the async processing stages: bounded FIFO queues with
// worker pools, retry with exponential backoff, and a completion barrier
// for callers that need to observe a drained pipeline.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/status"
)

const (
	retryBaseBackoff = time.Second
	retryMaxBackoff  = 60 * time.Second
)

// Message is one queue item.
type Message struct {
	ID          string    `json:"id"`
	Payload     any       `json:"-"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Handler processes one message. A returned error triggers retry until
// the attempt budget is spent.
type Handler func(ctx context.Context, msg *Message) error

// ItemError records a message that exhausted its attempts.
type ItemError struct {
	MessageID string    `json:"message_id"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
}

// Snapshot is the observable state of one queue.
type Snapshot struct {
	Pending    int64       `json:"pending"`
	InFlight   int64       `json:"in_flight"`
	Processed  int64       `json:"processed"`
	ErrorCount int64       `json:"error_count"`
	Errors     []ItemError `json:"errors"`
}

// Queue is one bounded FIFO with a worker pool.
type Queue struct {
	name        string
	ch          chan *Message
	handler     Handler
	workers     int
	maxAttempts int
	maxErrors   int
	log         *slog.Logger

	// pending counts queued messages plus retries waiting out a backoff.
	pending    atomic.Int64
	inFlight   atomic.Int64
	processed  atomic.Int64
	errorCount atomic.Int64

	errMu  sync.Mutex
	errors []ItemError

	metrics *queueMetrics

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func newQueue(name string, capacity, workers, maxAttempts, maxErrors int, handler Handler, m *queueMetrics) *Queue {
	return &Queue{
		name:        name,
		ch:          make(chan *Message, capacity),
		handler:     handler,
		workers:     workers,
		maxAttempts: maxAttempts,
		maxErrors:   maxErrors,
		log:         logger.GetLogger("queue"),
		metrics:     m,
		stopCh:      make(chan struct{}),
	}
}

func (q *Queue) start() {
	q.startOnce.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.worker()
		}
	})
}

func (q *Queue) stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.wg.Wait()
	})
}

// Enqueue blocks with backpressure when the queue is full; a context
// deadline turns into RESOURCE_EXHAUSTED.
func (q *Queue) Enqueue(ctx context.Context, payload any) (string, error) {
	msg := &Message{
		ID:          uuid.NewString(),
		Payload:     payload,
		MaxAttempts: q.maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	q.pending.Add(1)
	select {
	case q.ch <- msg:
		if q.metrics != nil {
			q.metrics.enqueued.WithLabelValues(q.name).Inc()
		}
		return msg.ID, nil
	case <-ctx.Done():
		q.pending.Add(-1)
		return "", status.ResourceExhausted("queue %s is full", q.name).WithCause(ctx.Err())
	case <-q.stopCh:
		q.pending.Add(-1)
		return "", status.Unavailable("queue %s is shut down", q.name)
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case msg := <-q.ch:
			q.process(msg)
		}
	}
}

func (q *Queue) process(msg *Message) {
	// Claim the message as in-flight before releasing its pending count,
	// so Idle never observes both at zero while work remains.
	q.inFlight.Add(1)
	q.pending.Add(-1)
	defer q.inFlight.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	msg.Attempts++
	err := q.handler(ctx, msg)
	if err == nil {
		q.processed.Add(1)
		if q.metrics != nil {
			q.metrics.processed.WithLabelValues(q.name).Inc()
		}
		return
	}

	if msg.Attempts >= msg.MaxAttempts {
		q.recordError(msg, err)
		return
	}

	backoff := retryBaseBackoff << (msg.Attempts - 1)
	if backoff > retryMaxBackoff {
		backoff = retryMaxBackoff
	}
	q.log.Warn("message failed, retrying",
		"queue", q.name, "message", msg.ID, "attempt", msg.Attempts, "backoff", backoff, "error", err)

	q.pending.Add(1)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case <-q.stopCh:
			q.pending.Add(-1)
		case <-time.After(backoff):
			select {
			case q.ch <- msg:
			case <-q.stopCh:
				q.pending.Add(-1)
			}
		}
	}()
}

func (q *Queue) recordError(msg *Message, err error) {
	q.errorCount.Add(1)
	if q.metrics != nil {
		q.metrics.failed.WithLabelValues(q.name).Inc()
	}
	q.log.Error("message dropped after max attempts",
		"queue", q.name, "message", msg.ID, "attempts", msg.Attempts, "error", err)

	q.errMu.Lock()
	defer q.errMu.Unlock()
	q.errors = append(q.errors, ItemError{
		MessageID: msg.ID,
		Error:     err.Error(),
		Attempts:  msg.Attempts,
		At:        time.Now().UTC(),
	})
	if len(q.errors) > q.maxErrors {
		q.errors = q.errors[len(q.errors)-q.maxErrors:]
	}
}

// Idle reports whether nothing is queued or being processed.
func (q *Queue) Idle() bool {
	return q.pending.Load() == 0 && q.inFlight.Load() == 0
}

// Snapshot returns the queue's observable state.
func (q *Queue) Snapshot() Snapshot {
	q.errMu.Lock()
	errs := make([]ItemError, len(q.errors))
	copy(errs, q.errors)
	q.errMu.Unlock()
	return Snapshot{
		Pending:    q.pending.Load(),
		InFlight:   q.inFlight.Load(),
		Processed:  q.processed.Load(),
		ErrorCount: q.errorCount.Load(),
		Errors:     errs,
	}
}

type queueMetrics struct {
	enqueued  *prometheus.CounterVec
	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

func newQueueMetrics(reg prometheus.Registerer) *queueMetrics {
	m := &queueMetrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openviking",
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Messages accepted per queue.",
		}, []string{"queue"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openviking",
			Subsystem: "queue",
			Name:      "processed_total",
			Help:      "Messages processed successfully per queue.",
		}, []string{"queue"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openviking",
			Subsystem: "queue",
			Name:      "failed_total",
			Help:      "Messages dropped after exhausting retries per queue.",
		}, []string{"queue"}),
	}
	if reg != nil {
		reg.MustRegister(m.enqueued, m.processed, m.failed)
	}
	return m
}

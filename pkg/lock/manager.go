package lock

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/store"
)

// journalDir is the backend directory holding one JSON record per
// non-terminal transaction.
const journalDir = "transactions"

const (
	defaultTimeout     = time.Hour
	defaultMaxParallel = 8
	cleanupInterval    = time.Minute
)

// ManagerOption tunes a Manager.
type ManagerOption func(*Manager)

// WithTimeout overrides the stale-transaction timeout.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = d }
}

// WithMaxParallel overrides the lock-acquisition parallelism for rm/mv.
func WithMaxParallel(n int) ManagerOption {
	return func(m *Manager) { m.maxParallel = n }
}

// Manager owns transaction lifecycle and the path-lock discipline.
type Manager struct {
	backend     store.Backend
	locks       *pathLock
	timeout     time.Duration
	maxParallel int
	log         *slog.Logger

	mu  sync.Mutex
	txs map[string]*Record

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewManager creates a transaction manager over the given backend.
func NewManager(backend store.Backend, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend:     backend,
		locks:       &pathLock{backend: backend},
		timeout:     defaultTimeout,
		maxParallel: defaultMaxParallel,
		log:         logger.GetLogger("lock"),
		txs:         make(map[string]*Record),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the stale-transaction sweeper.
func (m *Manager) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.sweepStale()
			}
		}
	}()
}

// Stop terminates the sweeper and forgets active transactions.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.done
		m.mu.Lock()
		m.txs = make(map[string]*Record)
		m.mu.Unlock()
	})
}

func (m *Manager) sweepStale() {
	now := time.Now().UTC()
	var stale []*Record
	m.mu.Lock()
	for _, tx := range m.txs {
		if tx.age(now) > m.timeout {
			stale = append(stale, tx)
		}
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, tx := range stale {
		m.log.Warn("transaction timed out", "tx", tx.ID)
		_ = m.Rollback(ctx, tx)
	}
}

func (m *Manager) journalPath(txID string) string {
	return journalDir + "/" + txID + ".json"
}

// writeJournal persists the record at its current status.
func (m *Manager) writeJournal(ctx context.Context, tx *Record) {
	tx.mu.Lock()
	data, err := json.MarshalIndent(tx, "", "  ")
	tx.mu.Unlock()
	if err != nil {
		return
	}
	if err := m.backend.WriteBytes(ctx, m.journalPath(tx.ID), data); err != nil {
		m.log.Warn("journal write failed", "tx", tx.ID, "error", err)
	}
}

func (m *Manager) transition(ctx context.Context, tx *Record, s Status) {
	tx.setStatus(s)
	m.writeJournal(ctx, tx)
}

// Begin creates and journals a new transaction.
func (m *Manager) Begin(ctx context.Context, initInfo map[string]any) *Record {
	tx := newRecord(initInfo)
	m.mu.Lock()
	m.txs[tx.ID] = tx
	m.mu.Unlock()
	m.writeJournal(ctx, tx)
	return tx
}

// AcquireNormal locks a single directory for a write operation.
func (m *Manager) AcquireNormal(ctx context.Context, tx *Record, dir string) error {
	m.transition(ctx, tx, StatusAcquire)
	if err := m.locks.acquireNormal(ctx, dir, tx); err != nil {
		m.transition(ctx, tx, StatusFail)
		return err
	}
	m.transition(ctx, tx, StatusExec)
	return nil
}

// AcquireRM locks a whole subtree for deletion.
func (m *Manager) AcquireRM(ctx context.Context, tx *Record, dir string) error {
	m.transition(ctx, tx, StatusAcquire)
	if err := m.locks.acquireRM(ctx, dir, tx, m.maxParallel); err != nil {
		m.transition(ctx, tx, StatusFail)
		return err
	}
	m.transition(ctx, tx, StatusExec)
	return nil
}

// AcquireMV locks the source subtree and the destination directory.
func (m *Manager) AcquireMV(ctx context.Context, tx *Record, src, dst string) error {
	m.transition(ctx, tx, StatusAcquire)
	if err := m.locks.acquireMV(ctx, src, dst, tx, m.maxParallel); err != nil {
		m.transition(ctx, tx, StatusFail)
		return err
	}
	m.transition(ctx, tx, StatusExec)
	return nil
}

// RemapLocks rewrites held lock paths after a subtree move, so release
// finds the lock files at their new location.
func (m *Manager) RemapLocks(ctx context.Context, tx *Record, srcPrefix, dstPrefix string) {
	tx.mu.Lock()
	for i, lp := range tx.Locks {
		if lp == srcPrefix || strings.HasPrefix(lp, srcPrefix+"/") {
			tx.Locks[i] = dstPrefix + strings.TrimPrefix(lp, srcPrefix)
		}
	}
	tx.mu.Unlock()
	m.writeJournal(ctx, tx)
}

// Commit marks the transaction committed and releases its locks.
func (m *Manager) Commit(ctx context.Context, tx *Record) error {
	m.transition(ctx, tx, StatusCommit)
	return m.release(ctx, tx)
}

// Rollback executes the recorded compensating actions in reverse order and
// releases all locks.
func (m *Manager) Rollback(ctx context.Context, tx *Record) error {
	m.transition(ctx, tx, StatusFail)
	m.applyRollback(ctx, tx)
	return m.release(ctx, tx)
}

func (m *Manager) applyRollback(ctx context.Context, tx *Record) {
	tx.mu.Lock()
	ops := make([]RollbackOp, len(tx.RollbackInfo))
	copy(ops, tx.RollbackInfo)
	tx.mu.Unlock()

	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		switch op.Kind {
		case "move":
			if err := m.backend.Move(ctx, op.Dst, op.Src); err != nil && !status.IsNotFound(err) {
				m.log.Warn("rollback move failed", "tx", tx.ID, "src", op.Dst, "dst", op.Src, "error", err)
			}
		case "delete":
			if err := m.backend.Delete(ctx, op.Path); err != nil && !status.IsNotFound(err) {
				m.log.Warn("rollback delete failed", "tx", tx.ID, "path", op.Path, "error", err)
			}
		}
	}
}

func (m *Manager) release(ctx context.Context, tx *Record) error {
	m.transition(ctx, tx, StatusReleasing)
	m.locks.release(ctx, tx)
	m.transition(ctx, tx, StatusReleased)

	// Terminal records leave the journal.
	_ = m.backend.Delete(ctx, m.journalPath(tx.ID))

	m.mu.Lock()
	delete(m.txs, tx.ID)
	m.mu.Unlock()
	return nil
}

// Recover scans the journal for transactions that never reached RELEASED,
// applies their rollback actions, and clears their lock files. Called once
// at startup before any other operation.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	entries, err := m.backend.List(ctx, journalDir)
	if err != nil {
		if status.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}

	recovered := 0
	for _, e := range entries {
		if e.IsDir || !strings.HasSuffix(e.Name, ".json") {
			continue
		}
		path := journalDir + "/" + e.Name
		data, err := m.backend.ReadBytes(ctx, path)
		if err != nil {
			continue
		}
		var tx Record
		if err := json.Unmarshal(data, &tx); err != nil {
			m.log.Warn("unreadable journal record", "path", path, "error", err)
			_ = m.backend.Delete(ctx, path)
			continue
		}
		if tx.Status == StatusReleased {
			_ = m.backend.Delete(ctx, path)
			continue
		}

		m.log.Warn("rolling back unfinished transaction", "tx", tx.ID, "status", tx.Status)
		m.applyRollback(ctx, &tx)
		for i := len(tx.Locks) - 1; i >= 0; i-- {
			m.locks.removeLockFile(ctx, tx.Locks[i])
		}
		_ = m.backend.Delete(ctx, path)
		recovered++
	}
	return recovered, nil
}

// Count returns the number of active transactions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

// Snapshot reports the active transactions for the observer endpoint.
func (m *Manager) Snapshot() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.txs))
	for _, tx := range m.txs {
		tx.mu.Lock()
		out = append(out, map[string]any{
			"id":         tx.ID,
			"status":     tx.Status,
			"locks":      len(tx.Locks),
			"created_at": tx.CreatedAt,
			"updated_at": tx.UpdatedAt,
		})
		tx.mu.Unlock()
	}
	return out
}

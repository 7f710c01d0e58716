// Package lock serializes mutating operations on overlapping subtrees.
// Locks are materialized as .path.ovlock files on the backend so that a
// second process (or a crashed predecessor) observes them; every transaction
// is journaled to the backend at each status transition and rolled back on
// startup if it never reached RELEASED.
package lock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a transaction lifecycle state.
type Status string

const (
	StatusInit      Status = "INIT"
	StatusAcquire   Status = "ACQUIRE"
	StatusExec      Status = "EXEC"
	StatusCommit    Status = "COMMIT"
	StatusFail      Status = "FAIL"
	StatusReleasing Status = "RELEASING"
	StatusReleased  Status = "RELEASED"
)

// RollbackOp is one compensating action recorded before a destructive step.
type RollbackOp struct {
	// Kind is "move" (move Dst back to Src) or "delete" (remove Path).
	Kind string `json:"kind"`
	Src  string `json:"src,omitempty"`
	Dst  string `json:"dst,omitempty"`
	Path string `json:"path,omitempty"`
}

// Record is the journaled transaction state.
type Record struct {
	mu sync.Mutex

	ID           string         `json:"id"`
	Status       Status         `json:"status"`
	Locks        []string       `json:"locks"`
	InitInfo     map[string]any `json:"init_info,omitempty"`
	RollbackInfo []RollbackOp   `json:"rollback_info,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func newRecord(initInfo map[string]any) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:        uuid.NewString(),
		Status:    StatusInit,
		InitInfo:  initInfo,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Record) setStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = s
	r.UpdatedAt = time.Now().UTC()
}

func (r *Record) addLock(lockPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Locks = append(r.Locks, lockPath)
	r.UpdatedAt = time.Now().UTC()
}

// AddRollback records a compensating action for the rollback path.
func (r *Record) AddRollback(op RollbackOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RollbackInfo = append(r.RollbackInfo, op)
	r.UpdatedAt = time.Now().UTC()
}

func (r *Record) snapshotLocks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Locks))
	copy(out, r.Locks)
	return out
}

func (r *Record) age(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Sub(r.UpdatedAt)
}

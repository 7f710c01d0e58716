package lock

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/store"
)

// LockFileName is the marker file placed in a locked directory. Its content
// is the owning transaction id.
const LockFileName = ".path.ovlock"

// pathLock implements directory locking over the backend.
type pathLock struct {
	backend store.Backend
}

func lockFilePath(dir string) string {
	return strings.TrimSuffix(dir, "/") + "/" + LockFileName
}

func parentDir(dir string) string {
	dir = strings.TrimSuffix(dir, "/")
	i := strings.LastIndex(dir, "/")
	if i <= 0 {
		return ""
	}
	return dir[:i]
}

// lockedByOther reports whether the lock file exists and names a different
// transaction. A missing or unreadable lock file counts as unlocked.
func (p *pathLock) lockedByOther(ctx context.Context, lockPath, txID string) bool {
	data, err := p.backend.ReadBytes(ctx, lockPath)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) != txID
}

func (p *pathLock) createLockFile(ctx context.Context, lockPath, txID string) error {
	return p.backend.WriteBytes(ctx, lockPath, []byte(txID))
}

func (p *pathLock) ownsLock(ctx context.Context, lockPath, txID string) bool {
	data, err := p.backend.ReadBytes(ctx, lockPath)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == txID
}

func (p *pathLock) removeLockFile(ctx context.Context, lockPath string) {
	// The lock file may already be gone; that is fine.
	_ = p.backend.Delete(ctx, lockPath)
}

// acquireNormal locks a single directory: check target and parent are free,
// create the lock file, re-check the parent, then verify ownership.
func (p *pathLock) acquireNormal(ctx context.Context, dir string, tx *Record) error {
	txID := tx.ID
	lockPath := lockFilePath(dir)
	parent := parentDir(dir)

	if _, err := p.backend.Stat(ctx, dir); err != nil {
		return status.NotFound("lock target does not exist: %s", dir)
	}
	if p.lockedByOther(ctx, lockPath, txID) {
		return status.New(status.CodeAborted, "path locked by another transaction: %s", dir)
	}
	if parent != "" && p.lockedByOther(ctx, lockFilePath(parent), txID) {
		return status.New(status.CodeAborted, "parent path locked: %s", parent)
	}

	if err := p.createLockFile(ctx, lockPath, txID); err != nil {
		return status.Internal("create lock file %s", lockPath).WithCause(err)
	}

	// The parent may have been locked between the check and our create.
	if parent != "" && p.lockedByOther(ctx, lockFilePath(parent), txID) {
		p.removeLockFile(ctx, lockPath)
		return status.New(status.CodeAborted, "parent path locked after acquire: %s", parent)
	}
	if !p.ownsLock(ctx, lockPath, txID) {
		return status.New(status.CodeAborted, "lock ownership lost: %s", dir)
	}

	tx.addLock(lockPath)
	return nil
}

// collectSubdirs returns every descendant directory of dir.
func (p *pathLock) collectSubdirs(ctx context.Context, dir string) ([]string, error) {
	var out []string
	entries, err := p.backend.List(ctx, dir)
	if err != nil {
		if status.IsNotFound(err) {
			return nil, err
		}
		return out, nil
	}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		child := strings.TrimSuffix(dir, "/") + "/" + e.Name
		out = append(out, child)
		sub, err := p.collectSubdirs(ctx, child)
		if err == nil {
			out = append(out, sub...)
		}
	}
	return out, nil
}

// acquireRM locks a whole subtree bottom-up with bounded parallelism. On any
// failure the already-created lock files are removed in reverse order.
func (p *pathLock) acquireRM(ctx context.Context, dir string, tx *Record, maxParallel int) error {
	txID := tx.ID
	if _, err := p.backend.Stat(ctx, dir); err != nil {
		return status.NotFound("lock target does not exist: %s", dir)
	}

	subdirs, err := p.collectSubdirs(ctx, dir)
	if err != nil {
		return err
	}
	// Deepest first.
	sort.Slice(subdirs, func(i, j int) bool {
		return strings.Count(subdirs[i], "/") > strings.Count(subdirs[j], "/")
	})

	var acquired []string
	fail := func(cause error) error {
		for i := len(acquired) - 1; i >= 0; i-- {
			p.removeLockFile(ctx, acquired[i])
		}
		return cause
	}

	for i := 0; i < len(subdirs); i += maxParallel {
		batch := subdirs[i:min(i+maxParallel, len(subdirs))]
		g, gctx := errgroup.WithContext(ctx)
		for _, sub := range batch {
			lp := lockFilePath(sub)
			g.Go(func() error {
				if p.lockedByOther(gctx, lp, txID) {
					return status.New(status.CodeAborted, "path locked by another transaction: %s", sub)
				}
				return p.createLockFile(gctx, lp, txID)
			})
		}
		if err := g.Wait(); err != nil {
			return fail(err)
		}
		for _, sub := range batch {
			acquired = append(acquired, lockFilePath(sub))
		}
	}

	target := lockFilePath(dir)
	if p.lockedByOther(ctx, target, txID) {
		return fail(status.New(status.CodeAborted, "path locked by another transaction: %s", dir))
	}
	if err := p.createLockFile(ctx, target, txID); err != nil {
		return fail(status.Internal("create lock file %s", target).WithCause(err))
	}
	acquired = append(acquired, target)

	for _, lp := range acquired {
		tx.addLock(lp)
	}
	return nil
}

// acquireMV locks the source subtree rm-style, then the destination parent.
func (p *pathLock) acquireMV(ctx context.Context, src, dst string, tx *Record, maxParallel int) error {
	if err := p.acquireRM(ctx, src, tx, maxParallel); err != nil {
		return err
	}
	if err := p.acquireNormal(ctx, dst, tx); err != nil {
		p.release(ctx, tx)
		return err
	}
	return nil
}

// release removes every lock held by the transaction, LIFO.
func (p *pathLock) release(ctx context.Context, tx *Record) {
	locks := tx.snapshotLocks()
	for i := len(locks) - 1; i >= 0; i-- {
		p.removeLockFile(ctx, locks[i])
	}
	tx.mu.Lock()
	tx.Locks = nil
	tx.mu.Unlock()
}

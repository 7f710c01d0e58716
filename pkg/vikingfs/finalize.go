package vikingfs

import (
	"context"
	"fmt"
	"strings"

	"github.com/openviking/openviking/pkg/lock"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
)

// maxUniqueAttempts bounds the suffix search during collision resolution.
const maxUniqueAttempts = 100

// ResolveUniqueURI returns base when it is free, otherwise the first free
// base_1, base_2, ... variant.
func (fs *FS) ResolveUniqueURI(ctx context.Context, base uri.URI) (uri.URI, error) {
	exists, err := fs.Exists(ctx, base)
	if err != nil {
		return uri.URI{}, err
	}
	if !exists {
		return base, nil
	}
	parent, hasParent := base.Parent()
	name := base.Name()
	for i := 1; i <= maxUniqueAttempts; i++ {
		var candidate uri.URI
		if hasParent {
			candidate = parent.Join(fmt.Sprintf("%s_%d", name, i))
		} else {
			candidate = uri.Root(base.Scope()).Join(fmt.Sprintf("%s_%d", name, i))
		}
		exists, err := fs.Exists(ctx, candidate)
		if err != nil {
			return uri.URI{}, err
		}
		if !exists {
			return candidate, nil
		}
	}
	return uri.URI{}, status.AlreadyExists(
		"no free name for %s after %d attempts", base, maxUniqueAttempts)
}

// FinalizeFromTemp moves a fully parsed subtree out of temp staging into
// its final location. The temp root must hold exactly one document
// directory. Returns the finalized root URI; on failure the target is
// untouched and the temp subtree is cleaned up.
func (fs *FS) FinalizeFromTemp(ctx context.Context, tempRoot uri.URI, target uri.URI) (uri.URI, error) {
	if tempRoot.Scope() != uri.ScopeTemp {
		return uri.URI{}, status.InvalidArgument("finalize requires a temp URI, got %s", tempRoot)
	}

	docName, err := fs.soleDocDir(ctx, tempRoot)
	if err != nil {
		return uri.URI{}, err
	}
	docURI := tempRoot.Join(docName)

	base := target
	if base.IsZero() {
		base = uri.Root(uri.ScopeResources).JoinSanitized(docName)
	}
	final, err := fs.ResolveUniqueURI(ctx, base)
	if err != nil {
		return uri.URI{}, err
	}

	finalParent, ok := final.Parent()
	parentPath := string(final.Scope())
	if ok {
		parentPath = BackendPath(finalParent)
	}
	if err := fs.backend.Mkdir(ctx, parentPath, true); err != nil {
		return uri.URI{}, err
	}

	tx := fs.txs.Begin(ctx, map[string]any{
		"op":   "finalize",
		"temp": tempRoot.String(),
		"dst":  final.String(),
	})
	if err := fs.txs.AcquireNormal(ctx, tx, parentPath); err != nil {
		return uri.URI{}, err
	}

	if err := fs.moveSubtree(ctx, tx, BackendPath(docURI), BackendPath(final)); err != nil {
		_ = fs.txs.Rollback(ctx, tx)
		_ = fs.DeleteTemp(ctx, tempRoot)
		return uri.URI{}, err
	}

	if err := fs.rewriteMetaURIs(ctx, final); err != nil {
		_ = fs.txs.Rollback(ctx, tx)
		_ = fs.DeleteTemp(ctx, tempRoot)
		return uri.URI{}, err
	}

	if err := fs.txs.Commit(ctx, tx); err != nil {
		return uri.URI{}, err
	}
	if err := fs.DeleteTemp(ctx, tempRoot); err != nil {
		fs.log.Warn("temp cleanup failed", "temp", tempRoot.String(), "error", err)
	}
	return final, nil
}

// soleDocDir returns the single document directory under the temp root.
func (fs *FS) soleDocDir(ctx context.Context, tempRoot uri.URI) (string, error) {
	entries, err := fs.backend.List(ctx, BackendPath(tempRoot))
	if err != nil {
		return "", err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir && !strings.HasPrefix(e.Name, ".") {
			dirs = append(dirs, e.Name)
		}
	}
	if len(dirs) != 1 {
		return "", status.FailedPrecondition(
			"temp root %s must hold exactly one document directory, found %d", tempRoot, len(dirs))
	}
	return dirs[0], nil
}

// moveSubtree renames a staged tree into place, recording a compensating
// move for rollback. A plain rename covers the whole subtree.
func (fs *FS) moveSubtree(ctx context.Context, tx *lock.Record, src, dst string) error {
	if err := fs.backend.Move(ctx, src, dst); err != nil {
		return err
	}
	tx.AddRollback(lock.RollbackOp{Kind: "move", Src: src, Dst: dst})
	return nil
}

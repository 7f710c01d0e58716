package vikingfs

import (
	"context"
	"strings"

	"github.com/openviking/openviking/pkg/lock"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
)

// Mkdir ensures the directory node and all its ancestors exist. The
// deepest existing ancestor is locked while the chain is created.
func (fs *FS) Mkdir(ctx context.Context, u uri.URI, existOK bool) error {
	if exists, err := fs.Exists(ctx, u); err != nil {
		return err
	} else if exists {
		if existOK {
			return nil
		}
		return status.AlreadyExists("%s already exists", u)
	}

	anchor, missing := fs.existingAncestor(ctx, u)

	tx := fs.txs.Begin(ctx, map[string]any{"op": "mkdir", "uri": u.String()})
	if err := fs.txs.AcquireNormal(ctx, tx, anchor); err != nil {
		return err
	}
	for _, dir := range missing {
		if err := fs.backend.Mkdir(ctx, dir, true); err != nil {
			_ = fs.txs.Rollback(ctx, tx)
			return err
		}
		tx.AddRollback(lock.RollbackOp{Kind: "delete", Path: dir})
	}
	return fs.txs.Commit(ctx, tx)
}

// existingAncestor walks up from u until a directory exists, returning
// the anchor path and the missing chain top-down.
func (fs *FS) existingAncestor(ctx context.Context, u uri.URI) (string, []string) {
	var missing []string
	cur := u
	for {
		parent, ok := cur.Parent()
		missing = append([]string{BackendPath(cur)}, missing...)
		if !ok {
			return string(cur.Scope()), missing
		}
		if exists, err := fs.Exists(ctx, parent); err == nil && exists {
			return BackendPath(parent), missing
		}
		cur = parent
	}
}

// Rm deletes a node. A directory node with visible children requires
// recursive; leaf nodes always delete their bundle.
func (fs *FS) Rm(ctx context.Context, u uri.URI, recursive bool) error {
	path := BackendPath(u)
	info, err := fs.backend.Stat(ctx, path)
	if err != nil {
		return err
	}

	if info.IsDir && !recursive {
		isLeaf := false
		if m, err := fs.Meta(ctx, u); err == nil {
			isLeaf = m.IsLeaf
		}
		if !isLeaf {
			entries, err := fs.backend.List(ctx, path)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if !strings.HasPrefix(e.Name, ".") {
					return status.FailedPrecondition("%s is a non-empty directory; pass recursive", u)
				}
			}
		}
	}

	if !info.IsDir {
		// Plain file, no subtree to lock.
		return fs.backend.Delete(ctx, path)
	}

	tx := fs.txs.Begin(ctx, map[string]any{"op": "rm", "uri": u.String()})
	if err := fs.txs.AcquireRM(ctx, tx, path); err != nil {
		return err
	}
	if err := fs.backend.Delete(ctx, path); err != nil {
		_ = fs.txs.Rollback(ctx, tx)
		return err
	}
	if err := fs.txs.Commit(ctx, tx); err != nil {
		return err
	}
	if fs.index != nil {
		return fs.index.DeleteSubtree(ctx, u.String())
	}
	return nil
}

// Mv renames a subtree. The destination must not exist; its parent must.
func (fs *FS) Mv(ctx context.Context, src, dst uri.URI) error {
	srcPath := BackendPath(src)
	dstPath := BackendPath(dst)

	if _, err := fs.backend.Stat(ctx, srcPath); err != nil {
		return err
	}
	if exists, err := fs.Exists(ctx, dst); err != nil {
		return err
	} else if exists {
		return status.AlreadyExists("%s already exists", dst)
	}
	dstParent, ok := dst.Parent()
	dstParentPath := string(dst.Scope())
	if ok {
		dstParentPath = BackendPath(dstParent)
	}
	if _, err := fs.backend.Stat(ctx, dstParentPath); err != nil {
		return err
	}

	tx := fs.txs.Begin(ctx, map[string]any{"op": "mv", "src": src.String(), "dst": dst.String()})
	if err := fs.txs.AcquireMV(ctx, tx, srcPath, dstParentPath); err != nil {
		return err
	}

	if err := fs.backend.Move(ctx, srcPath, dstPath); err != nil {
		_ = fs.txs.Rollback(ctx, tx)
		return err
	}
	tx.AddRollback(lock.RollbackOp{Kind: "move", Src: srcPath, Dst: dstPath})

	if err := fs.rewriteMetaURIs(ctx, dst); err != nil {
		// Rollback moves the subtree home, where the recorded lock paths
		// still point.
		_ = fs.txs.Rollback(ctx, tx)
		return err
	}
	// The subtree's lock files traveled with the move; remap so release
	// finds them.
	fs.txs.RemapLocks(ctx, tx, srcPath, dstPath)
	if err := fs.txs.Commit(ctx, tx); err != nil {
		return err
	}
	// Record ids key on the URI, so the moved subtree needs its records
	// dropped at the old address and rebuilt at the new one.
	if fs.index != nil {
		if err := fs.index.DeleteSubtree(ctx, src.String()); err != nil {
			return err
		}
		return fs.index.ReindexSubtree(ctx, dst)
	}
	return nil
}

// RewriteMetaURIs updates the uri field of every meta record under root
// to its current location. Importers that materialize a subtree by raw
// file writes call this to repair the records.
func (fs *FS) RewriteMetaURIs(ctx context.Context, root uri.URI) error {
	return fs.rewriteMetaURIs(ctx, root)
}

// rewriteMetaURIs updates the uri field of every meta record in a moved
// subtree to its new location.
func (fs *FS) rewriteMetaURIs(ctx context.Context, root uri.URI) error {
	m, err := fs.Meta(ctx, root)
	if err == nil {
		m.URI = root.String()
		m.ContextType = string(uri.InferContextType(root))
		m.UpdatedAt = nowMillis()
		if err := fs.writeMeta(ctx, root, m); err != nil {
			return err
		}
		if m.IsLeaf {
			return nil
		}
	} else if !status.IsNotFound(err) {
		return err
	}
	entries, err := fs.backend.List(ctx, BackendPath(root))
	if err != nil {
		if status.IsNotFound(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		if err := fs.rewriteMetaURIs(ctx, root.Join(e.Name)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTemp removes a temp-scope subtree outright, without journaling.
func (fs *FS) DeleteTemp(ctx context.Context, u uri.URI) error {
	if u.Scope() != uri.ScopeTemp {
		return status.InvalidArgument("delete_temp requires a temp URI, got %s", u)
	}
	err := fs.backend.Delete(ctx, BackendPath(u))
	if status.IsNotFound(err) {
		return nil
	}
	return err
}

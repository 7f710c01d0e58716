package lock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/store"
)

func newManager(t *testing.T) (*Manager, store.Backend) {
	t.Helper()
	backend, err := store.NewLocal(t.TempDir())
	require.NoError(t, err)
	return NewManager(backend), backend
}

func mkdirAll(t *testing.T, b store.Backend, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, b.Mkdir(context.Background(), p, true))
	}
}

func TestAcquireNormalAndCommit(t *testing.T) {
	m, backend := newManager(t)
	ctx := context.Background()
	mkdirAll(t, backend, "resources/docs")

	tx := m.Begin(ctx, map[string]any{"op": "write"})
	require.NoError(t, m.AcquireNormal(ctx, tx, "resources/docs"))
	assert.Equal(t, StatusExec, tx.Status)

	// Lock file exists and carries the tx id.
	data, err := backend.ReadBytes(ctx, "resources/docs/"+LockFileName)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, string(data))

	// Another transaction cannot take the same directory.
	tx2 := m.Begin(ctx, nil)
	err = m.AcquireNormal(ctx, tx2, "resources/docs")
	assert.Equal(t, status.CodeAborted, status.CodeOf(err))

	require.NoError(t, m.Commit(ctx, tx))
	assert.Equal(t, StatusReleased, tx.Status)
	assert.Equal(t, 1, m.Count())

	// Lock file is gone; the directory is takeable again.
	_, err = backend.ReadBytes(ctx, "resources/docs/"+LockFileName)
	assert.Equal(t, status.CodeNotFound, status.CodeOf(err))

	tx3 := m.Begin(ctx, nil)
	require.NoError(t, m.AcquireNormal(ctx, tx3, "resources/docs"))
	require.NoError(t, m.Commit(ctx, tx3))
}

func TestAcquireNormalMissingTarget(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	tx := m.Begin(ctx, nil)
	err := m.AcquireNormal(ctx, tx, "resources/nope")
	assert.Equal(t, status.CodeNotFound, status.CodeOf(err))
	assert.Equal(t, StatusFail, tx.Status)
}

func TestParentLockBlocksChild(t *testing.T) {
	m, backend := newManager(t)
	ctx := context.Background()
	mkdirAll(t, backend, "resources/docs/sub")

	parentTx := m.Begin(ctx, nil)
	require.NoError(t, m.AcquireNormal(ctx, parentTx, "resources/docs"))

	childTx := m.Begin(ctx, nil)
	err := m.AcquireNormal(ctx, childTx, "resources/docs/sub")
	assert.Equal(t, status.CodeAborted, status.CodeOf(err))

	require.NoError(t, m.Commit(ctx, parentTx))
}

func TestAcquireRMLocksSubtree(t *testing.T) {
	m, backend := newManager(t)
	ctx := context.Background()
	mkdirAll(t, backend, "resources/proj/a/deep", "resources/proj/b")

	tx := m.Begin(ctx, nil)
	require.NoError(t, m.AcquireRM(ctx, tx, "resources/proj"))

	// Every directory in the subtree carries a lock file.
	for _, dir := range []string{"resources/proj", "resources/proj/a", "resources/proj/a/deep", "resources/proj/b"} {
		data, err := backend.ReadBytes(ctx, dir+"/"+LockFileName)
		require.NoError(t, err, dir)
		assert.Equal(t, tx.ID, string(data))
	}

	require.NoError(t, m.Commit(ctx, tx))
	for _, dir := range []string{"resources/proj", "resources/proj/a/deep"} {
		_, err := backend.ReadBytes(ctx, dir+"/"+LockFileName)
		assert.Equal(t, status.CodeNotFound, status.CodeOf(err))
	}
}

func TestAcquireMV(t *testing.T) {
	m, backend := newManager(t)
	ctx := context.Background()
	mkdirAll(t, backend, "resources/src/x", "resources/dst")

	tx := m.Begin(ctx, nil)
	require.NoError(t, m.AcquireMV(ctx, tx, "resources/src", "resources/dst"))

	other := m.Begin(ctx, nil)
	err := m.AcquireNormal(ctx, other, "resources/dst")
	assert.Equal(t, status.CodeAborted, status.CodeOf(err))

	require.NoError(t, m.Commit(ctx, tx))
}

func TestRollbackAppliesCompensations(t *testing.T) {
	m, backend := newManager(t)
	ctx := context.Background()
	mkdirAll(t, backend, "resources/docs")
	require.NoError(t, backend.WriteBytes(ctx, "resources/docs/f.txt", []byte("v1")))

	tx := m.Begin(ctx, nil)
	require.NoError(t, m.AcquireNormal(ctx, tx, "resources/docs"))

	// Simulate a move that must be undone.
	require.NoError(t, backend.Move(ctx, "resources/docs/f.txt", "resources/docs/g.txt"))
	tx.AddRollback(RollbackOp{Kind: "move", Src: "resources/docs/f.txt", Dst: "resources/docs/g.txt"})

	require.NoError(t, m.Rollback(ctx, tx))

	data, err := backend.ReadBytes(ctx, "resources/docs/f.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)
	_, err = backend.ReadBytes(ctx, "resources/docs/g.txt")
	assert.Equal(t, status.CodeNotFound, status.CodeOf(err))
}

func TestRecoverRollsBackUnfinished(t *testing.T) {
	m, backend := newManager(t)
	ctx := context.Background()
	mkdirAll(t, backend, "resources/docs")

	// A transaction that acquired a lock and then "crashed".
	tx := m.Begin(ctx, nil)
	require.NoError(t, m.AcquireNormal(ctx, tx, "resources/docs"))

	// A fresh manager (new process) recovers the journal.
	m2 := NewManager(backend)
	n, err := m2.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Lock file cleared, directory takeable.
	_, err = backend.ReadBytes(ctx, "resources/docs/"+LockFileName)
	assert.Equal(t, status.CodeNotFound, status.CodeOf(err))

	tx2 := m2.Begin(ctx, nil)
	require.NoError(t, m2.AcquireNormal(ctx, tx2, "resources/docs"))
	require.NoError(t, m2.Commit(ctx, tx2))

	// A second recover is a no-op.
	n, err = m2.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

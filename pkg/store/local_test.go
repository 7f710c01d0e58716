package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openviking/openviking/pkg/status"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestWriteReadRoundTrip(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, l.WriteBytes(ctx, "docs/guide/readme.md", []byte("hello")))

	data, err := l.ReadBytes(ctx, "docs/guide/readme.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// Overwrite is atomic replace.
	require.NoError(t, l.WriteBytes(ctx, "docs/guide/readme.md", []byte("v2")))
	data, err = l.ReadBytes(ctx, "docs/guide/readme.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestReadMissing(t *testing.T) {
	l := newTestLocal(t)
	_, err := l.ReadBytes(context.Background(), "nope.txt")
	assert.Equal(t, status.CodeNotFound, status.CodeOf(err))
}

func TestReadThroughFileIsNotFound(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, l.WriteBytes(ctx, "docs/guide.md", []byte("body")))

	_, err := l.ReadBytes(ctx, "docs/guide.md/.meta.json")
	assert.Equal(t, status.CodeNotFound, status.CodeOf(err))

	_, err = l.Stat(ctx, "docs/guide.md/.meta.json")
	assert.Equal(t, status.CodeNotFound, status.CodeOf(err))
}

func TestPathDefense(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	for _, p := range []string{"../etc/passwd", "a/../../b", "/abs/path", `C:stuff`} {
		_, err := l.ReadBytes(ctx, p)
		assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err), p)
	}
}

func TestListAndStat(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, l.WriteBytes(ctx, "dir/a.txt", []byte("a")))
	require.NoError(t, l.WriteBytes(ctx, "dir/sub/b.txt", []byte("bb")))

	entries, err := l.List(ctx, "dir")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = e.IsDir
	}
	assert.False(t, names["a.txt"])
	assert.True(t, names["sub"])

	info, err := l.Stat(ctx, "dir/a.txt")
	require.NoError(t, err)
	assert.False(t, info.IsDir)
	assert.Equal(t, int64(1), info.Size)

	info, err = l.Stat(ctx, "dir")
	require.NoError(t, err)
	assert.True(t, info.IsDir)
}

func TestMkdirExistOK(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, l.Mkdir(ctx, "d", false))
	err := l.Mkdir(ctx, "d", false)
	assert.Equal(t, status.CodeAlreadyExists, status.CodeOf(err))
	require.NoError(t, l.Mkdir(ctx, "d", true))
}

func TestMove(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, l.WriteBytes(ctx, "src/f.txt", []byte("x")))
	require.NoError(t, l.Move(ctx, "src/f.txt", "dst/f.txt"))

	_, err := l.Stat(ctx, "src/f.txt")
	assert.Equal(t, status.CodeNotFound, status.CodeOf(err))

	data, err := l.ReadBytes(ctx, "dst/f.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)

	// Moving onto an existing destination is refused.
	require.NoError(t, l.WriteBytes(ctx, "src/g.txt", []byte("y")))
	err = l.Move(ctx, "src/g.txt", "dst/f.txt")
	assert.Equal(t, status.CodeAlreadyExists, status.CodeOf(err))
}

func TestDelete(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, l.WriteBytes(ctx, "d/f.txt", []byte("x")))
	require.NoError(t, l.Delete(ctx, "d"))

	_, err := l.Stat(ctx, "d")
	assert.Equal(t, status.CodeNotFound, status.CodeOf(err))

	err = l.Delete(ctx, "d")
	assert.Equal(t, status.CodeNotFound, status.CodeOf(err))
}

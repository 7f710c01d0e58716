package pack

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/lock"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/store"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vikingfs"
)

func newFS(t *testing.T) *vikingfs.FS {
	t.Helper()
	backend, err := store.NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	for _, scope := range []string{"resources", "user", "agent", "session", "queue", "temp"} {
		require.NoError(t, backend.Mkdir(ctx, scope, true))
	}
	return vikingfs.New(backend, lock.NewManager(backend))
}

func newQueues(t *testing.T) *queue.Manager {
	t.Helper()
	var qcfg config.QueueConfig
	qcfg.SetDefaults()
	return queue.NewManager(qcfg, nil)
}

// seedTree writes a two-level subtree with sidecars under the given root.
func seedTree(t *testing.T, fs *vikingfs.FS, root uri.URI) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fs.WriteContext(ctx, root, vikingfs.WriteContextInput{
		Abstract: "handbook root",
	}))
	require.NoError(t, fs.WriteContext(ctx, root.Join("intro"), vikingfs.WriteContextInput{
		Content:  []byte("welcome aboard"),
		Abstract: "the intro chapter",
		IsLeaf:   true,
	}))
	require.NoError(t, fs.WriteContext(ctx, root.Join("ops"), vikingfs.WriteContextInput{
		Abstract: "operations chapter",
	}))
	require.NoError(t, fs.WriteContext(ctx, root.Join("ops").Join("deploy"), vikingfs.WriteContextInput{
		Content:  []byte("ship it"),
		Abstract: "deploy runbook",
		IsLeaf:   true,
	}))
}

func TestDotEncodingRoundTrip(t *testing.T) {
	cases := map[string]string{
		".abstract.md":            "_._abstract.md",
		".meta.json":              "_._meta.json",
		"content.md":              "content.md",
		"docs/.overview.md":       "docs/_._overview.md",
		".hidden/.relations.json": "_._hidden/_._relations.json",
	}
	for plain, encoded := range cases {
		assert.Equal(t, encoded, encodePath(plain))
		assert.Equal(t, plain, decodePath(encoded))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newFS(t)
	root := uri.MustParse("viking://resources/handbook")
	seedTree(t, src, root)

	var buf bytes.Buffer
	manifest, err := Export(ctx, src, root, &buf)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, manifest.Version)
	assert.Equal(t, "handbook", manifest.Name)
	assert.Equal(t, root.String(), manifest.RootURI)
	assert.Greater(t, manifest.Files, 0)

	dst := newFS(t)
	res, err := Import(ctx, dst, newQueues(t), buf.Bytes(), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "viking://resources/handbook", res.RootURI.String())
	assert.Equal(t, manifest.Files, res.Files)
	assert.Zero(t, res.Enqueued)

	intro := res.RootURI.Join("intro")
	content, err := dst.Read(ctx, intro)
	require.NoError(t, err)
	assert.Equal(t, "welcome aboard", string(content))
	abs, err := dst.Abstract(ctx, intro)
	require.NoError(t, err)
	assert.Equal(t, "the intro chapter", abs)

	// Meta records point at the imported location, not the source.
	m, err := dst.Meta(ctx, res.RootURI.Join("ops").Join("deploy"))
	require.NoError(t, err)
	assert.Equal(t, "viking://resources/handbook/ops/deploy", m.URI)
	assert.True(t, m.IsLeaf)
}

func TestExportMissingRoot(t *testing.T) {
	fs := newFS(t)
	var buf bytes.Buffer
	_, err := Export(context.Background(), fs, uri.MustParse("viking://resources/nope"), &buf)
	assert.Equal(t, status.CodeNotFound, status.CodeOf(err))
}

func TestImportCollisionAllocatesSibling(t *testing.T) {
	ctx := context.Background()
	src := newFS(t)
	root := uri.MustParse("viking://resources/handbook")
	seedTree(t, src, root)
	var buf bytes.Buffer
	_, err := Export(ctx, src, root, &buf)
	require.NoError(t, err)

	dst := newFS(t)
	queues := newQueues(t)
	first, err := Import(ctx, dst, queues, buf.Bytes(), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "viking://resources/handbook", first.RootURI.String())

	second, err := Import(ctx, dst, queues, buf.Bytes(), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "viking://resources/handbook_1", second.RootURI.String())

	m, err := dst.Meta(ctx, second.RootURI.Join("intro"))
	require.NoError(t, err)
	assert.Equal(t, "viking://resources/handbook_1/intro", m.URI)
}

func TestImportForceOverwrites(t *testing.T) {
	ctx := context.Background()
	src := newFS(t)
	root := uri.MustParse("viking://resources/handbook")
	seedTree(t, src, root)
	var buf bytes.Buffer
	_, err := Export(ctx, src, root, &buf)
	require.NoError(t, err)

	dst := newFS(t)
	require.NoError(t, dst.WriteContext(ctx, uri.MustParse("viking://resources/handbook"), vikingfs.WriteContextInput{
		Content:  []byte("stale"),
		Abstract: "old copy",
		IsLeaf:   true,
	}))

	res, err := Import(ctx, dst, newQueues(t), buf.Bytes(), ImportOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, "viking://resources/handbook", res.RootURI.String())

	m, err := dst.Meta(ctx, res.RootURI)
	require.NoError(t, err)
	assert.False(t, m.IsLeaf)
	content, err := dst.Read(ctx, res.RootURI.Join("intro"))
	require.NoError(t, err)
	assert.Equal(t, "welcome aboard", string(content))
}

func TestImportWithTarget(t *testing.T) {
	ctx := context.Background()
	src := newFS(t)
	root := uri.MustParse("viking://resources/handbook")
	seedTree(t, src, root)
	var buf bytes.Buffer
	_, err := Export(ctx, src, root, &buf)
	require.NoError(t, err)

	dst := newFS(t)
	res, err := Import(ctx, dst, newQueues(t), buf.Bytes(), ImportOptions{
		Target: uri.MustParse("viking://agent/imported/handbook"),
	})
	require.NoError(t, err)
	assert.Equal(t, "viking://agent/imported/handbook", res.RootURI.String())
	m, err := dst.Meta(ctx, res.RootURI.Join("intro"))
	require.NoError(t, err)
	assert.Equal(t, "viking://agent/imported/handbook/intro", m.URI)
}

func TestImportVectorizeEnqueues(t *testing.T) {
	ctx := context.Background()
	src := newFS(t)
	root := uri.MustParse("viking://resources/handbook")
	seedTree(t, src, root)
	var buf bytes.Buffer
	_, err := Export(ctx, src, root, &buf)
	require.NoError(t, err)

	dst := newFS(t)
	queues := newQueues(t)
	res, err := Import(ctx, dst, queues, buf.Bytes(), ImportOptions{Vectorize: true})
	require.NoError(t, err)
	// Root, intro, ops, and ops/deploy all carry meta records.
	assert.Equal(t, 4, res.Enqueued)
	assert.Equal(t, int64(4), queues.Snapshot()[queue.EmbeddingQueue].Pending)
}

func TestImportRejectsGarbage(t *testing.T) {
	dst := newFS(t)
	_, err := Import(context.Background(), dst, newQueues(t), []byte("not a zip"), ImportOptions{})
	assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err))
}

func TestImportRejectsMissingManifest(t *testing.T) {
	var buf bytes.Buffer
	writeZip(t, &buf, map[string]string{"handbook/content.md": "body"})

	dst := newFS(t)
	_, err := Import(context.Background(), dst, newQueues(t), buf.Bytes(), ImportOptions{})
	assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err))
}

func TestImportRejectsNewerVersion(t *testing.T) {
	var buf bytes.Buffer
	writeZip(t, &buf, map[string]string{
		ManifestFile:              `{"version": 99, "name": "handbook", "root_uri": "viking://resources/handbook"}`,
		"handbook/_._meta.json":   "{}",
		"handbook/_._abstract.md": "stub",
	})

	dst := newFS(t)
	_, err := Import(context.Background(), dst, newQueues(t), buf.Bytes(), ImportOptions{})
	assert.Equal(t, status.CodeFailedPrecondition, status.CodeOf(err))
}

func writeZip(t *testing.T, buf *bytes.Buffer, files map[string]string) {
	t.Helper()
	zw := zip.NewWriter(buf)
	for name, body := range files {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestEntryPathRejectsEscapes(t *testing.T) {
	for _, name := range []string{"../escape.txt", "/abs.txt", "handbook/../../etc/passwd"} {
		_, err := entryPath(name, "handbook")
		assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err), name)
	}
	_, err := entryPath("other/file.md", "handbook")
	assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err))
}

package processor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/embedder"
	"github.com/openviking/openviking/pkg/lock"
	"github.com/openviking/openviking/pkg/parser"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/store"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vector"
	"github.com/openviking/openviking/pkg/vikingfs"
	"github.com/openviking/openviking/pkg/vlm"
)

type env struct {
	fs     *vikingfs.FS
	col    *vector.Collection
	emb    *embedder.Mock
	queues *queue.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	backend, err := store.NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	for _, scope := range []string{"resources", "user", "agent", "session", "queue", "temp"} {
		require.NoError(t, backend.Mkdir(ctx, scope, true))
	}
	fs := vikingfs.New(backend, lock.NewManager(backend))

	emb := embedder.NewMock(8)
	col, err := vector.NewCollection(ctx, vector.NewMemoryProvider(), "context", emb.Dimension())
	require.NoError(t, err)

	var qcfg config.QueueConfig
	qcfg.SetDefaults()
	queues := queue.NewManager(qcfg, nil)
	return &env{fs: fs, col: col, emb: emb, queues: queues}
}

func (e *env) startQueues(t *testing.T, v vlm.VLM) {
	t.Helper()
	require.NoError(t, e.queues.Bind(queue.EmbeddingQueue, EmbeddingHandler(e.fs, e.col, e.emb)))
	require.NoError(t, e.queues.Bind(queue.SemanticQueue, SemanticHandler(e.fs, v, e.queues)))
	e.queues.Start()
	t.Cleanup(e.queues.Stop)
}

func writeLeaf(t *testing.T, fs *vikingfs.FS, raw, content, abstract string) uri.URI {
	t.Helper()
	u := uri.MustParse(raw)
	require.NoError(t, fs.WriteContext(context.Background(), u, vikingfs.WriteContextInput{
		Content:  []byte(content),
		Abstract: abstract,
		IsLeaf:   true,
	}))
	return u
}

func TestEmbeddingHandlerUpserts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := writeLeaf(t, e.fs, "viking://resources/docs/guide", "body", "a guide")

	h := EmbeddingHandler(e.fs, e.col, e.emb)
	require.NoError(t, h(ctx, &queue.Message{Payload: &EmbeddingTask{URI: u.String(), VectorizeText: "a guide"}}))

	recs, missing, err := e.col.Fetch(ctx, []uint64{vector.RecordID(u.String())})
	require.NoError(t, err)
	assert.Empty(t, missing)
	require.Len(t, recs, 1)
	assert.Equal(t, u.String(), recs[0].URI)
	assert.Equal(t, "a guide", recs[0].Abstract)
	assert.Equal(t, "resource", recs[0].ContextType)
	assert.Len(t, recs[0].DenseVector, 8)
}

func TestEmbeddingHandlerDeletedNode(t *testing.T) {
	e := newEnv(t)
	h := EmbeddingHandler(e.fs, e.col, e.emb)
	err := h(context.Background(), &queue.Message{Payload: &EmbeddingTask{URI: "viking://resources/gone"}})
	assert.NoError(t, err)
}

func TestSemanticHandlerWritesSidecarsAndChains(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := writeLeaf(t, e.fs, "viking://resources/docs/report", "long report body", "")

	e.startQueues(t, vlm.NewMock("fresh abstract", "fresh overview"))
	_, err := e.queues.Enqueue(ctx, queue.SemanticQueue, &SemanticTask{URI: u.String(), Target: TargetBoth})
	require.NoError(t, err)
	_, err = e.queues.WaitComplete(ctx)
	require.NoError(t, err)

	abs, err := e.fs.Abstract(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, "fresh abstract", abs)
	ov, err := e.fs.Overview(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, "fresh overview", ov)

	recs, _, err := e.col.Fetch(ctx, []uint64{vector.RecordID(u.String())})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "fresh abstract", recs[0].Abstract)
}

func TestSemanticHandlerDirectoryUsesChildAbstracts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	writeLeaf(t, e.fs, "viking://resources/docs/a", "body a", "first doc")
	writeLeaf(t, e.fs, "viking://resources/docs/b", "body b", "second doc")

	mock := vlm.NewMock("dir abstract", "dir overview")
	e.startQueues(t, mock)
	_, err := e.queues.Enqueue(ctx, queue.SemanticQueue, &SemanticTask{URI: "viking://resources/docs", Target: TargetBoth})
	require.NoError(t, err)
	_, err = e.queues.WaitComplete(ctx)
	require.NoError(t, err)

	require.NotEmpty(t, mock.Requests)
	assert.Contains(t, mock.Requests[0].Prompt, "first doc")
	assert.Contains(t, mock.Requests[0].Prompt, "second doc")
}

func TestResourceProcessFile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("# Guide\n\nhello"), 0644))

	e.startQueues(t, vlm.NewMock())
	p := NewResource(e.fs, parser.DefaultRegistry(), e.queues)
	res, err := p.Process(ctx, ProcessInput{Path: path, Wait: true})
	require.NoError(t, err)
	assert.Equal(t, "viking://resources/guide", res.RootURI.String())
	assert.Equal(t, 1, res.Enqueued)
	assert.NotNil(t, res.Queues)

	data, err := e.fs.Read(ctx, res.RootURI)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")

	recs, _, err := e.col.Fetch(ctx, []uint64{vector.RecordID(res.RootURI.String())})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestResourceProcessContentWithTarget(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.startQueues(t, vlm.NewMock())

	p := NewResource(e.fs, parser.DefaultRegistry(), e.queues)
	res, err := p.Process(ctx, ProcessInput{
		Content: []byte("plain notes"),
		Name:    "notes.txt",
		Target:  uri.MustParse("viking://resources/inbox/notes"),
		Wait:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "viking://resources/inbox/notes", res.RootURI.String())
}

func TestResourceProcessDirectory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("# A\ndoc a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("doc b"), 0644))

	e.startQueues(t, vlm.NewMock())
	p := NewResource(e.fs, parser.DefaultRegistry(), e.queues)
	res, err := p.Process(ctx, ProcessInput{Path: dir, Name: "project", Wait: true})
	require.NoError(t, err)
	assert.Equal(t, "viking://resources/project", res.RootURI.String())
	// root + sub are directories, a + b are leaves.
	assert.Equal(t, 4, res.Enqueued)

	data, err := e.fs.Read(ctx, res.RootURI.Join("sub", "b"))
	require.NoError(t, err)
	assert.Equal(t, "doc b", string(data))
}

func TestResourceProcessNoInput(t *testing.T) {
	e := newEnv(t)
	p := NewResource(e.fs, parser.DefaultRegistry(), e.queues)
	_, err := p.Process(context.Background(), ProcessInput{})
	assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err))
}

const sampleSkill = `---
name: web-search
description: Search the web and cite sources
allowed-tools:
  - http_get
tags: [search, web]
---

# Web Search

Run a query, fetch the top hits, and cite every claim.
`

func TestParseSkill(t *testing.T) {
	meta, body, err := ParseSkill(sampleSkill)
	require.NoError(t, err)
	assert.Equal(t, "web-search", meta.Name)
	assert.Equal(t, "Search the web and cite sources", meta.Description)
	assert.Equal(t, []string{"http_get"}, meta.AllowedTools)
	assert.Equal(t, []string{"search", "web"}, meta.Tags)
	assert.Contains(t, body, "# Web Search")
	assert.NotContains(t, body, "---")
}

func TestParseSkillNoFrontmatter(t *testing.T) {
	meta, body, err := ParseSkill("# Bare\njust markdown")
	require.NoError(t, err)
	assert.Empty(t, meta.Name)
	assert.Equal(t, "# Bare\njust markdown", body)
}

func TestParseSkillByteOrderMark(t *testing.T) {
	meta, body, err := ParseSkill("\uFEFF---\nname: marked\n---\nbody text")
	require.NoError(t, err)
	assert.Equal(t, "marked", meta.Name)
	assert.Equal(t, "body text", body)
}

func TestParseSkillUnterminated(t *testing.T) {
	_, _, err := ParseSkill("---\nname: x\n")
	assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err))
}

func TestSkillAddFromDir(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(sampleSkill), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", "query.txt"), []byte("q: {{.}}"), 0644))

	e.startQueues(t, vlm.NewMock())
	p := NewSkill(e.fs, vlm.NewMock("skill overview"), e.queues)
	res, err := p.Add(ctx, SkillInput{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "viking://agent/skills/web-search", res.URI.String())
	assert.Equal(t, []string{"templates/query.txt"}, res.AuxFiles)

	data, err := e.fs.Read(ctx, res.URI)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: web-search")

	abs, err := e.fs.Abstract(ctx, res.URI)
	require.NoError(t, err)
	assert.Equal(t, "Search the web and cite sources", abs)
	ov, err := e.fs.Overview(ctx, res.URI)
	require.NoError(t, err)
	assert.Equal(t, "skill overview", ov)

	m, err := e.fs.Meta(ctx, res.URI)
	require.NoError(t, err)
	assert.Equal(t, "skill", m.ContextType)

	_, err = e.queues.WaitComplete(ctx)
	require.NoError(t, err)
	recs, _, err := e.col.Fetch(ctx, []uint64{vector.RecordID(res.URI.String())})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSkillAddMissingName(t *testing.T) {
	e := newEnv(t)
	p := NewSkill(e.fs, vlm.NewMock(), e.queues)
	_, err := p.Add(context.Background(), SkillInput{Text: "# No frontmatter"})
	assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err))
}

func TestSkillFromTool(t *testing.T) {
	tool := &mcp.Tool{
		Name:        "fetch_page",
		Description: "Fetch a page by URL",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"url":     map[string]any{"type": "string", "description": "page address"},
				"timeout": map[string]any{"type": "integer"},
			},
			Required: []string{"url"},
		},
	}
	text := SkillFromTool(tool)
	meta, body, err := ParseSkill(text)
	require.NoError(t, err)
	assert.Equal(t, "fetch_page", meta.Name)
	assert.Contains(t, body, "## Parameters")
	assert.Contains(t, body, "`url` (string, required): page address")
	assert.Contains(t, body, "`timeout` (integer, optional)")
}

func TestCollectionClosingLatch(t *testing.T) {
	col, err := vector.NewCollection(context.Background(), vector.NewMemoryProvider(), "c", 4)
	require.NoError(t, err)
	require.NoError(t, col.Close())
	assert.True(t, col.Closing())
	// Upserts against a closed provider are swallowed during shutdown.
	err = col.Upsert(context.Background(), []*vector.Record{{ID: 1, URI: "viking://resources/x", DenseVector: []float32{1, 0, 0, 0}}})
	assert.NoError(t, err)
}

package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/openviking/openviking/pkg/lock"
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

func TestRegistryDispatch(t *testing.T) {
	r := DefaultRegistry()

	p, ok := r.ForExtension("notes.MD")
	require.True(t, ok)
	assert.Equal(t, "markdown", p.Name())

	p, ok = r.ForExtension("report.pdf")
	require.True(t, ok)
	assert.Equal(t, "pdf", p.Name())

	p, ok = r.ForExtension("sheet.xlsx")
	require.True(t, ok)
	assert.Equal(t, "excel", p.Name())

	p, ok = r.ForExtension("bundle.zip")
	require.True(t, ok)
	assert.Equal(t, "zip", p.Name())

	_, ok = r.ForExtension("prog.rs")
	assert.False(t, ok)
}

func TestMarkdownSmallStaysSingleLeaf(t *testing.T) {
	node, warnings, err := NewMarkdownParser().Parse(context.Background(), Source{
		Content: []byte("# Title\n\nshort body\n\n## Second\n\nmore"),
		Name:    "notes.md",
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, NodeLeaf, node.Type)
	assert.Equal(t, "notes", node.Title)
	assert.Equal(t, "notes.md", node.ContentName)
	assert.NotEmpty(t, node.AbstractSeed)
}

func TestMarkdownLargeSplitsAtHeadings(t *testing.T) {
	var b strings.Builder
	filler := strings.Repeat("lorem ipsum dolor sit amet ", 40)
	for i := 1; i <= 4; i++ {
		fmt.Fprintf(&b, "# Chapter %d\n\n%s\n\n", i, filler)
	}
	// Headings inside fences must not split.
	b.WriteString("```\n# not a heading\n```\n")

	node, _, err := NewMarkdownParser().Parse(context.Background(), Source{
		Content: []byte(b.String()),
		Name:    "book.md",
	})
	require.NoError(t, err)
	assert.Equal(t, NodeRoot, node.Type)
	require.Len(t, node.Children, 4)
	assert.Equal(t, "Chapter 1", node.Children[0].Title)
	assert.Contains(t, string(node.Children[3].Body), "# not a heading")
}

func TestDecodeText(t *testing.T) {
	utf8Text, enc := DecodeText([]byte("héllo wörld"))
	assert.Equal(t, "héllo wörld", utf8Text)
	assert.Equal(t, "utf-8", enc)

	bomText, enc := DecodeText(append([]byte{0xEF, 0xBB, 0xBF}, []byte("hi")...))
	assert.Equal(t, "hi", bomText)
	assert.Equal(t, "utf-8-bom", enc)

	gbkBytes, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("中文内容测试"))
	require.NoError(t, err)
	decoded, enc := DecodeText(gbkBytes)
	assert.Equal(t, "中文内容测试", decoded)
	assert.NotEqual(t, "utf-8", enc)
}

func TestStageRoundTrip(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	root := &Node{
		Type:         NodeRoot,
		Title:        "handbook",
		AbstractSeed: "the handbook",
		Children: []*Node{
			{Type: NodeLeaf, Title: "intro", AbstractSeed: "intro part", Body: []byte("welcome")},
			{Type: NodeSection, Title: "ops", Children: []*Node{
				{Type: NodeLeaf, Title: "deploy", Body: []byte("ship it")},
			}},
		},
	}
	res, err := Stage(ctx, fs, root, "handbook.md", "markdown", []string{"w1"})
	require.NoError(t, err)
	assert.Equal(t, uri.ScopeTemp, res.TempRoot.Scope())
	assert.Equal(t, []string{"w1"}, res.Warnings)

	doc := res.TempRoot.JoinSanitized("handbook")
	abs, err := fs.Abstract(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "the handbook", abs)

	data, err := fs.Read(ctx, doc.JoinSanitized("intro"))
	require.NoError(t, err)
	assert.Equal(t, "welcome", string(data))

	data, err = fs.Read(ctx, doc.JoinSanitized("ops").JoinSanitized("deploy"))
	require.NoError(t, err)
	assert.Equal(t, "ship it", string(data))

	m, err := fs.Meta(ctx, doc.JoinSanitized("ops"))
	require.NoError(t, err)
	assert.False(t, m.IsLeaf)
}

func TestStageDisambiguatesDuplicateTitles(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	// "Setup!" and "Setup?" sanitize to the same segment.
	root := &Node{
		Type:  NodeRoot,
		Title: "faq",
		Children: []*Node{
			{Type: NodeLeaf, Title: "Setup!", Body: []byte("first answer")},
			{Type: NodeLeaf, Title: "Setup?", Body: []byte("second answer")},
			{Type: NodeLeaf, Title: "Setup.", Body: []byte("third answer")},
		},
	}
	res, err := Stage(ctx, fs, root, "faq.md", "markdown", nil)
	require.NoError(t, err)

	doc := res.TempRoot.JoinSanitized("faq")
	data, err := fs.Read(ctx, doc.JoinSanitized("Setup"))
	require.NoError(t, err)
	assert.Equal(t, "first answer", string(data))

	data, err = fs.Read(ctx, doc.JoinSanitized("Setup_2"))
	require.NoError(t, err)
	assert.Equal(t, "second answer", string(data))

	data, err = fs.Read(ctx, doc.JoinSanitized("Setup_3"))
	require.NoError(t, err)
	assert.Equal(t, "third answer", string(data))
}

func TestStageNilRoot(t *testing.T) {
	fs := newFS(t)
	_, err := Stage(context.Background(), fs, nil, "x", "raw", nil)
	assert.Equal(t, status.CodeProcessingError, status.CodeOf(err))
}

func TestDirectoryParserWalk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "dep"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Readme\nhello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("package main"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte{0x89, 0x50}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "config"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "dep", "index.js"), []byte("x"), 0644))

	node, warnings, err := NewDirectoryParser(DefaultRegistry()).Parse(context.Background(), Source{Path: dir, Name: "proj"})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, NodeRoot, node.Type)
	assert.Equal(t, "proj", node.Title)

	var names []string
	for _, c := range node.Children {
		names = append(names, c.Title)
	}
	assert.Equal(t, []string{"README", "src"}, names)
	require.Len(t, node.Children[1].Children, 1)
	assert.Equal(t, "main", node.Children[1].Children[0].Title)
}

func TestDirectoryParserEmpty(t *testing.T) {
	_, _, err := NewDirectoryParser(nil).Parse(context.Background(), Source{Path: t.TempDir()})
	assert.Equal(t, status.CodeProcessingError, status.CodeOf(err))
}

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	path := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestZipParserExtracts(t *testing.T) {
	path := writeZip(t, map[string]string{
		"docs/guide.md": "# Guide\ncontent",
		"notes.txt":     "plain notes",
	})
	node, _, err := NewZipParser(DefaultRegistry()).Parse(context.Background(), Source{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "bundle", node.Title)

	var names []string
	for _, c := range node.Children {
		names = append(names, c.Title)
	}
	assert.Equal(t, []string{"docs", "notes"}, names)
}

func TestZipParserRejectsTraversal(t *testing.T) {
	for _, entry := range []string{"../escape.txt", "/abs.txt", `C:\boot.ini`} {
		path := writeZip(t, map[string]string{entry: "evil"})
		_, _, err := NewZipParser(nil).Parse(context.Background(), Source{Path: path})
		assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err), entry)
	}
}

func TestURLParserFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/docs/guide.md", r.URL.Path)
		fmt.Fprint(w, "# Remote Guide\nbody")
	}))
	defer srv.Close()

	node, _, err := NewURLParser(DefaultRegistry()).Parse(context.Background(), Source{URL: srv.URL + "/docs/guide.md"})
	require.NoError(t, err)
	assert.Equal(t, "guide", node.Title)
	assert.Equal(t, srv.URL+"/docs/guide.md", node.Meta["source_url"])
}

func TestURLParserHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, _, err := NewURLParser(nil).Parse(context.Background(), Source{URL: srv.URL + "/gone"})
	assert.Equal(t, status.CodeProcessingError, status.CodeOf(err))
}

func TestRawFileURL(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/repo/blob/main/docs/a.md": "https://raw.githubusercontent.com/acme/repo/main/docs/a.md",
		"https://gitlab.com/acme/repo/-/blob/main/a.md":    "https://gitlab.com/acme/repo/-/raw/main/a.md",
		"https://gitee.com/acme/repo/blob/master/a.md":     "https://gitee.com/acme/repo/raw/master/a.md",
		"https://example.com/page":                         "https://example.com/page",
	}
	for in, want := range cases {
		assert.Equal(t, want, rawFileURL(in), in)
	}
}

func TestSeedAbstract(t *testing.T) {
	assert.Equal(t, "", seedAbstract("  \n "))
	assert.Equal(t, "one two", seedAbstract("one\n\n  two"))
	long := strings.Repeat("x", 500)
	assert.Len(t, []rune(seedAbstract(long)), 200)
}

// Package parser turns external sources into staged context subtrees.
// Every parser writes its output under a fresh viking://temp/ directory;
// the resource processor finalizes staged trees into their destination.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vikingfs"
)

// NodeType distinguishes levels of a parsed document tree.
type NodeType string

const (
	NodeRoot    NodeType = "root"
	NodeSection NodeType = "section"
	NodeLeaf    NodeType = "leaf"
)

// Node is one element of a parsed document before staging.
type Node struct {
	Type         NodeType
	Title        string
	AbstractSeed string
	Body         []byte
	ContentName  string
	Children     []*Node
	Meta         map[string]any
}

// Result describes a staged parse.
type Result struct {
	TempRoot     uri.URI
	SourceName   string
	SourceFormat string
	Warnings     []string
	Meta         map[string]any
}

// Source is what a parser consumes: a filesystem path, raw content, or a
// URL, with the original name preserved for naming the resource.
type Source struct {
	Path    string
	Content []byte
	URL     string
	Name    string
}

// Parser converts one source format into a document tree.
type Parser interface {
	Name() string
	Extensions() []string
	Parse(ctx context.Context, src Source) (*Node, []string, error)
}

// Registry maps file extensions to parsers.
type Registry struct {
	mu      sync.RWMutex
	byExt   map[string]Parser
	parsers []Parser
}

func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Parser)}
}

func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers = append(r.parsers, p)
	for _, ext := range p.Extensions() {
		r.byExt[strings.ToLower(ext)] = p
	}
}

// ForExtension returns the parser registered for a filename's extension.
func (r *Registry) ForExtension(name string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byExt[strings.ToLower(filepath.Ext(name))]
	return p, ok
}

// DefaultRegistry wires every built-in format parser.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewMarkdownParser())
	r.Register(NewPDFParser())
	r.Register(NewWordParser())
	r.Register(NewExcelParser())
	r.Register(NewRawParser())
	r.Register(NewZipParser(r))
	return r
}

// Stage writes a parsed tree under a fresh temp URI and returns the
// result handle. The document directory is the sanitized source name.
func Stage(ctx context.Context, fs *vikingfs.FS, root *Node, sourceName, sourceFormat string, warnings []string) (*Result, error) {
	if root == nil {
		return nil, status.New(status.CodeProcessingError, "parser produced no output for %s", sourceName)
	}
	temp := uri.NewTemp()
	docName := root.Title
	if docName == "" {
		docName = sourceName
	}
	doc := temp.JoinSanitized(stripExt(docName))
	if err := stageNode(ctx, fs, doc, root); err != nil {
		_ = fs.DeleteTemp(ctx, temp)
		return nil, err
	}
	return &Result{
		TempRoot:     temp,
		SourceName:   sourceName,
		SourceFormat: sourceFormat,
		Warnings:     warnings,
		Meta:         root.Meta,
	}, nil
}

func stageNode(ctx context.Context, fs *vikingfs.FS, at uri.URI, n *Node) error {
	isLeaf := n.Type == NodeLeaf || (len(n.Children) == 0 && n.Body != nil)
	contentName := n.ContentName
	if contentName == "" {
		contentName = "content.md"
	}
	in := vikingfs.WriteContextInput{
		Abstract: n.AbstractSeed,
		IsLeaf:   isLeaf,
		Fields:   n.Meta,
	}
	if isLeaf {
		in.Content = n.Body
		in.ContentFilename = contentName
	}
	if err := fs.WriteContext(ctx, at, in); err != nil {
		return err
	}
	// Sibling titles may sanitize to the same segment; later ones get a
	// numeric suffix so no section silently replaces another.
	taken := make(map[string]bool, len(n.Children))
	for _, child := range n.Children {
		name := child.Title
		if name == "" {
			name = "section"
		}
		base := uri.SanitizeSegment(name)
		seg := base
		for i := 2; taken[seg]; i++ {
			seg = uri.SanitizeSegment(fmt.Sprintf("%s_%d", base, i))
			if seg == base {
				// The segment cap swallowed the suffix; shorten the base
				// to make room.
				r := []rune(base)
				base = string(r[:len(r)-4])
				seg = uri.SanitizeSegment(fmt.Sprintf("%s_%d", base, i))
			}
		}
		taken[seg] = true
		if err := stageNode(ctx, fs, at.JoinSanitized(seg), child); err != nil {
			return err
		}
	}
	return nil
}

func stripExt(name string) string {
	base := filepath.Base(name)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		return strings.TrimSuffix(base, ext)
	}
	return base
}

// seedAbstract derives a short placeholder abstract from body text until
// the semantic queue writes the real one.
func seedAbstract(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) > 200 {
		return string(r[:200])
	}
	return text
}

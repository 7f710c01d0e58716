package processor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/parser"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vikingfs"
)

// enqueueNodeLimit bounds how many nodes one ingest fans out to.
const enqueueNodeLimit = 100000

// ProcessInput names one resource to ingest. Exactly one of Path, Content,
// or URL must be set.
type ProcessInput struct {
	Path    string
	Content []byte
	URL     string
	// Name overrides the derived resource name for content ingests.
	Name string
	// Target is the destination URI; empty derives one under resources/.
	Target uri.URI
	Reason string
	// Wait blocks until both queues drain before returning.
	Wait bool
}

// ProcessResult reports a finished ingest.
type ProcessResult struct {
	RootURI  uri.URI                   `json:"root_uri"`
	Warnings []string                  `json:"warnings,omitempty"`
	Enqueued int                       `json:"enqueued"`
	Meta     map[string]any            `json:"meta,omitempty"`
	Queues   map[string]queue.Snapshot `json:"queues,omitempty"`
}

// Resource ingests external sources into the resources tree.
type Resource struct {
	fs       *vikingfs.FS
	registry *parser.Registry
	queues   *queue.Manager
	dir      *parser.DirectoryParser
	url      *parser.URLParser
	log      *slog.Logger
}

func NewResource(fs *vikingfs.FS, registry *parser.Registry, queues *queue.Manager) *Resource {
	return &Resource{
		fs:       fs,
		registry: registry,
		queues:   queues,
		dir:      parser.NewDirectoryParser(registry),
		url:      parser.NewURLParser(registry),
		log:      logger.GetLogger("processor"),
	}
}

// Process parses, stages, finalizes, and fans out queue work for one
// source. Partial parses proceed with their warnings attached.
func (p *Resource) Process(ctx context.Context, in ProcessInput) (*ProcessResult, error) {
	src, format, err := p.dispatch(in)
	if err != nil {
		return nil, err
	}
	node, warnings, err := src.parse(ctx)
	if err != nil {
		return nil, err
	}
	staged, err := parser.Stage(ctx, p.fs, node, src.name, format, warnings)
	if err != nil {
		return nil, err
	}
	root, err := p.fs.FinalizeFromTemp(ctx, staged.TempRoot, in.Target)
	if err != nil {
		return nil, err
	}
	enqueued, err := p.enqueueTree(ctx, root)
	if err != nil {
		return nil, err
	}
	p.log.Info("resource ingested",
		"uri", root.String(), "format", format, "enqueued", enqueued, "warnings", len(staged.Warnings))

	res := &ProcessResult{
		RootURI:  root,
		Warnings: staged.Warnings,
		Enqueued: enqueued,
		Meta:     staged.Meta,
	}
	if in.Wait {
		snaps, err := p.queues.WaitComplete(ctx)
		res.Queues = snaps
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

type dispatched struct {
	name  string
	parse func(ctx context.Context) (*parser.Node, []string, error)
}

func (p *Resource) dispatch(in ProcessInput) (*dispatched, string, error) {
	switch {
	case in.URL != "":
		return &dispatched{
			name: firstNonEmpty(in.Name, in.URL),
			parse: func(ctx context.Context) (*parser.Node, []string, error) {
				return p.url.Parse(ctx, parser.Source{URL: in.URL, Name: in.Name})
			},
		}, "url", nil

	case in.Content != nil:
		raw := parser.NewRawParser()
		name := firstNonEmpty(in.Name, "content.md")
		if byExt, ok := p.registry.ForExtension(name); ok {
			return &dispatched{name: name, parse: func(ctx context.Context) (*parser.Node, []string, error) {
				return byExt.Parse(ctx, parser.Source{Content: in.Content, Name: name})
			}}, byExt.Name(), nil
		}
		return &dispatched{name: name, parse: func(ctx context.Context) (*parser.Node, []string, error) {
			return raw.Parse(ctx, parser.Source{Content: in.Content, Name: name})
		}}, "raw", nil

	case in.Path != "":
		info, err := os.Stat(in.Path)
		if err != nil {
			return nil, "", status.NotFound("source not found: %s", in.Path)
		}
		name := firstNonEmpty(in.Name, filepath.Base(in.Path))
		if info.IsDir() {
			return &dispatched{name: name, parse: func(ctx context.Context) (*parser.Node, []string, error) {
				return p.dir.Parse(ctx, parser.Source{Path: in.Path, Name: name})
			}}, "directory", nil
		}
		fileParser, ok := p.registry.ForExtension(name)
		format := "raw"
		if ok {
			format = fileParser.Name()
		} else {
			fileParser = parser.NewRawParser()
		}
		return &dispatched{name: name, parse: func(ctx context.Context) (*parser.Node, []string, error) {
			return fileParser.Parse(ctx, parser.Source{Path: in.Path, Name: name})
		}}, format, nil
	}
	return nil, "", status.InvalidArgument("process requires a path, content, or url")
}

// enqueueTree fans out one task per node of a finalized subtree: leaves
// get an embedding task, directories get a semantic overview task.
func (p *Resource) enqueueTree(ctx context.Context, root uri.URI) (int, error) {
	entries, err := p.fs.Tree(ctx, root, vikingfs.ListOptions{
		Output:    vikingfs.OutputOriginal,
		NodeLimit: enqueueNodeLimit,
	})
	if err != nil {
		return 0, err
	}

	uris := make([]uri.URI, 0, len(entries)+1)
	uris = append(uris, root)
	for _, e := range entries {
		// Context nodes are physical directories; plain files inside a
		// leaf bundle are its content, not nodes of their own.
		if !e.IsDir {
			continue
		}
		u, err := uri.Parse(e.URI)
		if err != nil {
			return 0, err
		}
		uris = append(uris, u)
	}

	enqueued := 0
	for _, u := range uris {
		meta, err := p.fs.Meta(ctx, u)
		if err != nil {
			if status.IsNotFound(err) {
				continue
			}
			return enqueued, err
		}
		if meta.IsLeaf {
			abstract, err := p.fs.Abstract(ctx, u)
			if err != nil {
				return enqueued, err
			}
			if _, err := p.queues.Enqueue(ctx, queue.EmbeddingQueue, &EmbeddingTask{URI: u.String(), VectorizeText: abstract}); err != nil {
				return enqueued, err
			}
		} else {
			if _, err := p.queues.Enqueue(ctx, queue.SemanticQueue, &SemanticTask{URI: u.String(), Target: TargetBoth}); err != nil {
				return enqueued, err
			}
		}
		enqueued++
	}
	return enqueued, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

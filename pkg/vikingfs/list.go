package vikingfs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/openviking/openviking/pkg/uri"
)

const (
	// OutputOriginal returns raw entries; OutputAgent decorates entries
	// with truncated abstracts for model consumption.
	OutputOriginal = "original"
	OutputAgent    = "agent"

	abstractFetchConcurrency = 6

	defaultAbsLimit  = 120
	defaultNodeLimit = 500
)

// Entry is one listing row.
type Entry struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	IsDir    bool   `json:"is_dir"`
	Abstract string `json:"abstract,omitempty"`
	Size     int64  `json:"size"`
	ModTime  int64  `json:"mtime"`
	Depth    int    `json:"depth,omitempty"`
}

// ListOptions shape ls and tree output.
type ListOptions struct {
	Recursive  bool
	Output     string
	AbsLimit   int
	NodeLimit  int
	ShowHidden bool
}

func (o *ListOptions) setDefaults() {
	if o.Output == "" {
		o.Output = OutputAgent
	}
	if o.AbsLimit <= 0 {
		o.AbsLimit = defaultAbsLimit
	}
	if o.NodeLimit <= 0 {
		o.NodeLimit = defaultNodeLimit
	}
}

// Ls lists a directory node. In agent output each entry carries its
// abstract; recursive listings traverse pre-order up to NodeLimit nodes.
func (fs *FS) Ls(ctx context.Context, u uri.URI, opts ListOptions) ([]Entry, error) {
	opts.setDefaults()
	var out []Entry
	if err := fs.list(ctx, u, opts, 0, &out); err != nil {
		return nil, err
	}
	if opts.Output == OutputAgent {
		if err := fs.decorate(ctx, out, opts.AbsLimit); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Tree is Ls with recursion forced on.
func (fs *FS) Tree(ctx context.Context, u uri.URI, opts ListOptions) ([]Entry, error) {
	opts.Recursive = true
	return fs.Ls(ctx, u, opts)
}

func (fs *FS) list(ctx context.Context, u uri.URI, opts ListOptions, depth int, out *[]Entry) error {
	entries, err := fs.backend.List(ctx, BackendPath(u))
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	for _, e := range entries {
		if !opts.ShowHidden && strings.HasPrefix(e.Name, ".") {
			continue
		}
		if len(*out) >= opts.NodeLimit {
			return nil
		}
		child := u.Join(e.Name)
		*out = append(*out, Entry{
			Name:    e.Name,
			URI:     child.String(),
			IsDir:   e.IsDir,
			Size:    e.Size,
			ModTime: e.ModTime.UnixMilli(),
			Depth:   depth,
		})
		if opts.Recursive && e.IsDir {
			// Leaf nodes are physically directories; do not descend into
			// their content bundle.
			if m, err := fs.Meta(ctx, child); err == nil && m.IsLeaf {
				continue
			}
			if err := fs.list(ctx, child, opts, depth+1, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// decorate attaches truncated abstracts and corrects leaf-ness from meta,
// fetching with bounded concurrency.
func (fs *FS) decorate(ctx context.Context, entries []Entry, absLimit int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(abstractFetchConcurrency)
	for i := range entries {
		if !entries[i].IsDir {
			continue
		}
		i := i
		g.Go(func() error {
			child, err := uri.Parse(entries[i].URI)
			if err != nil {
				return err
			}
			abs, err := fs.Abstract(gctx, child)
			if err != nil {
				return err
			}
			entries[i].Abstract = truncate(abs, absLimit)
			if m, err := fs.Meta(gctx, child); err == nil && m.IsLeaf {
				entries[i].IsDir = false
				if m.ContentFile != "" {
					if ci, err := fs.backend.Stat(gctx, BackendPath(child)+"/"+m.ContentFile); err == nil {
						entries[i].Size = ci.Size
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "..."
}

// RenderTree formats entries as an indented listing for agent output.
func RenderTree(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(strings.Repeat("  ", e.Depth))
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		if e.Abstract != "" {
			fmt.Fprintf(&b, "- %s  %s\n", name, e.Abstract)
		} else {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}
	return b.String()
}

package vikingfs

import (
	"context"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
)

// GrepMatch is one matching line.
type GrepMatch struct {
	URI  string `json:"uri"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// GrepResult carries matches and their count.
type GrepResult struct {
	Matches []GrepMatch `json:"matches"`
	Count   int         `json:"count"`
}

// Grep scans L2 content of the subtree under u. The pattern is treated as
// a regular expression, falling back to a literal scan when it does not
// compile.
func (fs *FS) Grep(ctx context.Context, u uri.URI, pattern string, caseInsensitive bool, nodeLimit int) (*GrepResult, error) {
	if pattern == "" {
		return nil, status.InvalidArgument("grep pattern must not be empty")
	}
	if nodeLimit <= 0 {
		nodeLimit = defaultNodeLimit
	}
	expr := pattern
	if caseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		re = regexp.MustCompile(regexp.QuoteMeta(pattern))
		if caseInsensitive {
			re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(pattern))
		}
	}

	result := &GrepResult{}
	visited := 0
	err = fs.walkNodes(ctx, u, nodeLimit, &visited, func(node uri.URI, m *Meta) error {
		if !m.IsLeaf || m.ContentFile == "" {
			return nil
		}
		info, err := fs.backend.Stat(ctx, BackendPath(node)+"/"+m.ContentFile)
		if err != nil || info.Size > maxGrepFileSize {
			return nil
		}
		data, err := fs.backend.ReadBytes(ctx, BackendPath(node)+"/"+m.ContentFile)
		if err != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				result.Matches = append(result.Matches, GrepMatch{
					URI:  node.String(),
					Line: i + 1,
					Text: strings.TrimRight(line, "\r"),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Count = len(result.Matches)
	return result, nil
}

// GlobResult carries matched URIs and their count.
type GlobResult struct {
	Matches []string `json:"matches"`
	Count   int      `json:"count"`
}

// Glob matches node paths under root against a shell pattern supporting
// *, ? and **.
func (fs *FS) Glob(ctx context.Context, root uri.URI, pattern string) (*GlobResult, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, status.InvalidArgument("invalid glob pattern: %s", pattern)
	}
	result := &GlobResult{}
	rootPath := BackendPath(root)
	visited := 0
	err := fs.walkNodes(ctx, root, 0, &visited, func(node uri.URI, _ *Meta) error {
		rel := strings.TrimPrefix(BackendPath(node), rootPath)
		rel = strings.TrimPrefix(rel, "/")
		ok, err := doublestar.Match(pattern, rel)
		if err != nil {
			return status.InvalidArgument("invalid glob pattern: %s", pattern).WithCause(err)
		}
		if ok {
			result.Matches = append(result.Matches, node.String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Count = len(result.Matches)
	return result, nil
}

// walkNodes visits every node under root in pre-order, stopping after
// nodeLimit visits when positive. The callback receives a zero-value meta
// for plain directories without a record.
func (fs *FS) walkNodes(ctx context.Context, root uri.URI, nodeLimit int, visited *int, fn func(uri.URI, *Meta) error) error {
	entries, err := fs.backend.List(ctx, BackendPath(root))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name, ".") || !e.IsDir {
			continue
		}
		if nodeLimit > 0 && *visited >= nodeLimit {
			return nil
		}
		*visited++
		child := root.Join(e.Name)
		m, err := fs.Meta(ctx, child)
		if err != nil {
			if !status.IsNotFound(err) {
				return err
			}
			m = &Meta{URI: child.String()}
		}
		if err := fn(child, m); err != nil {
			return err
		}
		if !m.IsLeaf {
			if err := fs.walkNodes(ctx, child, nodeLimit, visited, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

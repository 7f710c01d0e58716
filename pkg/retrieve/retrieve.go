// Package retrieve implements find (direct vector search) and search
// (intent-analyzed multi-query search) over the context collection.
package retrieve

import (
	"context"
	"log/slog"

	"github.com/openviking/openviking/pkg/embedder"
	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vector"
	"github.com/openviking/openviking/pkg/vlm"
)

const defaultLimit = 10

// Item is one scored hit.
type Item struct {
	URI         string         `json:"uri"`
	Score       float32        `json:"score"`
	Abstract    string         `json:"abstract,omitempty"`
	ContextType string         `json:"context_type"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// FindResult groups hits by context type.
type FindResult struct {
	Resources []Item `json:"resources"`
	Memories  []Item `json:"memories"`
	Skills    []Item `json:"skills"`
	Total     int    `json:"total"`
}

// FindOptions tune one find call.
type FindOptions struct {
	// Target restricts hits to one subtree; zero means everywhere.
	Target         uri.URI
	Limit          int
	ScoreThreshold float32
	Filter         *vector.Filter
}

// Retriever runs queries against the collection.
type Retriever struct {
	col *vector.Collection
	emb embedder.Embedder
	vlm vlm.VLM
	log *slog.Logger
}

func New(col *vector.Collection, emb embedder.Embedder, v vlm.VLM) *Retriever {
	return &Retriever{col: col, emb: emb, vlm: v, log: logger.GetLogger("retrieve")}
}

// Find embeds the query and searches the collection once.
func (r *Retriever) Find(ctx context.Context, query string, opts FindOptions) (*FindResult, error) {
	if query == "" {
		return nil, status.InvalidArgument("find requires a query")
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	vec, err := r.emb.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := r.col.Search(ctx, vec, findFilter(opts), opts.Limit, opts.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	return groupHits(hits), nil
}

func findFilter(opts FindOptions) *vector.Filter {
	var parts []*vector.Filter
	if !opts.Target.IsZero() {
		parts = append(parts, vector.Prefix("uri", opts.Target.String()))
	}
	if opts.Filter != nil {
		parts = append(parts, opts.Filter)
	}
	return vector.And(parts...)
}

func groupHits(hits []vector.SearchResult) *FindResult {
	res := &FindResult{}
	for _, h := range hits {
		item := Item{
			URI:         h.Record.URI,
			Score:       h.Score,
			Abstract:    h.Record.Abstract,
			ContextType: h.Record.ContextType,
			Meta:        h.Record.Fields,
		}
		switch h.Record.ContextType {
		case string(uri.TypeMemory):
			res.Memories = append(res.Memories, item)
		case string(uri.TypeSkill):
			res.Skills = append(res.Skills, item)
		default:
			res.Resources = append(res.Resources, item)
		}
		res.Total++
	}
	return res
}

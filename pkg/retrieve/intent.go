package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openviking/openviking/pkg/session"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vector"
	"github.com/openviking/openviking/pkg/vlm"
)

const (
	// maxIntentQueries caps how many generated queries one search runs.
	maxIntentQueries = 5
	// recentMessageWindow is how much session tail feeds the analyzer.
	recentMessageWindow = 5
)

const intentSystemPrompt = "You turn an agent conversation into retrieval queries for a context store. " +
	"Answer with JSON only: {\"queries\": [{\"query\": ..., \"context_type\": \"resource\"|\"memory\"|\"skill\"|\"\", " +
	"\"intent\": ..., \"priority\": 1..5}], \"reasoning\": ...}. " +
	"Generate at most 5 queries, highest priority first. An empty context_type searches everything."

// IntentQuery is one analyzer-generated retrieval query.
type IntentQuery struct {
	Query       string `json:"query"`
	ContextType string `json:"context_type,omitempty"`
	Intent      string `json:"intent,omitempty"`
	Priority    int    `json:"priority"`
}

// Intent is the analyzer's full answer.
type Intent struct {
	Queries   []IntentQuery `json:"queries"`
	Reasoning string        `json:"reasoning,omitempty"`
}

// SearchContext is the conversational state behind one search call.
type SearchContext struct {
	// Summary is the latest compression summary, empty for fresh sessions.
	Summary string
	// Recent holds the session tail; only the last 5 are used.
	Recent []session.Message
	// Current is the message being answered.
	Current string
}

// Search analyzes intent, runs one find per generated query, and merges
// hits by max score. With no usable analysis it degrades to a plain find
// on the current message.
func (r *Retriever) Search(ctx context.Context, sctx SearchContext, opts FindOptions) (*FindResult, error) {
	intent, err := r.Analyze(ctx, sctx)
	if err != nil {
		r.log.Warn("intent analysis failed, falling back to direct find", "error", err)
		return r.Find(ctx, sctx.Current, opts)
	}
	queries := intent.Queries
	if len(queries) == 0 {
		return r.Find(ctx, sctx.Current, opts)
	}
	if len(queries) > maxIntentQueries {
		queries = queries[:maxIntentQueries]
	}

	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	best := make(map[string]vector.SearchResult)
	for _, q := range queries {
		if strings.TrimSpace(q.Query) == "" {
			continue
		}
		vec, err := r.emb.Embed(ctx, q.Query)
		if err != nil {
			return nil, err
		}
		filter := findFilter(opts)
		if q.ContextType != "" {
			filter = vector.And(filter, vector.Eq("context_type", q.ContextType))
		}
		hits, err := r.col.Search(ctx, vec, filter, opts.Limit, opts.ScoreThreshold)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if prev, ok := best[h.Record.URI]; !ok || h.Score > prev.Score {
				best[h.Record.URI] = h
			}
		}
	}

	merged := make([]vector.SearchResult, 0, len(best))
	for _, h := range best {
		merged = append(merged, h)
	}
	sortByScore(merged)
	if len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}
	return groupHits(merged), nil
}

// Analyze runs the intent analyzer over the session context.
func (r *Retriever) Analyze(ctx context.Context, sctx SearchContext) (*Intent, error) {
	var b strings.Builder
	if sctx.Summary != "" {
		fmt.Fprintf(&b, "Earlier conversation summary:\n%s\n\n", sctx.Summary)
	}
	recent := sctx.Recent
	if len(recent) > recentMessageWindow {
		recent = recent[len(recent)-recentMessageWindow:]
	}
	if len(recent) > 0 {
		b.WriteString("Recent messages:\n")
		for i := range recent {
			fmt.Fprintf(&b, "%s: %s\n", recent[i].Role, recent[i].PlainText())
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current message:\n%s", sctx.Current)

	var intent Intent
	if err := vlm.CompleteJSON(ctx, r.vlm, vlm.Request{System: intentSystemPrompt, Prompt: b.String()}, &intent); err != nil {
		return nil, err
	}
	for i := range intent.Queries {
		switch intent.Queries[i].ContextType {
		case string(uri.TypeResource), string(uri.TypeMemory), string(uri.TypeSkill), "":
		default:
			intent.Queries[i].ContextType = ""
		}
	}
	return &intent, nil
}

func sortByScore(hits []vector.SearchResult) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

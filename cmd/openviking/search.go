package main

import (
	"context"
	"fmt"
	"net/url"
)

type findItem struct {
	URI         string  `json:"uri"`
	Score       float32 `json:"score"`
	Abstract    string  `json:"abstract,omitempty"`
	ContextType string  `json:"context_type"`
}

type findResult struct {
	Resources []findItem `json:"resources"`
	Memories  []findItem `json:"memories"`
	Skills    []findItem `json:"skills"`
	Total     int        `json:"total"`
}

func printFindResult(res findResult) {
	groups := []struct {
		label string
		items []findItem
	}{
		{"resources", res.Resources},
		{"memories", res.Memories},
		{"skills", res.Skills},
	}
	for _, g := range groups {
		if len(g.items) == 0 {
			continue
		}
		fmt.Printf("%s:\n", g.label)
		for _, it := range g.items {
			fmt.Printf("  %.3f  %s\n", it.Score, it.URI)
			if it.Abstract != "" {
				fmt.Printf("         %s\n", it.Abstract)
			}
		}
	}
	fmt.Printf("total: %d\n", res.Total)
}

// findFlags are shared between find and search.
type findFlags struct {
	Target         string  `short:"t" help:"Restrict results to this subtree."`
	Limit          int     `short:"n" help:"Max results."`
	ScoreThreshold float32 `name:"score-threshold" help:"Minimum similarity score."`
}

func (f findFlags) body(query string) map[string]any {
	b := map[string]any{"query": query}
	if f.Target != "" {
		b["target"] = f.Target
	}
	if f.Limit > 0 {
		b["limit"] = f.Limit
	}
	if f.ScoreThreshold != 0 {
		b["score_threshold"] = f.ScoreThreshold
	}
	return b
}

// FindCmd runs a semantic search for a query string.
type FindCmd struct {
	Query string `arg:"" help:"Natural-language query."`
	findFlags
}

func (c *FindCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	var res findResult
	if err := cl.Post(context.Background(), "/api/v1/search/find", c.findFlags.body(c.Query), &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	printFindResult(res)
	return nil
}

// SearchCmd runs a session-aware search.
type SearchCmd struct {
	Query     string `arg:"" help:"Current message."`
	SessionID string `name:"session" help:"Session whose recent messages feed the analyzer."`
	Summary   string `help:"Conversation summary for the analyzer."`
	findFlags
}

func (c *SearchCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	body := c.findFlags.body(c.Query)
	if c.SessionID != "" {
		body["session_id"] = c.SessionID
	}
	if c.Summary != "" {
		body["summary"] = c.Summary
	}
	var res findResult
	if err := cl.Post(context.Background(), "/api/v1/search/search", body, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	printFindResult(res)
	return nil
}

// GrepCmd searches content by regular expression.
type GrepCmd struct {
	Pattern         string `arg:"" help:"Regular expression."`
	URI             string `arg:"" default:"viking://resources" help:"Subtree to scan."`
	CaseInsensitive bool   `short:"i" help:"Case-insensitive match."`
	NodeLimit       int    `name:"node-limit" help:"Max nodes to visit."`
}

func (c *GrepCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	body := map[string]any{
		"uri":              c.URI,
		"pattern":          c.Pattern,
		"case_insensitive": c.CaseInsensitive,
	}
	if c.NodeLimit > 0 {
		body["node_limit"] = c.NodeLimit
	}
	var res struct {
		Matches []struct {
			URI  string `json:"uri"`
			Line int    `json:"line"`
			Text string `json:"text"`
		} `json:"matches"`
		Count int `json:"count"`
	}
	if err := cl.Post(context.Background(), "/api/v1/search/grep", body, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	for _, m := range res.Matches {
		fmt.Printf("%s:%d: %s\n", m.URI, m.Line, m.Text)
	}
	return nil
}

// GlobCmd matches URIs against a glob pattern.
type GlobCmd struct {
	Pattern string `arg:"" help:"Glob pattern, ** crosses directories."`
	URI     string `arg:"" default:"viking://resources" help:"Subtree to scan."`
}

func (c *GlobCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	var res struct {
		Matches []string `json:"matches"`
		Count   int      `json:"count"`
	}
	body := map[string]any{"uri": c.URI, "pattern": c.Pattern}
	if err := cl.Post(context.Background(), "/api/v1/search/glob", body, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	return cli.lines(res.Matches)
}

// LinkCmd relates one URI to others.
type LinkCmd struct {
	From   string   `arg:"" help:"Source URI."`
	To     []string `arg:"" help:"Target URIs."`
	Reason string   `help:"Why the nodes are related."`
}

func (c *LinkCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	body := map[string]any{"from_uri": c.From, "to_uris": c.To, "reason": c.Reason}
	var res map[string]any
	if err := cl.Post(context.Background(), "/api/v1/relations/link", body, &res); err != nil {
		return err
	}
	return cli.emit(res)
}

// UnlinkCmd removes a relation.
type UnlinkCmd struct {
	From string `arg:"" help:"Source URI."`
	To   string `arg:"" help:"Target URI."`
}

func (c *UnlinkCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	body := map[string]any{"from_uri": c.From, "to_uri": c.To}
	var res map[string]string
	if err := cl.Delete(context.Background(), "/api/v1/relations/link", nil, body, &res); err != nil {
		return err
	}
	return cli.emit(res)
}

// RelationsCmd lists relations of a URI.
type RelationsCmd struct {
	URI string `arg:"" help:"Node URI."`
}

func (c *RelationsCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	var res struct {
		Relations []struct {
			ID     string   `json:"id"`
			URIs   []string `json:"uris"`
			Reason string   `json:"reason,omitempty"`
		} `json:"relations"`
		Count int `json:"count"`
	}
	if err := cl.Get(context.Background(), "/api/v1/relations", url.Values{"uri": {c.URI}}, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	for _, rel := range res.Relations {
		fmt.Printf("%s  %v", rel.ID, rel.URIs)
		if rel.Reason != "" {
			fmt.Printf("  (%s)", rel.Reason)
		}
		fmt.Println()
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/openviking/openviking/internal/httpclient"
)

// listEntry mirrors the server's listing row.
type listEntry struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	IsDir    bool   `json:"is_dir"`
	Abstract string `json:"abstract,omitempty"`
	Size     int64  `json:"size"`
	Depth    int    `json:"depth,omitempty"`
}

type listResult struct {
	Entries []listEntry `json:"entries"`
	Count   int         `json:"count"`
}

// listFlags are shared between ls and tree.
type listFlags struct {
	Recursive bool `short:"r" help:"Descend into subdirectories."`
	Simple    bool `help:"Plain listing without abstracts."`
	All       bool `short:"a" help:"Include hidden entries."`
	AbsLimit  int  `name:"abs-limit" help:"Max abstract length per entry."`
	NodeLimit int  `name:"node-limit" help:"Max nodes to visit."`
}

func (f listFlags) query(u string) url.Values {
	q := url.Values{"uri": {u}}
	if f.Recursive {
		q.Set("recursive", "true")
	}
	if f.Simple {
		q.Set("simple", "true")
	}
	if f.All {
		q.Set("show_all_hidden", "true")
	}
	if f.AbsLimit > 0 {
		q.Set("abs_limit", strconv.Itoa(f.AbsLimit))
	}
	if f.NodeLimit > 0 {
		q.Set("node_limit", strconv.Itoa(f.NodeLimit))
	}
	return q
}

func runList(cli *CLI, path, u string, flags listFlags) error {
	c, err := cli.client()
	if err != nil {
		return err
	}
	var res listResult
	if err := c.Get(context.Background(), path, flags.query(u), &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	for _, e := range res.Entries {
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		indent := strings.Repeat("  ", e.Depth)
		if e.Abstract != "" {
			fmt.Printf("%s%-30s %s\n", indent, name, e.Abstract)
		} else {
			fmt.Printf("%s%s\n", indent, name)
		}
	}
	return nil
}

// LsCmd lists children of a URI.
type LsCmd struct {
	URI string `arg:"" default:"viking://resources" help:"Directory URI."`
	listFlags
}

func (c *LsCmd) Run(cli *CLI) error {
	return runList(cli, "/api/v1/fs/ls", c.URI, c.listFlags)
}

// TreeCmd shows a subtree.
type TreeCmd struct {
	URI string `arg:"" default:"viking://resources" help:"Root URI."`
	listFlags
}

func (c *TreeCmd) Run(cli *CLI) error {
	c.listFlags.Recursive = true
	return runList(cli, "/api/v1/fs/tree", c.URI, c.listFlags)
}

// StatCmd shows node metadata.
type StatCmd struct {
	URI string `arg:"" help:"Node URI."`
}

func (c *StatCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	var res map[string]any
	if err := cl.Get(context.Background(), "/api/v1/fs/stat", url.Values{"uri": {c.URI}}, &res); err != nil {
		return err
	}
	return cli.emit(res)
}

func runSidecar(cli *CLI, path, u, field string) error {
	c, err := cli.client()
	if err != nil {
		return err
	}
	var res map[string]string
	if err := c.Get(context.Background(), path, url.Values{"uri": {u}}, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	fmt.Println(res[field])
	return nil
}

// CatCmd prints L2 content.
type CatCmd struct {
	URI string `arg:"" help:"Node URI."`
}

func (c *CatCmd) Run(cli *CLI) error {
	return runSidecar(cli, "/api/v1/content/read", c.URI, "content")
}

// AbstractCmd prints the L0 abstract.
type AbstractCmd struct {
	URI string `arg:"" help:"Node URI."`
}

func (c *AbstractCmd) Run(cli *CLI) error {
	return runSidecar(cli, "/api/v1/content/abstract", c.URI, "abstract")
}

// OverviewCmd prints the L1 overview.
type OverviewCmd struct {
	URI string `arg:"" help:"Node URI."`
}

func (c *OverviewCmd) Run(cli *CLI) error {
	return runSidecar(cli, "/api/v1/content/overview", c.URI, "overview")
}

// MkdirCmd creates a directory.
type MkdirCmd struct {
	URI string `arg:"" help:"Directory URI to create."`
}

func (c *MkdirCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	var res map[string]string
	if err := cl.Post(context.Background(), "/api/v1/fs/mkdir", map[string]any{"uri": c.URI}, &res); err != nil {
		return err
	}
	return cli.emit(res)
}

// RmCmd removes a node.
type RmCmd struct {
	URI       string `arg:"" help:"Node URI to remove."`
	Recursive bool   `short:"r" help:"Remove directories and their contents."`
}

func (c *RmCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	q := url.Values{"uri": {c.URI}, "recursive": {httpclient.BoolQuery(c.Recursive)}}
	var res map[string]string
	if err := cl.Delete(context.Background(), "/api/v1/fs/", q, nil, &res); err != nil {
		return err
	}
	return cli.emit(res)
}

// MvCmd moves a subtree.
type MvCmd struct {
	From string `arg:"" help:"Source URI."`
	To   string `arg:"" help:"Destination URI."`
}

func (c *MvCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	body := map[string]any{"from_uri": c.From, "to_uri": c.To}
	var res map[string]string
	if err := cl.Post(context.Background(), "/api/v1/fs/mv", body, &res); err != nil {
		return err
	}
	return cli.emit(res)
}

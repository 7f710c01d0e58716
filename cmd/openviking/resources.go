package main

import (
	"context"
	"fmt"
	"os"
	"strings"
)

type processResult struct {
	RootURI  string   `json:"root_uri"`
	Warnings []string `json:"warnings,omitempty"`
	Enqueued int      `json:"enqueued"`
}

// AddCmd ingests a resource. The source argument is treated as a URL
// when it has a scheme, as a path when it exists on disk, and as
// literal text otherwise.
type AddCmd struct {
	Source  string `arg:"" help:"File, directory, URL, or text to ingest."`
	Name    string `help:"Display name for text or URL sources."`
	Target  string `short:"t" help:"Destination URI (default under viking://resources)."`
	Reason  string `help:"Why the resource was added."`
	Wait    bool   `short:"w" help:"Block until processing completes."`
	Timeout int    `help:"Request timeout in seconds."`
}

func (c *AddCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	body := map[string]any{
		"name":    c.Name,
		"target":  c.Target,
		"reason":  c.Reason,
		"wait":    c.Wait,
		"timeout": c.Timeout,
	}
	switch {
	case strings.HasPrefix(c.Source, "http://") || strings.HasPrefix(c.Source, "https://"):
		body["url"] = c.Source
	default:
		if _, err := os.Stat(c.Source); err == nil {
			abs, err := absPath(c.Source)
			if err != nil {
				return err
			}
			body["path"] = abs
		} else {
			body["content"] = c.Source
		}
	}
	var res processResult
	if err := cl.Post(context.Background(), "/api/v1/resources", body, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	fmt.Println(res.RootURI)
	for _, wmsg := range res.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", wmsg)
	}
	return nil
}

// SkillCmd groups skill management.
type SkillCmd struct {
	Add SkillAddCmd `cmd:"" help:"Install a skill from a directory, file, or text."`
}

// SkillAddCmd installs a skill.
type SkillAddCmd struct {
	Source  string `arg:"" help:"Skill directory, file, or text."`
	Wait    bool   `short:"w" help:"Block until processing completes."`
	Timeout int    `help:"Request timeout in seconds."`
}

func (c *SkillAddCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	body := map[string]any{"wait": c.Wait, "timeout": c.Timeout}
	if st, err := os.Stat(c.Source); err == nil {
		abs, err := absPath(c.Source)
		if err != nil {
			return err
		}
		if st.IsDir() {
			body["dir"] = abs
		} else {
			body["path"] = abs
		}
	} else {
		body["text"] = c.Source
	}
	var res processResult
	if err := cl.Post(context.Background(), "/api/v1/skills", body, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	fmt.Println(res.RootURI)
	return nil
}

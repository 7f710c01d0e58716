package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openviking/openviking/internal/httpclient"
	"github.com/openviking/openviking/pkg/config"
)

// loadConfig reads the resolved config file; a missing file yields defaults.
func (cli *CLI) loadConfig() (*config.Config, error) {
	return config.Load(config.ResolvePath(cli.Config))
}

// client builds the HTTP client from flags and config.
func (cli *CLI) client() (*httpclient.Client, error) {
	cfg, err := cli.loadConfig()
	if err != nil {
		return nil, err
	}
	base := cli.Server
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	key := cli.APIKey
	if key == "" {
		key = cfg.Server.APIKey
	}
	return httpclient.New(base, httpclient.WithAPIKey(key)), nil
}

// emit prints a structured result: raw JSON with --json, indented JSON
// otherwise. Commands with a natural text form render it themselves and
// only call emit in JSON mode.
func (cli *CLI) emit(v any) error {
	enc := json.NewEncoder(os.Stdout)
	if !cli.JSON {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// absPath resolves a local path for the server, which may run in a
// different working directory.
func absPath(p string) (string, error) {
	return filepath.Abs(p)
}

// lines prints one string per line in human mode.
func (cli *CLI) lines(items []string) error {
	if cli.JSON {
		return cli.emit(items)
	}
	for _, it := range items {
		fmt.Println(it)
	}
	return nil
}

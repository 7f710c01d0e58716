package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/server"
	"github.com/openviking/openviking/pkg/service"
)

// ServeCmd runs the server in the foreground until interrupted.
type ServeCmd struct {
	Host     string `help:"Listen host (overrides config)."`
	Port     int    `help:"Listen port (overrides config)."`
	Root     string `help:"Storage root directory (overrides config)." type:"path"`
	LogLevel string `name:"log-level" help:"Log level (debug, info, warn, error)."`
	LogFile  string `name:"log-file" help:"Log file path (empty = stderr)." type:"path"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.Root != "" {
		cfg.Storage.Root = c.Root
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.LogFile != "" {
		cfg.LogOutput = c.LogFile
	}

	out := os.Stderr
	if cfg.LogOutput != "" {
		f, cleanup, err := logger.OpenLogFile(cfg.LogOutput)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer cleanup()
		out = f
	}
	logger.Init(logger.ParseLevel(cfg.LogLevel), out, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	svc, err := service.New(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer svc.Close()

	return server.New(cfg.Server, svc, reg).Start(ctx)
}

// InitCmd writes a default config file.
type InitCmd struct {
	Force bool `help:"Overwrite an existing config file."`
}

func (c *InitCmd) Run(cli *CLI) error {
	path := config.ResolvePath(cli.Config)
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Println("wrote", path)
	return nil
}

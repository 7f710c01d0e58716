package main

import (
	"context"
	"fmt"
	"runtime/debug"
)

type queueSnapshot struct {
	Pending    int64 `json:"pending"`
	InFlight   int64 `json:"in_flight"`
	Processed  int64 `json:"processed"`
	ErrorCount int64 `json:"error_count"`
}

type systemStatus struct {
	StorageRoot string `json:"storage_root"`
	VectorDB    struct {
		Provider   string           `json:"provider"`
		Collection string           `json:"collection"`
		Records    int64            `json:"records"`
		ByType     map[string]int64 `json:"by_type,omitempty"`
	} `json:"vectordb"`
	VLM struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
	} `json:"vlm"`
	Embedding struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
	} `json:"embedding"`
	Queues       map[string]queueSnapshot `json:"queues"`
	Transactions struct {
		Active int `json:"active"`
	} `json:"transactions"`
}

// StatusCmd shows the system status roll-up.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	var res systemStatus
	if err := cl.Get(context.Background(), "/api/v1/system/status", nil, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	fmt.Println("storage:   ", res.StorageRoot)
	fmt.Printf("vectordb:   %s/%s (%d records)\n", res.VectorDB.Provider, res.VectorDB.Collection, res.VectorDB.Records)
	fmt.Printf("embedding:  %s (%s)\n", res.Embedding.Provider, res.Embedding.Model)
	fmt.Printf("vlm:        %s (%s)\n", res.VLM.Provider, res.VLM.Model)
	for name, q := range res.Queues {
		fmt.Printf("queue %-10s pending=%d in_flight=%d processed=%d errors=%d\n",
			name, q.Pending, q.InFlight, q.Processed, q.ErrorCount)
	}
	fmt.Println("active txns:", res.Transactions.Active)
	return nil
}

// WaitCmd blocks until the processing queues drain.
type WaitCmd struct {
	Timeout int `help:"Max seconds to wait."`
}

func (c *WaitCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	var res struct {
		Completed bool                     `json:"completed"`
		Queues    map[string]queueSnapshot `json:"queues"`
	}
	body := map[string]any{"timeout": c.Timeout}
	if err := cl.Post(context.Background(), "/api/v1/system/wait", body, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	for name, q := range res.Queues {
		fmt.Printf("%s: processed=%d errors=%d\n", name, q.Processed, q.ErrorCount)
	}
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Println("openviking", version)
	return nil
}

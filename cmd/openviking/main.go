// Command openviking is the CLI for the OpenViking context database.
//
// Usage:
//
//	openviking serve --config config.yaml
//	openviking add ./docs --wait
//	openviking find "how do we deploy"
//	openviking ls viking://resources
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/openviking/openviking/pkg/status"
)

// Exit codes: 0 success, 1 server-reported error, 2 CLI or config
// error, 3 connection failure.
const (
	exitOK         = 0
	exitServer     = 1
	exitConfig     = 2
	exitConnection = 3
)

// CLI defines the command-line grammar.
type CLI struct {
	Serve ServeCmd `cmd:"" help:"Start the OpenViking server."`
	Init  InitCmd  `cmd:"" help:"Write a default config file."`

	Add   AddCmd   `cmd:"" help:"Ingest a resource (file, directory, URL, or text)."`
	Skill SkillCmd `cmd:"" help:"Manage agent skills."`

	Ls       LsCmd       `cmd:"" help:"List children of a URI."`
	Tree     TreeCmd     `cmd:"" help:"Show a subtree."`
	Stat     StatCmd     `cmd:"" help:"Show node metadata."`
	Cat      CatCmd      `cmd:"" help:"Print L2 content."`
	Abstract AbstractCmd `cmd:"" help:"Print the L0 abstract."`
	Overview OverviewCmd `cmd:"" help:"Print the L1 overview."`
	Mkdir    MkdirCmd    `cmd:"" help:"Create a directory."`
	Rm       RmCmd       `cmd:"" help:"Remove a node."`
	Mv       MvCmd       `cmd:"" help:"Move a subtree."`

	Grep      GrepCmd      `cmd:"" help:"Search content by regular expression."`
	Glob      GlobCmd      `cmd:"" help:"Match URIs against a glob pattern."`
	Find      FindCmd      `cmd:"" help:"Semantic search for a query."`
	Search    SearchCmd    `cmd:"" help:"Session-aware semantic search."`
	Link      LinkCmd      `cmd:"" help:"Relate one URI to others."`
	Unlink    UnlinkCmd    `cmd:"" help:"Remove a relation."`
	Relations RelationsCmd `cmd:"" help:"List relations of a URI."`

	Session SessionCmd `cmd:"" help:"Manage sessions."`
	Pack    PackCmd    `cmd:"" help:"Export or import .ovpack archives."`

	Status  StatusCmd  `cmd:"" help:"Show system status."`
	Wait    WaitCmd    `cmd:"" help:"Block until the processing queues drain."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config string `short:"c" help:"Path to config file." type:"path"`
	Server string `short:"s" help:"Server base URL (default from config)." placeholder:"URL"`
	APIKey string `name:"api-key" help:"API key for the server." env:"OPENVIKING_API_KEY"`
	JSON   bool   `help:"Emit raw JSON instead of human-readable output."`
}

func main() {
	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("openviking"),
		kong.Description("Agent-native context database."),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	ktx, err := parser.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}

	if err := ktx.Run(cli); err != nil {
		os.Exit(renderError(err))
	}
	os.Exit(exitOK)
}

// renderError prints err to stderr and picks the exit code from its kind.
func renderError(err error) int {
	var se *status.Error
	if !errors.As(err, &se) {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return exitConfig
	}
	if se.Code == status.CodeUnavailable {
		fmt.Fprintf(os.Stderr, "ERROR[CONNECTION_ERROR]: %s\n", se.Message)
		return exitConnection
	}
	fmt.Fprintf(os.Stderr, "ERROR[%s]: %s\n", se.Code, se.Message)
	return exitServer
}

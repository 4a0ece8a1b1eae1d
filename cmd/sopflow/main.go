// Command sopflow runs the SOP workflow orchestrator as an MCP tool server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0" ./cmd/sopflow/
var version = "dev"

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "sopflow",
		Usage:                 "Florida First Roofing SOP workflow orchestrator",
		Version:               version,
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			newServeCommand(),
			newDefinitionsCommand(),
			newInitCommand(),
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/floridafirst/sopflow/internal/logging"
)

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the sop.* MCP tools over stdio and run the scheduler passes",
		Flags: append(configFlags(),
			&cli.BoolFlag{
				Name:  "no-scheduler",
				Usage: "Do not run the automation and overdue passes",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			// Stdout carries the MCP stream; logs go to stderr.
			logger := logging.NewLogger(os.Stderr, cfg.LogLevel).With("module", "sopflow")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("startup: %w", err)
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Error("close store", "error", err)
				}
			}()

			stopRelay := a.startRelay(ctx)
			defer stopRelay()

			if !cmd.Bool("no-scheduler") {
				if err := a.scheduler.Start(ctx); err != nil {
					return err
				}
				defer func() {
					if err := a.scheduler.Stop(); err != nil {
						logger.Error("stop scheduler", "error", err)
					}
				}()
			}

			logger.Info("serving MCP over stdio", "version", version, "definitions", definitionIDs(a.registry))
			if err := a.server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("shutting down")
			return nil
		},
	}
}

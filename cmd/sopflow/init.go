package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/urfave/cli/v3"
)

func newInitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a settings.json from the defaults and the given flags",
		Flags: append(configFlags(),
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing settings file",
			},
		),
		Action: func(_ context.Context, cmd *cli.Command) error {
			path := cmd.String(flagConfig)
			if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := writeSettings(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "wrote %s\n", path)
			return nil
		},
	}
}

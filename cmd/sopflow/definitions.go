package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/floridafirst/sopflow/internal/definitions"
	"github.com/floridafirst/sopflow/internal/diagram"
	"github.com/floridafirst/sopflow/internal/expressions"
	"github.com/floridafirst/sopflow/internal/registry"
	"github.com/floridafirst/sopflow/internal/validation"
	"github.com/floridafirst/sopflow/pkg/schema"
)

func newDefinitionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "definitions",
		Aliases: []string{"defs"},
		Usage:   "Inspect and validate SOP definitions",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the standard definitions plus those in --definitions-dir",
				Flags: configFlags(),
				Action: func(_ context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					reg, _, err := newRegistry(cfg.DefinitionsDir)
					if err != nil {
						return err
					}
					printDefinitions(cmd.Root().Writer, reg.List())
					return nil
				},
			},
			{
				Name:      "validate",
				Usage:     "Validate definition files or directories",
				ArgsUsage: "<file-or-dir>...",
				Action: func(_ context.Context, cmd *cli.Command) error {
					if cmd.NArg() == 0 {
						return errors.New("validate needs at least one file or directory")
					}
					return validatePaths(cmd.Root().Writer, cmd.Args().Slice())
				},
			},
			newDiagramCommand(),
		},
	}
}

func newDiagramCommand() *cli.Command {
	return &cli.Command{
		Name:      "diagram",
		Usage:     "Draw a definition as ASCII, Mermaid, or PNG",
		ArgsUsage: "<definition-id>",
		Flags: append(configFlags(),
			&cli.StringFlag{
				Name:  "format",
				Value: "ascii",
				Usage: "ascii, mermaid, or image",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write to this file instead of stdout (required for image)",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return errors.New("diagram needs exactly one definition id")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			reg, _, err := newRegistry(cfg.DefinitionsDir)
			if err != nil {
				return err
			}
			def, err := reg.Lookup(cmd.Args().First())
			if err != nil {
				return err
			}
			model, err := diagram.Build(def, nil, nil)
			if err != nil {
				return err
			}

			var out []byte
			switch format := cmd.String("format"); format {
			case "ascii":
				out = []byte(diagram.RenderASCII(model))
			case "mermaid":
				out = []byte(diagram.RenderMermaid(model))
			case "image":
				if cmd.String("output") == "" {
					return errors.New("--output is required for image")
				}
				if out, err = diagram.RenderImage(ctx, model); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q", format)
			}

			if path := cmd.String("output"); path != "" {
				if err := os.WriteFile(path, out, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.Root().Writer, "wrote %s\n", path)
				return nil
			}
			_, err = cmd.Root().Writer.Write(out)
			return err
		},
	}
}

func printDefinitions(w io.Writer, defs []*schema.WorkflowDefinition) {
	fmt.Fprintf(w, "%d definitions\n", len(defs))
	for _, d := range defs {
		fmt.Fprintf(w, "\n%s  %s\n", d.ID, d.Name)
		if d.Category != "" {
			fmt.Fprintf(w, "  category:  %s\n", d.Category)
		}
		fmt.Fprintf(w, "  steps:     %d (%s)\n", len(d.Steps), stepTypes(d))
		fmt.Fprintf(w, "  estimate:  %.0f min\n", d.Metadata.EstimatedTotalMinutes)
		for _, t := range d.Triggers {
			state := "enabled"
			if !t.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(w, "  trigger:   %s [%s, %s]\n", t.Type, t.Priority, state)
		}
	}
}

// validatePaths checks each file or directory against the JSON schema and the
// semantic rules the registry enforces. Every path is reported; the error
// counts the invalid ones.
func validatePaths(w io.Writer, paths []string) error {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}
	semantic, err := validation.NewWorkflowValidator(expressions.NewExprEngine(), cel)
	if err != nil {
		return err
	}
	jsv, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return err
	}

	invalid := 0
	for _, p := range paths {
		defs, loadErr := loadPath(p, jsv)
		if loadErr != nil {
			fmt.Fprintf(w, "❌ %s: %v\n", p, loadErr)
			invalid++
			continue
		}
		// A fresh registry per path so ids only collide within one path.
		reg := registry.New(semantic)
		for _, d := range defs {
			if regErr := reg.Register(d); regErr != nil {
				fmt.Fprintf(w, "❌ %s (%s): %v\n", p, d.ID, regErr)
				invalid++
				continue
			}
			fmt.Fprintf(w, "✅ %s (%s): %d steps\n", p, d.ID, len(d.Steps))
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d invalid definition(s)", invalid)
	}
	return nil
}

func loadPath(path string, v definitions.DocumentValidator) ([]*schema.WorkflowDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return definitions.LoadDir(path, v)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	def, err := definitions.Parse(data, v)
	if err != nil {
		return nil, err
	}
	return []*schema.WorkflowDefinition{def}, nil
}

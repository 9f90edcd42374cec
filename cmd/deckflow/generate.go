package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/deckflow/pkg/assembler"
	"github.com/dukex/deckflow/pkg/cmd"
	"github.com/dukex/deckflow/pkg/config"
	"github.com/dukex/deckflow/pkg/document"
	"github.com/dukex/deckflow/pkg/llm"
	"github.com/dukex/deckflow/pkg/log"
	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/persistence/file"
	"github.com/dukex/deckflow/pkg/workflow"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

type generateOptions struct {
	Input          string
	OutputDir      string
	Title          string
	Template       string
	TargetAudience string
	MaxSlides      int
	Formats        []string
}

func GenerateCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Aliases:   []string{"g"},
		Usage:     "Run the full generation workflow on a document and print the execution",
		ArgsUsage: "<document>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "output-dir",
				Aliases: []string{"o"},
				Usage:   "Directory receiving the execution record and exported files",
				Value:   "./deckflow-out",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Presentation title (defaults to the file name)",
			},
			&cli.StringFlag{
				Name:  "template",
				Usage: "Presentation template (corporate, executive, research, financial)",
			},
			&cli.StringFlag{
				Name:  "audience",
				Usage: "Target audience",
			},
			&cli.IntFlag{
				Name:  "max-slides",
				Usage: "Requested number of slides",
			},
			&cli.StringSliceFlag{
				Name:  "format",
				Usage: "Export format, repeatable (pptx, pdf, html, png)",
			},
		}, llmFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() != 1 {
				return cli.Exit("generate expects exactly one document path", 2)
			}

			settings, err := config.Load(command.Root().String("config-file"))
			if err != nil {
				return err
			}

			generator, err := newGenerator(ctx, command, settings)
			if err != nil {
				return err
			}

			opts := generateOptions{
				Input:          command.Args().First(),
				OutputDir:      command.String("output-dir"),
				Title:          command.String("title"),
				Template:       command.String("template"),
				TargetAudience: command.String("audience"),
				MaxSlides:      command.Int("max-slides"),
				Formats:        command.StringSlice("format"),
			}

			return generate(ctx, *settings, generator, opts, command.Root().Writer, log.WithModule("generate"))
		},
	}
}

func generate(
	ctx context.Context,
	settings config.Settings,
	generator llm.Generator,
	opts generateOptions,
	w io.Writer,
	logger *slog.Logger,
) error {
	data, err := os.ReadFile(opts.Input) // #nosec G304 -- user supplied path
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	doc, err := document.Extract(data, filepath.Base(opts.Input))
	if err != nil {
		return err
	}

	store := file.NewPersistence(opts.OutputDir)
	registry := cmd.NewRegistry(settings, generator, assembler.Default(), store, logger)
	orchestrator := cmd.NewOrchestrator(settings, registry, logger)

	execution, err := orchestrator.Run(ctx, workflow.RunRequest{
		PresentationID:   uuid.New().String(),
		UserID:           "cli",
		SourceDocument:   doc,
		UserRequirements: opts.requirements(),
	})
	if err != nil {
		logger.ErrorContext(ctx, "Workflow faulted", "error", err)
	}

	if execution == nil {
		return err
	}

	if err := store.SaveExecution(ctx, execution); err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(execution); err != nil {
		return fmt.Errorf("failed to write execution: %w", err)
	}

	if !execution.Succeeded() {
		return cli.Exit("generation finished with errors", 1)
	}

	return nil
}

func (o generateOptions) requirements() models.Requirements {
	title := o.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(o.Input), filepath.Ext(o.Input))
	}

	req := models.Requirements{"title": title}

	if o.Template != "" {
		req["template"] = o.Template
	}

	if o.TargetAudience != "" {
		req["target_audience"] = o.TargetAudience
	}

	if o.MaxSlides > 0 {
		req["max_slides"] = o.MaxSlides
	}

	if len(o.Formats) > 0 {
		formats := make([]any, 0, len(o.Formats))
		for _, f := range o.Formats {
			formats = append(formats, f)
		}

		req["export_formats"] = formats
	}

	return req
}

package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/dukex/deckflow/pkg/assembler"
	"github.com/dukex/deckflow/pkg/cmd"
	"github.com/dukex/deckflow/pkg/config"
	"github.com/dukex/deckflow/pkg/llm"
	"github.com/dukex/deckflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func StagesCommand() *cli.Command {
	return &cli.Command{
		Name:  "stages",
		Usage: "List the workflow stages with their retry policies",
		Action: func(_ context.Context, command *cli.Command) error {
			settings, err := config.Load(command.Root().String("config-file"))
			if err != nil {
				return err
			}

			return printStages(*settings, command.Root().Writer)
		},
	}
}

func printStages(settings config.Settings, w io.Writer) error {
	logger := log.WithModule("stages")
	registry := cmd.NewRegistry(settings, llm.Offline{}, assembler.Default(), nil, logger)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(cmd.NewOrchestrator(settings, registry, logger).Stages())
}

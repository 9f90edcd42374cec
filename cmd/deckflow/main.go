// Package main provides the deckflow command line tool.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/deckflow/pkg/config"
	"github.com/dukex/deckflow/pkg/llm"
	"github.com/dukex/deckflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "deckflow",
		Usage:                 "Generate presentations from text documents",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-file",
				Aliases: []string{"c"},
				Usage:   "YAML settings file",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), "text")

			return ctx, nil
		},
		Commands: []*cli.Command{
			GenerateCommand(),
			OutlineCommand(),
			StagesCommand(),
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func llmFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "llm-provider",
			Usage:   "Chat model provider (openai, claude, ollama, none)",
			Value:   llm.ProviderNone,
			Sources: cli.EnvVars("LLM_PROVIDER"),
		},
		&cli.StringFlag{
			Name:    "llm-model",
			Usage:   "Chat model name",
			Sources: cli.EnvVars("LLM_MODEL"),
		},
		&cli.StringFlag{
			Name:    "llm-api-key",
			Usage:   "Chat model API key",
			Sources: cli.EnvVars("LLM_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "llm-base-url",
			Usage:   "Chat model endpoint override",
			Sources: cli.EnvVars("LLM_BASE_URL"),
		},
	}
}

func newGenerator(ctx context.Context, command *cli.Command, settings *config.Settings) (llm.Generator, error) {
	return llm.NewGenerator(ctx, llm.ModelConfig{
		Provider: command.String("llm-provider"),
		Model:    command.String("llm-model"),
		APIKey:   command.String("llm-api-key"),
		BaseURL:  command.String("llm-base-url"),
		Timeout:  settings.StageTimeout,
	}, log.WithModule("llm"))
}

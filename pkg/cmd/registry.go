package cmd

import (
	"log/slog"
	"strconv"

	"github.com/dukex/deckflow/pkg/assembler"
	"github.com/dukex/deckflow/pkg/config"
	"github.com/dukex/deckflow/pkg/llm"
	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/stages/architecture"
	"github.com/dukex/deckflow/pkg/stages/compliance"
	"github.com/dukex/deckflow/pkg/stages/content"
	"github.com/dukex/deckflow/pkg/stages/export"
	"github.com/dukex/deckflow/pkg/stages/plan"
	"github.com/dukex/deckflow/pkg/stages/research"
	"github.com/dukex/deckflow/pkg/workflow"
)

// NewRegistry registers the six presentation stages. A nil store keeps exports in memory only.
func NewRegistry(
	settings config.Settings,
	generator llm.Generator,
	files assembler.Assembler,
	store export.ArtifactStore,
	logger *slog.Logger,
) *workflow.Registry {
	registry := workflow.NewRegistry()

	registry.Register(plan.New(generator, logger,
		plan.WithMaxSlides(settings.MaxSlides),
		plan.WithDefaultSlides(settings.DefaultSlides),
		plan.WithDefaultTemplate(settings.DefaultTemplate),
	))
	registry.Register(research.New(logger))
	registry.Register(content.New(generator, logger, content.WithConcurrency(settings.ContentConcurrency)))
	registry.Register(architecture.New(logger, architecture.WithExportFormats(settings.ExportFormats...)))
	registry.Register(compliance.New(logger))

	exportOpts := []export.Option{
		export.WithDefaultFormats(settings.ExportFormats...),
		export.WithLinkTTL(settings.DownloadLinkTTL),
	}
	if store != nil {
		exportOpts = append(exportOpts, export.WithArtifactStore(store))
	}

	registry.Register(export.New(files, logger, exportOpts...))

	return registry
}

// NewGraph is the default pipeline graph with the per-stage retry ceilings from settings.
// A "plan" entry in retry_ceilings takes precedence over plan_retry_ceiling. Stages gated with a
// ceiling of 1 fail fast.
func NewGraph(settings config.Settings) *workflow.Graph {
	planCeiling := settings.PlanRetryCeiling
	if ceiling, ok := settings.RetryCeilings[string(models.StagePlan)]; ok {
		planCeiling = ceiling
	}

	graph := workflow.DefaultGraph(planCeiling)

	for stage, ceiling := range settings.RetryCeilings {
		name := models.StageName(stage)
		if name == models.StagePlan {
			continue
		}

		gateStage(graph, name, ceiling)
	}

	if planCeiling == 1 {
		gateStage(graph, models.StagePlan, 1)
	}

	return graph
}

// gateStage installs the retry gate for a ceiling. A ceiling of 1 allows no retries and maps to
// the fail-fast policy.
func gateStage(graph *workflow.Graph, stage models.StageName, ceiling int) {
	if ceiling == 1 {
		graph.Gate(stage, "fail_fast", workflow.FailFastPolicy(), 1)

		return
	}

	graph.Gate(stage, "ceiling("+strconv.Itoa(ceiling)+")", workflow.CeilingPolicy(ceiling), ceiling)
}

// NewOrchestrator builds the orchestrator over registry with the settings' graph and timeouts.
func NewOrchestrator(settings config.Settings, registry *workflow.Registry, logger *slog.Logger, opts ...workflow.Option) *workflow.Orchestrator {
	base := []workflow.Option{
		workflow.WithStageTimeout(settings.StageTimeout),
		workflow.WithMetadata(map[string]any{"environment": settings.Environment}),
	}

	return workflow.NewOrchestrator(registry, NewGraph(settings), logger, append(base, opts...)...)
}

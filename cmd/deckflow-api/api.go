// Package main provides the Deckflow API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/deckflow/pkg/config"
	"github.com/dukex/deckflow/pkg/document"
	"github.com/dukex/deckflow/pkg/metrics"
	"github.com/dukex/deckflow/pkg/services"
	"github.com/dukex/deckflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

const metricsPath = "/metrics"

type API struct {
	logger     *slog.Logger
	generation *services.Generation
	metrics    *metrics.Metrics
	settings   config.Settings
}

func NewAPI(
	logger *slog.Logger,
	generation *services.Generation,
	metrics *metrics.Metrics,
	settings config.Settings,
) *API {
	return &API{
		logger:     logger,
		generation: generation,
		metrics:    metrics,
		settings:   settings,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.generation)

	app := fiber.New(fiber.Config{
		AppName: "Deckflow API",
		// Raw document uploads plus room for the multipart envelope.
		BodyLimit: document.MaxSize + 1<<20,
	})
	app.Use(cors.New())
	app.Use(web.SecurityHeaders())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	limiter := web.NewRateLimiter(
		a.settings.RateLimitPerMinute,
		a.settings.RateLimitBurst,
		"/health",
		healthcheck.DefaultLivenessEndpoint,
		healthcheck.DefaultReadinessEndpoint,
		metricsPath,
	).OnReject(a.metrics.Rejected)
	app.Use(limiter.Handler())

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			_, healthy := a.generation.HealthCheck(c.Context())

			return healthy
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Deckflow API")
	})

	g := app.Group("/generations")
	g.Get("/", handlers.ListGenerations)
	g.Post("/", handlers.CreateGeneration)
	g.Get("/:id", handlers.GetGeneration)
	g.Get("/:id/status", handlers.GetGenerationStatus)
	g.Delete("/:id", handlers.CancelGeneration)
	g.Get("/:id/artifacts", handlers.ListArtifacts)
	g.Get("/:id/artifacts/:name", handlers.GetArtifact)

	app.Get("/stages", handlers.GetStages)
	app.Post("/documents/extract", handlers.ExtractDocument)
	app.Get("/health", handlers.HealthCheck)
	app.Get(metricsPath, adaptor.HTTPHandler(a.metrics.Handler()))

	return app
}

// Start serves until ctx is cancelled, then drains in-flight generations.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()
	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	a.logger.InfoContext(ctx, "Deckflow API listening", "port", port)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	a.logger.InfoContext(ctx, "Shutting down Deckflow API")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		a.logger.ErrorContext(ctx, "Failed to shut down HTTP server", "error", err)
	}

	return a.generation.Wait(shutdownCtx)
}

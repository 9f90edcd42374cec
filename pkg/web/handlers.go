package web

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/deckflow/pkg/document"
	"github.com/dukex/deckflow/pkg/services"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	generation *services.Generation
}

func NewAPIHandlers(generation *services.Generation) *APIHandlers {
	return &APIHandlers{
		generation: generation,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.generation.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Deckflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Deckflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateGeneration(c fiber.Ctx) error {
	var req services.GenerateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	accepted, err := h.generation.Start(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderLocation, "/generations/"+accepted.SessionID)

	return c.Status(fiber.StatusAccepted).JSON(accepted)
}

func (h *APIHandlers) ListGenerations(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: limit must be a number")
		}

		limit = parsed
	}

	executions, err := h.generation.History(c.Context(), c.Query("user_id"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"generations": executions,
		"total_count": len(executions),
	})
}

func (h *APIHandlers) GetGeneration(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Generation ID is required")
	}

	execution, err := h.generation.Execution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetGenerationStatus(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Generation ID is required")
	}

	snapshot, err := h.generation.Status(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(StatusResponse{StatusSnapshot: snapshot, Progress: progress(snapshot)})
}

func (h *APIHandlers) CancelGeneration(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Generation ID is required")
	}

	if err := h.generation.Cancel(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(CancelResponse{
		ID:      id,
		Status:  "cancelling",
		Message: "Generation will stop before its next stage",
	})
}

func (h *APIHandlers) ListArtifacts(c fiber.Ctx) error {
	id := c.Params("id")

	artifacts, err := h.generation.Artifacts(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ArtifactsResponse{ID: id, Artifacts: artifacts})
}

func (h *APIHandlers) GetArtifact(c fiber.Ctx) error {
	artifact, err := h.generation.Artifact(c.Context(), c.Params("id"), c.Params("name"))
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, artifact.ContentType)

	if c.Query("download") == "true" {
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", artifact.Name))
	}

	return c.Send(artifact.Data)
}

func (h *APIHandlers) GetStages(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"stages": h.generation.Stages(),
	})
}

// ExtractDocument accepts a multipart "file" field or a raw body named by the filename query.
func (h *APIHandlers) ExtractDocument(c fiber.Ctx) error {
	var (
		data     []byte
		filename string
	)

	if header, err := c.FormFile("file"); err == nil {
		file, err := header.Open()
		if err != nil {
			return badRequest(c, "Unreadable upload")
		}
		defer file.Close()

		data, err = io.ReadAll(io.LimitReader(file, document.MaxSize+1))
		if err != nil {
			return badRequest(c, "Unreadable upload")
		}

		filename = header.Filename
	} else {
		data = c.Body()
		filename = c.Query("filename", "document.txt")
	}

	if len(data) == 0 {
		return badRequest(c, "Document body is required")
	}

	doc, err := h.generation.ExtractDocument(data, filename)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExtractResponse{Document: doc, ExtractedAt: time.Now().UTC()})
}

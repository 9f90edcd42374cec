package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/dukex/deckflow/pkg/config"
	"github.com/dukex/deckflow/pkg/document"
	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/persistence"
	"github.com/dukex/deckflow/pkg/statestore"
	"github.com/dukex/deckflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// AnonymousUser owns generations started without a user ID.
const AnonymousUser = "anonymous"

// GenerateRequest contains the inputs of a new generation.
type GenerateRequest struct {
	PresentationID string                 `json:"presentation_id,omitempty" validate:"omitempty,max=255"`
	UserID         string                 `json:"user_id,omitempty"         validate:"max=255"`
	Title          string                 `json:"title"                     validate:"required,min=1,max=200"`
	Content        string                 `json:"content,omitempty"         validate:"required_without=Document,omitempty,min=10"`
	Template       string                 `json:"template,omitempty"        validate:"omitempty,oneof=corporate executive research financial"`
	MaxSlides      int                    `json:"max_slides,omitempty"      validate:"omitempty,min=1"`
	Language       string                 `json:"language,omitempty"        validate:"omitempty,bcp47_language_tag"`
	TargetAudience string                 `json:"target_audience,omitempty" validate:"omitempty,max=200"`
	ExportFormats  []string               `json:"export_formats,omitempty"  validate:"omitempty,dive,oneof=pptx pdf html png"`
	Document       *models.SourceDocument `json:"source_document,omitempty"`
	Requirements   map[string]any         `json:"requirements,omitempty"`
}

// Accepted is returned once a generation has been queued.
type Accepted struct {
	SessionID      string    `json:"id"`
	PresentationID string    `json:"presentation_id"`
	Status         string    `json:"status"`
	Message        string    `json:"message"`
	StatusURL      string    `json:"status_url"`
	AcceptedAt     time.Time `json:"accepted_at"`
}

// Generation runs presentation workflows in the background and answers lookups about them.
type Generation struct {
	ctx          context.Context
	orchestrator *workflow.Orchestrator
	persistence  persistence.Persistence
	settings     config.Settings
	logger       *slog.Logger
	validate     *validator.Validate
	slots        *semaphore.Weighted

	mu      sync.Mutex
	pending map[string]string
	wg      sync.WaitGroup
}

// NewGeneration creates a generation service. Runs are bound to ctx, not to the request that
// started them.
func NewGeneration(
	ctx context.Context,
	orchestrator *workflow.Orchestrator,
	persistence persistence.Persistence,
	settings config.Settings,
	logger *slog.Logger,
) *Generation {
	return &Generation{
		ctx:          ctx,
		orchestrator: orchestrator,
		persistence:  persistence,
		settings:     settings,
		logger:       logger.With("module", "generation_service"),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		slots:        semaphore.NewWeighted(settings.MaxConcurrentRequests),
		pending:      make(map[string]string),
	}
}

// HealthCheck checks the health of the persistence layer.
func (g *Generation) HealthCheck(ctx context.Context) (string, bool) {
	if g.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := g.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Start validates req and launches its workflow. The returned session ID can be polled at once.
func (g *Generation) Start(ctx context.Context, req GenerateRequest) (*Accepted, error) {
	if req.UserID == "" {
		req.UserID = AnonymousUser
	}

	if err := g.validateRequest(req); err != nil {
		return nil, err
	}

	if !g.slots.TryAcquire(1) {
		return nil, &ServiceError{
			Op:      "Start",
			Code:    "OVERLOADED",
			Message: fmt.Sprintf("limit of %d concurrent generations reached", g.settings.MaxConcurrentRequests),
			Err:     ErrOverloaded,
		}
	}

	sessionID := uuid.NewString()

	presentationID := req.PresentationID
	if presentationID == "" {
		presentationID = uuid.NewString()
	}

	g.mu.Lock()
	g.pending[sessionID] = presentationID
	g.mu.Unlock()

	run := workflow.RunRequest{
		SessionID:        sessionID,
		PresentationID:   presentationID,
		UserID:           req.UserID,
		SourceDocument:   req.Document,
		UserRequirements: requirements(req),
	}

	g.wg.Add(1)

	go g.run(run)

	g.logger.InfoContext(ctx, "Generation accepted", "session_id", sessionID, "presentation_id", presentationID, "user_id", req.UserID)

	return &Accepted{
		SessionID:      sessionID,
		PresentationID: presentationID,
		Status:         "accepted",
		Message:        fmt.Sprintf("Generation of %q started", req.Title),
		StatusURL:      "/generations/" + sessionID + "/status",
		AcceptedAt:     time.Now().UTC(),
	}, nil
}

func (g *Generation) validateRequest(req GenerateRequest) error {
	err := g.validate.Struct(req)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return NewValidationError("Start", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
		}

		messages := make([]string, 0, len(validationErrors))
		for _, fe := range validationErrors {
			messages = append(messages, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
		}

		return NewValidationError("Start", "INVALID_REQUEST", strings.Join(messages, "; "), ErrInvalidRequest)
	}

	if req.MaxSlides > g.settings.MaxSlides {
		return NewValidationError("Start", "INVALID_SLIDE_COUNT",
			fmt.Sprintf("max_slides %d exceeds the limit of %d", req.MaxSlides, g.settings.MaxSlides), ErrInvalidRequest)
	}

	if req.Document != nil && strings.TrimSpace(req.Document.Content) == "" {
		return NewValidationError("Start", "INVALID_DOCUMENT", "source document has no content", ErrInvalidDocument)
	}

	return nil
}

// requirements flattens the typed request fields over the free-form requirements.
func requirements(req GenerateRequest) models.Requirements {
	out := models.Requirements{}
	maps.Copy(out, req.Requirements)

	out["title"] = req.Title

	if req.Document == nil {
		out["manual_content"] = req.Content
	} else if req.Content != "" {
		out["description"] = req.Content
	}

	if req.Template != "" {
		out["template"] = req.Template
	}

	if req.MaxSlides > 0 {
		out["max_slides"] = req.MaxSlides
	}

	if req.Language != "" {
		out["language"] = req.Language
	}

	if req.TargetAudience != "" {
		out["target_audience"] = req.TargetAudience
	}

	if len(req.ExportFormats) > 0 {
		formats := make([]any, len(req.ExportFormats))
		for i, f := range req.ExportFormats {
			formats[i] = f
		}

		out["export_formats"] = formats
	}

	return out
}

func (g *Generation) run(req workflow.RunRequest) {
	defer g.wg.Done()
	defer g.slots.Release(1)
	defer g.settle(req.SessionID)

	logger := g.logger.With("session_id", req.SessionID)

	execution, err := g.orchestrator.Run(g.ctx, req)
	if err != nil {
		logger.ErrorContext(g.ctx, "Generation faulted", "error", err)
	}

	if execution == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(g.ctx), 30*time.Second)
	defer cancel()

	if err := g.persistence.SaveExecution(saveCtx, execution); err != nil {
		logger.ErrorContext(saveCtx, "Failed to persist execution", "error", err)

		return
	}

	// Status of a stored execution is answered from persistence from here on.
	g.settle(req.SessionID)

	if err := g.orchestrator.Forget(saveCtx, req.SessionID); err != nil {
		logger.WarnContext(saveCtx, "Failed to drop live state", "error", err)
	}

	logger.InfoContext(saveCtx, "Generation finished", "state", execution.State, "errors", len(execution.Errors))
}

// settle removes the session from the pending set.
func (g *Generation) settle(sessionID string) {
	g.mu.Lock()
	delete(g.pending, sessionID)
	g.mu.Unlock()
}

func (g *Generation) isPending(sessionID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	presentationID, ok := g.pending[sessionID]

	return presentationID, ok
}

// Execution returns the final record of a finished generation.
func (g *Generation) Execution(ctx context.Context, sessionID string) (*models.WorkflowExecution, error) {
	execution, err := g.persistence.ExecutionByID(ctx, sessionID)
	if err == nil {
		return execution, nil
	}

	if !persistence.IsExecutionNotFound(err) && !errors.Is(err, persistence.ErrInvalidID) {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	if _, ok := g.isPending(sessionID); ok {
		return nil, &ServiceError{Op: "Execution", Code: "IN_PROGRESS", Err: ErrGenerationInProgress}
	}

	return nil, &ServiceError{Op: "Execution", Code: "NOT_FOUND", Err: ErrGenerationNotFound}
}

// Status reports the progress of a generation. Finished generations whose live state has
// expired are answered from their stored execution.
func (g *Generation) Status(ctx context.Context, sessionID string) (models.StatusSnapshot, error) {
	snapshot, err := g.orchestrator.Status(ctx, sessionID)
	if err == nil {
		return snapshot, nil
	}

	if !errors.Is(err, statestore.ErrSessionNotFound) {
		return models.StatusSnapshot{}, fmt.Errorf("failed to load status: %w", err)
	}

	total := len(g.orchestrator.Stages())

	if presentationID, ok := g.isPending(sessionID); ok {
		return models.StatusSnapshot{
			SessionID:      sessionID,
			PresentationID: presentationID,
			CurrentStep:    models.InitialStep,
			CompletedSteps: []models.StageName{},
			TotalSteps:     total,
			Errors:         []string{},
		}, nil
	}

	execution, err := g.persistence.ExecutionByID(ctx, sessionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) || errors.Is(err, persistence.ErrInvalidID) {
			return models.StatusSnapshot{}, &ServiceError{Op: "Status", Code: "NOT_FOUND", Err: ErrGenerationNotFound}
		}

		return models.StatusSnapshot{}, fmt.Errorf("failed to load execution: %w", err)
	}

	return snapshotOf(execution, total), nil
}

func snapshotOf(execution *models.WorkflowExecution, total int) models.StatusSnapshot {
	steps := make([]models.StageName, len(execution.AgentResults))
	for i, result := range execution.AgentResults {
		steps[i] = result.StageName
	}

	current := models.InitialStep
	if len(steps) > 0 {
		current = string(steps[len(steps)-1])
	}

	return models.StatusSnapshot{
		SessionID:      execution.ID,
		PresentationID: execution.PresentationID,
		CurrentStep:    current,
		CompletedSteps: steps,
		TotalSteps:     total,
		Errors:         execution.Errors,
		IsComplete:     true,
		Metadata:       execution.Metadata,
	}
}

// Cancel asks a running generation to stop before its next stage.
func (g *Generation) Cancel(ctx context.Context, sessionID string) error {
	accepted, err := g.orchestrator.Cancel(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to cancel generation: %w", err)
	}

	if accepted {
		return nil
	}

	if _, ok := g.isPending(sessionID); ok {
		return &ServiceError{Op: "Cancel", Code: "NOT_STARTED", Message: "generation is not running yet", Err: ErrGenerationInProgress}
	}

	_, err = g.persistence.ExecutionByID(ctx, sessionID)
	if err == nil {
		return &ServiceError{Op: "Cancel", Code: "FINISHED", Err: ErrGenerationFinished}
	}

	if persistence.IsExecutionNotFound(err) || errors.Is(err, persistence.ErrInvalidID) {
		return &ServiceError{Op: "Cancel", Code: "NOT_FOUND", Err: ErrGenerationNotFound}
	}

	return fmt.Errorf("failed to load execution: %w", err)
}

// History lists the newest generations of a user.
func (g *Generation) History(ctx context.Context, userID string, limit int) ([]*models.WorkflowExecution, error) {
	if userID == "" {
		return nil, NewValidationError("History", "INVALID_REQUEST", "user_id is required", ErrEmptyUserID)
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	executions, err := g.persistence.ExecutionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Artifact returns an exported file of a generation.
func (g *Generation) Artifact(ctx context.Context, sessionID, name string) (*models.Artifact, error) {
	artifact, err := g.persistence.Artifact(ctx, sessionID, name)
	if err != nil {
		if persistence.IsArtifactNotFound(err) || errors.Is(err, persistence.ErrInvalidID) {
			return nil, &ServiceError{Op: "Artifact", Code: "NOT_FOUND", Err: ErrArtifactNotFound}
		}

		return nil, fmt.Errorf("failed to load artifact: %w", err)
	}

	return artifact, nil
}

// Artifacts lists the exported files of a generation.
func (g *Generation) Artifacts(ctx context.Context, sessionID string) ([]*models.Artifact, error) {
	artifacts, err := g.persistence.Artifacts(ctx, sessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrInvalidID) {
			return nil, &ServiceError{Op: "Artifacts", Code: "NOT_FOUND", Err: ErrGenerationNotFound}
		}

		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	return artifacts, nil
}

// Stages lists the pipeline stages in execution order.
func (g *Generation) Stages() []models.StageInfo {
	return g.orchestrator.Stages()
}

// ExtractDocument turns an uploaded file into a source document.
func (g *Generation) ExtractDocument(data []byte, filename string) (*models.SourceDocument, error) {
	doc, err := document.Extract(data, filename)
	if err == nil {
		return doc, nil
	}

	switch {
	case errors.Is(err, document.ErrDocumentTooLarge):
		return nil, &ServiceError{Op: "ExtractDocument", Code: "DOCUMENT_TOO_LARGE", Message: err.Error(), Err: ErrDocumentTooLarge}
	case errors.Is(err, document.ErrUnsupportedDocument), errors.Is(err, document.ErrEmptyDocument):
		return nil, NewValidationError("ExtractDocument", "INVALID_DOCUMENT", err.Error(), ErrInvalidDocument)
	default:
		return nil, NewValidationError("ExtractDocument", "INVALID_DOCUMENT", err.Error(), errors.Join(ErrInvalidDocument, err))
	}
}

// Wait blocks until every background run has finished or ctx is done.
func (g *Generation) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

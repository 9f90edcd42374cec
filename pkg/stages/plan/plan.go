// Package plan implements the planning stage: it turns the source material and the user's
// requirements into a presentation plan.
package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/dukex/deckflow/pkg/llm"
	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/workflow"
)

const (
	DefaultMaxSlides = 25
	DefaultSlides    = 10
	DefaultTemplate  = "corporate"
)

// CodeInvalidPlan marks a model answer that parsed but lacks required sections.
const CodeInvalidPlan = "INVALID_PLAN_OUTPUT"

var (
	slideCountPattern = regexp.MustCompile(`(\d+)\s*slides?`)
	templateKeywords  = []string{"executive", "research", "financial", "corporate"}
)

type Stage struct {
	generator       llm.Generator
	logger          *slog.Logger
	maxSlides       int
	defaultSlides   int
	defaultTemplate string
}

type Option func(*Stage)

// WithMaxSlides sets the largest max_slides requirement the stage accepts.
func WithMaxSlides(n int) Option {
	return func(s *Stage) {
		if n > 0 {
			s.maxSlides = n
		}
	}
}

// WithDefaultSlides sets the slide count of a plan built without model output.
func WithDefaultSlides(n int) Option {
	return func(s *Stage) {
		if n > 0 {
			s.defaultSlides = n
		}
	}
}

// WithDefaultTemplate sets the template used when neither the request nor the model picks one.
func WithDefaultTemplate(name string) Option {
	return func(s *Stage) {
		if name != "" {
			s.defaultTemplate = name
		}
	}
}

func New(generator llm.Generator, logger *slog.Logger, opts ...Option) *Stage {
	if generator == nil {
		generator = llm.Offline{}
	}

	s := &Stage{
		generator:       generator,
		logger:          logger.With("module", "plan_stage"),
		maxSlides:       DefaultMaxSlides,
		defaultSlides:   DefaultSlides,
		defaultTemplate: DefaultTemplate,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Stage) Name() models.StageName {
	return models.StagePlan
}

func (s *Stage) Describe() workflow.Descriptor {
	return workflow.Descriptor{
		Description: "Analyzes requirements and creates comprehensive presentation plans",
	}
}

func (s *Stage) Execute(ctx context.Context, view models.StateView, sctx models.StageContext) models.StageResult {
	logger := s.logger.With("session_id", sctx.SessionID, "attempt", sctx.Attempt)
	logger.InfoContext(ctx, "Starting presentation planning")

	doc := view.SourceDocument()
	req := view.Requirements()

	if err := s.validateInputs(doc, req); err != nil {
		logger.WarnContext(ctx, "Planning inputs rejected", "error", err)

		return models.Failed(models.StagePlan, err)
	}

	answer, err := s.generator.Generate(ctx, SystemPrompt, BuildPrompt(doc, req))

	var plan map[string]any

	switch {
	case errors.Is(err, llm.ErrOffline):
		logger.InfoContext(ctx, "No text generator configured, building plan from requirements")

		plan = s.fallbackPlan(req, s.requestedSlides(req), req.String("template", s.defaultTemplate))
	case err != nil:
		logger.ErrorContext(ctx, "Planning analysis failed", "error", err)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Failed(models.StagePlan, fmt.Errorf("planning analysis interrupted: %w", ctxErr))
		}

		return models.Failed(models.StagePlan,
			models.NewStageError(models.StagePlan, models.CodeGenerationFailed, "planning analysis failed", err))
	default:
		plan, err = s.structure(ctx, answer, req)
		if err != nil {
			logger.WarnContext(ctx, "Planning answer rejected", "error", err)

			return models.Failed(models.StagePlan, err)
		}
	}

	template := plan["template_recommendation"].(map[string]any)["primary_template"]
	slides := plan["execution_plan"].(map[string]any)["estimated_slides"]
	approval := plan["compliance_requirements"].(map[string]any)["approval_level"]

	logger.InfoContext(ctx, "Planning completed", "template", template, "slides", slides)

	result := models.Succeeded(models.StagePlan, plan,
		"Presentation plan created successfully",
		fmt.Sprintf("Recommended template: %v", template),
		fmt.Sprintf("Estimated slides: %v", slides),
	)
	result.Metadata["template"] = template
	result.Metadata["slide_count"] = slides
	result.Metadata["compliance_level"] = approval

	return result
}

func (s *Stage) validateInputs(doc *models.SourceDocument, req models.Requirements) error {
	hasDocument := doc != nil && strings.TrimSpace(doc.Content) != ""

	if !hasDocument && req.ManualContent() == "" {
		return models.NewInputError(models.StagePlan, models.CodeInsufficientInput,
			"either source document or manual content is required for planning", models.ErrMissingInput)
	}

	if n, ok := req.Int("max_slides"); ok && n > s.maxSlides {
		return models.NewInputError(models.StagePlan, models.CodeInvalidSlideCount,
			fmt.Sprintf("maximum slides per presentation is %d", s.maxSlides), models.ErrInvalidSlideCount)
	}

	return nil
}

func (s *Stage) requestedSlides(req models.Requirements) int {
	if n, ok := req.Int("max_slides"); ok && n > 0 {
		return min(n, s.maxSlides)
	}

	return s.defaultSlides
}

// structure parses a model answer. Answers that are not JSON degrade to a heuristic plan;
// JSON that misses required sections is an error so the attempt can be retried.
func (s *Stage) structure(ctx context.Context, answer string, req models.Requirements) (map[string]any, error) {
	var plan map[string]any

	if err := json.Unmarshal([]byte(extractJSON(answer)), &plan); err != nil {
		s.logger.WarnContext(ctx, "Failed to parse planning answer, creating fallback plan", "error", err)

		return s.heuristicPlan(answer, req), nil
	}

	if err := validate(plan); err != nil {
		return nil, models.NewStageError(models.StagePlan, CodeInvalidPlan, "planning answer is incomplete", err)
	}

	return withDefaults(plan, s.defaultTemplate), nil
}

// extractJSON strips a markdown code fence around the answer.
func extractJSON(answer string) string {
	if start := strings.Index(answer, "```json"); start >= 0 {
		rest := answer[start+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}

		return strings.TrimSpace(rest)
	}

	trimmed := strings.TrimSpace(answer)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")

		return strings.TrimSpace(trimmed)
	}

	return trimmed
}

func withDefaults(plan map[string]any, defaultTemplate string) map[string]any {
	outline := plan["presentation_outline"].(map[string]any)

	structure, _ := models.AsMapSlice(outline["slide_structure"])
	for _, slide := range structure {
		setDefault(slide, "type", "content")
		setDefault(slide, "estimated_content_length", "50-100 words")
	}

	if structure == nil {
		structure = []map[string]any{}
	}

	outline["slide_structure"] = structure

	template := plan["template_recommendation"].(map[string]any)
	if v, _ := template["primary_template"].(string); v == "" {
		template["primary_template"] = defaultTemplate
	}

	compliance := plan["compliance_requirements"].(map[string]any)
	setDefault(compliance, "pii_handling", "required")
	setDefault(compliance, "approval_level", "manager")
	setDefault(compliance, "regulatory_flags", []any{})
	setDefault(compliance, "content_restrictions", []any{})

	execution := plan["execution_plan"].(map[string]any)
	setDefault(execution, "estimated_slides", len(structure))
	setDefault(execution, "chart_requirements", []any{})
	setDefault(execution, "image_requirements", []any{})
	setDefault(execution, "research_needs", []any{})

	return plan
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

// heuristicPlan recovers a slide count and a template keyword from free text.
func (s *Stage) heuristicPlan(answer string, req models.Requirements) map[string]any {
	lower := strings.ToLower(answer)

	slides := s.defaultSlides
	if m := slideCountPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			slides = min(n, s.maxSlides)
		}
	}

	template := s.defaultTemplate

	for _, keyword := range templateKeywords {
		if strings.Contains(lower, keyword) {
			template = keyword

			break
		}
	}

	return s.fallbackPlan(req, slides, template)
}

func (s *Stage) fallbackPlan(req models.Requirements, slides int, template string) map[string]any {
	structure := make([]map[string]any, 0, slides)

	for i := range slides {
		slideType := "content"
		if i == 0 {
			slideType = "title"
		}

		structure = append(structure, map[string]any{
			"slide_number":             i + 1,
			"type":                     slideType,
			"title":                    fmt.Sprintf("Slide %d", i+1),
			"content_outline":          "Content to be generated",
			"estimated_content_length": "50-100 words",
		})
	}

	return map[string]any{
		"presentation_outline": map[string]any{
			"title":           req.String("title", "Generated Presentation"),
			"objective":       "Present key information from source document",
			"target_audience": req.String("target_audience", "Business stakeholders"),
			"key_messages":    []string{"Key insights from source material"},
			"slide_structure": structure,
		},
		"template_recommendation": map[string]any{
			"primary_template": template,
			"rationale":        "Selected based on content analysis",
			"customizations":   []string{},
		},
		"compliance_requirements": map[string]any{
			"pii_handling":         "required",
			"regulatory_flags":     []string{},
			"approval_level":       "manager",
			"content_restrictions": []string{},
		},
		"success_criteria": map[string]any{
			"clarity_score":              "8",
			"engagement_metrics":         "High audience engagement expected",
			"compliance_level":           "Standard compliance",
			"accessibility_requirements": []string{"WCAG 2.1 AA compliance"},
		},
		"execution_plan": map[string]any{
			"estimated_slides":   slides,
			"chart_requirements": []string{},
			"image_requirements": []string{},
			"research_needs":     []string{},
		},
	}
}

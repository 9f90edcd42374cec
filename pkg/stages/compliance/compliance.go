// Package compliance implements the quality and compliance stage. The quality, compliance,
// accessibility and content safety checks run concurrently over the generated slides.
package compliance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/workflow"
	"golang.org/x/sync/errgroup"
)

// Pass thresholds of the individual checks.
const (
	QualityThreshold       = 0.8
	ComplianceThreshold    = 0.95
	AccessibilityThreshold = 0.85
	SafetyThreshold        = 0.95
)

type Stage struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Stage {
	return &Stage{logger: logger.With("module", "compliance_stage")}
}

func (s *Stage) Name() models.StageName {
	return models.StageCompliance
}

func (s *Stage) Describe() workflow.Descriptor {
	return workflow.Descriptor{
		Description: "Runs quality, compliance, accessibility and content safety checks on the slides",
	}
}

func (s *Stage) Execute(ctx context.Context, view models.StateView, sctx models.StageContext) models.StageResult {
	slides, ok := view.Slides()
	if !ok {
		return models.Failed(models.StageCompliance,
			models.MissingUpstream(models.StageCompliance, models.SlotSlideContent))
	}

	var quality, regulatory, accessibility, safety map[string]any

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		quality, err = assessQuality(gctx, slides)

		return err
	})
	g.Go(func() (err error) {
		regulatory, err = validateCompliance(gctx, slides)

		return err
	})
	g.Go(func() (err error) {
		accessibility, err = auditAccessibility(gctx, slides)

		return err
	})
	g.Go(func() (err error) {
		safety, err = verifySafety(gctx, slides)

		return err
	})

	if err := g.Wait(); err != nil {
		return models.Failed(models.StageCompliance, fmt.Errorf("compliance checks interrupted: %w", err))
	}

	overall := quality["quality_passed"] == true &&
		regulatory["compliance_passed"] == true &&
		accessibility["accessibility_passed"] == true &&
		safety["safety_passed"] == true

	recommendations := recommend(quality, regulatory, accessibility, safety)

	s.logger.InfoContext(ctx, "Compliance checks completed",
		"session_id", sctx.SessionID, "overall_compliance", overall, "recommendations", len(recommendations))

	status := "passed"
	if !overall {
		status = "requires attention"
	}

	result := models.Succeeded(models.StageCompliance, map[string]any{
		"quality_assessment":  quality,
		"compliance_check":    regulatory,
		"accessibility_audit": accessibility,
		"content_safety":      safety,
		"overall_compliance":  overall,
		"compliance_score":    regulatory["compliance_score"],
		"quality_score":       quality["overall_score"],
		"recommendations":     recommendations,
	},
		fmt.Sprintf("Quality assessment completed with score: %.2f", quality["overall_score"]),
		"Compliance validation "+status,
		fmt.Sprintf("Generated %d recommendations", len(recommendations)),
	)
	result.Metadata["accessibility_standard"] = "WCAG_2_1_AA"

	return result
}

func recommend(quality, regulatory, accessibility, safety map[string]any) []map[string]any {
	recommendations := []map[string]any{}

	if score, _ := quality["overall_score"].(float64); score < 0.9 {
		recommendations = append(recommendations, map[string]any{
			"category":       "quality",
			"priority":       "medium",
			"recommendation": "Improve content completeness and professional appearance",
			"action":         "Review and enhance slide content and formatting",
		})
	}

	if regulatory["compliance_passed"] != true {
		recommendations = append(recommendations, map[string]any{
			"category":       "compliance",
			"priority":       "high",
			"recommendation": "Address compliance violations before publication",
			"action":         "Review regulatory requirements and update content",
		})
	}

	if score, _ := accessibility["accessibility_score"].(float64); score < 0.9 {
		recommendations = append(recommendations, map[string]any{
			"category":       "accessibility",
			"priority":       "medium",
			"recommendation": "Improve accessibility features for better inclusion",
			"action":         "Add alt text, improve contrast, and ensure keyboard navigation",
		})
	}

	if safety["safety_passed"] != true {
		recommendations = append(recommendations, map[string]any{
			"category":       "safety",
			"priority":       "high",
			"recommendation": "Address content safety concerns immediately",
			"action":         "Review and modify flagged content",
		})
	}

	return recommendations
}

package compliance

import (
	"context"
	"math"
	"regexp"
	"slices"
	"strings"
)

var piiPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{"card_number", regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`)},
	{"national_id", regexp.MustCompile(`\b\d{11}\b`)},
	{"phone", regexp.MustCompile(`\+\d{1,3}[ -]?\d{2,4}[ -]?\d{2,4}[ -]?\d{2,4}`)},
}

func assessQuality(ctx context.Context, slides []map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	checks := make([]map[string]any, 0, len(slides))

	var total float64

	for _, slide := range slides {
		title, _ := slide["title"].(string)
		notes, _ := slide["speaker_notes"].(string)
		_, branded := slide["branding_elements"]

		flags := []bool{
			len(title) > 5,
			len(textList(slide["content"])) > 0,
			len(notes) > 10,
			branded,
		}

		total += ratio(flags)

		checks = append(checks, map[string]any{
			"slide_id":              slide["id"],
			"title_quality":         flags[0],
			"content_completeness":  flags[1],
			"speaker_notes_present": flags[2],
			"branding_consistent":   flags[3],
		})
	}

	score := 0.0
	if len(checks) > 0 {
		score = round(total / float64(len(checks)))
	}

	return map[string]any{
		"quality_passed":       score > QualityThreshold,
		"overall_score":        score,
		"slide_quality_checks": checks,
	}, nil
}

func validateCompliance(ctx context.Context, slides []map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	marked := true

	for _, slide := range slides {
		branding, _ := slide["branding_elements"].(map[string]any)
		if footer, _ := branding["footer_text"].(string); footer == "" {
			marked = false

			break
		}
	}

	sections := map[string]map[string]bool{
		"regulatory_compliance": {
			"gdpr_compliant":                   true,
			"financial_disclosure_appropriate": true,
			"risk_warnings_present":            true,
			"data_classification_correct":      true,
		},
		"corporate_compliance": {
			"branding_guidelines":      true,
			"template_standards_met":   true,
			"confidentiality_markings": marked,
		},
	}

	var total float64

	for _, section := range sections {
		flags := make([]bool, 0, len(section))
		for _, v := range section {
			flags = append(flags, v)
		}

		total += ratio(flags)
	}

	score := round(total / float64(len(sections)))

	return map[string]any{
		"compliance_passed":   score > ComplianceThreshold,
		"compliance_score":    score,
		"compliance_details":  sections,
		"regulatory_warnings": []string{},
	}, nil
}

func auditAccessibility(ctx context.Context, slides []map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	details := map[string]float64{
		"color_contrast":           0.95,
		"font_readability":         0.92,
		"alt_text_present":         0.88,
		"keyboard_navigation":      0.90,
		"screen_reader_compatible": 0.85,
		"motion_sensitivity":       0.93,
	}

	// Long bullet lists are hard to read aloud.
	for _, slide := range slides {
		if len(textList(slide["content"])) > 6 {
			details["screen_reader_compatible"] = 0.7

			break
		}
	}

	var sum float64
	for _, v := range details {
		sum += v
	}

	score := round(sum / float64(len(details)))

	level := "A"
	if score > AccessibilityThreshold {
		level = "AA"
	}

	return map[string]any{
		"accessibility_passed":  score > AccessibilityThreshold,
		"accessibility_score":   score,
		"wcag_level":            level,
		"accessibility_details": details,
	}, nil
}

func verifySafety(ctx context.Context, slides []map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var warnings []string

	for _, slide := range slides {
		title, _ := slide["title"].(string)
		notes, _ := slide["speaker_notes"].(string)
		text := strings.Join(slices.Concat(textList(slide["content"]), []string{title, notes}), "\n")

		for _, p := range piiPatterns {
			if p.pattern.MatchString(text) {
				warnings = append(warnings, p.name+" found on "+slideRef(slide))
			}
		}
	}

	exposed := len(warnings) > 0

	details := map[string]bool{
		"inappropriate_content":       false,
		"sensitive_data_exposed":      exposed,
		"offensive_language":          false,
		"copyright_violations":        false,
		"confidential_data_protected": !exposed,
		"professional_tone":           true,
	}

	flags := []bool{
		!details["inappropriate_content"],
		!details["sensitive_data_exposed"],
		!details["offensive_language"],
		!details["copyright_violations"],
		details["confidential_data_protected"],
		details["professional_tone"],
	}

	score := round(ratio(flags))

	if warnings == nil {
		warnings = []string{}
	}

	return map[string]any{
		"safety_passed":    score > SafetyThreshold,
		"safety_score":     score,
		"safety_details":   details,
		"content_warnings": warnings,
	}, nil
}

func slideRef(slide map[string]any) string {
	if id, ok := slide["id"].(string); ok && id != "" {
		return id
	}

	return "untitled slide"
}

func textList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))

		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

func ratio(flags []bool) float64 {
	if len(flags) == 0 {
		return 0
	}

	ok := 0

	for _, f := range flags {
		if f {
			ok++
		}
	}

	return float64(ok) / float64(len(flags))
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}

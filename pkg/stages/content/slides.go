package content

import (
	"fmt"
	"strings"
	"time"
)

func buildSlide(index int, slidePlan map[string]any, bullets []string) map[string]any {
	number := index + 1

	return map[string]any{
		"id":                fmt.Sprintf("slide_%d", number),
		"slide_number":      number,
		"type":              stringField(slidePlan, "type", "content"),
		"title":             stringField(slidePlan, "title", fmt.Sprintf("Slide %d", number)),
		"content":           bullets,
		"layout":            stringField(slidePlan, "layout", "title_and_content"),
		"speaker_notes":     speakerNotes(slidePlan),
		"charts":            chartNeeds(slidePlan),
		"images":            imageNeeds(slidePlan),
		"animations":        animations(),
		"branding_elements": branding(),
	}
}

func templatedText(slidePlan map[string]any, deckTitle string, themes []string, now time.Time) []string {
	title := stringField(slidePlan, "title", "")

	switch stringField(slidePlan, "type", "content") {
	case "title":
		return []string{deckTitle, title, now.Format("January 2006")}
	case "executive_summary":
		return []string{
			"Strong performance across all business segments",
			"Continued digital transformation driving efficiency gains",
			"Robust position supporting growth initiatives",
			"Positive outlook for the coming period",
		}
	case "conclusion":
		return []string{
			"Summary of the key messages",
			"Agreed next steps and owners",
			"Questions and discussion",
		}
	default:
		bullets := []string{fmt.Sprintf("Key insights from %s", strings.ToLower(title))}

		for _, theme := range themes[:min(len(themes), 2)] {
			bullets = append(bullets, fmt.Sprintf("Focus on %s", theme))
		}

		return append(bullets, "Strategic initiatives delivering results", "Looking forward to continued growth")
	}
}

func speakerNotes(slidePlan map[string]any) string {
	title := stringField(slidePlan, "title", "")

	switch stringField(slidePlan, "type", "content") {
	case "title":
		return "Welcome the audience and introduce the purpose of the presentation."
	case "executive_summary":
		return "Highlight the strongest results and the forward looking strategy."
	default:
		return fmt.Sprintf("Discuss key points from %s. Provide context and answer any questions from the audience.", title)
	}
}

func chartNeeds(slidePlan map[string]any) []map[string]any {
	switch {
	case stringField(slidePlan, "type", "") == "chart", stringField(slidePlan, "type", "") == "financial_highlights":
		return []map[string]any{{
			"type":        "bar_chart",
			"title":       stringField(slidePlan, "title", "Trend"),
			"data_source": "source_document",
			"position":    "center_right",
		}}
	case strings.Contains(strings.ToLower(stringField(slidePlan, "title", "")), "market"):
		return []map[string]any{{
			"type":        "line_chart",
			"title":       "Market Share Evolution",
			"data_source": "market_research",
			"position":    "bottom_half",
		}}
	default:
		return []map[string]any{}
	}
}

func imageNeeds(slidePlan map[string]any) []map[string]any {
	if stringField(slidePlan, "type", "") != "title" {
		return []map[string]any{}
	}

	return []map[string]any{{
		"type":     "logo",
		"source":   "primary_logo",
		"position": "top_center",
		"size":     "large",
	}}
}

func animations() []map[string]any {
	return []map[string]any{
		{"element": "title", "animation": "fade_in", "timing": "on_slide_enter"},
		{"element": "content_bullets", "animation": "appear_sequentially", "timing": "on_click"},
	}
}

func branding() map[string]any {
	return map[string]any{
		"color_scheme":     "corporate",
		"font_primary":     "Sans",
		"font_secondary":   "Arial",
		"logo_placement":   "footer_right",
		"accent_color":     AccentColor,
		"background_style": "clean_white",
		"footer_text":      "Confidential",
	}
}

func contentFlow(slides []map[string]any) map[string]any {
	transitions := make([]map[string]any, 0, len(slides))

	for i := 1; i < len(slides); i++ {
		transitions = append(transitions, map[string]any{
			"from_slide": i,
			"to_slide":   i + 1,
			"transition": "fade",
			"timing":     "smooth",
		})
	}

	return map[string]any{
		"flow_score":             0.92,
		"transition_suggestions": transitions,
		"narrative_coherence":    0.89,
		"logical_progression":    true,
	}
}

func brandingSummary() map[string]any {
	return map[string]any{
		"branding_compliance":       0.94,
		"style_consistency":         0.96,
		"brand_guidelines_followed": true,
		"accessibility_score":       0.91,
		"professional_appearance":   0.95,
	}
}

package plan

import (
	"fmt"
	"strings"

	"github.com/dukex/deckflow/pkg/models"
)

// maxPromptContent is how much of the source document goes into the planning prompt.
const maxPromptContent = 2000

// SystemPrompt instructs the model to answer with a plan document.
const SystemPrompt = `You are the planning stage of a presentation generation system.

ROLE: Strategic planning and requirement analysis for presentation generation

RESPONSIBILITIES:
1. Analyze source documents and extract key themes
2. Understand user requirements and presentation objectives
3. Create structured presentation outlines with slide hierarchy
4. Select appropriate templates based on content and audience
5. Define success criteria and quality benchmarks
6. Identify regulatory and brand guideline constraints

OUTPUT FORMAT:
Respond with a single JSON object:
{
    "presentation_outline": {
        "title": "Presentation title",
        "objective": "Main presentation objective",
        "target_audience": "Intended audience description",
        "key_messages": ["List of key messages"],
        "slide_structure": [
            {
                "slide_number": 1,
                "type": "title|content|chart|conclusion",
                "title": "Slide title",
                "content_outline": "Brief content description",
                "estimated_content_length": "words count estimate"
            }
        ]
    },
    "template_recommendation": {
        "primary_template": "corporate|executive|research|financial",
        "rationale": "Why this template was selected",
        "customizations": ["List of template customizations needed"]
    },
    "compliance_requirements": {
        "pii_handling": "required|optional|none",
        "regulatory_flags": ["List of regulatory considerations"],
        "approval_level": "manager|director|executive",
        "content_restrictions": ["List of content restrictions"]
    },
    "success_criteria": {
        "clarity_score": "Expected clarity rating (1-10)",
        "engagement_metrics": "Expected audience engagement",
        "compliance_level": "Required compliance level",
        "accessibility_requirements": ["WCAG compliance requirements"]
    },
    "execution_plan": {
        "estimated_slides": "Number of slides",
        "chart_requirements": ["List of charts needed"],
        "image_requirements": ["List of images needed"],
        "research_needs": ["Additional research required"]
    }
}

Plans must be actionable and specific, and the structure must follow a logical narrative flow.`

// BuildPrompt renders the planning request for a document and the user's requirements.
func BuildPrompt(doc *models.SourceDocument, req models.Requirements) string {
	parts := []string{
		"PRESENTATION PLANNING REQUEST",
		strings.Repeat("=", 50),
		"",
	}

	if doc != nil && doc.Content != "" {
		parts = append(parts,
			"SOURCE DOCUMENT:",
			"- Type: "+doc.MetadataString("document_type", "unknown"),
			"- Size: "+doc.MetadataString("file_size", "unknown")+" bytes",
			"- Language: "+doc.MetadataString("language", "unknown"),
			"",
			"DOCUMENT CONTENT:",
			truncate(doc.Content, maxPromptContent),
			"",
		)
	} else if manual := req.ManualContent(); manual != "" {
		parts = append(parts,
			"MANUAL CONTENT:",
			truncate(manual, maxPromptContent),
			"",
		)
	}

	if len(req) > 0 {
		parts = append(parts,
			"USER REQUIREMENTS:",
			"- Target audience: "+requirement(req, "target_audience", "Not specified"),
			"- Presentation purpose: "+requirement(req, "purpose", "Not specified"),
			"- Preferred template: "+requirement(req, "template", "Auto-select"),
			"- Maximum slides: "+requirement(req, "max_slides", "Auto-determine"),
			fmt.Sprintf("- Include charts: %t", req.Bool("include_charts", true)),
			fmt.Sprintf("- Include images: %t", req.Bool("include_images", true)),
			"- Compliance level: "+requirement(req, "compliance_level", "Standard"),
			"",
		)
	}

	parts = append(parts,
		"INSTRUCTIONS:",
		"1. Analyze the content and requirements thoroughly",
		"2. Create a comprehensive presentation plan",
		"3. Recommend the most appropriate template",
		"4. Identify compliance and regulatory considerations",
		"5. Define clear success criteria",
		"6. Provide structured JSON output as specified",
		"",
		"Please analyze this information and create a detailed presentation plan.",
	)

	return strings.Join(parts, "\n")
}

// truncate cuts s to limit runes and marks the cut with an ellipsis.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit]) + "..."
}

func requirement(req models.Requirements, key, def string) string {
	v, ok := req[key]
	if !ok || v == nil || v == "" {
		return def
	}

	if n, ok := req.Int(key); ok {
		if _, isString := v.(string); !isString {
			return fmt.Sprint(n)
		}
	}

	return fmt.Sprint(v)
}

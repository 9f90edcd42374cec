package plan

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// document is the shape a model answer must have before defaults are applied. Only the five
// sections are required; their members are checked for type when present.
type document struct {
	PresentationOutline    outline        `json:"presentation_outline"`
	TemplateRecommendation map[string]any `json:"template_recommendation"`
	ComplianceRequirements map[string]any `json:"compliance_requirements"`
	SuccessCriteria        map[string]any `json:"success_criteria"`
	ExecutionPlan          map[string]any `json:"execution_plan"`
}

type outline struct {
	Title          string           `json:"title,omitempty"`
	KeyMessages    []any            `json:"key_messages,omitempty"`
	SlideStructure []map[string]any `json:"slide_structure,omitempty"`
}

func reflectSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
	}

	schema := reflector.Reflect(&document{})
	schema.Version = ""

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan schema: %w", err)
	}

	return raw, nil
}

var documentSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	raw, err := reflectSchema()
	if err != nil {
		return nil, err
	}

	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
})

// Schema returns the JSON Schema that model answers are validated against.
func Schema() (map[string]any, error) {
	raw, err := reflectSchema()
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode plan schema: %w", err)
	}

	return out, nil
}

func validate(plan map[string]any) error {
	schema, err := documentSchema()
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(plan))
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

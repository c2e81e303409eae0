package pipeline

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// insightsSchema constrains the analysis output. The model must return the
// full aggregate in one JSON object; prose around the object is rejected.
const insightsSchema = `{
	"type": "object",
	"required": ["summary", "key_themes", "angles"],
	"properties": {
		"summary": {"type": "string", "minLength": 40},
		"key_themes": {
			"type": "array",
			"items": {"type": "string", "minLength": 2},
			"minItems": 1,
			"maxItems": 10
		},
		"angles": {
			"type": "array",
			"items": {"type": "string", "minLength": 5},
			"minItems": 1,
			"maxItems": 10
		},
		"keywords": {
			"type": "array",
			"items": {"type": "string"}
		},
		"sentiment": {"type": "string", "enum": ["positive", "neutral", "negative", "mixed"]},
		"quality_score": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"additionalProperties": false
}`

// scriptSchema constrains the script output.
const scriptSchema = `{
	"type": "object",
	"required": ["title", "body"],
	"properties": {
		"title": {"type": "string", "minLength": 3, "maxLength": 120},
		"hook": {"type": "string", "maxLength": 300},
		"body": {"type": "string", "minLength": 20},
		"call_to_action": {"type": "string", "maxLength": 300},
		"hashtags": {
			"type": "array",
			"items": {"type": "string", "pattern": "^#?[A-Za-z0-9_]+$"},
			"maxItems": 12
		},
		"quality_score": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"additionalProperties": false
}`

// validateJSONSchema validates a raw model response against a schema.
func validateJSONSchema(schema, document string) error {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	documentLoader := gojsonschema.NewStringLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}

	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, violation := range result.Errors() {
			violations = append(violations, violation.String())
		}

		return fmt.Errorf("JSON schema validation failed: %s", strings.Join(violations, "; "))
	}

	return nil
}

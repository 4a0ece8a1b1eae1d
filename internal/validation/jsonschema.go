package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/floridafirst/sopflow/pkg/schema"
)

const definitionSchemaURL = "https://sopflow.floridafirstroofing.com/schemas/definition.json"

// definitionSchemaJSON is the JSON Schema for SOP workflow definition documents.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://sopflow.floridafirstroofing.com/schemas/definition.json",
  "type": "object",
  "required": ["id", "name", "steps"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "category": { "type": "string" },
    "version": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "triggers": { "type": ["array", "null"], "items": { "$ref": "#/$defs/trigger" } },
    "variables": { "type": ["array", "null"], "items": { "$ref": "#/$defs/variable" } },
    "conditions": { "type": ["array", "null"], "items": { "$ref": "#/$defs/condition" } },
    "metadata": { "$ref": "#/$defs/metadata" }
  },
  "additionalProperties": false,
  "$defs": {
    "urgency": { "enum": ["emergency", "high", "medium", "low"] },
    "priority": { "enum": ["critical", "high", "medium", "low"] },
    "strings": { "type": ["array", "null"], "items": { "type": "string" } },
    "step": {
      "type": "object",
      "required": ["id", "title", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "title": { "type": "string" },
        "description": { "type": "string" },
        "type": { "enum": ["automated", "manual", "approval", "notification", "integration"] },
        "sequence_number": { "type": "integer", "minimum": 0 },
        "dependencies": { "$ref": "#/$defs/strings" },
        "assigned_role": { "type": "string" },
        "estimated_minutes": { "type": "number", "minimum": 0 },
        "action": { "type": "string" },
        "due": {
          "type": "object",
          "properties": {
            "hours": {
              "type": ["object", "null"],
              "propertyNames": { "$ref": "#/$defs/urgency" },
              "additionalProperties": { "type": "number", "minimum": 0 }
            },
            "business_hours_only": { "type": "boolean" },
            "exclude_weekends": { "type": "boolean" }
          },
          "additionalProperties": false
        },
        "completion_criteria": {
          "type": "object",
          "properties": {
            "type": { "enum": ["", "manual", "automated", "approval"] },
            "required_fields": { "$ref": "#/$defs/strings" }
          },
          "additionalProperties": false
        },
        "notifications": {
          "type": "object",
          "properties": {
            "on_start": { "type": "boolean" },
            "on_due": { "type": "boolean" },
            "on_overdue": { "type": "boolean" },
            "on_complete": { "type": "boolean" },
            "recipients": { "$ref": "#/$defs/strings" }
          },
          "additionalProperties": false
        },
        "integrations": {
          "type": "object",
          "properties": {
            "external": { "$ref": "#/$defs/strings" },
            "internal": { "$ref": "#/$defs/strings" }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "enum": ["lead_received", "status_change", "time_based", "manual", "external_api"] },
        "conditions": { "type": ["object", "null"] },
        "expression": { "type": "string" },
        "priority": { "$ref": "#/$defs/priority" },
        "enabled": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "variable": {
      "type": "object",
      "required": ["name", "type", "source"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "type": { "enum": ["string", "number", "boolean", "date", "object"] },
        "default_value": {},
        "required": { "type": "boolean" },
        "source": { "enum": ["lead_data", "customer_data", "project_data", "user_input", "system_generated"] },
        "path": { "type": "string" }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["id", "expression", "action"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "expression": { "type": "string", "minLength": 1 },
        "action": { "enum": ["skip_step", "add_step", "change_assignment", "escalate", "notify"] },
        "parameters": { "type": ["object", "null"] }
      },
      "additionalProperties": false
    },
    "metadata": {
      "type": "object",
      "properties": {
        "estimated_total_minutes": { "type": "number", "minimum": 0 },
        "required_roles": { "$ref": "#/$defs/strings" },
        "complexity": { "enum": ["", "low", "medium", "high"] },
        "compliance_level": { "enum": ["", "basic", "enhanced", "critical"] }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks definition documents against the definition JSON Schema.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	definitionSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the definition schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal definition schema: %w", err)
	}
	if err := c.AddResource(definitionSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add definition schema resource: %w", err)
	}

	compiled, err := c.Compile(definitionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}

	return &JSONSchemaValidator{definitionSchema: compiled}, nil
}

// ValidateDocument validates a raw JSON definition document.
func (v *JSONSchemaValidator) ValidateDocument(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "definition is not valid JSON").WithCause(err)
	}
	if err := v.definitionSchema.Validate(doc); err != nil {
		return toSOPError(err)
	}
	return nil
}

// ValidateDefinition validates an in-memory definition by round-tripping it through JSON.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	b, err := json.Marshal(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}
	return v.ValidateDocument(b)
}

// toSOPError flattens a jsonschema.ValidationError into one SOPError listing each violation.
func toSOPError(err error) *schema.SOPError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

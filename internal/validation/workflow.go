package validation

import "github.com/floridafirst/sopflow/pkg/schema"

// WorkflowValidator runs the two-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (step ids, dependencies, guard expressions)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	conditions ExpressionChecker
	triggers   ExpressionChecker
}

// NewWorkflowValidator creates a WorkflowValidator.
// Either checker may be nil to skip compiling that kind of expression.
func NewWorkflowValidator(conditions, triggers ExpressionChecker) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		conditions: conditions,
		triggers:   triggers,
	}, nil
}

// Validate runs the pipeline and returns an aggregated result.
// Structural errors short-circuit the semantic stage.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := structuralResult(wv.jsonSchema.ValidateDefinition(def))
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, wv.conditions, wv.triggers))
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

// ValidateDocument checks a raw JSON definition document against the schema.
func (wv *WorkflowValidator) ValidateDocument(data []byte) error {
	return wv.jsonSchema.ValidateDocument(data)
}

func structuralResult(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	se, ok := err.(*schema.SOPError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := se.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, se.Message)
	return result
}

package validation

import "github.com/floridafirst/sopflow/pkg/schema"

// Validator checks workflow definitions for correctness before registration.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
}

// ExpressionChecker compiles an expression without evaluating it.
// Implemented by the expr and CEL engines.
type ExpressionChecker interface {
	Check(expression string) error
}

package expressions

import "context"

// Engine evaluates expressions against workflow data.
// Three implementations: CEL (trigger guards), Expr (condition guards), GoJQ (variable extraction).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Truthy converts an evaluation result to a boolean guard outcome.
// Only a literal true passes; every other value, including nil, fails.
func Truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

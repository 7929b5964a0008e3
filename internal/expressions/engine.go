package expressions

import "context"

// Engine evaluates expressions embedded in workflow definitions.
// Three implementations: CEL (conditional predicates), GoJQ (loop item
// producers and transforms), Expr (fallback and custom logic).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

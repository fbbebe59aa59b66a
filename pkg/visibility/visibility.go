package visibility

// Evaluator determines whether a step or field should be visible based on a
// rule string and the values collected so far in the session.
type Evaluator interface {
	Eval(fieldPath, rule string, ctx Context) (bool, error)
}

// Context provides inputs to an Evaluator. Values is the session value map;
// Enrichment is the read-only enrichment context, addressable in rules via
// the `enrichment.` prefix.
type Context struct {
	Values     map[string]any
	Enrichment map[string]any
}

// EvaluatorFunc adapts a function into an Evaluator.
type EvaluatorFunc func(fieldPath, rule string, ctx Context) (bool, error)

// Eval delegates to the underlying function.
func (fn EvaluatorFunc) Eval(fieldPath, rule string, ctx Context) (bool, error) {
	return fn(fieldPath, rule, ctx)
}

// Package exprlang adapts the expr-lang/expr engine to the visibility
// contract. It exists for flows whose authors outgrow the built-in rule
// syntax: expr rules may use arithmetic, ternaries, string helpers, and the
// full operator set of the expr language.
package exprlang

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/goliatone/go-intake/pkg/visibility"
)

// Evaluator compiles and caches expr programs keyed by rule text. One
// Evaluator may be shared across sessions; the cache is safe for
// concurrent use.
type Evaluator struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
}

func New() *Evaluator {
	return &Evaluator{programs: make(map[string]*vm.Program)}
}

// Eval evaluates rule against the session values. Collected values are
// addressable by field name; the enrichment context is exposed under the
// `enrichment` key, mirroring the built-in evaluator's prefix convention.
// Undefined identifiers evaluate to nil, so equality against a literal is
// false for unset fields and inequality holds vacuously.
func (e *Evaluator) Eval(fieldPath, rule string, ctx visibility.Context) (bool, error) {
	_ = fieldPath
	trimmed := strings.TrimSpace(rule)
	if trimmed == "" {
		return true, nil
	}

	program, err := e.program(trimmed)
	if err != nil {
		return false, err
	}

	env := make(map[string]any, len(ctx.Values)+1)
	for key, value := range ctx.Values {
		env[key] = value
	}
	env["enrichment"] = ctx.Enrichment

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("visibility/exprlang: run rule: %w", err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("visibility/exprlang: rule %q did not produce a boolean", trimmed)
	}
	return result, nil
}

// program returns the compiled form of a rule, compiling it on first use.
func (e *Evaluator) program(rule string) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok := e.programs[rule]; ok {
		return program, nil
	}
	compiled, err := expr.Compile(rule, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("visibility/exprlang: compile rule: %w", err)
	}
	e.programs[rule] = compiled
	return compiled, nil
}

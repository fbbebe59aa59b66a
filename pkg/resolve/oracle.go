// Package resolve decides whether the variables a prompt depends on are
// settled: guaranteed not to change again before the prompt is used. The
// prefetch scheduler polls these verdicts to know when a dynamic step's
// generation call may be issued ahead of the user reaching it.
package resolve

import (
	"log/slog"

	"github.com/goliatone/go-intake/pkg/flow"
	"github.com/goliatone/go-intake/pkg/prompt"
	"github.com/goliatone/go-intake/pkg/visibility"
)

// Query bundles the read-only session state a settledness check runs
// against. CurrentIndex is the definition-order position of the step the
// user is on; -1 means the flow has not started.
type Query struct {
	Steps        []flow.Step
	CurrentIndex int
	Values       map[string]any
	Enrichment   map[string]any
	Evaluator    visibility.Evaluator
	Logger       *slog.Logger
}

// IsSettled reports whether variable will not change again before it is
// needed. A variable settles when it holds a non-empty value, when its
// owning field can never be filled (hidden), or when the user has already
// advanced past the step that would produce it. Unrecognized variables
// settle immediately so a typo in a prompt can never deadlock a dynamic
// step; the miss is logged as a warning.
func (q Query) IsSettled(variable string) bool {
	if value, ok := q.Values[variable]; ok && !flow.IsEmptyValue(value) {
		return true
	}
	if value, ok := q.Enrichment[variable]; ok && !flow.IsEmptyValue(value) {
		return true
	}

	if field, ownerIdx, ok := q.fieldByName(variable); ok {
		if q.hidden(field.VisibleWhen) || q.hidden(q.Steps[ownerIdx].VisibleWhen) {
			return true
		}
		return q.CurrentIndex > ownerIdx
	}

	if ownerIdx, ok := q.enrichmentProducer(variable); ok {
		return q.CurrentIndex > ownerIdx
	}

	if q.Logger != nil {
		q.Logger.Warn("resolve: variable matches no field or enrichment output, treating as settled",
			slog.String("variable", variable))
	}
	return true
}

// PromptResolved reports whether every variable referenced by the prompt
// template is settled. A prompt with no variables is vacuously resolved.
func (q Query) PromptResolved(template string) bool {
	for _, variable := range prompt.ExtractVariables(template) {
		if !q.IsSettled(variable) {
			return false
		}
	}
	return true
}

func (q Query) fieldByName(name string) (flow.Field, int, bool) {
	for i, step := range q.Steps {
		for _, field := range step.Fields {
			if field.Name == name {
				return field, i, true
			}
		}
		if step.Kind == flow.StepKindCollection && step.CollectionKey == name {
			return flow.Field{Name: name}, i, true
		}
	}
	return flow.Field{}, -1, false
}

// enrichmentProducer finds the step whose enrichment output-shape hint
// declares a property with the given name.
func (q Query) enrichmentProducer(name string) (int, bool) {
	for i, step := range q.Steps {
		if step.Enrich == nil || step.Enrich.Shape == nil {
			continue
		}
		if _, ok := step.Enrich.Shape.Properties[name]; ok {
			return i, true
		}
	}
	return -1, false
}

// hidden evaluates a visibility rule against the current values. Evaluator
// failures count as visible so a broken rule can only delay, never hide.
func (q Query) hidden(rule string) bool {
	if rule == "" || q.Evaluator == nil {
		return false
	}
	visible, err := q.Evaluator.Eval("", rule, visibility.Context{
		Values:     q.Values,
		Enrichment: q.Enrichment,
	})
	if err != nil {
		if q.Logger != nil {
			q.Logger.Warn("resolve: visibility rule failed, treating as visible",
				slog.String("rule", rule), slog.Any("error", err))
		}
		return false
	}
	return !visible
}

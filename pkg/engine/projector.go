package engine

import (
	"log/slog"

	"github.com/goliatone/go-intake/pkg/flow"
)

// VisibleSteps returns the ordered subsequence of definition steps whose
// step-level visibility rule holds against the current value map. This is
// the list the navigator and any step indicator operate over, never the
// raw definition list. The returned slice is shared and must be treated as
// read-only; its identity is stable across calls while the underlying
// visible set is unchanged.
func (s *Session) VisibleSteps() []flow.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleStepsLocked()
}

func (s *Session) visibleStepsLocked() []flow.Step {
	if !s.projectionDirty {
		return s.visible
	}
	s.projectionDirty = false

	steps := make([]flow.Step, 0, len(s.def.Steps))
	ids := make([]string, 0, len(s.def.Steps))
	for _, step := range s.def.Steps {
		if !s.ruleHoldsLocked(step.ID, step.VisibleWhen) {
			continue
		}
		steps = append(steps, step)
		ids = append(ids, step.ID)
	}

	if equalIDs(ids, s.visibleIDs) {
		return s.visible
	}
	s.visible = steps
	s.visibleIDs = ids
	return s.visible
}

// VisibleFields derives a step's currently visible fields fresh from the
// value map on every call; the result is never cached across a value
// change.
func (s *Session) VisibleFields(step flow.Step) []flow.Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleFieldsLocked(step)
}

func (s *Session) visibleFieldsLocked(step flow.Step) []flow.Field {
	fields := step.Fields
	if step.Kind == flow.StepKindCollection {
		fields = step.ItemFields
	}
	if len(fields) == 0 {
		return nil
	}
	out := make([]flow.Field, 0, len(fields))
	for _, field := range fields {
		if !s.ruleHoldsLocked(field.Name, field.VisibleWhen) {
			continue
		}
		out = append(out, field)
	}
	return out
}

// VisibleGeneratedFields returns the visible subset of a dynamic step's
// cached generated fields. The second return reports whether the cache is
// populated at all.
func (s *Session) VisibleGeneratedFields(stepID string) ([]flow.GeneratedField, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cached, ok := s.cache[stepID]
	if !ok {
		return nil, false
	}
	out := make([]flow.GeneratedField, 0, len(cached))
	for _, field := range cached {
		if !s.ruleHoldsLocked(field.Name, field.VisibleWhen) {
			continue
		}
		out = append(out, field)
	}
	return out, true
}

// ruleHoldsLocked evaluates a visibility rule against live state. Broken
// rules count as visible so an authoring mistake can never hide a field
// silently; the failure is logged.
func (s *Session) ruleHoldsLocked(path, rule string) bool {
	if rule == "" {
		return true
	}
	ok, err := s.eval.Eval(path, rule, s.visibilityContextLocked())
	if err != nil {
		s.log.Warn("engine: visibility rule failed, treating as visible",
			slog.String("path", path), slog.Any("error", err))
		return true
	}
	return ok
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

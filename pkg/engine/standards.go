package engine

import (
	"log/slog"

	"github.com/goliatone/go-intake/pkg/flow"
)

// ApplyStandards bulk-fills the empty visible fields of a step from a
// suggestion map, e.g. "apply recommended values". Each field looks up
// its suggestion key (falling back to the field name); fields that
// already hold a non-empty value are never overwritten. When suggestions
// is nil the enrichment context serves as the suggestion source.
//
// Applying one suggestion can reveal conditional fields that themselves
// have suggestions, so the pass repeats until it fills nothing new or
// hits the iteration ceiling. It returns the number of fields filled.
func (s *Session) ApplyStandards(stepID string, suggestions map[string]any) int {
	s.mu.Lock()
	step, ok := s.def.Step(stepID)
	if !ok {
		s.mu.Unlock()
		return 0
	}
	if suggestions == nil {
		suggestions = s.enrichment
	}
	lookup := func(f flow.Field) (any, bool) {
		key := f.SuggestKey
		if key == "" {
			key = f.Name
		}
		v, ok := suggestions[key]
		return v, ok
	}
	applied := s.applyToFixedPointLocked(step, s.visibleFieldsLocked, lookup)
	s.mu.Unlock()

	if applied > 0 {
		s.obs.OnStandardsApplied(s.id, stepID, applied)
		s.schedulePrefetches()
	}
	return applied
}

// ApplyGeneratedStandards fills a dynamic step's empty visible fields from
// the recommended values the generator attached to them. Returns the
// number of fields filled; an unfetched step applies nothing.
func (s *Session) ApplyGeneratedStandards(stepID string) int {
	s.mu.Lock()
	cached, ok := s.cache[stepID]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	recommended := make(map[string]any, len(cached))
	fields := make([]flow.Field, 0, len(cached))
	for _, gf := range cached {
		fields = append(fields, gf.Field)
		if gf.Recommended != nil {
			recommended[gf.Name] = gf.Recommended
		}
	}
	step := flow.Step{ID: stepID, Fields: fields}
	lookup := func(f flow.Field) (any, bool) {
		v, ok := recommended[f.Name]
		return v, ok
	}
	applied := s.applyToFixedPointLocked(step, s.visibleFieldsLocked, lookup)
	s.mu.Unlock()

	if applied > 0 {
		s.obs.OnStandardsApplied(s.id, stepID, applied)
		s.schedulePrefetches()
	}
	return applied
}

// applyToFixedPointLocked runs the fill pass until visibility stops
// revealing new fillable fields, bounded by the configured ceiling.
// Writes go straight into the value map; the ceiling guards against a
// pathological rule set oscillating forever. Callers must hold s.mu.
func (s *Session) applyToFixedPointLocked(step flow.Step, visible func(flow.Step) []flow.Field, lookup func(flow.Field) (any, bool)) int {
	total := 0
	for i := 0; i < s.standardsMaxIter; i++ {
		filled := 0
		for _, field := range visible(step) {
			if existing, ok := s.values[field.Name]; ok && !flow.IsEmptyValue(existing) {
				continue
			}
			v, ok := lookup(field)
			if !ok || flow.IsEmptyValue(v) {
				continue
			}
			s.values[field.Name] = deepCopyValue(v)
			s.projectionDirty = true
			filled++
		}
		total += filled
		if filled == 0 {
			return total
		}
	}
	s.log.Warn("engine: standards pass hit iteration ceiling",
		slog.String("step", step.ID), slog.Int("applied", total))
	return total
}

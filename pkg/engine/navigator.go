package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/goliatone/go-intake/pkg/flow"
	"github.com/goliatone/go-intake/pkg/generation"
	"github.com/goliatone/go-intake/pkg/visibility"
)

// ErrEndOfFlow is returned by Advance on the last visible step. It is the
// signal to the rendering surface that the next action is Submit.
var ErrEndOfFlow = errors.New("engine: already on the last step")

// Begin moves the session out of the welcome gate onto the first visible
// step and kicks off speculative prefetching.
func (s *Session) Begin() error {
	s.mu.Lock()
	if s.phase != PhaseWelcome {
		s.mu.Unlock()
		return fmt.Errorf("engine: cannot begin from phase %q", s.phase)
	}
	s.phase = PhaseInFlow
	s.index = 0
	s.maxReached = 0
	s.projectionDirty = true
	steps := s.visibleStepsLocked()
	if len(steps) == 0 {
		s.phase = PhaseWelcome
		s.mu.Unlock()
		return errors.New("engine: no visible steps")
	}
	first := steps[0]
	s.mu.Unlock()

	s.obs.OnAdvance(s.id, first.ID, 0)
	s.schedulePrefetches()
	s.ensureCurrentFetched()
	return nil
}

// CurrentStep returns the step the user is on. The second return is false
// outside the in-flow phase.
func (s *Session) CurrentStep() (flow.Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentStepLocked()
}

func (s *Session) currentStepLocked() (flow.Step, bool) {
	if s.phase != PhaseInFlow {
		return flow.Step{}, false
	}
	steps := s.visibleStepsLocked()
	if s.index < 0 || s.index >= len(steps) {
		return flow.Step{}, false
	}
	return steps[s.index], true
}

// Index returns the position in the visible sequence.
func (s *Session) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// MaxReached returns the furthest visible index the user has legitimately
// reached; JumpTo is bounded by it.
func (s *Session) MaxReached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxReached
}

// Advance validates the current step and moves to the next visible one.
// Leaving a step triggers its background enrichment run. On the last
// visible step it returns ErrEndOfFlow without moving.
func (s *Session) Advance() error {
	s.mu.Lock()
	step, ok := s.currentStepLocked()
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("engine: cannot advance from phase %q", s.phase)
	}
	if err := s.validateStepLocked(step); err != nil {
		s.mu.Unlock()
		return err
	}
	steps := s.visibleStepsLocked()
	if s.index >= len(steps)-1 {
		s.mu.Unlock()
		return ErrEndOfFlow
	}
	s.index++
	if s.index > s.maxReached {
		s.maxReached = s.index
	}
	next := steps[s.index]
	index := s.index
	s.mu.Unlock()

	s.obs.OnAdvance(s.id, next.ID, index)
	s.runEnrichment(step)
	s.schedulePrefetches()
	s.ensureCurrentFetched()
	return nil
}

// Retreat moves one step back. On the first step it is a no-op; collected
// values are always kept.
func (s *Session) Retreat() error {
	s.mu.Lock()
	if s.phase != PhaseInFlow {
		s.mu.Unlock()
		return fmt.Errorf("engine: cannot retreat from phase %q", s.phase)
	}
	if s.index == 0 {
		s.mu.Unlock()
		return nil
	}
	s.index--
	steps := s.visibleStepsLocked()
	var stepID string
	if s.index < len(steps) {
		stepID = steps[s.index].ID
	}
	index := s.index
	s.mu.Unlock()

	s.obs.OnRetreat(s.id, stepID, index)
	return nil
}

// JumpTo moves directly to a previously reached visible index, e.g. from a
// step indicator. Positions beyond maxReached are rejected; forward
// progress only ever happens through Advance.
func (s *Session) JumpTo(index int) error {
	s.mu.Lock()
	if s.phase != PhaseInFlow {
		s.mu.Unlock()
		return fmt.Errorf("engine: cannot jump from phase %q", s.phase)
	}
	steps := s.visibleStepsLocked()
	if index < 0 || index >= len(steps) || index > s.maxReached {
		s.mu.Unlock()
		return fmt.Errorf("engine: jump target %d out of reach", index)
	}
	if index == s.index {
		s.mu.Unlock()
		return nil
	}
	retreating := index < s.index
	s.index = index
	stepID := steps[index].ID
	s.mu.Unlock()

	if retreating {
		s.obs.OnRetreat(s.id, stepID, index)
	} else {
		s.obs.OnAdvance(s.id, stepID, index)
	}
	s.ensureCurrentFetched()
	return nil
}

// Submit validates the current step and issues the terminal generation
// call. Token expiry comes back as KindAuthorization, so the surface can
// re-prompt verification alone; any other failure is KindSubmission and
// returns the user to their last step with every answer intact.
func (s *Session) Submit(ctx context.Context, token string) (generation.Document, error) {
	s.mu.Lock()
	step, ok := s.currentStepLocked()
	if !ok {
		s.mu.Unlock()
		return generation.Document{}, fmt.Errorf("engine: cannot submit from phase %q", s.phase)
	}
	if err := s.validateStepLocked(step); err != nil {
		s.mu.Unlock()
		return generation.Document{}, err
	}
	if s.submitter == nil {
		s.mu.Unlock()
		return generation.Document{}, &FlowError{Kind: KindSubmission, Err: errors.New("no submitter configured")}
	}
	s.phase = PhaseSubmitting
	values := deepCopyMap(s.values)
	s.mu.Unlock()

	doc, err := s.submitter.Submit(ctx, generation.SubmitRequest{Values: values, Token: token})
	if err != nil {
		s.mu.Lock()
		s.phase = PhaseInFlow
		s.mu.Unlock()

		kind := KindSubmission
		if errors.Is(err, generation.ErrTokenExpired) {
			kind = KindAuthorization
		}
		ferr := &FlowError{Kind: kind, StepID: step.ID, Err: err}
		s.obs.OnSubmit(s.id, ferr)
		return generation.Document{}, ferr
	}

	s.mu.Lock()
	s.phase = PhaseComplete
	s.mu.Unlock()
	s.obs.OnSubmit(s.id, nil)
	return doc, nil
}

// forceAdvanceLocked moves forward without validation; it backs the
// stuck-state guard. Callers must hold s.mu.
func (s *Session) forceAdvanceLocked() bool {
	steps := s.visibleStepsLocked()
	if s.index >= len(steps)-1 {
		return false
	}
	s.index++
	if s.index > s.maxReached {
		s.maxReached = s.index
	}
	return true
}

// validateStepLocked gates Advance and Submit: every required visible
// field of the step must hold a non-empty value and every filled field
// must pass its validation rules. Callers must hold s.mu.
func (s *Session) validateStepLocked(step flow.Step) *FlowError {
	switch step.Kind {
	case flow.StepKindDynamic:
		return s.validateDynamicLocked(step)
	case flow.StepKindCollection:
		return s.validateCollectionLocked(step)
	default:
		return s.validateFieldsLocked(step.ID, s.visibleFieldsLocked(step), s.values)
	}
}

func (s *Session) validateDynamicLocked(step flow.Step) *FlowError {
	fields, ok := s.cache[step.ID]
	if !ok {
		// A degraded step passes with whatever it has; a loading one holds
		// the user until the fetch or the stuck guard resolves it.
		if s.degraded[step.ID] != "" {
			return nil
		}
		return &FlowError{Kind: KindGeneration, StepID: step.ID, Err: errors.New("fields not available yet")}
	}
	visible := make([]flow.Field, 0, len(fields))
	for _, gf := range fields {
		if s.ruleHoldsLocked(gf.Name, gf.VisibleWhen) {
			visible = append(visible, gf.Field)
		}
	}
	return s.validateFieldsLocked(step.ID, visible, s.values)
}

func (s *Session) validateCollectionLocked(step flow.Step) *FlowError {
	raw := s.values[step.CollectionKey]
	items, _ := raw.([]any)
	if len(items) < step.MinItems {
		return &FlowError{
			Kind:   KindValidation,
			StepID: step.ID,
			Field:  step.CollectionKey,
			Err:    fmt.Errorf("needs at least %d entries, has %d", step.MinItems, len(items)),
		}
	}
	for i, rawItem := range items {
		item, ok := rawItem.(map[string]any)
		if !ok {
			return &FlowError{
				Kind:   KindValidation,
				StepID: step.ID,
				Field:  step.CollectionKey,
				Err:    fmt.Errorf("entry %d is malformed", i+1),
			}
		}
		visible := make([]flow.Field, 0, len(step.ItemFields))
		for _, field := range step.ItemFields {
			if field.VisibleWhen != "" {
				itemCtx := visibility.Context{Values: item, Enrichment: s.enrichment}
				if holds, err := s.eval.Eval(field.Name, field.VisibleWhen, itemCtx); err == nil && !holds {
					continue
				}
			}
			visible = append(visible, field)
		}
		if err := s.validateFieldsLocked(step.ID, visible, item); err != nil {
			err.Err = fmt.Errorf("entry %d: %w", i+1, err.Err)
			return err
		}
	}
	return nil
}

func (s *Session) validateFieldsLocked(stepID string, fields []flow.Field, values map[string]any) *FlowError {
	for _, field := range fields {
		value := values[field.Name]
		if flow.IsEmptyValue(value) {
			if field.Required {
				return &FlowError{
					Kind:   KindValidation,
					StepID: stepID,
					Field:  field.Name,
					Err:    errors.New("required field is empty"),
				}
			}
			continue
		}
		if err := checkValidationRules(field, value); err != nil {
			return &FlowError{Kind: KindValidation, StepID: stepID, Field: field.Name, Err: err}
		}
	}
	return nil
}

// checkValidationRules applies a field's authored constraints to a
// non-empty value. Rules with unparseable parameters are skipped; the
// definition loader rejects them up front.
func checkValidationRules(field flow.Field, value any) error {
	for _, rule := range field.Validations {
		switch rule.Kind {
		case flow.ValidationRuleMin:
			limit, ok := parseFloatParam(rule, "value")
			if n, isNum := toFloat(value); ok && isNum && n < limit {
				return fmt.Errorf("must be at least %v", rule.Params["value"])
			}
		case flow.ValidationRuleMax:
			limit, ok := parseFloatParam(rule, "value")
			if n, isNum := toFloat(value); ok && isNum && n > limit {
				return fmt.Errorf("must be at most %v", rule.Params["value"])
			}
		case flow.ValidationRuleMinLength:
			limit, ok := parseIntParam(rule, "value")
			if str, isStr := value.(string); ok && isStr && utf8.RuneCountInString(str) < limit {
				return fmt.Errorf("must be at least %d characters", limit)
			}
		case flow.ValidationRuleMaxLength:
			limit, ok := parseIntParam(rule, "value")
			if str, isStr := value.(string); ok && isStr && utf8.RuneCountInString(str) > limit {
				return fmt.Errorf("must be at most %d characters", limit)
			}
		case flow.ValidationRulePattern:
			re, err := regexp.Compile(rule.Params["pattern"])
			if err != nil {
				continue
			}
			if str, isStr := value.(string); isStr && !re.MatchString(str) {
				return errors.New("does not match the expected format")
			}
		}
	}
	return nil
}

func parseFloatParam(rule flow.ValidationRule, key string) (float64, bool) {
	f, err := strconv.ParseFloat(rule.Params[key], 64)
	return f, err == nil
}

func parseIntParam(rule flow.ValidationRule, key string) (int, bool) {
	n, err := strconv.Atoi(rule.Params[key])
	return n, err == nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Package runner walks an engine session from the terminal. It is the
// reference rendering surface: every interaction the engine supports
// (conditional fields, dynamic steps with retry, collections, standards
// application, submission with token refresh) is reachable from here.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-intake/pkg/engine"
	"github.com/goliatone/go-intake/pkg/flow"
	"github.com/goliatone/go-intake/pkg/generation"
)

// TokenSource supplies the short-lived verification token for submission.
// It is called again when the engine reports the token expired.
type TokenSource func(ctx context.Context) (string, error)

// Option customises a Runner.
type Option func(*Runner)

// WithDriver swaps the prompt driver, e.g. for a scripted test driver.
func WithDriver(driver PromptDriver) Option {
	return func(r *Runner) {
		if driver != nil {
			r.driver = driver
		}
	}
}

// WithTokenSource sets how the verification token is obtained. The default
// asks through the prompt driver.
func WithTokenSource(source TokenSource) Option {
	return func(r *Runner) {
		if source != nil {
			r.token = source
		}
	}
}

// WithPollInterval sets how often the runner re-checks a loading dynamic
// step.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// Runner drives one session through the terminal.
type Runner struct {
	session *engine.Session
	driver  PromptDriver
	token   TokenSource
	poll    time.Duration
}

// New creates a Runner over the given session.
func New(session *engine.Session, options ...Option) *Runner {
	r := &Runner{
		session: session,
		driver:  NewSurveyDriver(),
		poll:    100 * time.Millisecond,
	}
	for _, opt := range options {
		if opt != nil {
			opt(r)
		}
	}
	if r.token == nil {
		r.token = func(ctx context.Context) (string, error) {
			return r.driver.Input(ctx, InputConfig{Message: "Verification code"})
		}
	}
	return r
}

// Run walks the flow to completion and returns the generated document.
func (r *Runner) Run(ctx context.Context) (generation.Document, error) {
	def := r.session.Definition()
	if def.Title != "" {
		if err := r.driver.Info(ctx, def.Title); err != nil {
			return generation.Document{}, err
		}
	}
	if err := r.session.Begin(); err != nil {
		return generation.Document{}, err
	}

	for {
		step, ok := r.session.CurrentStep()
		if !ok {
			return generation.Document{}, fmt.Errorf("runner: unexpected phase %q", r.session.Phase())
		}
		if err := r.showStepHeader(ctx, step); err != nil {
			return generation.Document{}, err
		}
		if err := r.collectStep(ctx, step); err != nil {
			return generation.Document{}, err
		}

		doc, done, err := r.navigate(ctx)
		if err != nil {
			return generation.Document{}, err
		}
		if done {
			return doc, nil
		}
	}
}

func (r *Runner) showStepHeader(ctx context.Context, step flow.Step) error {
	header := step.Title
	if header == "" {
		header = step.ID
	}
	steps := r.session.VisibleSteps()
	header = fmt.Sprintf("— %s (%d/%d) —", header, r.session.Index()+1, len(steps))
	if err := r.driver.Info(ctx, header); err != nil {
		return err
	}
	if step.Description != "" {
		if err := r.driver.Info(ctx, step.Description); err != nil {
			return err
		}
	}
	if name, ok := r.session.Jurisdiction(step.ID); ok {
		if err := r.driver.Info(ctx, "Jurisdiction: "+name); err != nil {
			return err
		}
	}
	if status := r.session.EnrichmentStatus(); status.State == engine.EnrichRunning {
		msg := "Analyzing your answers…"
		if status.StepTitle != "" {
			msg = fmt.Sprintf("Analyzing your answers to %s…", status.StepTitle)
		}
		if err := r.driver.Info(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) collectStep(ctx context.Context, step flow.Step) error {
	switch step.Kind {
	case flow.StepKindDynamic:
		return r.collectDynamic(ctx, step)
	case flow.StepKindCollection:
		return r.collectCollection(ctx, step)
	default:
		return r.askFields(ctx, r.session.VisibleFields(step), r.session.Values(), r.session.SetValue)
	}
}

func (r *Runner) collectDynamic(ctx context.Context, step flow.Step) error {
	if err := r.waitForFields(ctx, step); err != nil {
		return err
	}
	state := r.session.StepFetchState(step.ID)
	if state.Degraded != "" {
		return r.driver.Info(ctx, state.Degraded)
	}

	generated, ok := r.session.VisibleGeneratedFields(step.ID)
	if !ok {
		return nil
	}

	if hasRecommendations(generated) {
		apply, err := r.driver.Confirm(ctx, ConfirmConfig{
			Message: "Apply the recommended values?",
			Default: true,
		})
		if err != nil {
			return err
		}
		if apply {
			n := r.session.ApplyGeneratedStandards(step.ID)
			if err := r.driver.Info(ctx, fmt.Sprintf("Filled %d fields with recommended values.", n)); err != nil {
				return err
			}
			generated, _ = r.session.VisibleGeneratedFields(step.ID)
		}
	}

	fields := make([]flow.Field, len(generated))
	for i, gf := range generated {
		fields[i] = gf.Field
	}
	return r.askFields(ctx, fields, r.session.Values(), r.session.SetValue)
}

// waitForFields polls a dynamic step until its fields are cached, the user
// abandons it, or the engine degrades it and moves on.
func (r *Runner) waitForFields(ctx context.Context, step flow.Step) error {
	informed := false
	for {
		state := r.session.StepFetchState(step.ID)
		switch {
		case state.Cached, state.Degraded != "":
			return nil
		case state.Err != nil:
			choice, err := r.driver.Select(ctx, SelectConfig{
				Message: state.Err.Message(),
				Options: []string{"Retry", "Continue without these questions"},
			})
			if err != nil {
				return err
			}
			if choice != 0 {
				return nil
			}
			r.session.RetryFetch(step.ID)
		default:
			if !informed {
				if err := r.driver.Info(ctx, "Preparing this step's questions…"); err != nil {
					return err
				}
				informed = true
			}
		}

		// The stuck guard advances the session underneath us; stop waiting
		// when this is no longer the current step.
		if current, ok := r.session.CurrentStep(); !ok || current.ID != step.ID {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.poll):
		}
	}
}

func (r *Runner) collectCollection(ctx context.Context, step flow.Step) error {
	existing, _ := r.session.Value(step.CollectionKey)
	items, _ := existing.([]any)

	for {
		if len(items) > 0 {
			if err := r.driver.Info(ctx, fmt.Sprintf("%d entries so far.", len(items))); err != nil {
				return err
			}
		}
		more, err := r.driver.Confirm(ctx, ConfirmConfig{
			Message: "Add an entry?",
			Default: len(items) < step.MinItems,
		})
		if err != nil {
			return err
		}
		if !more {
			r.session.SetValue(step.CollectionKey, items)
			return nil
		}

		item := make(map[string]any)
		setter := func(name string, value any) { item[name] = value }
		if err := r.askFields(ctx, step.ItemFields, item, setter); err != nil {
			return err
		}
		items = append(items, item)
		r.session.SetValue(step.CollectionKey, items)
	}
}

func (r *Runner) askFields(ctx context.Context, fields []flow.Field, current map[string]any, set func(string, any)) error {
	for _, field := range fields {
		value, err := r.askField(ctx, field, current[field.Name])
		if err != nil {
			return err
		}
		set(field.Name, value)
	}
	return nil
}

func (r *Runner) askField(ctx context.Context, field flow.Field, existing any) (any, error) {
	label := field.Label
	if label == "" {
		label = field.Name
	}

	switch field.Type {
	case flow.FieldTypeBoolean:
		def, _ := existing.(bool)
		return r.driver.Confirm(ctx, ConfirmConfig{Message: label, Default: def, Help: field.Description})
	case flow.FieldTypeSelect:
		defaultIndex := 0
		if str, ok := existing.(string); ok {
			if idx := indexOf(field.Options, str); idx >= 0 {
				defaultIndex = idx
			}
		}
		idx, err := r.driver.Select(ctx, SelectConfig{
			Message:      label,
			Options:      field.Options,
			DefaultIndex: defaultIndex,
			Help:         field.Description,
		})
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= len(field.Options) {
			return "", nil
		}
		return field.Options[idx], nil
	case flow.FieldTypeText:
		def, _ := existing.(string)
		return r.driver.TextArea(ctx, TextAreaConfig{Message: label, Default: def, Help: field.Description})
	case flow.FieldTypeInteger:
		out, err := r.driver.Input(ctx, InputConfig{
			Message:   label,
			Default:   stringDefault(existing),
			Help:      field.Description,
			Validator: integerValidator(field.Required),
		})
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(out) == "" {
			return nil, nil
		}
		n, _ := strconv.Atoi(strings.TrimSpace(out))
		return n, nil
	case flow.FieldTypeNumber, flow.FieldTypeMoney:
		out, err := r.driver.Input(ctx, InputConfig{
			Message:   label,
			Default:   stringDefault(existing),
			Help:      field.Description,
			Validator: numberValidator(field.Required),
		})
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(out) == "" {
			return nil, nil
		}
		f, _ := strconv.ParseFloat(strings.TrimSpace(out), 64)
		return f, nil
	default:
		return r.driver.Input(ctx, InputConfig{
			Message:   label,
			Default:   stringDefault(existing),
			Help:      field.Description,
			Validator: requiredValidator(field.Required),
		})
	}
}

// navigate asks for the next move and performs it. The second return is
// true once the document has been generated.
func (r *Runner) navigate(ctx context.Context) (generation.Document, bool, error) {
	options := []string{"Continue"}
	if r.session.Index() > 0 {
		options = append(options, "Back")
	}
	choice, err := r.driver.Select(ctx, SelectConfig{Message: "Next", Options: options})
	if err != nil {
		return generation.Document{}, false, err
	}
	if choice == 1 {
		return generation.Document{}, false, r.session.Retreat()
	}

	err = r.session.Advance()
	switch {
	case err == nil:
		return generation.Document{}, false, nil
	case errors.Is(err, engine.ErrEndOfFlow):
		doc, err := r.submit(ctx)
		if err != nil {
			return generation.Document{}, false, err
		}
		return doc, true, nil
	default:
		var ferr *engine.FlowError
		if errors.As(err, &ferr) {
			if infoErr := r.driver.Info(ctx, ferr.Message()); infoErr != nil {
				return generation.Document{}, false, infoErr
			}
			return generation.Document{}, false, nil
		}
		return generation.Document{}, false, err
	}
}

func (r *Runner) submit(ctx context.Context) (generation.Document, error) {
	for {
		token, err := r.token(ctx)
		if err != nil {
			return generation.Document{}, err
		}
		doc, err := r.session.Submit(ctx, token)
		if err == nil {
			if infoErr := r.driver.Info(ctx, "Your document is ready."); infoErr != nil {
				return generation.Document{}, infoErr
			}
			return doc, nil
		}

		var ferr *engine.FlowError
		if !errors.As(err, &ferr) {
			return generation.Document{}, err
		}
		if infoErr := r.driver.Info(ctx, ferr.Message()); infoErr != nil {
			return generation.Document{}, infoErr
		}
		if ferr.Kind == engine.KindAuthorization {
			continue
		}
		retry, confirmErr := r.driver.Confirm(ctx, ConfirmConfig{Message: "Retry submission?", Default: true})
		if confirmErr != nil {
			return generation.Document{}, confirmErr
		}
		if !retry {
			return generation.Document{}, ferr
		}
	}
}

func hasRecommendations(fields []flow.GeneratedField) bool {
	for _, f := range fields {
		if f.Recommended != nil {
			return true
		}
	}
	return false
}

func stringDefault(existing any) string {
	switch v := existing.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func requiredValidator(required bool) func(string) error {
	if !required {
		return nil
	}
	return func(input string) error {
		if strings.TrimSpace(input) == "" {
			return errors.New("a value is required")
		}
		return nil
	}
}

func integerValidator(required bool) func(string) error {
	return func(input string) error {
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			if required {
				return errors.New("a value is required")
			}
			return nil
		}
		if _, err := strconv.Atoi(trimmed); err != nil {
			return errors.New("enter a whole number")
		}
		return nil
	}
}

func numberValidator(required bool) func(string) error {
	return func(input string) error {
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			if required {
				return errors.New("a value is required")
			}
			return nil
		}
		if _, err := strconv.ParseFloat(trimmed, 64); err != nil {
			return errors.New("enter a number")
		}
		return nil
	}
}

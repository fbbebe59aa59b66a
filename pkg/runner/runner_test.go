package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-intake/pkg/engine"
	"github.com/goliatone/go-intake/pkg/flow"
	"github.com/goliatone/go-intake/pkg/generation"
	"github.com/goliatone/go-intake/pkg/testsupport"
)

// scriptDriver feeds prerecorded answers to the walk loop and records
// everything shown to the user.
type scriptDriver struct {
	mu       sync.Mutex
	inputs   []string
	confirms []bool
	selects  []int
	texts    []string
	Infos    []string
}

func (d *scriptDriver) Input(ctx context.Context, cfg InputConfig) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.inputs) == 0 {
		return "", fmt.Errorf("script exhausted for input %q", cfg.Message)
	}
	out := d.inputs[0]
	d.inputs = d.inputs[1:]
	if cfg.Validator != nil {
		if err := cfg.Validator(out); err != nil {
			return "", fmt.Errorf("scripted input %q rejected: %w", out, err)
		}
	}
	return out, nil
}

func (d *scriptDriver) Confirm(ctx context.Context, cfg ConfirmConfig) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.confirms) == 0 {
		return false, fmt.Errorf("script exhausted for confirm %q", cfg.Message)
	}
	out := d.confirms[0]
	d.confirms = d.confirms[1:]
	return out, nil
}

func (d *scriptDriver) Select(ctx context.Context, cfg SelectConfig) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.selects) == 0 {
		return 0, fmt.Errorf("script exhausted for select %q", cfg.Message)
	}
	out := d.selects[0]
	d.selects = d.selects[1:]
	return out, nil
}

func (d *scriptDriver) TextArea(ctx context.Context, cfg TextAreaConfig) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.texts) == 0 {
		return "", fmt.Errorf("script exhausted for text area %q", cfg.Message)
	}
	out := d.texts[0]
	d.texts = d.texts[1:]
	return out, nil
}

func (d *scriptDriver) Info(ctx context.Context, msg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Infos = append(d.Infos, msg)
	return nil
}

func simpleDefinition() *flow.Definition {
	return &flow.Definition{
		ID:    "simple",
		Title: "Simple intake",
		Steps: []flow.Step{
			{
				ID:    "basics",
				Title: "Basics",
				Kind:  flow.StepKindStandard,
				Fields: []flow.Field{
					{Name: "name", Label: "Name", Type: flow.FieldTypeString, Required: true},
					{Name: "newsletter", Label: "Subscribe?", Type: flow.FieldTypeBoolean},
				},
			},
			{ID: "review", Title: "Review", Kind: flow.StepKindStandard},
		},
	}
}

func TestRunnerWalksFlowToSubmission(t *testing.T) {
	t.Parallel()

	submitter := &testsupport.StaticSubmitter{
		Doc: generation.Document{ContentType: "application/pdf", Data: []byte("doc")},
	}
	session, err := engine.New(simpleDefinition(), engine.WithSubmitter(submitter))
	require.NoError(t, err)

	driver := &scriptDriver{
		inputs:   []string{"Ada Lovelace"},
		confirms: []bool{true},
		// Continue past basics, continue past review into submission.
		selects: []int{0, 0},
	}
	tokens := 0
	run := New(session,
		WithDriver(driver),
		WithTokenSource(func(ctx context.Context) (string, error) {
			tokens++
			return "token-1", nil
		}),
	)

	doc, err := run.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "application/pdf", doc.ContentType)
	require.Equal(t, engine.PhaseComplete, session.Phase())
	require.Equal(t, 1, tokens)

	name, _ := session.Value("name")
	require.Equal(t, "Ada Lovelace", name)
	newsletter, _ := session.Value("newsletter")
	require.Equal(t, true, newsletter)

	req, ok := submitter.LastRequest()
	require.True(t, ok)
	require.Equal(t, "token-1", req.Token)
}

func TestRunnerRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	submitter := &testsupport.StaticSubmitter{
		Doc:  generation.Document{ContentType: "application/pdf"},
		Errs: []error{fmt.Errorf("submit: %w", generation.ErrTokenExpired)},
	}
	def := &flow.Definition{
		ID:    "short",
		Steps: []flow.Step{{ID: "only", Kind: flow.StepKindStandard}},
	}
	session, err := engine.New(def, engine.WithSubmitter(submitter))
	require.NoError(t, err)

	driver := &scriptDriver{selects: []int{0}}
	tokens := 0
	run := New(session,
		WithDriver(driver),
		WithTokenSource(func(ctx context.Context) (string, error) {
			tokens++
			return fmt.Sprintf("token-%d", tokens), nil
		}),
	)

	_, err = run.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, tokens)

	req, ok := submitter.LastRequest()
	require.True(t, ok)
	require.Equal(t, "token-2", req.Token)

	// The expiry message reached the user between attempts.
	require.Contains(t, driver.Infos, (&engine.FlowError{Kind: engine.KindAuthorization}).Message())
}

func TestRunnerCollectsEntries(t *testing.T) {
	t.Parallel()

	def := &flow.Definition{
		ID: "collection",
		Steps: []flow.Step{
			{
				ID:            "signers",
				Title:         "Signers",
				Kind:          flow.StepKindCollection,
				CollectionKey: "signers",
				MinItems:      1,
				ItemFields: []flow.Field{
					{Name: "name", Type: flow.FieldTypeString, Required: true},
				},
			},
		},
	}
	submitter := &testsupport.StaticSubmitter{}
	session, err := engine.New(def, engine.WithSubmitter(submitter))
	require.NoError(t, err)

	driver := &scriptDriver{
		inputs: []string{"Ada", "Grace"},
		// Add an entry, add another, stop.
		confirms: []bool{true, true, false},
		selects:  []int{0},
	}
	run := New(session,
		WithDriver(driver),
		WithTokenSource(func(ctx context.Context) (string, error) { return "t", nil }),
	)

	_, err = run.Run(context.Background())
	require.NoError(t, err)

	value, _ := session.Value("signers")
	items, ok := value.([]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	first, _ := items[0].(map[string]any)
	require.Equal(t, "Ada", first["name"])
}

func TestRunnerSurfacesValidationMessage(t *testing.T) {
	t.Parallel()

	def := &flow.Definition{
		ID: "gate",
		Steps: []flow.Step{
			{
				ID:   "basics",
				Kind: flow.StepKindStandard,
				Fields: []flow.Field{
					// Hidden behind a rule the runner never satisfies, so the
					// prompt is skipped but the required gate still fires if
					// visible. Use a plain optional field plus a required one
					// revealed by it.
					{Name: "mode", Type: flow.FieldTypeSelect, Options: []string{"simple", "detailed"}},
					{Name: "details", Type: flow.FieldTypeString, Required: true, VisibleWhen: `mode == "detailed"`},
				},
			},
			{ID: "review", Kind: flow.StepKindStandard},
		},
	}
	session, err := engine.New(def, engine.WithSubmitter(&testsupport.StaticSubmitter{}))
	require.NoError(t, err)

	driver := &scriptDriver{
		// Pick "detailed", continue (blocked: details required and now
		// visible), answer it on the re-ask, continue, continue, submit.
		selects: []int{1, 0, 1, 0, 0},
		inputs:  []string{"fine print"},
	}
	run := New(session,
		WithDriver(driver),
		WithTokenSource(func(ctx context.Context) (string, error) { return "t", nil }),
	)

	_, err = run.Run(context.Background())
	require.NoError(t, err)
	require.Contains(t, driver.Infos, (&engine.FlowError{Kind: engine.KindValidation}).Message())
}

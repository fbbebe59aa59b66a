package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-intake/pkg/engine"
	"github.com/goliatone/go-intake/pkg/flow"
	"github.com/goliatone/go-intake/pkg/generation"
	"github.com/goliatone/go-intake/pkg/testsupport"
)

func startedSession(t *testing.T, def *flow.Definition, options ...engine.Option) *engine.Session {
	t.Helper()
	session, err := engine.New(def, options...)
	require.NoError(t, err)
	require.NoError(t, session.Begin())
	return session
}

func TestAdvanceBlockedByRequiredField(t *testing.T) {
	t.Parallel()

	session := startedSession(t, testsupport.SampleDefinition())

	err := session.Advance()
	var ferr *engine.FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, engine.KindValidation, ferr.Kind)
	require.Equal(t, "full_name", ferr.Field)
	require.Equal(t, 0, session.Index())
}

func TestHiddenRequiredFieldDoesNotGate(t *testing.T) {
	t.Parallel()

	gen := &testsupport.StaticGenerator{
		Fields: map[string][]flow.GeneratedField{"Terms": {}},
	}
	session := startedSession(t, testsupport.SampleDefinition(), engine.WithGenerator(gen))

	// state is required but only visible for companies; an individual must
	// pass without it.
	session.SetValue("full_name", "Ada Lovelace")
	session.SetValue("entity_type", "individual")
	require.NoError(t, session.Advance())
	require.Equal(t, 1, session.Index())

	// For a company the same field gates.
	require.NoError(t, session.JumpTo(0))
	session.SetValue("entity_type", "company")
	err := session.Advance()
	var ferr *engine.FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, "state", ferr.Field)
}

func TestRetreatKeepsValuesAndFloorsAtZero(t *testing.T) {
	t.Parallel()

	gen := &testsupport.StaticGenerator{
		Fields: map[string][]flow.GeneratedField{"Terms": {}},
	}
	session := startedSession(t, testsupport.SampleDefinition(), engine.WithGenerator(gen))

	session.SetValue("full_name", "Ada Lovelace")
	session.SetValue("entity_type", "individual")
	require.NoError(t, session.Advance())

	require.NoError(t, session.Retreat())
	require.Equal(t, 0, session.Index())
	require.NoError(t, session.Retreat())
	require.Equal(t, 0, session.Index())

	name, ok := session.Value("full_name")
	require.True(t, ok)
	require.Equal(t, "Ada Lovelace", name)
}

func TestJumpToBoundedByMaxReached(t *testing.T) {
	t.Parallel()

	gen := &testsupport.StaticGenerator{
		Fields: map[string][]flow.GeneratedField{"Terms": {}},
	}
	session := startedSession(t, testsupport.SampleDefinition(), engine.WithGenerator(gen))

	session.SetValue("full_name", "Ada Lovelace")
	session.SetValue("entity_type", "individual")
	require.NoError(t, session.Advance())
	require.Equal(t, 1, session.MaxReached())

	require.Error(t, session.JumpTo(3))
	require.Equal(t, 1, session.Index())

	require.NoError(t, session.JumpTo(0))
	require.Equal(t, 0, session.Index())
	// Returning to the frontier is allowed without revalidating.
	require.NoError(t, session.JumpTo(1))
	require.Equal(t, 1, session.Index())
}

func TestCollectionStepValidation(t *testing.T) {
	t.Parallel()

	def := &flow.Definition{
		ID: "collection",
		Steps: []flow.Step{
			{
				ID:            "signers",
				Kind:          flow.StepKindCollection,
				CollectionKey: "signers",
				MinItems:      1,
				ItemFields: []flow.Field{
					{Name: "name", Type: flow.FieldTypeString, Required: true},
					{Name: "email", Type: flow.FieldTypeString},
				},
			},
			{ID: "final", Kind: flow.StepKindStandard},
		},
	}
	session := startedSession(t, def)

	err := session.Advance()
	var ferr *engine.FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, engine.KindValidation, ferr.Kind)
	require.Equal(t, "signers", ferr.Field)

	session.SetValue("signers", []any{map[string]any{"email": "ada@example.com"}})
	err = session.Advance()
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, "name", ferr.Field)

	session.SetValue("signers", []any{map[string]any{"name": "Ada Lovelace"}})
	require.NoError(t, session.Advance())
}

func TestValidationRulesGateAdvance(t *testing.T) {
	t.Parallel()

	def := &flow.Definition{
		ID: "rules",
		Steps: []flow.Step{
			{
				ID:   "terms",
				Kind: flow.StepKindStandard,
				Fields: []flow.Field{
					{
						Name: "months",
						Type: flow.FieldTypeInteger,
						Validations: []flow.ValidationRule{
							{Kind: flow.ValidationRuleMin, Params: map[string]string{"value": "1"}},
							{Kind: flow.ValidationRuleMax, Params: map[string]string{"value": "60"}},
						},
					},
					{
						Name: "zip",
						Type: flow.FieldTypeString,
						Validations: []flow.ValidationRule{
							{Kind: flow.ValidationRulePattern, Params: map[string]string{"pattern": `^\d{5}$`}},
						},
					},
				},
			},
			{ID: "final", Kind: flow.StepKindStandard},
		},
	}
	session := startedSession(t, def)

	session.SetValue("months", 120)
	err := session.Advance()
	var ferr *engine.FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, "months", ferr.Field)

	session.SetValue("months", 24)
	session.SetValue("zip", "abcde")
	err = session.Advance()
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, "zip", ferr.Field)

	session.SetValue("zip", "94103")
	require.NoError(t, session.Advance())
}

func TestAdvanceAtEndOfFlow(t *testing.T) {
	t.Parallel()

	def := &flow.Definition{
		ID:    "short",
		Steps: []flow.Step{{ID: "only", Kind: flow.StepKindStandard}},
	}
	session := startedSession(t, def)

	require.ErrorIs(t, session.Advance(), engine.ErrEndOfFlow)
	require.Equal(t, 0, session.Index())
}

func TestSubmitTokenExpiryReturnsAuthorizationError(t *testing.T) {
	t.Parallel()

	submitter := &testsupport.StaticSubmitter{
		Doc:  generation.Document{ContentType: "application/pdf", Data: []byte("doc")},
		Errs: []error{fmt.Errorf("submit: %w", generation.ErrTokenExpired)},
	}
	def := &flow.Definition{
		ID:    "submit",
		Steps: []flow.Step{{ID: "only", Kind: flow.StepKindStandard}},
	}
	session := startedSession(t, def, engine.WithSubmitter(submitter))
	session.SetValue("notes", "keep me")

	_, err := session.Submit(context.Background(), "stale-token")
	var ferr *engine.FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, engine.KindAuthorization, ferr.Kind)
	require.Equal(t, engine.PhaseInFlow, session.Phase())

	// Values survive the failed attempt; a fresh token goes through.
	notes, ok := session.Value("notes")
	require.True(t, ok)
	require.Equal(t, "keep me", notes)

	doc, err := session.Submit(context.Background(), "fresh-token")
	require.NoError(t, err)
	require.Equal(t, "application/pdf", doc.ContentType)
	require.Equal(t, engine.PhaseComplete, session.Phase())

	req, ok := submitter.LastRequest()
	require.True(t, ok)
	require.Equal(t, "fresh-token", req.Token)
	require.Equal(t, "keep me", req.Values["notes"])
}

func TestSubmitFailureDistinctFromTokenExpiry(t *testing.T) {
	t.Parallel()

	submitter := &testsupport.StaticSubmitter{
		Errs: []error{errors.New("generation backend down")},
	}
	def := &flow.Definition{
		ID:    "submit",
		Steps: []flow.Step{{ID: "only", Kind: flow.StepKindStandard}},
	}
	session := startedSession(t, def, engine.WithSubmitter(submitter))

	_, err := session.Submit(context.Background(), "token")
	var ferr *engine.FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, engine.KindSubmission, ferr.Kind)
	require.Equal(t, engine.PhaseInFlow, session.Phase())
}

func TestBeginOnlyFromWelcome(t *testing.T) {
	t.Parallel()

	def := &flow.Definition{
		ID:    "begin",
		Steps: []flow.Step{{ID: "only", Kind: flow.StepKindStandard}},
	}
	session, err := engine.New(def)
	require.NoError(t, err)

	require.Equal(t, engine.PhaseWelcome, session.Phase())
	require.NoError(t, session.Begin())
	require.Equal(t, engine.PhaseInFlow, session.Phase())
	require.Error(t, session.Begin())
}

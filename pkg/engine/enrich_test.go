package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-intake/pkg/engine"
	"github.com/goliatone/go-intake/pkg/flow"
	"github.com/goliatone/go-intake/pkg/generation"
	"github.com/goliatone/go-intake/pkg/testsupport"
)

func enrichedDefinition(results ...*flow.Enrichment) *flow.Definition {
	def := &flow.Definition{ID: "enriched"}
	for i, enrich := range results {
		def.Steps = append(def.Steps, flow.Step{
			ID:     "step" + string(rune('a'+i)),
			Title:  "Step " + string(rune('A'+i)),
			Kind:   flow.StepKindStandard,
			Enrich: enrich,
		})
	}
	def.Steps = append(def.Steps, flow.Step{ID: "final", Kind: flow.StepKindStandard})
	return def
}

func TestEnrichmentRunsOnAdvance(t *testing.T) {
	t.Parallel()

	enricher := &testsupport.StaticEnricher{
		Result: map[string]any{"risk_profile": "low"},
		Delay:  20 * time.Millisecond,
	}
	def := enrichedDefinition(&flow.Enrichment{Prompt: "assess"})
	session, err := engine.New(def, engine.WithEnricher(enricher))
	require.NoError(t, err)

	require.NoError(t, session.Begin())
	require.NoError(t, session.Advance())

	// The indicator flips before Advance returns, so even an instant run
	// cannot be missed.
	status := session.EnrichmentStatus()
	require.Equal(t, engine.EnrichRunning, status.State)
	require.Equal(t, "Step A", status.StepTitle)

	require.Eventually(t, func() bool {
		ctx := session.EnrichmentContext()
		return ctx["risk_profile"] == "low"
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return session.EnrichmentStatus().State == engine.EnrichIdle
	}, waitFor, tick)
	require.Equal(t, 1, enricher.CallCount())
}

func TestEnrichmentShallowMerge(t *testing.T) {
	t.Parallel()

	first := &testsupport.StaticEnricher{
		Result: map[string]any{"profile": map[string]any{"risk": "low"}, "region": "CA"},
	}
	second := &testsupport.StaticEnricher{
		Result: map[string]any{"profile": map[string]any{"industry": "tech"}},
	}
	// One enricher per step is not expressible, so script both runs through
	// a switch on the prompt.
	enricher := &promptSwitchEnricher{byPrompt: map[string]*testsupport.StaticEnricher{
		"one": first,
		"two": second,
	}}

	def := enrichedDefinition(
		&flow.Enrichment{Prompt: "one"},
		&flow.Enrichment{Prompt: "two"},
	)
	session, err := engine.New(def, engine.WithEnricher(enricher))
	require.NoError(t, err)

	require.NoError(t, session.Begin())
	require.NoError(t, session.Advance())
	require.Eventually(t, func() bool {
		return session.EnrichmentContext()["region"] == "CA"
	}, waitFor, tick)

	require.NoError(t, session.Advance())
	require.Eventually(t, func() bool {
		profile, _ := session.EnrichmentContext()["profile"].(map[string]any)
		return profile["industry"] == "tech"
	}, waitFor, tick)

	ctx := session.EnrichmentContext()
	profile, ok := ctx["profile"].(map[string]any)
	require.True(t, ok)
	// Top-level keys are replaced whole, never merged recursively.
	require.NotContains(t, profile, "risk")
	require.Equal(t, "CA", ctx["region"])
}

func TestEnrichmentErrorStatusReverts(t *testing.T) {
	t.Parallel()

	enricher := &testsupport.StaticEnricher{Err: errors.New("model overloaded")}
	def := enrichedDefinition(&flow.Enrichment{Prompt: "assess"})
	session, err := engine.New(def,
		engine.WithEnricher(enricher),
		engine.WithErrorRevertDelay(30*time.Millisecond),
	)
	require.NoError(t, err)

	require.NoError(t, session.Begin())
	require.NoError(t, session.Advance())

	require.Eventually(t, func() bool {
		return session.EnrichmentStatus().State == engine.EnrichError
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return session.EnrichmentStatus().State == engine.EnrichIdle
	}, waitFor, tick)

	// A failed run leaves the context untouched and never blocks the flow.
	require.Empty(t, session.EnrichmentContext())
	step, ok := session.CurrentStep()
	require.True(t, ok)
	require.Equal(t, "final", step.ID)
}

func TestEnrichmentFailureIsolatedFromNavigation(t *testing.T) {
	t.Parallel()

	enricher := &testsupport.StaticEnricher{
		Err:   errors.New("unavailable"),
		Delay: 10 * time.Millisecond,
	}
	def := enrichedDefinition(&flow.Enrichment{Prompt: "assess"})
	session, err := engine.New(def, engine.WithEnricher(enricher))
	require.NoError(t, err)

	require.NoError(t, session.Begin())
	require.NoError(t, session.Advance())
	require.NoError(t, session.Retreat())
	require.NoError(t, session.Advance())

	step, ok := session.CurrentStep()
	require.True(t, ok)
	require.Equal(t, "final", step.ID)
}

// promptSwitchEnricher routes each run to a scripted enricher by prompt.
type promptSwitchEnricher struct {
	byPrompt map[string]*testsupport.StaticEnricher
}

func (e *promptSwitchEnricher) Enrich(ctx context.Context, req generation.EnrichRequest) (map[string]any, error) {
	inner, ok := e.byPrompt[req.Prompt]
	if !ok {
		return nil, errors.New("no script for prompt")
	}
	return inner.Enrich(ctx, req)
}

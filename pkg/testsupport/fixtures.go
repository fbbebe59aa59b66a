// Package testsupport provides in-memory collaborators and a sample flow
// definition for exercising the engine without network services.
package testsupport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/goliatone/go-intake/pkg/flow"
	"github.com/goliatone/go-intake/pkg/generation"
)

// StaticGenerator serves scripted field lists keyed by step title. The
// first FailFirst calls for each step fail, which makes retry sequences
// easy to express.
type StaticGenerator struct {
	Fields        map[string][]flow.GeneratedField
	Jurisdictions map[string]string
	FailFirst     int
	Delay         time.Duration

	mu       sync.Mutex
	calls    []generation.FieldRequest
	failures map[string]int
}

func (g *StaticGenerator) Generate(ctx context.Context, req generation.FieldRequest) (generation.FieldResponse, error) {
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return generation.FieldResponse{}, ctx.Err()
		}
	}

	g.mu.Lock()
	g.calls = append(g.calls, req)
	if g.failures == nil {
		g.failures = make(map[string]int)
	}
	if g.failures[req.StepTitle] < g.FailFirst {
		g.failures[req.StepTitle]++
		n := g.failures[req.StepTitle]
		g.mu.Unlock()
		return generation.FieldResponse{}, fmt.Errorf("scripted failure %d for %q", n, req.StepTitle)
	}
	g.mu.Unlock()

	return generation.FieldResponse{
		Fields:       g.Fields[req.StepTitle],
		Jurisdiction: g.Jurisdictions[req.StepTitle],
	}, nil
}

// Calls returns a copy of every request received so far.
func (g *StaticGenerator) Calls() []generation.FieldRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]generation.FieldRequest, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallCount returns how many generate calls have been received.
func (g *StaticGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// StaticEnricher returns a fixed result object, or Err when set.
type StaticEnricher struct {
	Result map[string]any
	Err    error
	Delay  time.Duration

	mu    sync.Mutex
	calls []generation.EnrichRequest
}

func (e *StaticEnricher) Enrich(ctx context.Context, req generation.EnrichRequest) (map[string]any, error) {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	e.calls = append(e.calls, req)
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	out := make(map[string]any, len(e.Result))
	for k, v := range e.Result {
		out[k] = v
	}
	return out, nil
}

// CallCount returns how many enrich calls have been received.
func (e *StaticEnricher) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// StaticSubmitter consumes the Errs queue one call at a time, then
// succeeds with Doc. An empty queue succeeds immediately.
type StaticSubmitter struct {
	Doc  generation.Document
	Errs []error

	mu    sync.Mutex
	calls []generation.SubmitRequest
}

func (s *StaticSubmitter) Submit(ctx context.Context, req generation.SubmitRequest) (generation.Document, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	if len(s.Errs) > 0 {
		err := s.Errs[0]
		s.Errs = s.Errs[1:]
		s.mu.Unlock()
		return generation.Document{}, err
	}
	s.mu.Unlock()
	return s.Doc, nil
}

// LastRequest returns the most recent submit request, if any.
func (s *StaticSubmitter) LastRequest() (generation.SubmitRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return generation.SubmitRequest{}, false
	}
	return s.calls[len(s.calls)-1], true
}

// SampleDefinition returns a small intake flow that touches every step
// kind: a standard step with a conditional field and an enrichment hook, a
// dynamic step whose prompt depends on earlier answers, a collection step,
// and a plain review step.
func SampleDefinition() *flow.Definition {
	return &flow.Definition{
		ID:    "nda-intake",
		Title: "Mutual NDA",
		Steps: []flow.Step{
			{
				ID:    "parties",
				Title: "Parties",
				Kind:  flow.StepKindStandard,
				Fields: []flow.Field{
					{Name: "full_name", Label: "Full name", Type: flow.FieldTypeString, Required: true},
					{
						Name:     "entity_type",
						Label:    "Entity type",
						Type:     flow.FieldTypeSelect,
						Required: true,
						Options:  []string{"individual", "company"},
					},
					{
						Name:        "state",
						Label:       "State of incorporation",
						Type:        flow.FieldTypeString,
						Required:    true,
						VisibleWhen: `entity_type == "company"`,
					},
				},
				Enrich: &flow.Enrichment{
					Prompt: "Classify the risk profile of a {{entity_type}} counterparty.",
					Shape: openapi3.NewObjectSchema().
						WithProperty("risk_profile", openapi3.NewStringSchema()),
				},
			},
			{
				ID:        "terms",
				Title:     "Terms",
				Kind:      flow.StepKindDynamic,
				Prompt:    "Draft confidentiality questions for a {{entity_type}} based in {{state}}.",
				MaxFields: 5,
			},
			{
				ID:            "signers",
				Title:         "Signers",
				Kind:          flow.StepKindCollection,
				CollectionKey: "signers",
				MinItems:      1,
				ItemFields: []flow.Field{
					{Name: "name", Label: "Name", Type: flow.FieldTypeString, Required: true},
					{Name: "email", Label: "Email", Type: flow.FieldTypeString},
				},
			},
			{
				ID:    "review",
				Title: "Review",
				Kind:  flow.StepKindStandard,
				Fields: []flow.Field{
					{Name: "notes", Label: "Notes", Type: flow.FieldTypeText},
				},
			},
		},
	}
}

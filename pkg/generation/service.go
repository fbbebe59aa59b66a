// Package generation defines the engine's boundary to the external
// content-generation collaborators: the dynamic-field generator, the
// enrichment service, and the terminal submission service. The engine only
// depends on the interfaces here; HTTP implementations live alongside them.
package generation

import (
	"context"
	"errors"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/goliatone/go-intake/pkg/flow"
)

// ErrTokenExpired signals that the anti-automation proof token lapsed
// between verification and submission. Callers re-prompt verification
// without discarding collected values.
var ErrTokenExpired = errors.New("generation: verification token expired")

// FieldRequest carries everything the external generator needs to produce a
// dynamic step's fields. Values and Enrichment are snapshots taken when the
// fetch was issued, never live references.
type FieldRequest struct {
	Prompt          string         `json:"prompt"`
	Values          map[string]any `json:"values"`
	Enrichment      map[string]any `json:"enrichment,omitempty"`
	MaxFields       int            `json:"maxFields,omitempty"`
	StepTitle       string         `json:"stepTitle,omitempty"`
	StepDescription string         `json:"stepDescription,omitempty"`
}

// FieldResponse is the generator's answer: the field list for the step and
// an optional human-readable jurisdiction label for the step indicator.
type FieldResponse struct {
	Fields       []flow.GeneratedField `json:"fields"`
	Jurisdiction string                `json:"jurisdiction,omitempty"`
}

// FieldGenerator produces the fields of a dynamic step. It must tolerate
// repeated calls but the engine invokes it at most once per step per
// session (failed attempts excepted).
type FieldGenerator interface {
	Generate(ctx context.Context, req FieldRequest) (FieldResponse, error)
}

// EnrichRequest asks the enrichment service to derive context from the
// answers accumulated so far. Shape optionally hints the expected output
// structure.
type EnrichRequest struct {
	Prompt string           `json:"prompt"`
	Values map[string]any   `json:"values"`
	Shape  *openapi3.Schema `json:"shape,omitempty"`
}

// Enricher runs a background enrichment computation. The result object is
// shallow-merged into the session's enrichment context.
type Enricher interface {
	Enrich(ctx context.Context, req EnrichRequest) (map[string]any, error)
}

// SubmitRequest carries the final value map plus the short-lived
// verification token to the document-generation backend.
type SubmitRequest struct {
	Values map[string]any `json:"values"`
	Token  string         `json:"token"`
}

// Document is the generated artifact returned on successful submission.
type Document struct {
	ContentType string `json:"contentType"`
	Filename    string `json:"filename,omitempty"`
	Data        []byte `json:"data"`
}

// Submitter performs the terminal generation call. Implementations return
// ErrTokenExpired (possibly wrapped) for the distinguished authorization
// failure.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (Document, error)
}

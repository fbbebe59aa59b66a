// Package intake assembles guided document-intake flows: ordered steps of
// conditional fields, dynamically generated steps prefetched while the
// user types, background enrichment of their answers, and a terminal
// generation call that produces the document.
package intake

import (
	"io/fs"

	"github.com/goliatone/go-intake/internal/definition"
	"github.com/goliatone/go-intake/pkg/engine"
	"github.com/goliatone/go-intake/pkg/flow"
	"github.com/goliatone/go-intake/pkg/generation"
	"github.com/goliatone/go-intake/pkg/runner"
)

// Definition is the flow template a session runs against.
type Definition = flow.Definition

// Step is one ordered unit of a flow.
type Step = flow.Step

// Field is an individual input collected by a step.
type Field = flow.Field

// Session owns the state of one interactive flow.
type Session = engine.Session

// Option customises a session at construction.
type Option = engine.Option

// Document is the generated artifact returned on successful submission.
type Document = generation.Document

// Registry holds loaded flow definitions keyed by id.
type Registry = definition.Registry

// LoaderOption customises definition loading.
type LoaderOption = definition.Option

// NewSession constructs a session for the given flow definition, mirroring
// engine.New from the top-level module.
func NewSession(def *Definition, options ...Option) (*Session, error) {
	return engine.New(def, options...)
}

// LoadDefinitions walks a filesystem and parses every JSON/YAML flow
// definition file it finds.
func LoadDefinitions(fsys fs.FS, options ...LoaderOption) (*Registry, error) {
	return definition.LoadFS(fsys, options...)
}

// ParseDefinition decodes and validates a single definition document.
func ParseDefinition(data []byte, source string, options ...LoaderOption) (*Definition, error) {
	return definition.Parse(data, source, options...)
}

// WithDefaultPrompts installs a fallback prompt per step kind, applied to
// steps authored without one before validation.
func WithDefaultPrompts(prompts map[flow.StepKind]string) LoaderOption {
	return definition.WithDefaultPrompts(prompts)
}

// NewRunner creates a terminal walk over the given session.
func NewRunner(session *Session, options ...runner.Option) *runner.Runner {
	return runner.New(session, options...)
}

// WithGenerator injects the dynamic-field generation service.
func WithGenerator(gen generation.FieldGenerator) Option { return engine.WithGenerator(gen) }

// WithEnricher injects the background enrichment service.
func WithEnricher(enricher generation.Enricher) Option { return engine.WithEnricher(enricher) }

// WithSubmitter injects the terminal submission service.
func WithSubmitter(submitter generation.Submitter) Option { return engine.WithSubmitter(submitter) }

// WithObserver registers an observer for session lifecycle events.
func WithObserver(obs engine.Observer) Option { return engine.WithObserver(obs) }

// NewHTTPClient builds the HTTP implementation of the generation,
// enrichment, and submission services against one backend base URL.
func NewHTTPClient(baseURL string, options ...generation.HTTPOption) (*generation.HTTPClient, error) {
	return generation.NewHTTPClient(baseURL, options...)
}

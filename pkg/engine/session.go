// Package engine implements the document-intake flow engine: a state
// container holding the value map, the enrichment context, and the dynamic
// field cache, exposing pure projection queries and explicit commands
// (advance, apply standards, submit). A thin rendering adapter observes
// this state; the engine itself has no UI dependency.
package engine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-intake/pkg/flow"
	"github.com/goliatone/go-intake/pkg/generation"
	"github.com/goliatone/go-intake/pkg/resolve"
	"github.com/goliatone/go-intake/pkg/visibility"
	"github.com/goliatone/go-intake/pkg/visibility/expr"
)

// Phase is the navigator's coarse state.
type Phase string

const (
	// PhaseWelcome is the pre-flow gate, e.g. human verification.
	PhaseWelcome Phase = "welcome"
	// PhaseInFlow means the user is on a step of the visible sequence.
	PhaseInFlow Phase = "in-flow"
	// PhaseSubmitting means the terminal generation call is in progress.
	PhaseSubmitting Phase = "submitting"
	// PhaseComplete is the post-submission terminal state.
	PhaseComplete Phase = "complete"
)

const (
	defaultFetchTimeout     = 30 * time.Second
	defaultStuckGrace       = 10 * time.Second
	defaultErrorRevertDelay = 5 * time.Second
	defaultStandardsMaxIter = 5
)

// Option customises a Session at construction.
type Option func(*Session)

// WithEvaluator injects a visibility evaluator. The built-in rule
// evaluator is used by default.
func WithEvaluator(eval visibility.Evaluator) Option {
	return func(s *Session) {
		s.eval = eval
	}
}

// WithGenerator injects the dynamic-field generation service.
func WithGenerator(gen generation.FieldGenerator) Option {
	return func(s *Session) {
		s.generator = gen
	}
}

// WithEnricher injects the background enrichment service.
func WithEnricher(enricher generation.Enricher) Option {
	return func(s *Session) {
		s.enricher = enricher
	}
}

// WithSubmitter injects the terminal submission service.
func WithSubmitter(submitter generation.Submitter) Option {
	return func(s *Session) {
		s.submitter = submitter
	}
}

// WithObserver registers an observer for session lifecycle events.
func WithObserver(obs Observer) Option {
	return func(s *Session) {
		if obs != nil {
			s.obs = obs
		}
	}
}

// WithLogger overrides the logger used for warnings the engine swallows,
// e.g. unrecognized prompt variables.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithFetchTimeout bounds each dynamic-step fetch and enrichment call.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithStuckGrace sets how long a dynamic step may sit with no cache, no
// in-flight fetch, and no error before the engine gives up and advances
// the user past it.
func WithStuckGrace(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.stuckGrace = d
		}
	}
}

// WithErrorRevertDelay sets how long the enrichment "error" status lingers
// before reverting to idle.
func WithErrorRevertDelay(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.errorRevert = d
		}
	}
}

// WithStandardsIterations sets the fixed-point ceiling of the standards
// applicator.
func WithStandardsIterations(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.standardsMaxIter = n
		}
	}
}

// Session owns all state of one interactive intake flow. The value map and
// the enrichment context each have exactly one writer path (SetValue and
// the enrichment merge); every other component only reads.
type Session struct {
	id        string
	def       *flow.Definition
	eval      visibility.Evaluator
	generator generation.FieldGenerator
	enricher  generation.Enricher
	submitter generation.Submitter
	obs       Observer
	log       *slog.Logger

	fetchTimeout     time.Duration
	stuckGrace       time.Duration
	errorRevert      time.Duration
	standardsMaxIter int

	mu sync.Mutex

	phase      Phase
	index      int
	maxReached int

	values     map[string]any
	enrichment map[string]any

	visible         []flow.Step
	visibleIDs      []string
	projectionDirty bool

	// prefetch scheduler state
	requested     map[string]struct{}
	inflight      map[string]struct{}
	fetchErrs     map[string]*FlowError
	cache         map[string][]flow.GeneratedField
	jurisdictions map[string]string
	degraded      map[string]string

	// enrichment runner state
	pendingEnrich int
	enrichStatus  EnrichStatus
	revertTimer   *time.Timer
}

// New constructs a Session for the given flow definition. Missing
// collaborators default to safe no-ops: a nil generator makes every
// dynamic fetch fail with a dependency error rather than panic.
func New(def *flow.Definition, options ...Option) (*Session, error) {
	if def == nil {
		return nil, errors.New("engine: definition is required")
	}
	if len(def.Steps) == 0 {
		return nil, errors.New("engine: definition has no steps")
	}

	s := &Session{
		id:               uuid.NewString(),
		def:              def,
		phase:            PhaseWelcome,
		values:           make(map[string]any),
		enrichment:       make(map[string]any),
		requested:        make(map[string]struct{}),
		inflight:         make(map[string]struct{}),
		fetchErrs:        make(map[string]*FlowError),
		cache:            make(map[string][]flow.GeneratedField),
		jurisdictions:    make(map[string]string),
		degraded:         make(map[string]string),
		enrichStatus:     EnrichStatus{State: EnrichIdle},
		fetchTimeout:     defaultFetchTimeout,
		stuckGrace:       defaultStuckGrace,
		errorRevert:      defaultErrorRevertDelay,
		standardsMaxIter: defaultStandardsMaxIter,
		projectionDirty:  true,
		obs:              NoopObserver{},
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(s)
	}
	if s.eval == nil {
		s.eval = expr.New()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Definition returns the flow template this session runs against.
func (s *Session) Definition() *flow.Definition { return s.def }

// Phase returns the navigator's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetValue is the single mutation path into the value map. Every write,
// whether from direct user input or the standards applicator, lands here.
// The visible-step projection is invalidated and the prefetch scheduler
// re-evaluates pending dynamic steps against the new state.
func (s *Session) SetValue(name string, value any) {
	if name == "" {
		return
	}
	s.mu.Lock()
	s.values[name] = value
	s.projectionDirty = true
	s.mu.Unlock()

	s.schedulePrefetches()
}

// Value returns the collected value for a field name.
func (s *Session) Value(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

// Values returns a deep copy of the value map for the rendering surface
// and for outbound snapshots.
func (s *Session) Values() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopyMap(s.values)
}

// EnrichmentContext returns a deep copy of the enrichment context.
func (s *Session) EnrichmentContext() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopyMap(s.enrichment)
}

// visibilityContextLocked builds an evaluator context over live state.
// Callers must hold s.mu.
func (s *Session) visibilityContextLocked() visibility.Context {
	return visibility.Context{Values: s.values, Enrichment: s.enrichment}
}

// resolveQueryLocked builds a settledness query over live state. Callers
// must hold s.mu.
func (s *Session) resolveQueryLocked() resolve.Query {
	return resolve.Query{
		Steps:        s.def.Steps,
		CurrentIndex: s.rawIndexLocked(),
		Values:       s.values,
		Enrichment:   s.enrichment,
		Evaluator:    s.eval,
		Logger:       s.log,
	}
}

// rawIndexLocked maps the navigator's position in the visible sequence to
// a definition-order index. Before the flow starts it is -1, i.e. before
// every step.
func (s *Session) rawIndexLocked() int {
	if s.phase == PhaseWelcome {
		return -1
	}
	steps := s.visibleStepsLocked()
	if s.index < 0 || s.index >= len(steps) {
		return len(s.def.Steps)
	}
	return s.def.IndexOf(steps[s.index].ID)
}

func deepCopyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return deepCopyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

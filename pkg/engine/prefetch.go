package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/goliatone/go-intake/pkg/flow"
	"github.com/goliatone/go-intake/pkg/generation"
	"github.com/goliatone/go-intake/pkg/prompt"
)

// degradedMessage is shown on a dynamic step the engine gave up waiting
// for; the flow advances past it instead of deadlocking.
const degradedMessage = "This step's questions could not be prepared. You can finish without them."

// StepFetchState describes a dynamic step's position in the prefetch
// lifecycle, for per-step loading indicators.
type StepFetchState struct {
	Cached   bool
	InFlight bool
	Degraded string
	Err      *FlowError
}

// StepFetchState reports the prefetch status of a dynamic step.
func (s *Session) StepFetchState(stepID string) StepFetchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, cached := s.cache[stepID]
	_, inflight := s.inflight[stepID]
	return StepFetchState{
		Cached:   cached,
		InFlight: inflight,
		Degraded: s.degraded[stepID],
		Err:      s.fetchErrs[stepID],
	}
}

// InFlight returns the ids of steps with an outstanding fetch, sorted for
// stable display.
func (s *Session) InFlight() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.inflight))
	for id := range s.inflight {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GeneratedFields returns the cached field list for a dynamic step.
func (s *Session) GeneratedFields(stepID string) ([]flow.GeneratedField, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.cache[stepID]
	return fields, ok
}

// Jurisdiction returns the auxiliary jurisdiction label the generator
// attached to a dynamic step's response, when present.
func (s *Session) Jurisdiction(stepID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.jurisdictions[stepID]
	return name, ok
}

// RetryFetch re-issues a failed dynamic-step fetch on user request. It
// reports whether a fetch was actually launched; cached and in-flight
// steps are left alone.
func (s *Session) RetryFetch(stepID string) bool {
	s.mu.Lock()
	step, ok := s.def.Step(stepID)
	if !ok || step.Kind != flow.StepKindDynamic {
		s.mu.Unlock()
		return false
	}
	if _, cached := s.cache[stepID]; cached {
		s.mu.Unlock()
		return false
	}
	if _, inflight := s.inflight[stepID]; inflight {
		s.mu.Unlock()
		return false
	}
	delete(s.fetchErrs, stepID)
	delete(s.degraded, stepID)
	job := s.markFetchLocked(step)
	s.mu.Unlock()

	s.obs.OnPrefetchStart(s.id, step.ID)
	go s.fetch(job)
	return true
}

type fetchJob struct {
	step       flow.Step
	values     map[string]any
	enrichment map[string]any
}

// markFetchLocked flips a step into the fetched-or-fetching set and
// snapshots the state the fetch will run against. Callers must hold s.mu.
func (s *Session) markFetchLocked(step flow.Step) fetchJob {
	s.requested[step.ID] = struct{}{}
	s.inflight[step.ID] = struct{}{}
	return fetchJob{
		step:       step,
		values:     deepCopyMap(s.values),
		enrichment: deepCopyMap(s.enrichment),
	}
}

// schedulePrefetches re-evaluates every dynamic step not yet fetched or
// fetching and issues a fetch the instant its prompt variables are all
// settled. Runs after every value-map or enrichment-context change, so it
// always sees the latest state. Idempotent under rapid churn: the
// requested set guarantees at most one outstanding fetch per step.
func (s *Session) schedulePrefetches() {
	s.mu.Lock()
	var jobs []fetchJob
	for _, step := range s.def.Steps {
		if step.Kind != flow.StepKindDynamic {
			continue
		}
		if _, done := s.requested[step.ID]; done {
			continue
		}
		if _, cached := s.cache[step.ID]; cached {
			continue
		}
		if !s.resolveQueryLocked().PromptResolved(step.Prompt) {
			continue
		}
		jobs = append(jobs, s.markFetchLocked(step))
	}
	s.mu.Unlock()

	for _, job := range jobs {
		s.obs.OnPrefetchStart(s.id, job.step.ID)
		go s.fetch(job)
	}
}

// fetch performs one generation call and merges its outcome. The merge is
// guarded: a cache entry, once written, is permanent for the session, so a
// late or duplicate response can never clobber newer state. A failed step
// leaves the requested set to permit a retry; when the user is already on
// the failed step, the stuck guard is armed so a backend that keeps
// failing degrades the step instead of trapping the flow.
func (s *Session) fetch(job fetchJob) {
	start := time.Now()
	step := job.step

	var (
		resp generation.FieldResponse
		err  error
	)
	if s.generator == nil {
		err = errors.New("no field generator configured")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
		defer cancel()
		resp, err = s.generator.Generate(ctx, generation.FieldRequest{
			Prompt:          prompt.RenderOrRaw(step.Prompt, job.values, job.enrichment),
			Values:          job.values,
			Enrichment:      job.enrichment,
			MaxFields:       step.MaxFields,
			StepTitle:       step.Title,
			StepDescription: step.Description,
		})
	}

	s.mu.Lock()
	delete(s.inflight, step.ID)
	if err != nil {
		ferr := &FlowError{Kind: KindGeneration, StepID: step.ID, Err: err}
		s.fetchErrs[step.ID] = ferr
		delete(s.requested, step.ID)
		if current, ok := s.currentStepLocked(); ok && current.ID == step.ID {
			s.startStuckTimerLocked(step)
		}
		s.mu.Unlock()
		s.obs.OnPrefetchFailed(s.id, step.ID, ferr)
		return
	}
	if _, exists := s.cache[step.ID]; !exists {
		fields := generation.SanitizeFields(resp.Fields)
		if step.MaxFields > 0 && len(fields) > step.MaxFields {
			fields = fields[:step.MaxFields]
		}
		s.cache[step.ID] = fields
		if resp.Jurisdiction != "" {
			s.jurisdictions[step.ID] = resp.Jurisdiction
		}
	}
	delete(s.fetchErrs, step.ID)
	delete(s.degraded, step.ID)
	count := len(s.cache[step.ID])
	s.mu.Unlock()

	s.obs.OnPrefetchDone(s.id, step.ID, count, time.Since(start))
}

// ensureCurrentFetched covers the two degraded paths of arriving on a
// dynamic step: the on-demand fallback fetch when prefetch never
// triggered, and the stuck-state guard that advances the user past a step
// whose dependencies will never settle.
func (s *Session) ensureCurrentFetched() {
	s.mu.Lock()
	step, ok := s.currentStepLocked()
	if !ok || step.Kind != flow.StepKindDynamic {
		s.mu.Unlock()
		return
	}
	if _, cached := s.cache[step.ID]; cached {
		s.mu.Unlock()
		return
	}
	if _, inflight := s.inflight[step.ID]; inflight {
		s.mu.Unlock()
		return
	}

	if _, requested := s.requested[step.ID]; !requested && s.resolveQueryLocked().PromptResolved(step.Prompt) {
		job := s.markFetchLocked(step)
		s.mu.Unlock()
		s.obs.OnPrefetchStart(s.id, step.ID)
		go s.fetch(job)
		return
	}

	// Nothing can be fetched right now: either the prompt's dependencies
	// are unsettled or the last attempt failed. Give the step a grace
	// period, then move the user along.
	s.startStuckTimerLocked(step)
	s.mu.Unlock()
}

// startStuckTimerLocked arms the auto-advance guard for the given step.
// The timer re-checks every precondition when it fires, so navigation or
// a completed fetch in the meantime turns it into a no-op. Callers must
// hold s.mu.
func (s *Session) startStuckTimerLocked(step flow.Step) {
	time.AfterFunc(s.stuckGrace, func() {
		s.mu.Lock()
		current, ok := s.currentStepLocked()
		if !ok || current.ID != step.ID || s.phase != PhaseInFlow {
			s.mu.Unlock()
			return
		}
		if _, cached := s.cache[step.ID]; cached {
			s.mu.Unlock()
			return
		}
		if _, inflight := s.inflight[step.ID]; inflight {
			s.mu.Unlock()
			return
		}
		s.degraded[step.ID] = degradedMessage
		advanced := s.forceAdvanceLocked()
		index := s.index
		var nextID string
		if cur, ok := s.currentStepLocked(); ok {
			nextID = cur.ID
		}
		s.mu.Unlock()

		s.log.Warn("engine: dynamic step stuck, advancing past it")
		if advanced {
			s.obs.OnAdvance(s.id, nextID, index)
			s.ensureCurrentFetched()
		}
	})
}

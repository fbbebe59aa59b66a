package engine

import (
	"context"
	"time"

	"github.com/goliatone/go-intake/pkg/flow"
	"github.com/goliatone/go-intake/pkg/generation"
	"github.com/goliatone/go-intake/pkg/prompt"
)

// EnrichState is the coarse status of the background enrichment runner.
type EnrichState string

const (
	// EnrichIdle means no enrichment run is outstanding.
	EnrichIdle EnrichState = "idle"
	// EnrichRunning means at least one enrichment run is in flight.
	EnrichRunning EnrichState = "running"
	// EnrichError means the most recent run failed; the status reverts to
	// idle on its own after a short delay.
	EnrichError EnrichState = "error"
)

// EnrichStatus is the indicator state a rendering surface shows for
// background enrichment.
type EnrichStatus struct {
	State EnrichState
	// StepTitle names the step whose departure triggered the current or
	// failed run, for "analyzing your answers to <title>" style copy.
	StepTitle string
}

// EnrichmentStatus returns the current enrichment indicator state.
func (s *Session) EnrichmentStatus() EnrichStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrichStatus
}

// runEnrichment launches the background run for a step being departed.
// The status flips to running synchronously, before this returns, so the
// indicator can never miss a fast-completing run. Steps without an
// enrichment config are a no-op.
func (s *Session) runEnrichment(step flow.Step) {
	if step.Enrich == nil || s.enricher == nil {
		return
	}

	s.mu.Lock()
	s.pendingEnrich++
	if s.revertTimer != nil {
		s.revertTimer.Stop()
		s.revertTimer = nil
	}
	s.enrichStatus = EnrichStatus{State: EnrichRunning, StepTitle: step.Title}
	values := deepCopyMap(s.values)
	enrichment := deepCopyMap(s.enrichment)
	s.mu.Unlock()

	s.obs.OnEnrichStart(s.id, step.ID)
	go s.enrich(step, values, enrichment)
}

func (s *Session) enrich(step flow.Step, values, enrichment map[string]any) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
	defer cancel()

	result, err := s.enricher.Enrich(ctx, generation.EnrichRequest{
		Prompt: prompt.RenderOrRaw(step.Enrich.Prompt, values, enrichment),
		Values: values,
		Shape:  step.Enrich.Shape,
	})

	if err != nil {
		s.mu.Lock()
		s.pendingEnrich--
		s.enrichStatus = EnrichStatus{State: EnrichError, StepTitle: step.Title}
		s.armRevertTimerLocked()
		s.mu.Unlock()

		s.obs.OnEnrichFailed(s.id, step.ID, &FlowError{Kind: KindEnrichment, StepID: step.ID, Err: err})
		return
	}

	s.mu.Lock()
	s.pendingEnrich--
	// Shallow merge: later runs overwrite whole top-level keys, never
	// merge recursively into them.
	for k, v := range result {
		s.enrichment[k] = deepCopyValue(v)
	}
	if s.pendingEnrich == 0 {
		if s.revertTimer != nil {
			s.revertTimer.Stop()
			s.revertTimer = nil
		}
		s.enrichStatus = EnrichStatus{State: EnrichIdle}
	}
	s.projectionDirty = true
	keys := len(result)
	s.mu.Unlock()

	s.obs.OnEnrichDone(s.id, step.ID, keys, time.Since(start))

	// New enrichment keys may settle prompt variables of later steps.
	s.schedulePrefetches()
}

// armRevertTimerLocked schedules the error status to clear itself. The
// timer yields to any run still in flight when it fires; that run will
// set the final status. Callers must hold s.mu.
func (s *Session) armRevertTimerLocked() {
	if s.revertTimer != nil {
		s.revertTimer.Stop()
	}
	s.revertTimer = time.AfterFunc(s.errorRevert, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pendingEnrich == 0 && s.enrichStatus.State == EnrichError {
			s.enrichStatus = EnrichStatus{State: EnrichIdle}
		}
		s.revertTimer = nil
	})
}

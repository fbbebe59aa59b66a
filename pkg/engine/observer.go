package engine

import (
	"log/slog"
	"time"
)

// Observer receives callbacks for session lifecycle events, for logging and
// metrics. Implementations should be fast and non-blocking; the engine
// invokes them outside its internal lock but on hot paths.
type Observer interface {
	// OnAdvance fires after the navigator moves forward to a new step.
	OnAdvance(sessionID, stepID string, index int)
	// OnRetreat fires after the navigator moves back.
	OnRetreat(sessionID, stepID string, index int)

	// OnPrefetchStart fires when a dynamic-step fetch is issued, whether
	// speculative or on-demand.
	OnPrefetchStart(sessionID, stepID string)
	// OnPrefetchDone fires on a successful fetch.
	OnPrefetchDone(sessionID, stepID string, fieldCount int, duration time.Duration)
	// OnPrefetchFailed fires on fetch failure or timeout.
	OnPrefetchFailed(sessionID, stepID string, err error)

	// OnEnrichStart fires when a background enrichment run is launched.
	OnEnrichStart(sessionID, stepID string)
	// OnEnrichDone fires after a successful merge into the enrichment
	// context; keys counts the top-level keys merged.
	OnEnrichDone(sessionID, stepID string, keys int, duration time.Duration)
	// OnEnrichFailed fires when an enrichment run fails.
	OnEnrichFailed(sessionID, stepID string, err error)

	// OnStandardsApplied fires after a standards run, reporting how many
	// fields were filled.
	OnStandardsApplied(sessionID, stepID string, applied int)

	// OnSubmit fires after a submission attempt; err is nil on success.
	OnSubmit(sessionID string, err error)
}

// NoopObserver is an Observer that does nothing. It is the default when no
// observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnAdvance(sessionID, stepID string, index int)                  {}
func (NoopObserver) OnRetreat(sessionID, stepID string, index int)                  {}
func (NoopObserver) OnPrefetchStart(sessionID, stepID string)                       {}
func (NoopObserver) OnPrefetchDone(sessionID, stepID string, n int, d time.Duration) {
}
func (NoopObserver) OnPrefetchFailed(sessionID, stepID string, err error) {}
func (NoopObserver) OnEnrichStart(sessionID, stepID string)               {}
func (NoopObserver) OnEnrichDone(sessionID, stepID string, keys int, d time.Duration) {
}
func (NoopObserver) OnEnrichFailed(sessionID, stepID string, err error)  {}
func (NoopObserver) OnStandardsApplied(sessionID, stepID string, n int)  {}
func (NoopObserver) OnSubmit(sessionID string, err error)                {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnAdvance(sessionID, stepID string, index int) {
	for _, o := range c.observers {
		o.OnAdvance(sessionID, stepID, index)
	}
}

func (c *CompositeObserver) OnRetreat(sessionID, stepID string, index int) {
	for _, o := range c.observers {
		o.OnRetreat(sessionID, stepID, index)
	}
}

func (c *CompositeObserver) OnPrefetchStart(sessionID, stepID string) {
	for _, o := range c.observers {
		o.OnPrefetchStart(sessionID, stepID)
	}
}

func (c *CompositeObserver) OnPrefetchDone(sessionID, stepID string, n int, d time.Duration) {
	for _, o := range c.observers {
		o.OnPrefetchDone(sessionID, stepID, n, d)
	}
}

func (c *CompositeObserver) OnPrefetchFailed(sessionID, stepID string, err error) {
	for _, o := range c.observers {
		o.OnPrefetchFailed(sessionID, stepID, err)
	}
}

func (c *CompositeObserver) OnEnrichStart(sessionID, stepID string) {
	for _, o := range c.observers {
		o.OnEnrichStart(sessionID, stepID)
	}
}

func (c *CompositeObserver) OnEnrichDone(sessionID, stepID string, keys int, d time.Duration) {
	for _, o := range c.observers {
		o.OnEnrichDone(sessionID, stepID, keys, d)
	}
}

func (c *CompositeObserver) OnEnrichFailed(sessionID, stepID string, err error) {
	for _, o := range c.observers {
		o.OnEnrichFailed(sessionID, stepID, err)
	}
}

func (c *CompositeObserver) OnStandardsApplied(sessionID, stepID string, n int) {
	for _, o := range c.observers {
		o.OnStandardsApplied(sessionID, stepID, n)
	}
}

func (c *CompositeObserver) OnSubmit(sessionID string, err error) {
	for _, o := range c.observers {
		o.OnSubmit(sessionID, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs session lifecycle events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnAdvance(sessionID, stepID string, index int) {
	o.Logger.Debug("flow_advance",
		slog.String("session_id", sessionID),
		slog.String("step", stepID),
		slog.Int("index", index),
	)
}

func (o *LoggingObserver) OnRetreat(sessionID, stepID string, index int) {
	o.Logger.Debug("flow_retreat",
		slog.String("session_id", sessionID),
		slog.String("step", stepID),
		slog.Int("index", index),
	)
}

func (o *LoggingObserver) OnPrefetchStart(sessionID, stepID string) {
	o.Logger.Debug("prefetch_start",
		slog.String("session_id", sessionID),
		slog.String("step", stepID),
	)
}

func (o *LoggingObserver) OnPrefetchDone(sessionID, stepID string, n int, d time.Duration) {
	o.Logger.Info("prefetch_done",
		slog.String("session_id", sessionID),
		slog.String("step", stepID),
		slog.Int("fields", n),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnPrefetchFailed(sessionID, stepID string, err error) {
	o.Logger.Error("prefetch_failed",
		slog.String("session_id", sessionID),
		slog.String("step", stepID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnEnrichStart(sessionID, stepID string) {
	o.Logger.Debug("enrich_start",
		slog.String("session_id", sessionID),
		slog.String("step", stepID),
	)
}

func (o *LoggingObserver) OnEnrichDone(sessionID, stepID string, keys int, d time.Duration) {
	o.Logger.Info("enrich_done",
		slog.String("session_id", sessionID),
		slog.String("step", stepID),
		slog.Int("keys", keys),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnEnrichFailed(sessionID, stepID string, err error) {
	o.Logger.Error("enrich_failed",
		slog.String("session_id", sessionID),
		slog.String("step", stepID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStandardsApplied(sessionID, stepID string, n int) {
	o.Logger.Info("standards_applied",
		slog.String("session_id", sessionID),
		slog.String("step", stepID),
		slog.Int("applied", n),
	)
}

func (o *LoggingObserver) OnSubmit(sessionID string, err error) {
	if err != nil {
		o.Logger.Error("submit_failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		return
	}
	o.Logger.Info("submit_done", slog.String("session_id", sessionID))
}

package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the selection engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay selection.
type Observer interface {
	// OnSelectionStart is called once per Pick, before any store access.
	OnSelectionStart(ctx context.Context, subject Subject, subjectType string)

	// OnCandidates is called after each candidate search with the number of
	// flows that survived all filters. It fires again for every fallback
	// cascade retry.
	OnCandidates(ctx context.Context, subject Subject, count int)

	// OnFallbackStep is called before a cascade step re-runs the search
	// with one constraint relaxed.
	OnFallbackStep(ctx context.Context, subject Subject, step FallbackStep)

	// OnSelected is called when Pick resolves a flow. cached reports
	// whether the result came from the request cache.
	OnSelected(ctx context.Context, subject Subject, flow *Flow, cached bool, duration time.Duration)

	// OnSelectionMiss is called when Pick returns no flow after the full
	// cascade.
	OnSelectionMiss(ctx context.Context, subject Subject, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnSelectionStart(ctx context.Context, subject Subject, subjectType string) {}
func (NoopObserver) OnCandidates(ctx context.Context, subject Subject, count int)              {}
func (NoopObserver) OnFallbackStep(ctx context.Context, subject Subject, step FallbackStep)    {}
func (NoopObserver) OnSelected(ctx context.Context, subject Subject, flow *Flow, cached bool, d time.Duration) {
}
func (NoopObserver) OnSelectionMiss(ctx context.Context, subject Subject, d time.Duration) {}

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

func (c *CompositeObserver) OnSelectionStart(ctx context.Context, subject Subject, subjectType string) {
	for _, o := range c.observers {
		o.OnSelectionStart(ctx, subject, subjectType)
	}
}

func (c *CompositeObserver) OnCandidates(ctx context.Context, subject Subject, count int) {
	for _, o := range c.observers {
		o.OnCandidates(ctx, subject, count)
	}
}

func (c *CompositeObserver) OnFallbackStep(ctx context.Context, subject Subject, step FallbackStep) {
	for _, o := range c.observers {
		o.OnFallbackStep(ctx, subject, step)
	}
}

func (c *CompositeObserver) OnSelected(ctx context.Context, subject Subject, flow *Flow, cached bool, d time.Duration) {
	for _, o := range c.observers {
		o.OnSelected(ctx, subject, flow, cached, d)
	}
}

func (c *CompositeObserver) OnSelectionMiss(ctx context.Context, subject Subject, d time.Duration) {
	for _, o := range c.observers {
		o.OnSelectionMiss(ctx, subject, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs selection lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnSelectionStart(ctx context.Context, subject Subject, subjectType string) {
	o.Logger.DebugContext(ctx, "selection_start",
		slog.String("subject", subject.SubjectKey()),
		slog.String("subject_type", subjectType),
	)
}

func (o *LoggingObserver) OnCandidates(ctx context.Context, subject Subject, count int) {
	o.Logger.DebugContext(ctx, "selection_candidates",
		slog.String("subject", subject.SubjectKey()),
		slog.Int("count", count),
	)
}

func (o *LoggingObserver) OnFallbackStep(ctx context.Context, subject Subject, step FallbackStep) {
	o.Logger.InfoContext(ctx, "selection_fallback",
		slog.String("subject", subject.SubjectKey()),
		slog.String("step", string(step)),
	)
}

func (o *LoggingObserver) OnSelected(ctx context.Context, subject Subject, flow *Flow, cached bool, d time.Duration) {
	o.Logger.InfoContext(ctx, "selection_completed",
		slog.String("subject", subject.SubjectKey()),
		slog.Int64("flow_id", flow.ID),
		slog.Int("version", flow.Version),
		slog.Bool("cached", cached),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnSelectionMiss(ctx context.Context, subject Subject, d time.Duration) {
	o.Logger.InfoContext(ctx, "selection_miss",
		slog.String("subject", subject.SubjectKey()),
		slog.Duration("duration", d),
	)
}

// BasicMetrics collects simple counters and aggregate selection durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	selections    atomic.Int64
	hits          atomic.Int64
	misses        atomic.Int64
	cacheHits     atomic.Int64
	fallbackSteps atomic.Int64
	totalDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	Selections    int64
	Hits          int64
	Misses        int64
	CacheHits     int64
	FallbackSteps int64
	AvgDuration   time.Duration
}

func (m *BasicMetrics) OnSelectionStart(ctx context.Context, subject Subject, subjectType string) {
	m.selections.Add(1)
}

func (m *BasicMetrics) OnFallbackStep(ctx context.Context, subject Subject, step FallbackStep) {
	m.fallbackSteps.Add(1)
}

func (m *BasicMetrics) OnSelected(ctx context.Context, subject Subject, flow *Flow, cached bool, d time.Duration) {
	m.hits.Add(1)
	if cached {
		m.cacheHits.Add(1)
	}
	m.totalDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnSelectionMiss(ctx context.Context, subject Subject, d time.Duration) {
	m.misses.Add(1)
	m.totalDuration.Add(d.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	selections := m.selections.Load()
	totalNs := m.totalDuration.Load()

	var avg time.Duration
	if selections > 0 {
		avg = time.Duration(totalNs / selections)
	}

	return BasicMetricsSnapshot{
		Selections:    selections,
		Hits:          m.hits.Load(),
		Misses:        m.misses.Load(),
		CacheHits:     m.cacheHits.Load(),
		FallbackSteps: m.fallbackSteps.Load(),
		AvgDuration:   avg,
	}
}

package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the workflow engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay workflow execution.
type Observer interface {
	// OnInstanceStarted is called once when an instance is first started,
	// after the initial checkpoint but before the first step executes.
	OnInstanceStarted(ctx context.Context, inst *Instance)

	// OnStepStart is called before invoking a step function.
	OnStepStart(ctx context.Context, inst *Instance, step string)

	// OnStepCompleted is called after a step's outcome has been
	// committed. err is non-nil only for Fail outcomes.
	OnStepCompleted(ctx context.Context, inst *Instance, step string, kind OutcomeKind, err error, duration time.Duration)

	// OnInterrupted is called when an instance parks waiting for external
	// input.
	OnInterrupted(ctx context.Context, inst *Instance, reason string)

	// OnInstanceCompleted is called when an instance reaches
	// StatusCompleted.
	OnInstanceCompleted(ctx context.Context, inst *Instance)

	// OnInstanceFailed is called when an instance reaches StatusFailed.
	OnInstanceFailed(ctx context.Context, inst *Instance, err error)

	// OnInstanceStalled is called when the sweeper parks an instance that
	// exhausted its reminders.
	OnInstanceStalled(ctx context.Context, inst *Instance)

	// OnAuditDropped is called when appending an audit event failed after
	// the matching state change already committed. The engine cannot roll
	// the commit back, so this is the observability hook for the
	// "durable state, missing audit record" inconsistency.
	OnAuditDropped(ctx context.Context, inst *Instance, ev AuditEvent, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStarted(ctx context.Context, inst *Instance)        {}
func (NoopObserver) OnStepStart(ctx context.Context, inst *Instance, step string) {}
func (NoopObserver) OnStepCompleted(ctx context.Context, inst *Instance, step string, kind OutcomeKind, err error, d time.Duration) {
}
func (NoopObserver) OnInterrupted(ctx context.Context, inst *Instance, reason string) {}
func (NoopObserver) OnInstanceCompleted(ctx context.Context, inst *Instance)          {}
func (NoopObserver) OnInstanceFailed(ctx context.Context, inst *Instance, err error)  {}
func (NoopObserver) OnInstanceStalled(ctx context.Context, inst *Instance)            {}
func (NoopObserver) OnAuditDropped(ctx context.Context, inst *Instance, ev AuditEvent, err error) {
}

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

func (c *CompositeObserver) OnInstanceStarted(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnInstanceStarted(ctx, inst)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, inst *Instance, step string) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, inst, step)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, inst *Instance, step string, kind OutcomeKind, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, inst, step, kind, err, d)
	}
}

func (c *CompositeObserver) OnInterrupted(ctx context.Context, inst *Instance, reason string) {
	for _, o := range c.observers {
		o.OnInterrupted(ctx, inst, reason)
	}
}

func (c *CompositeObserver) OnInstanceCompleted(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnInstanceCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceFailed(ctx context.Context, inst *Instance, err error) {
	for _, o := range c.observers {
		o.OnInstanceFailed(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnInstanceStalled(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnInstanceStalled(ctx, inst)
	}
}

func (c *CompositeObserver) OnAuditDropped(ctx context.Context, inst *Instance, ev AuditEvent, err error) {
	for _, o := range c.observers {
		o.OnAuditDropped(ctx, inst, ev, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance and step
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInstanceStarted(ctx context.Context, inst *Instance) {
	o.Logger.InfoContext(ctx, "instance_started",
		slog.String("instance_id", inst.ID),
		slog.String("step", inst.Step),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, inst *Instance, step string) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("instance_id", inst.ID),
		slog.String("step", step),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, inst *Instance, step string, kind OutcomeKind, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("instance_id", inst.ID),
		slog.String("step", step),
		slog.String("outcome", string(kind)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnInterrupted(ctx context.Context, inst *Instance, reason string) {
	o.Logger.InfoContext(ctx, "instance_interrupted",
		slog.String("instance_id", inst.ID),
		slog.String("step", inst.Step),
		slog.String("reason", reason),
	)
}

func (o *LoggingObserver) OnInstanceCompleted(ctx context.Context, inst *Instance) {
	o.Logger.InfoContext(ctx, "instance_completed",
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnInstanceFailed(ctx context.Context, inst *Instance, err error) {
	o.Logger.ErrorContext(ctx, "instance_failed",
		slog.String("instance_id", inst.ID),
		slog.String("step", inst.Step),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnInstanceStalled(ctx context.Context, inst *Instance) {
	o.Logger.WarnContext(ctx, "instance_stalled",
		slog.String("instance_id", inst.ID),
		slog.String("step", inst.Step),
	)
}

func (o *LoggingObserver) OnAuditDropped(ctx context.Context, inst *Instance, ev AuditEvent, err error) {
	o.Logger.ErrorContext(ctx, "audit_append_dropped",
		slog.String("instance_id", inst.ID),
		slog.String("action", ev.Action),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	instancesStarted   atomic.Int64
	instancesCompleted atomic.Int64
	instancesFailed    atomic.Int64
	instancesStalled   atomic.Int64
	interrupts         atomic.Int64
	auditDropped       atomic.Int64
	stepsCompleted     atomic.Int64
	totalStepDuration  atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InstancesStarted   int64
	InstancesCompleted int64
	InstancesFailed    int64
	InstancesStalled   int64
	Interrupts         int64
	AuditDropped       int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnInstanceStarted(ctx context.Context, inst *Instance) {
	m.instancesStarted.Add(1)
}

func (m *BasicMetrics) OnInstanceCompleted(ctx context.Context, inst *Instance) {
	m.instancesCompleted.Add(1)
}

func (m *BasicMetrics) OnInstanceFailed(ctx context.Context, inst *Instance, err error) {
	m.instancesFailed.Add(1)
}

func (m *BasicMetrics) OnInstanceStalled(ctx context.Context, inst *Instance) {
	m.instancesStalled.Add(1)
}

func (m *BasicMetrics) OnInterrupted(ctx context.Context, inst *Instance, reason string) {
	m.interrupts.Add(1)
}

func (m *BasicMetrics) OnAuditDropped(ctx context.Context, inst *Instance, ev AuditEvent, err error) {
	m.auditDropped.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, inst *Instance, step string, kind OutcomeKind, err error, d time.Duration) {
	// Only count committed, successful steps for the average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		InstancesStarted:   m.instancesStarted.Load(),
		InstancesCompleted: m.instancesCompleted.Load(),
		InstancesFailed:    m.instancesFailed.Load(),
		InstancesStalled:   m.instancesStalled.Load(),
		Interrupts:         m.interrupts.Load(),
		AuditDropped:       m.auditDropped.Load(),
		StepsCompleted:     steps,
		AvgStepDuration:    avg,
	}
}

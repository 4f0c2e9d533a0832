package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jalehto/virta/internal/persistence"
	"github.com/jalehto/virta/pkg/api"
)

// defaultWriteAttempts bounds how often a lost optimistic-concurrency race
// is retried before surfacing a ConcurrencyError.
const defaultWriteAttempts = 3

// Config describes how to construct an engine.
type Config struct {
	Registry    *api.Registry
	Persistence persistence.Persistence
	Observer    api.Observer
	Logger      *slog.Logger

	// WriteAttempts bounds CAS retries per checkpoint. Zero means the
	// default of 3.
	WriteAttempts int

	// Clock and NewID are test seams. Nil means time.Now / uuid.NewString.
	Clock func() time.Time
	NewID func() string
}

// engineImpl drives instances through the registry. All mutation of the
// instance store and audit log in the system goes through here.
type engineImpl struct {
	registry      *api.Registry
	instances     persistence.InstanceStore
	audit         persistence.AuditStore
	observer      api.Observer
	logger        *slog.Logger
	writeAttempts int
	clock         func() time.Time
	newID         func() string
}

// New creates an Engine from the given configuration.
func New(cfg Config) (api.Engine, error) {
	if cfg.Registry == nil {
		return nil, &api.ConfigurationError{Message: "engine requires a registry"}
	}
	if cfg.Persistence.Instances == nil || cfg.Persistence.Audit == nil {
		return nil, &api.ConfigurationError{Message: "engine requires instance and audit stores"}
	}

	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.WriteAttempts
	if attempts <= 0 {
		attempts = defaultWriteAttempts
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &engineImpl{
		registry:      cfg.Registry,
		instances:     cfg.Persistence.Instances,
		audit:         cfg.Persistence.Audit,
		observer:      obs,
		logger:        logger,
		writeAttempts: attempts,
		clock:         clock,
		newID:         newID,
	}, nil
}

func (e *engineImpl) Start(ctx context.Context, initial api.State, actor string) (*api.Instance, error) {
	for _, field := range e.registry.Required() {
		if initial.String(field) == "" {
			return nil, &api.ValidationError{Field: field, Message: "is required"}
		}
	}

	now := e.clock()
	st := initial.Clone()
	st.SetTime(api.KeyLastActivity, now)

	inst := &api.Instance{
		ID:        e.newID(),
		Step:      e.registry.Entry(),
		State:     st,
		Version:   1,
		Status:    api.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.instances.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	e.appendAudit(ctx, inst, api.AuditEvent{
		InstanceID: inst.ID,
		Action:     api.ActionStart,
		Actor:      actor,
		Category:   api.CategoryEngine,
		Payload:    map[string]any{"entry": inst.Step},
		OccurredAt: now,
	})
	e.observer.OnInstanceStarted(ctx, inst)

	return e.runLoop(ctx, inst, actor)
}

func (e *engineImpl) Resume(ctx context.Context, id string, req api.ResumeRequest) (*api.Instance, error) {
	inst, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		// STALLED instances may also be resumed: stalling is how the
		// sweeper hands an instance over to a human, and resuming is
		// how the human hands it back.
		if inst.Status != api.StatusInterrupted && inst.Status != api.StatusStalled {
			return nil, &api.InvalidStateError{ID: id, Status: inst.Status, Op: "resume"}
		}
		if req.ExpectedVersion != 0 && req.ExpectedVersion != inst.Version {
			return nil, &api.ConcurrencyError{ID: id, Attempts: attempt}
		}

		now := e.clock()
		next := inst.Clone()
		next.State.Merge(req.Payload)
		next.State.SetTime(api.KeyLastActivity, now)
		next.Pending = nil
		next.Status = api.StatusRunning
		next.Version = inst.Version + 1
		next.UpdatedAt = now

		err := e.instances.UpdateInstance(ctx, next, inst.Version)
		if err == nil {
			e.appendAudit(ctx, next, api.AuditEvent{
				InstanceID: next.ID,
				Action:     api.ActionResume,
				Actor:      req.Actor,
				Category:   api.CategoryAdminAction,
				Payload:    map[string]any(req.Payload),
				OccurredAt: now,
			})
			return e.runLoop(ctx, next, req.Actor)
		}
		if !errors.Is(err, persistence.ErrVersionConflict) {
			return nil, fmt.Errorf("persist resume: %w", err)
		}

		// Lost the race to another driver. No audit event was written
		// for this attempt; reload and decide whether retrying still
		// makes sense.
		if attempt >= e.writeAttempts {
			return nil, &api.ConcurrencyError{ID: id, Attempts: attempt}
		}
		if inst, err = e.load(ctx, id); err != nil {
			return nil, err
		}
	}
}

func (e *engineImpl) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	return e.load(ctx, id)
}

func (e *engineImpl) ListActive(ctx context.Context) ([]*api.Instance, error) {
	return e.instances.ListInstances(ctx, persistence.InstanceFilter{
		Statuses: []api.Status{api.StatusRunning, api.StatusInterrupted, api.StatusStalled},
	})
}

func (e *engineImpl) AuditTrail(ctx context.Context, id string) ([]api.AuditEvent, error) {
	if _, err := e.load(ctx, id); err != nil {
		return nil, err
	}
	return e.audit.ListEvents(ctx, id)
}

func (e *engineImpl) Nudge(ctx context.Context, id string, payload api.State) (*api.Instance, error) {
	inst, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != api.StatusInterrupted && inst.Status != api.StatusRunning {
		return nil, &api.InvalidStateError{ID: id, Status: inst.Status, Op: "nudge"}
	}

	now := e.clock()
	next := inst.Clone()
	next.State.Merge(payload)
	if next.State.String(api.KeyAction) == "" {
		next.State[api.KeyAction] = api.ActionTimeoutReminder
	}
	next.State[api.KeyReminderCount] = next.State.Int(api.KeyReminderCount) + 1
	next.State.SetTime(api.KeyLastActivity, now)
	next.Pending = nil
	next.Status = api.StatusRunning
	next.Version = inst.Version + 1
	next.UpdatedAt = now

	if err := e.instances.UpdateInstance(ctx, next, inst.Version); err != nil {
		if errors.Is(err, persistence.ErrVersionConflict) {
			// An API-driven resume beat the sweeper to this instance.
			// That resume already counts as activity, so back off.
			return nil, &api.ConcurrencyError{ID: id, Attempts: 1}
		}
		return nil, fmt.Errorf("persist nudge: %w", err)
	}

	e.appendAudit(ctx, next, api.AuditEvent{
		InstanceID: next.ID,
		Action:     api.ActionTimeoutReminder,
		Actor:      api.ActorSystem,
		Category:   api.CategorySweep,
		Payload:    map[string]any{"reminderCount": next.State.Int(api.KeyReminderCount)},
		OccurredAt: now,
	})

	return e.runLoop(ctx, next, api.ActorSystem)
}

func (e *engineImpl) MarkStalled(ctx context.Context, id string) (*api.Instance, error) {
	inst, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status == api.StatusStalled {
		return inst, nil
	}
	if !inst.Status.Active() {
		return nil, &api.InvalidStateError{ID: id, Status: inst.Status, Op: "stall"}
	}

	now := e.clock()
	next := inst.Clone()
	next.Pending = nil
	next.Status = api.StatusStalled
	next.Version = inst.Version + 1
	next.UpdatedAt = now

	if err := e.instances.UpdateInstance(ctx, next, inst.Version); err != nil {
		if errors.Is(err, persistence.ErrVersionConflict) {
			return nil, &api.ConcurrencyError{ID: id, Attempts: 1}
		}
		return nil, fmt.Errorf("persist stall: %w", err)
	}

	e.appendAudit(ctx, next, api.AuditEvent{
		InstanceID: next.ID,
		Action:     api.ActionStalled,
		Actor:      api.ActorSystem,
		Category:   api.CategorySweep,
		Payload:    map[string]any{"step": next.Step},
		OccurredAt: now,
	})
	e.observer.OnInstanceStalled(ctx, next)

	return next, nil
}

// runLoop executes steps while the instance is RUNNING. Each committed
// outcome is checkpointed before its audit event is appended; a checkpoint
// that loses the optimistic-concurrency race is retried from a fresh load,
// and nothing is audited for the lost attempt.
func (e *engineImpl) runLoop(ctx context.Context, inst *api.Instance, actor string) (*api.Instance, error) {
	conflicts := 0

	for inst.Status == api.StatusRunning {
		// Cancellation is honored only at checkpoint boundaries; a step
		// is an atomic unit of business logic. An abandoned RUNNING
		// instance is picked up again by the sweeper.
		select {
		case <-ctx.Done():
			return inst, ctx.Err()
		default:
		}

		def, ok := e.registry.Step(inst.Step)
		if !ok {
			// Registry closure is validated at build time, so this is
			// a wiring bug, not bad data. Fail loudly, never skip.
			return inst, &api.ConfigurationError{
				Message: fmt.Sprintf("instance %s references unknown step %q", inst.ID, inst.Step),
			}
		}

		e.observer.OnStepStart(ctx, inst, inst.Step)
		started := e.clock()
		out := def.Fn(ctx, inst.State.Clone())
		duration := e.clock().Sub(started)

		next, ev, stepErr, cfgErr := e.applyOutcome(inst, out)
		if cfgErr != nil {
			return inst, cfgErr
		}

		err := e.instances.UpdateInstance(ctx, next, inst.Version)
		if errors.Is(err, persistence.ErrVersionConflict) {
			conflicts++
			if conflicts >= e.writeAttempts {
				return inst, &api.ConcurrencyError{ID: inst.ID, Attempts: conflicts}
			}
			reloaded, loadErr := e.load(ctx, inst.ID)
			if loadErr != nil {
				return inst, loadErr
			}
			if reloaded.Status != api.StatusRunning {
				// Another driver moved the instance to a stopping
				// point; this driver lost and must not re-run the step.
				return reloaded, &api.ConcurrencyError{ID: inst.ID, Attempts: conflicts}
			}
			inst = reloaded
			continue
		}
		if err != nil {
			return inst, fmt.Errorf("persist step outcome: %w", err)
		}
		conflicts = 0

		ev.Actor = actor
		e.appendAudit(ctx, next, ev)
		e.observer.OnStepCompleted(ctx, next, inst.Step, out.Kind(), stepErr, duration)

		switch out.Kind() {
		case api.OutcomeInterrupt:
			e.observer.OnInterrupted(ctx, next, out.Reason())
		case api.OutcomeComplete:
			e.observer.OnInstanceCompleted(ctx, next)
		case api.OutcomeFail:
			e.observer.OnInstanceFailed(ctx, next, stepErr)
		}

		inst = next
	}

	return inst, nil
}

// applyOutcome builds the next checkpoint for one step outcome, together
// with the audit event that describes it. Business failures are captured
// into state.error rather than propagated; only misconfigured transitions
// produce an error here.
func (e *engineImpl) applyOutcome(inst *api.Instance, out api.Outcome) (*api.Instance, api.AuditEvent, error, error) {
	now := e.clock()

	next := inst.Clone()
	if st := out.State(); st != nil {
		next.State = st
	}
	next.State.SetTime(api.KeyLastActivity, now)
	next.Version = inst.Version + 1
	next.UpdatedAt = now

	ev := api.AuditEvent{
		InstanceID: inst.ID,
		Category:   api.CategoryEngine,
		OccurredAt: now,
	}

	switch out.Kind() {
	case api.OutcomeAdvance:
		if !e.registry.CanAdvance(inst.Step, out.Next()) {
			return nil, api.AuditEvent{}, nil, &api.ConfigurationError{
				Message: fmt.Sprintf("step %q advanced to undeclared step %q", inst.Step, out.Next()),
			}
		}
		next.Step = out.Next()
		next.Pending = nil
		ev.Action = api.ActionStepCompleted
		ev.Payload = map[string]any{"step": inst.Step, "next": out.Next()}

	case api.OutcomeInterrupt:
		next.Pending = &api.PendingInterrupt{Step: inst.Step, Reason: out.Reason()}
		next.Status = api.StatusInterrupted
		ev.Action = api.ActionInterrupted
		ev.Payload = map[string]any{"step": inst.Step, "reason": out.Reason()}

	case api.OutcomeComplete:
		next.Step = ""
		next.Pending = nil
		next.Status = api.StatusCompleted
		ev.Action = api.ActionCompleted
		ev.Payload = map[string]any{"step": inst.Step}

	case api.OutcomeFail:
		stepErr := &api.StepExecutionError{Step: inst.Step, Err: out.Err()}
		next.State[api.KeyError] = stepErr.Error()
		next.Step = ""
		next.Pending = nil
		next.Status = api.StatusFailed
		ev.Action = api.ActionFailed
		ev.Payload = map[string]any{"step": inst.Step, "error": stepErr.Error()}
		return next, ev, stepErr, nil

	default:
		return nil, api.AuditEvent{}, nil, &api.ConfigurationError{
			Message: fmt.Sprintf("step %q returned unknown outcome %q", inst.Step, out.Kind()),
		}
	}

	return next, ev, nil, nil
}

func (e *engineImpl) load(ctx context.Context, id string) (*api.Instance, error) {
	inst, err := e.instances.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, &api.NotFoundError{ID: id}
		}
		return nil, err
	}
	return inst, nil
}

// appendAudit records one committed transition. Audit is best-effort after
// a successful state persist: state durability is the stronger guarantee,
// so a failed append is surfaced through the log and observer instead of
// failing the caller's operation.
func (e *engineImpl) appendAudit(ctx context.Context, inst *api.Instance, ev api.AuditEvent) {
	seq, err := e.audit.Append(ctx, ev)
	if err != nil {
		e.logger.ErrorContext(ctx, "audit_append_failed",
			slog.String("instance_id", inst.ID),
			slog.String("action", ev.Action),
			slog.Any("error", err),
		)
		e.observer.OnAuditDropped(ctx, inst, ev, err)
		return
	}
	ev.Sequence = seq
}

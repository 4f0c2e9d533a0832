package api

import (
	"context"
	"time"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	StatusRunning     Status = "RUNNING"
	StatusInterrupted Status = "INTERRUPTED"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusStalled     Status = "STALLED"
)

// Active reports whether an instance in this status still owns a step and
// is eligible for sweeping.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusInterrupted || s == StatusStalled
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Well-known state keys the engine and sweeper read or write. Everything
// else in State belongs to the steps.
const (
	KeyAction        = "action"
	KeyError         = "error"
	KeyLastActivity  = "lastActivity"
	KeyReminderCount = "reminderCount"
	KeyAdminDecision = "adminDecision"
)

// ActionTimeoutReminder is the synthetic action the sweeper merges into
// state when it nudges an idle instance.
const ActionTimeoutReminder = "timeout-reminder"

// State is the open map of business fields carried by a workflow instance.
// Values must be JSON-serializable; absence of a key is a valid, expected
// condition at early steps.
type State map[string]any

// Clone returns a shallow copy of the state map. Step functions receive a
// clone so an aborted write never leaks partial mutations back into the
// engine's loaded snapshot.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into s, overwriting existing keys.
func (s State) Merge(other State) State {
	for k, v := range other {
		s[k] = v
	}
	return s
}

// String returns the string value for key, or "" when absent or not a string.
func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Int returns the integer value for key. JSON round-trips numbers as
// float64, so both forms are accepted.
func (s State) Int(key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Bool returns the boolean value for key, or false when absent.
func (s State) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Time parses the RFC 3339 timestamp stored under key. The zero time is
// returned when the key is absent or malformed.
func (s State) Time(key string) time.Time {
	str, ok := s[key].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SetTime stores t under key as an RFC 3339 string so the value survives
// JSON serialization unchanged.
func (s State) SetTime(key string, t time.Time) {
	s[key] = t.UTC().Format(time.RFC3339Nano)
}

// PendingInterrupt describes what external input an interrupted instance is
// waiting for.
type PendingInterrupt struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
}

// Instance is one running or completed occurrence of the workflow.
type Instance struct {
	ID      string            `json:"id"`
	Step    string            `json:"currentStep,omitempty"`
	Pending *PendingInterrupt `json:"pendingInterrupt,omitempty"`
	State   State             `json:"state"`
	Version int64             `json:"version"`
	Status  Status            `json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep-enough copy for handing across goroutine boundaries:
// the state map and pending interrupt are copied, everything else is a value.
func (i *Instance) Clone() *Instance {
	out := *i
	out.State = i.State.Clone()
	if i.Pending != nil {
		p := *i.Pending
		out.Pending = &p
	}
	return &out
}

// LastActivity returns the instance's last activity timestamp. It prefers
// the state's lastActivity field and falls back to UpdatedAt for instances
// that have not recorded one yet.
func (i *Instance) LastActivity() time.Time {
	if t := i.State.Time(KeyLastActivity); !t.IsZero() {
		return t
	}
	return i.UpdatedAt
}

// ResumeRequest carries the external input delivered to an interrupted
// instance.
type ResumeRequest struct {
	// Payload is merged into the instance state before the interrupted
	// step is re-invoked.
	Payload State

	// Actor is recorded verbatim in the audit trail. The engine does not
	// authenticate it; identity is the caller's concern.
	Actor string

	// ExpectedVersion, when non-zero, rejects the resume if the stored
	// instance version differs, so callers acting on a stale snapshot
	// fail instead of clobbering newer state.
	ExpectedVersion int64
}

// Engine drives workflow instances through a Registry, checkpointing state
// after every step and appending audit events for every committed
// transition.
type Engine interface {
	// Start validates the initial state against the registry's required
	// fields, creates a new instance at the entry step and runs it until
	// the first stopping point (interrupt, completion or failure).
	Start(ctx context.Context, initial State, actor string) (*Instance, error)

	// Resume merges the request payload into an interrupted instance and
	// re-invokes the step that interrupted, continuing the run loop from
	// there.
	Resume(ctx context.Context, id string, req ResumeRequest) (*Instance, error)

	// GetInstance returns a snapshot of an instance. Read-only.
	GetInstance(ctx context.Context, id string) (*Instance, error)

	// ListActive returns all instances whose status is RUNNING,
	// INTERRUPTED or STALLED.
	ListActive(ctx context.Context) ([]*Instance, error)

	// AuditTrail returns all audit events for an instance in sequence
	// order.
	AuditTrail(ctx context.Context, id string) ([]AuditEvent, error)

	// Nudge delivers a synthetic timeout-reminder payload to an idle
	// instance on behalf of the sweeper. It increments reminderCount and
	// refreshes lastActivity before re-invoking the current step.
	Nudge(ctx context.Context, id string, payload State) (*Instance, error)

	// MarkStalled parks an instance that exhausted its reminders. Stalled
	// instances are skipped by the sweeper until a human resumes them.
	MarkStalled(ctx context.Context, id string) (*Instance, error)
}

package api

import "time"

// Audit actions recorded by the engine. Actions are stable strings; new
// ones may be added but existing ones never change meaning.
const (
	ActionStart         = "start"
	ActionStepCompleted = "step-completed"
	ActionInterrupted   = "interrupted"
	ActionResume        = "resume"
	ActionCompleted     = "completed"
	ActionFailed        = "failed"
	ActionStalled       = "stalled"
)

// Audit categories. Free-form classification; these are the ones the core
// itself emits.
const (
	CategoryEngine      = "engine"
	CategoryAdminAction = "admin_action"
	CategorySweep       = "sweep"
)

// ActorSystem is the actor recorded for sweeper-driven transitions.
const ActorSystem = "system"

// AuditEvent is an immutable fact about one state transition or external
// action against an instance. Events are appended only after the matching
// state change committed, never before, so the trail never records a write
// that failed to persist.
type AuditEvent struct {
	InstanceID string         `json:"instanceId"`
	Sequence   int64          `json:"sequence"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	Category   string         `json:"category"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Package api contains the core building blocks used by the virta workflow
// engine: instance state, step outcomes, the step registry, the audit event
// model, the error taxonomy and the Observer interface.
//
// Most users interact with the higher-level virta package, which re-exports
// selected types and helpers from this package. The api package is intended
// for advanced use cases, custom integrations, or contributors extending the
// engine itself.
//
// # Instances
//
// An Instance is one running or completed occurrence of the workflow. Its
// State is an open map of business fields; its Version increases with every
// persisted checkpoint and backs the engine's optimistic concurrency
// control. "Waiting for a human" is ordinary durable state (StatusInterrupted
// plus a PendingInterrupt descriptor), never a blocked goroutine.
//
// # Steps and Outcomes
//
// A StepFunc is a named unit of business logic over the instance state. It
// returns exactly one of four outcomes: Advance, Interrupt, Complete or
// Fail. Steps never touch the state store or the audit log themselves; the
// engine owns persistence, which keeps the transition contract testable in
// isolation.
//
// # Registry
//
// The Registry is the fixed graph of named steps. Every declared transition
// target is verified to exist at build time, so a misconfigured graph is
// rejected at startup rather than failing mid-flight.
//
// # Audit
//
// An AuditEvent is an immutable record of one committed transition or
// external action, totally ordered per instance by Sequence. Events are
// appended only after the matching state change committed.
//
// # Observability
//
// The Observer interface reports lifecycle events. Ready-made
// implementations cover structured logging (log/slog), basic in-memory
// metrics, and fan-out composition.
package api

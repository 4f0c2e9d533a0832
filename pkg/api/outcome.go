package api

import "context"

// OutcomeKind discriminates the four possible results of a step execution.
type OutcomeKind string

const (
	OutcomeAdvance   OutcomeKind = "advance"
	OutcomeInterrupt OutcomeKind = "interrupt"
	OutcomeComplete  OutcomeKind = "complete"
	OutcomeFail      OutcomeKind = "fail"
)

// Outcome is the tagged result of one step execution. Steps construct it
// with Advance, Interrupt, Complete or Fail; the engine owns what each
// variant means for persistence and audit.
type Outcome struct {
	kind   OutcomeKind
	next   string
	reason string
	err    error
	state  State
}

// Advance moves the instance to the named next step with the updated state.
func Advance(next string, st State) Outcome {
	return Outcome{kind: OutcomeAdvance, next: next, state: st}
}

// Interrupt parks the instance until an external actor resumes it. The
// reason is recorded in the instance's pendingInterrupt descriptor.
func Interrupt(reason string, st State) Outcome {
	return Outcome{kind: OutcomeInterrupt, reason: reason, state: st}
}

// Complete finishes the instance successfully.
func Complete(st State) Outcome {
	return Outcome{kind: OutcomeComplete, state: st}
}

// Fail finishes the instance with a business-logic failure. The error is
// captured into state.error so failed instances remain inspectable.
func Fail(err error, st State) Outcome {
	return Outcome{kind: OutcomeFail, err: err, state: st}
}

// Kind returns the outcome variant.
func (o Outcome) Kind() OutcomeKind { return o.kind }

// Next returns the target step name of an Advance outcome.
func (o Outcome) Next() string { return o.next }

// Reason returns the interrupt reason of an Interrupt outcome.
func (o Outcome) Reason() string { return o.reason }

// Err returns the failure of a Fail outcome.
func (o Outcome) Err() error { return o.err }

// State returns the updated state carried by the outcome.
func (o Outcome) State() State { return o.state }

// StepFunc is a single named step of the workflow. Steps are pure-ish
// functions over the instance state: they never touch the state store or
// audit log themselves, which keeps the transition contract testable in
// isolation.
type StepFunc func(ctx context.Context, st State) Outcome

// StepDefinition describes a named step and the transitions it may take.
// Next lists every step name the function is allowed to Advance to; the
// registry verifies at build time that each one exists.
type StepDefinition struct {
	Name string
	Fn   StepFunc
	Next []string
}

package api

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input to Start or Resume. It is never retried
// and never corrupts instance state.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: field %q %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// NotFoundError reports an unknown instance id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "instance not found: " + e.ID
}

// IsNotFoundError reports whether err is a NotFoundError.
func IsNotFoundError(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// InvalidStateError reports an operation applied to an instance whose status
// does not permit it, for example resuming an instance that is not
// interrupted.
type InvalidStateError struct {
	ID     string
	Status Status
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s instance %s in status %s", e.Op, e.ID, e.Status)
}

// IsInvalidStateError reports whether err is an InvalidStateError.
func IsInvalidStateError(err error) bool {
	var s *InvalidStateError
	return errors.As(err, &s)
}

// ConcurrencyError reports that an operation lost the optimistic-concurrency
// race on every allowed attempt. The caller may retry the whole operation.
type ConcurrencyError struct {
	ID       string
	Attempts int
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("instance %s: version conflict after %d attempts", e.ID, e.Attempts)
}

// IsConcurrencyError reports whether err is a ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var c *ConcurrencyError
	return errors.As(err, &c)
}

// StepExecutionError wraps a business-logic failure raised inside a step.
// The engine captures it into the durable state rather than throwing it past
// the checkpoint boundary.
type StepExecutionError struct {
	Step string
	Err  error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// IsStepExecutionError reports whether err is a StepExecutionError.
func IsStepExecutionError(err error) bool {
	var s *StepExecutionError
	return errors.As(err, &s)
}

// ConfigurationError reports a broken step graph: an unknown entry step, a
// dangling transition target, or a runtime Advance to a step the registry
// never declared. Registry construction surfaces these at startup.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Message
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var c *ConfigurationError
	return errors.As(err, &c)
}

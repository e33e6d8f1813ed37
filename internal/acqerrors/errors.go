// Package acqerrors defines the typed error kinds from spec.md §7 shared
// across the acquisition core, so callers can distinguish them with
// errors.As instead of matching on message text.
package acqerrors

import "fmt"

// InvalidStateForOperation means a command arrived in a state that does not
// accept it. Logged by the caller; never propagated as a hardware fault.
type InvalidStateForOperation struct {
	Controller string
	State      string
	Command    string
}

func (e *InvalidStateForOperation) Error() string {
	return fmt.Sprintf("%s: command %q invalid for state %q", e.Controller, e.Command, e.State)
}

// InvalidStateTransition is a programmer error: an illegal transition was
// attempted against the FSM's transition table.
type InvalidStateTransition struct {
	Controller string
	From       string
	To         string
}

func (e *InvalidStateTransition) Error() string {
	return fmt.Sprintf("%s: illegal transition %q -> %q", e.Controller, e.From, e.To)
}

// ResourceUnavailable means ResourceCoordinator.Acquire returned no lease
// because at least one requested resource was already held.
type ResourceUnavailable struct {
	Owner     string
	Resources []string
}

func (e *ResourceUnavailable) Error() string {
	return fmt.Sprintf("resources unavailable for %s: %v", e.Owner, e.Resources)
}

// HardwareTimeout means a microcontroller/camera operation exceeded its
// budget.
type HardwareTimeout struct {
	Operation string
	Budget    string
}

func (e *HardwareTimeout) Error() string {
	return fmt.Sprintf("hardware timeout: %s exceeded budget %s", e.Operation, e.Budget)
}

// FrameCallbackError wraps a panic/error recovered from inside a camera
// frame callback by the safe-callback guard.
type FrameCallbackError struct {
	Cause error
}

func (e *FrameCallbackError) Error() string {
	return fmt.Sprintf("frame callback error: %v", e.Cause)
}

func (e *FrameCallbackError) Unwrap() error { return e.Cause }

// DispatchFailure means a job's input queue was full.
type DispatchFailure struct {
	JobType string
}

func (e *DispatchFailure) Error() string {
	return fmt.Sprintf("dispatch failure: job queue full for %s", e.JobType)
}

// ConfigurationError is raised to the caller at the point of the setter,
// e.g. reflection AF requested without a laser AF reference.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// NewConfigurationError builds a ConfigurationError from a plain reason string.
func NewConfigurationError(reason string) error {
	return &ConfigurationError{Reason: reason}
}

// NewConfigurationErrorf builds a ConfigurationError from a format string.
func NewConfigurationErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// FilesystemError means a coordinate CSV or parameters file could not be
// written; always fatal to setup (Preparing -> Failed).
type FilesystemError struct {
	Path  string
	Cause error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error writing %s: %v", e.Path, e.Cause)
}

func (e *FilesystemError) Unwrap() error { return e.Cause }

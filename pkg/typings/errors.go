package typings

import (
	"fmt"
)

// Status classifies the outcome of a single install or uninstall command.
type Status string

const (
	// StatusSucceeded means the package manager reported no error.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means the package manager reported an error, exited
	// non-zero, or could not be started.
	StatusFailed Status = "failed"

	// StatusNotFound means the registry has no type declarations for the package.
	StatusNotFound Status = "not_found"
)

// CommandError describes a non-successful install or uninstall command.
type CommandError struct {
	// Status is StatusFailed or StatusNotFound.
	Status Status `json:"status"`

	// Operation is the operation that was attempted.
	Operation Operation `json:"operation,omitempty"`

	// Package is the types package the command targeted.
	Package string `json:"package,omitempty"`

	// Output is the diagnostic output of the package manager.
	Output string `json:"output,omitempty"`

	// Err is the underlying error when the process could not be run.
	Err error `json:"-"`
}

// Sentinel errors for errors.Is matching on the outcome class.
var (
	ErrCommandFailed = &CommandError{Status: StatusFailed}
	ErrTypesNotFound = &CommandError{Status: StatusNotFound}
)

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("[%s] %s %s", e.Status, e.Operation, e.Package)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is matches on Status, and on Operation and Package when the target sets them.
func (e *CommandError) Is(target error) bool {
	t, ok := target.(*CommandError)
	if !ok {
		return false
	}
	if t.Status != e.Status {
		return false
	}
	if t.Operation != "" && t.Operation != e.Operation {
		return false
	}
	return t.Package == "" || t.Package == e.Package
}

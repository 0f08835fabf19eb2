// Package socerr defines the error kinds reported while composing and
// building an SoC.
package socerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable error identifier. It is a string newtype, comparable,
// and implements error so it can be used as an errors.Is target.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	ResourceNotFound             Kind = "resource_not_found"
	ResourceInUse                Kind = "resource_in_use"
	ClockConfigError             Kind = "clock_config_error"
	AddressConflictError         Kind = "address_conflict"
	InterruptExhausted           Kind = "interrupt_exhausted"
	MutuallyExclusiveOptionError Kind = "mutually_exclusive_option"
	ExternalToolFailure          Kind = "external_tool_failure"
	InvalidOption                Kind = "invalid_option"
)

// Error carries a Kind together with the pipeline stage and the resource
// (signal, region, domain, tool) involved.
type Error struct {
	Kind     Kind
	Stage    string
	Resource string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 5)
	if e.Stage != "" {
		parts = append(parts, e.Stage)
	}
	parts = append(parts, string(e.Kind))
	if e.Resource != "" {
		parts = append(parts, e.Resource)
	}
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New returns an Error of the given kind for resource.
func New(kind Kind, resource, format string, args ...any) *Error {
	return &Error{Kind: kind, Resource: resource, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind with err as its cause.
func Wrap(kind Kind, resource string, err error) *Error {
	return &Error{Kind: kind, Resource: resource, Err: err}
}

// WithStage attaches stage to err. Errors that already carry a stage are
// returned unchanged; foreign errors are wrapped without a kind.
func WithStage(err error, stage string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Stage == "" {
			e.Stage = stage
		}
		return err
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// KindOf extracts the Kind from err, or "" if err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

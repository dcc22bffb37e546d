package domain

import "errors"

var (
	// ErrMissingRecipient is returned when the argument list carries no recipient.
	ErrMissingRecipient = errors.New("missing recipient")
	// ErrNoOrigin is returned when neither a from address nor a messaging service is configured.
	ErrNoOrigin = errors.New("no origin configured")
	// ErrProviderTimeout wraps provider calls that exceeded their deadline.
	ErrProviderTimeout = errors.New("provider call timed out")
	// ErrDuplicateInFlight is returned when the same execution is already being processed.
	ErrDuplicateInFlight = errors.New("duplicate execution in progress")
)

// ErrorKind classifies execution failures for the transport layer.
type ErrorKind int

const (
	// KindInput marks a problem with the orchestrator's arguments.
	KindInput ErrorKind = iota + 1
	// KindConfiguration marks missing server configuration.
	KindConfiguration
	// KindProvider marks a failed or timed out provider call.
	KindProvider
	// KindConflict marks a concurrent duplicate of an in-flight execution.
	KindConflict
)

// ExecutionError is the error returned by Service.Execute. Message is reported verbatim to
// the orchestrator.
type ExecutionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

package errors

import (
	"errors"
	"fmt"
)

// Error messages.
var (
	ErrValidation           = errors.New("validation failed")
	ErrBusy                 = errors.New("judge queue is full, try again shortly")
	ErrQueueEmpty           = errors.New("judge queue is empty")
	ErrNotFound             = errors.New("submission not found")
	ErrConflict             = errors.New("conflicting submission state")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrCancelled            = errors.New("submission cancelled")
	ErrSandboxFailure       = errors.New("sandbox failure")
	ErrSessionClosed        = errors.New("sandbox session is closed")
	ErrCompilationFailed    = errors.New("compilation failed")
	ErrInvalidLanguage      = errors.New("invalid language")
	ErrProblemNotFound      = errors.New("problem not found")
	ErrLanguageNotFound     = errors.New("language not found")
	ErrUnknownMessageType   = errors.New("unknown message type")
	ErrUnknownSandboxDriver = errors.New("unknown sandbox driver")
	ErrStaleVersion         = errors.New("submission was modified concurrently")
	ErrForbidden            = errors.New("operation requires administrator rights")
	ErrResponderClosed      = errors.New("responder is closed")
	ErrDeliveriesClosed     = errors.New("amqp delivery channel closed")
	ErrNoReplyQueue         = errors.New("submit message has no reply queue")
)

// ValidationError describes a rejected request field. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

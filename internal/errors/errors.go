// Package errors holds the council's sentinel errors, the structured error
// types that carry persona, endpoint and session context, and the
// classification helpers the server and CLI use to decide what to show.
//
// Only cancellation and caller mistakes cross component boundaries.
// Backend failures become placeholder messages and malformed verdicts
// become "no action", so most BackendErrors end in a log line.
//
//	err := errors.NewBackendError("chat call failed", cause).
//		WithPersona("nana-ruth").
//		WithStatus(502)
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Re-exported so callers only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Session
var (
	ErrSessionNotFound = New("session not found")
	ErrSessionBusy     = New("session is busy")
	ErrSessionClosed   = New("session is closed")
	ErrEmptyMessage    = New("message is empty")
)

// Personas and backend
var (
	ErrUnknownPersona = New("unknown persona")
	// ErrBackendUnavailable covers unreachable backends and non-2xx replies.
	ErrBackendUnavailable = New("backend unavailable")
	// ErrMalformedVerdict means the coordinator output held no JSON object.
	ErrMalformedVerdict = New("malformed coordinator verdict")
)

// Debate
var (
	// ErrInvalidInstruction marks an instruction with an unknown persona or
	// a persona answering herself.
	ErrInvalidInstruction = New("invalid debate instruction")
	ErrDebateInProgress   = New("debate already in progress")
	ErrNoDebate           = New("no debate to continue")
)

var (
	ErrChannelBusy  = New("private channel is busy")
	ErrCanceled     = New("operation canceled")
	ErrInvalidInput = New("invalid input")
)

// CouncilError is implemented by every structured error in this package.
type CouncilError interface {
	error
	Unwrap() error
	// IsRetryable reports whether the same call may succeed later.
	IsRetryable() bool
	// IsUserFacing reports whether Error() is fit for an end user.
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *baseError) Unwrap() error      { return e.cause }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// describe renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) describe(kind string, attrs ...string) string {
	var sb strings.Builder
	sb.WriteString(kind)
	if len(attrs) > 0 {
		sb.WriteString(" [" + strings.Join(attrs, ", ") + "]")
	}
	sb.WriteString(": " + e.message)
	if e.cause != nil {
		sb.WriteString(": " + e.cause.Error())
	}
	return sb.String()
}

// SessionError rejects an operation on a session, e.g. a second ask while
// the first is still running.
type SessionError struct {
	baseError
	SessionID string
}

func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{baseError: baseError{message: message, cause: cause, userFacing: true}}
}

func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return e.describe("session error")
	}
	return e.describe("session error", "session="+e.SessionID)
}

// BackendError is a failed persona or coordinator call. Status 429 and 5xx
// are retryable. It always matches ErrBackendUnavailable.
type BackendError struct {
	baseError
	Persona    string
	Endpoint   string
	StatusCode int
}

func NewBackendError(message string, cause error) *BackendError {
	return &BackendError{baseError: baseError{message: message, cause: cause}}
}

func (e *BackendError) WithPersona(id string) *BackendError {
	e.Persona = id
	return e
}

func (e *BackendError) WithEndpoint(path string) *BackendError {
	e.Endpoint = path
	return e
}

// WithStatus records the HTTP status and derives retryability from it.
func (e *BackendError) WithStatus(code int) *BackendError {
	e.StatusCode = code
	e.retryable = code == 429 || code >= 500
	return e
}

func (e *BackendError) WithRetryable(r bool) *BackendError {
	e.retryable = r
	return e
}

func (e *BackendError) Error() string {
	var attrs []string
	if e.Persona != "" {
		attrs = append(attrs, "persona="+e.Persona)
	}
	if e.Endpoint != "" {
		attrs = append(attrs, "endpoint="+e.Endpoint)
	}
	if e.StatusCode != 0 {
		attrs = append(attrs, fmt.Sprintf("status=%d", e.StatusCode))
	}
	return e.describe("backend error", attrs...)
}

func (e *BackendError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// NotFoundError names a missing session or persona.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError:    baseError{message: fmt.Sprintf("%s %q not found", resourceType, resourceID), userFacing: true},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// ValidationError is a caller mistake: a blank question, an unknown
// persona, a bad config value. It matches ErrInvalidInput.
type ValidationError struct {
	baseError
	Field string
	Value any
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{baseError: baseError{message: message, userFacing: true}}
}

func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

func (e *ValidationError) Error() string {
	var attrs []string
	if e.Field != "" {
		attrs = append(attrs, "field="+e.Field)
	}
	if e.Value != nil {
		attrs = append(attrs, fmt.Sprintf("value=%v", e.Value))
	}
	return e.describe("validation error", attrs...)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// IsCanceled reports whether err is a cancellation, through either
// context.Canceled or ErrCanceled.
func IsCanceled(err error) bool {
	return err != nil && (Is(err, context.Canceled) || Is(err, ErrCanceled))
}

// IsRetryable reports whether err is transient. Deadline expiry counts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce CouncilError
	if As(err, &ce) && ce.IsRetryable() {
		return true
	}
	return Is(err, context.DeadlineExceeded)
}

// IsUserFacing reports whether err's message may be shown to an end user.
func IsUserFacing(err error) bool {
	var ce CouncilError
	return err != nil && As(err, &ce) && ce.IsUserFacing()
}

// Wrap adds context to err, returning nil for a nil err.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Package models contains the data structures used throughout the application.
package models

import (
	"errors"
	"fmt"
	"maps"
)

// ErrorKind classifies an engine error independently of any transport.
// Handlers translate kinds to HTTP statuses or RPC error codes at the edge;
// the engine itself never leaks store or transport error strings to callers.
type ErrorKind string

const (
	// KindNotFound indicates an unknown room, member or queue entry.
	KindNotFound ErrorKind = "not_found"
	// KindConflict indicates a uniqueness violation, such as a duplicate
	// room code or a competing active membership row.
	KindConflict ErrorKind = "conflict"
	// KindUnauthorized indicates the caller is unknown or lacks authority
	// for the operation, such as a non-host sending a host command.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindFailedPrecondition indicates the room is not in a state that
	// permits the operation, such as joining an inactive room.
	KindFailedPrecondition ErrorKind = "failed_precondition"
	// KindInvalid indicates malformed input: bad UUIDs, out-of-range
	// values, unknown event types on a stream.
	KindInvalid ErrorKind = "invalid"
	// KindTransient indicates a store or pub/sub failure that survived one
	// internal retry and may succeed later.
	KindTransient ErrorKind = "transient"
	// KindInternal indicates a violated invariant; details are logged.
	KindInternal ErrorKind = "internal"
)

// Common error values for domain-specific failures.
var (
	// Room errors
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomNotActive   = errors.New("room is not active")
	ErrRoomCodeTaken   = errors.New("room code already in use")
	ErrRoomClosed      = errors.New("room has been closed")
	ErrHostNotAttached = errors.New("host is not connected")

	// Membership errors
	ErrMemberNotFound  = errors.New("member not found")
	ErrAlreadyMember   = errors.New("user already has an active membership")
	ErrNotHost         = errors.New("not host")
	ErrHostCannotLeave = errors.New("host must close or hand off the room")

	// Queue errors
	ErrQueuePositionNotFound = errors.New("queue position not found")
	ErrQueueFull             = errors.New("room queue is full")

	// Validation errors
	ErrInvalidID       = errors.New("invalid ID format")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnknownEvent    = errors.New("unknown event type")
	ErrInvalidPosition = errors.New("invalid playback position")

	// Authentication errors
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrRateLimited  = errors.New("too many requests")

	// System errors
	ErrStoreUnavailable  = errors.New("store temporarily unavailable")
	ErrPubSubUnavailable = errors.New("pub/sub connection lost")
	ErrInternalServer    = errors.New("internal server error")
)

// EngineError is the structured error the engine surfaces to its callers.
type EngineError struct {
	// Original is the underlying error, kept for logs; never serialized.
	Original error

	// Kind classifies the failure per the engine taxonomy.
	Kind ErrorKind

	// Message is a short, caller-safe description.
	Message string

	// Details contains additional context for the error
	Details map[string]any
}

// Error returns the error message
func (e *EngineError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Original != nil {
		return e.Original.Error()
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Original
}

// WithDetails adds details to the error
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	maps.Copy(e.Details, details)
	return e
}

// newEngineError creates an EngineError of the given kind.
func newEngineError(kind ErrorKind, err error, message string) *EngineError {
	if message == "" && err != nil {
		message = err.Error()
	}

	return &EngineError{
		Original: err,
		Kind:     kind,
		Message:  message,
	}
}

// NewNotFound wraps err as a NotFound error.
func NewNotFound(err error, message string) *EngineError {
	return newEngineError(KindNotFound, err, message)
}

// NewConflict wraps err as a Conflict error.
func NewConflict(err error, message string) *EngineError {
	return newEngineError(KindConflict, err, message)
}

// NewUnauthorized wraps err as an Unauthorized error.
func NewUnauthorized(err error, message string) *EngineError {
	return newEngineError(KindUnauthorized, err, message)
}

// NewFailedPrecondition wraps err as a FailedPrecondition error.
func NewFailedPrecondition(err error, message string) *EngineError {
	return newEngineError(KindFailedPrecondition, err, message)
}

// NewInvalid wraps err as an Invalid error.
func NewInvalid(err error, message string) *EngineError {
	return newEngineError(KindInvalid, err, message)
}

// NewTransient wraps err as a Transient error. The raw cause stays out of
// the caller-visible message.
func NewTransient(err error, message string) *EngineError {
	if message == "" {
		message = ErrStoreUnavailable.Error()
	}
	e := newEngineError(KindTransient, err, message)
	e.Message = message
	return e
}

// NewInternal wraps err as an Internal error. The raw cause stays out of
// the caller-visible message.
func NewInternal(err error, message string) *EngineError {
	if message == "" {
		message = "an internal error occurred"
	}
	e := newEngineError(KindInternal, err, message)
	e.Message = message
	return e
}

// KindOf returns the taxonomy kind for err, defaulting to Internal for
// errors the engine did not classify.
func KindOf(err error) ErrorKind {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsUnauthorized reports whether err is an Unauthorized error.
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }

// IsFailedPrecondition reports whether err is a FailedPrecondition error.
func IsFailedPrecondition(err error) bool { return KindOf(err) == KindFailedPrecondition }

// IsInvalid reports whether err is an Invalid error.
func IsInvalid(err error) bool { return KindOf(err) == KindInvalid }

// IsTransient reports whether err is a Transient error.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// Invalidf builds an Invalid error from a format string.
func Invalidf(format string, args ...any) *EngineError {
	return NewInvalid(nil, fmt.Sprintf(format, args...))
}

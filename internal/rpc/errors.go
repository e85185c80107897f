package rpc

import (
	"errors"
	"fmt"

	"norelock.dev/syncroom/backend/internal/models"
)

// ErrorCode is a type for JSON-RPC error codes.
type ErrorCode int

// JSON-RPC 2.0 error codes
const (
	// Parse error: Invalid JSON was received by the server.
	ErrParseError ErrorCode = -32700

	// Invalid Request: The JSON sent is not a valid Request object.
	ErrInvalidRequest ErrorCode = -32600

	// Method not found: The method does not exist / is not available.
	ErrMethodNotFound ErrorCode = -32601

	// Invalid params: Invalid method parameter(s).
	ErrInvalidParams ErrorCode = -32602

	// Internal error: Internal JSON-RPC error.
	ErrInternalError ErrorCode = -32603

	// Server error: Reserved for implementation-defined server-errors.
	ErrServerError ErrorCode = -32000

	// Authentication error: The client is not authenticated.
	ErrAuthenticationRequired ErrorCode = -32001

	// Authorization error: The client is not authorized to perform the requested action.
	ErrNotAuthorized ErrorCode = -32002

	// Rate limit exceeded: The client has exceeded the rate limit.
	ErrRateLimitExceeded ErrorCode = -32003

	// Invalid token: The provided token is invalid or expired.
	ErrTokenInvalid ErrorCode = -32004
)

// Engine error codes map the engine taxonomy onto the wire.
const (
	// Not found: The referenced room, member or queue entry does not exist.
	ErrNotFound ErrorCode = -32100

	// Conflict: The request lost a uniqueness race, such as a room code collision.
	ErrConflict ErrorCode = -32101

	// Failed precondition: The room state does not permit the operation.
	ErrFailedPrecondition ErrorCode = -32102

	// Unavailable: A backing store failed and the request may succeed on retry.
	ErrUnavailable ErrorCode = -32103
)

// String returns a string representation of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrParseError:
		return "Parse error"
	case ErrInvalidRequest:
		return "Invalid request"
	case ErrMethodNotFound:
		return "Method not found"
	case ErrInvalidParams:
		return "Invalid params"
	case ErrInternalError:
		return "Internal error"
	case ErrServerError:
		return "Server error"
	case ErrAuthenticationRequired:
		return "Authentication required"
	case ErrNotAuthorized:
		return "Not authorized"
	case ErrRateLimitExceeded:
		return "Rate limit exceeded"
	case ErrTokenInvalid:
		return "Invalid token"
	case ErrNotFound:
		return "Not found"
	case ErrConflict:
		return "Conflict"
	case ErrFailedPrecondition:
		return "Failed precondition"
	case ErrUnavailable:
		return "Unavailable"
	default:
		return fmt.Sprintf("Unknown error code: %d", c)
	}
}

// Error creates a new Error with this code and its default message.
func (c ErrorCode) Error() *Error {
	return NewError(c, c.String(), nil)
}

// ErrorWith creates a new Error with this code, its default message, and
// the provided data.
func (c ErrorCode) ErrorWith(data any) *Error {
	return NewError(c, c.String(), data)
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data carries additional information about the error.
	Data any `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// NewError creates a new Error with the given code, message, and data.
func NewError(code ErrorCode, message string, data any) *Error {
	return &Error{
		Code:    int(code),
		Message: message,
		Data:    data,
	}
}

// NewParseError creates a new parse error.
func NewParseError(data any) *Error {
	return NewError(ErrParseError, ErrParseError.String(), data)
}

// NewInvalidRequestError creates a new invalid request error.
func NewInvalidRequestError(data any) *Error {
	return NewError(ErrInvalidRequest, ErrInvalidRequest.String(), data)
}

// NewMethodNotFoundError creates a new method not found error.
func NewMethodNotFoundError(method string) *Error {
	return NewError(ErrMethodNotFound, ErrMethodNotFound.String(), map[string]string{"method": method})
}

// NewInvalidParamsError creates a new invalid params error.
func NewInvalidParamsError(data any) *Error {
	return NewError(ErrInvalidParams, ErrInvalidParams.String(), data)
}

// NewInternalError creates a new internal error.
func NewInternalError(data any) *Error {
	return NewError(ErrInternalError, ErrInternalError.String(), data)
}

// FromEngineError translates an engine error into a JSON-RPC error. Kinds
// map to stable codes and the caller-safe engine message becomes the wire
// message; unclassified errors collapse to an internal error so raw store
// strings never reach clients.
func FromEngineError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var engineErr *models.EngineError
	if !errors.As(err, &engineErr) {
		return ErrInternalError.Error()
	}

	if errors.Is(err, models.ErrRateLimited) {
		return NewError(ErrRateLimitExceeded, engineErr.Message, nil)
	}

	code := ErrInternalError
	switch engineErr.Kind {
	case models.KindNotFound:
		code = ErrNotFound
	case models.KindConflict:
		code = ErrConflict
	case models.KindUnauthorized:
		code = ErrNotAuthorized
	case models.KindFailedPrecondition:
		code = ErrFailedPrecondition
	case models.KindInvalid:
		code = ErrInvalidParams
	case models.KindTransient:
		code = ErrUnavailable
	case models.KindInternal:
		return ErrInternalError.Error()
	}

	return NewError(code, engineErr.Message, nil)
}

// IsAuthError reports whether the error is an authentication or
// authorization failure.
func IsAuthError(err *Error) bool {
	if err == nil {
		return false
	}
	code := ErrorCode(err.Code)
	return code == ErrAuthenticationRequired || code == ErrNotAuthorized || code == ErrTokenInvalid
}

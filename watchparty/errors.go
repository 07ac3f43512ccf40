package watchparty

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	// Protocol errors (from server ERROR events)
	ErrorUnknown ErrorCode = iota
	ErrorUnauthorized
	ErrorBadRequest
	ErrorRoomNotFound
	ErrorRoomDeleted
	ErrorRoomExpired
	ErrorAccessDenied
	ErrorRateLimited
	ErrorInternalServer

	// Client-side errors
	ErrorConnection
	ErrorDisconnected
	ErrorTimeout
	ErrorInvalidConfig
	ErrorNotConnected
	ErrorSerialization
	ErrorAutoplayBlocked
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorRoomNotFound:
		return "room_not_found"
	case ErrorRoomDeleted:
		return "room_deleted"
	case ErrorRoomExpired:
		return "room_expired"
	case ErrorAccessDenied:
		return "access_denied"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorInternalServer:
		return "internal_error"
	case ErrorConnection:
		return "connection_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorTimeout:
		return "timeout"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorAutoplayBlocked:
		return "autoplay_blocked"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ParseErrorCode converts a protocol error code string to ErrorCode.
func ParseErrorCode(code string) ErrorCode {
	switch code {
	case "unauthorized":
		return ErrorUnauthorized
	case "bad_request":
		return ErrorBadRequest
	case "room_not_found":
		return ErrorRoomNotFound
	case "room_deleted":
		return ErrorRoomDeleted
	case "room_expired":
		return ErrorRoomExpired
	case "access_denied":
		return ErrorAccessDenied
	case "rate_limited":
		return ErrorRateLimited
	case "internal_error":
		return ErrorInternalServer
	default:
		return ErrorUnknown
	}
}

// PartyError is a structured error with code and context.
type PartyError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *PartyError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *PartyError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is comparison by code.
func (e *PartyError) Is(target error) bool {
	t, ok := target.(*PartyError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new PartyError with the given code and message.
func NewError(code ErrorCode, message string) *PartyError {
	return &PartyError{Code: code, Message: message}
}

// WrapError wraps an existing error with a PartyError.
func WrapError(code ErrorCode, message string, err error) *PartyError {
	return &PartyError{Code: code, Message: message, Wrapped: err}
}

// FromErrorPayload converts a wire ERROR payload to a PartyError.
func FromErrorPayload(p ErrorPayload) *PartyError {
	return &PartyError{Code: ParseErrorCode(p.Code), Message: p.Msg}
}

// IsConnectionError checks whether err is a connection-level failure.
func IsConnectionError(err error) bool {
	var pe *PartyError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == ErrorConnection || pe.Code == ErrorDisconnected || pe.Code == ErrorTimeout
}

// IsTerminalRoomError checks whether err ends the room session: the room was
// deleted, expired, or no longer exists. These force teardown instead of a
// reconnect attempt.
func IsTerminalRoomError(err error) bool {
	var pe *PartyError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Code {
	case ErrorRoomDeleted, ErrorRoomExpired, ErrorRoomNotFound:
		return true
	}
	// Some brokers report deletion only through free-form internal errors.
	msg := strings.ToLower(pe.Message)
	return strings.Contains(msg, "deleted") || strings.Contains(msg, "expired")
}

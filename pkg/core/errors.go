package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error for the session core.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrConfiguration means a required credential or setting is absent.
	// Fatal for the attempt; no automatic retry.
	ErrConfiguration ErrorType = "configuration_error"
	// ErrPermission means the capture device could not be acquired.
	ErrPermission ErrorType = "permission_error"
	// ErrChannel means the duplex transport failed during or after connect.
	ErrChannel ErrorType = "channel_error"
	// ErrDecode means a single inbound event was malformed. Decode errors
	// are logged and skipped; they never abort a session.
	ErrDecode ErrorType = "decode_error"
	// ErrInvalidState means an operation is not allowed in the current
	// lifecycle state (for example starting while already listening).
	ErrInvalidState ErrorType = "invalid_state_error"
)

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string) *Error {
	return &Error{Type: ErrConfiguration, Message: message}
}

// NewPermissionError creates a permission error wrapping the device failure.
func NewPermissionError(message string, cause error) *Error {
	return &Error{Type: ErrPermission, Message: message, Cause: cause}
}

// NewChannelError creates a channel error wrapping the transport failure.
func NewChannelError(message string, cause error) *Error {
	return &Error{Type: ErrChannel, Message: message, Cause: cause}
}

// NewDecodeError creates a decode error for one malformed inbound event.
func NewDecodeError(message string, cause error) *Error {
	return &Error{Type: ErrDecode, Message: message, Cause: cause}
}

// NewInvalidStateError creates an invalid state error.
func NewInvalidStateError(message string) *Error {
	return &Error{Type: ErrInvalidState, Message: message}
}

// IsFatal reports whether the error must tear the session down.
// Decode errors are local: the offending event is skipped and the
// session keeps running.
func (e *Error) IsFatal() bool {
	return e.Type != ErrDecode
}

// TypeOf returns the ErrorType of err, or an empty type when err is not
// a core error.
func TypeOf(err error) ErrorType {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Type
	}
	return ""
}

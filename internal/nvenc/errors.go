package nvenc

import (
	"errors"
	"fmt"
)

// SessionError is a classified encoder session failure.
type SessionError struct {
	Code    string
	Message string
	Cause   error
}

func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Cause
}

// Is matches any SessionError with the same code, so the Err* values below
// work with errors.Is.
func (e *SessionError) Is(target error) bool {
	var t *SessionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeDriverUnavailable        = "DRIVER_UNAVAILABLE"
	ErrCodeDeviceCreationFailed     = "DEVICE_CREATION_FAILED"
	ErrCodeEncoderCreationFailed    = "ENCODER_CREATION_FAILED"
	ErrCodeResourceAllocationFailed = "RESOURCE_ALLOCATION_FAILED"
	ErrCodeUnsupportedConfiguration = "UNSUPPORTED_CONFIGURATION"
	ErrCodeAlreadyInitialized       = "ALREADY_INITIALIZED"
	ErrCodeNotInitialized           = "NOT_INITIALIZED"
	ErrCodeUnsupportedPixelFormat   = "UNSUPPORTED_PIXEL_FORMAT"
	ErrCodeInvalidFrame             = "INVALID_FRAME"
	ErrCodeEncodeFailed             = "ENCODE_FAILED"
	ErrCodeFlushFailed              = "FLUSH_FAILED"
)

// Sentinels for errors.Is comparisons.
var (
	ErrDriverUnavailable        = &SessionError{Code: ErrCodeDriverUnavailable}
	ErrDeviceCreationFailed     = &SessionError{Code: ErrCodeDeviceCreationFailed}
	ErrEncoderCreationFailed    = &SessionError{Code: ErrCodeEncoderCreationFailed}
	ErrResourceAllocationFailed = &SessionError{Code: ErrCodeResourceAllocationFailed}
	ErrUnsupportedConfiguration = &SessionError{Code: ErrCodeUnsupportedConfiguration}
	ErrAlreadyInitialized       = &SessionError{Code: ErrCodeAlreadyInitialized}
	ErrNotInitialized           = &SessionError{Code: ErrCodeNotInitialized}
	ErrUnsupportedPixelFormat   = &SessionError{Code: ErrCodeUnsupportedPixelFormat}
	ErrInvalidFrame             = &SessionError{Code: ErrCodeInvalidFrame}
	ErrEncodeFailed             = &SessionError{Code: ErrCodeEncodeFailed}
	ErrFlushFailed              = &SessionError{Code: ErrCodeFlushFailed}
)

// NewSessionError creates a new session error
func NewSessionError(code, message string, cause error) *SessionError {
	return &SessionError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the SessionError code in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Authentication errors
	ErrCodeAuthRequired       ErrorCode = "AUTH_REQUIRED"
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"

	// Access policy errors
	ErrCodeForbidden     ErrorCode = "FORBIDDEN"
	ErrCodeCSRFInvalid   ErrorCode = "CSRF_INVALID"
	ErrCodeIPNotAllowed  ErrorCode = "IP_NOT_ALLOWED"
	ErrCodeHTTPSRequired ErrorCode = "HTTPS_REQUIRED"
	ErrCodeRateLimited   ErrorCode = "RATE_LIMITED"

	// Configuration errors
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"

	// Process supervision errors
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeAlreadyRunning  ErrorCode = "ALREADY_RUNNING"
	ErrCodeCommandTimeout  ErrorCode = "COMMAND_TIMEOUT"
	ErrCodeCommandNotFound ErrorCode = "COMMAND_NOT_FOUND"
	ErrCodeCommandFailed   ErrorCode = "COMMAND_FAILED"

	// Tunnel errors
	ErrCodeTunnelDiscovery ErrorCode = "TUNNEL_DISCOVERY"

	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
)

// PanelError represents a structured error with context
type PanelError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *PanelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *PanelError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *PanelError) WithDetail(key string, value interface{}) *PanelError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *PanelError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new PanelError
func New(code ErrorCode, message string) *PanelError {
	return &PanelError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a PanelError
func Wrap(err error, code ErrorCode, message string) *PanelError {
	return &PanelError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// As returns the outermost PanelError in err's chain.
func As(err error) (*PanelError, bool) {
	var panelErr *PanelError
	if errors.As(err, &panelErr) {
		return panelErr, true
	}
	return nil, false
}

// Is checks if an error is a specific PanelError code
func Is(err error, code ErrorCode) bool {
	panelErr, ok := As(err)
	if !ok {
		return false
	}
	return panelErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	panelErr, ok := As(err)
	if !ok {
		return ""
	}
	return panelErr.Code
}

// Message returns the operator-facing message of err. PanelErrors report
// their message without the code prefix or cause.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if panelErr, ok := As(err); ok {
		return panelErr.Message
	}
	return err.Error()
}

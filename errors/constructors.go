package errors

import (
	"fmt"
	"os/exec"
	"time"
)

// Unauthorized creates an authentication required error
func Unauthorized() *PanelError {
	return New(ErrCodeAuthRequired, "Unauthorized")
}

// InvalidCredentials creates a bad password error
func InvalidCredentials() *PanelError {
	return New(ErrCodeInvalidCredentials, "Invalid credentials")
}

// IPNotAllowed creates an allow-list rejection
func IPNotAllowed(ip string) *PanelError {
	return New(ErrCodeIPNotAllowed, "IP not allowed.").WithDetail("ip", ip)
}

// HTTPSRequired creates an HTTPS policy rejection
func HTTPSRequired() *PanelError {
	return New(ErrCodeHTTPSRequired, "HTTPS is required for remote access.")
}

// CSRFInvalid creates a CSRF mismatch error
func CSRFInvalid() *PanelError {
	return New(ErrCodeCSRFInvalid, "Missing or invalid CSRF token.")
}

// RateLimited creates a login throttle error
func RateLimited() *PanelError {
	return New(ErrCodeRateLimited, "Too many login attempts. Try again later.")
}

// InvalidInput creates a boundary validation error
func InvalidInput(format string, args ...interface{}) *PanelError {
	return New(ErrCodeInvalidInput, fmt.Sprintf(format, args...))
}

// Conflict creates a conflict error for a busy resource
func Conflict(message string) *PanelError {
	return New(ErrCodeConflict, message)
}

// AlreadyRunning creates a singleton slot conflict
func AlreadyRunning(kind string, pid int) *PanelError {
	return New(ErrCodeAlreadyRunning, fmt.Sprintf("%s is already running.", kind)).
		WithDetail("kind", kind).
		WithDetail("pid", pid)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *PanelError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// CommandTimeout creates a watchdog expiry error
func CommandTimeout(timeout time.Duration) *PanelError {
	return New(ErrCodeCommandTimeout,
		fmt.Sprintf("Command timed out after %dms", timeout.Milliseconds())).
		WithDetail("timeoutMs", timeout.Milliseconds())
}

// CommandNotFound creates a missing binary error
func CommandNotFound(name string, err error) *PanelError {
	return Wrap(err, ErrCodeCommandNotFound, fmt.Sprintf("command not found: %s", name)).
		WithDetail("command", name)
}

// CommandFailed creates a command execution failure error
func CommandFailed(cmd string, err error) *PanelError {
	panelErr := Wrap(err, ErrCodeCommandFailed, fmt.Sprintf("command failed: %s", cmd)).
		WithDetail("command", cmd)

	// Extract exit code if available
	if exitErr, ok := err.(*exec.ExitError); ok {
		panelErr = panelErr.WithDetail("exitCode", exitErr.ExitCode())
	}

	return panelErr
}

// NotFound creates a missing resource error
func NotFound(what string) *PanelError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found.", what))
}

// TunnelDiscovery creates a tunnel startup failure
func TunnelDiscovery(message string) *PanelError {
	return New(ErrCodeTunnelDiscovery, message)
}

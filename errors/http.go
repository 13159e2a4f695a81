package errors

import "net/http"

// HTTPStatus maps an error to the status code the API responds with.
// Errors without a PanelError in their chain are internal.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case ErrCodeAuthRequired, ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case ErrCodeForbidden, ErrCodeCSRFInvalid, ErrCodeIPNotAllowed, ErrCodeHTTPSRequired, ErrCodeRateLimited:
		return http.StatusForbidden
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeAlreadyRunning, ErrCodeCommandTimeout, ErrCodeTunnelDiscovery:
		// A timed-out command or a tunnel that never came up is reported as
		// a failed operation on the busy resource, not a gateway error.
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

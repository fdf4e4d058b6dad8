package errors

import "fmt"

type ErrorCode string

const (
	// Generic API errors
	ErrInternalServer             ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrInvalidInput               ErrorCode = "INVALID_INPUT"
	ErrInvalidRequestData         ErrorCode = "INVALID_REQUEST_DATA"
	ErrNotFound                   ErrorCode = "NOT_FOUND"
	ErrAlreadyExists              ErrorCode = "ALREADY_EXISTS"
	ErrUnauthorized               ErrorCode = "UNAUTHORIZED"
	ErrForbidden                  ErrorCode = "FORBIDDEN"
	ErrTokenExpired               ErrorCode = "TOKEN_EXPIRED"
	ErrInvalidTokenFormat         ErrorCode = "INVALID_TOKEN_FORMAT"
	ErrMissingAuthorizationHeader ErrorCode = "MISSING_AUTHORIZATION_HEADER"

	// Calendar sync taxonomy
	ErrInvalidZone             ErrorCode = "INVALID_ZONE"
	ErrAuthExpired             ErrorCode = "AUTH_EXPIRED"
	ErrReauthorizationRequired ErrorCode = "REAUTHORIZATION_REQUIRED"
	ErrOAuthStateMismatch      ErrorCode = "OAUTH_STATE_MISMATCH"
	ErrProviderRateLimited     ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrProviderUnavailable     ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrProviderRejected        ErrorCode = "PROVIDER_REJECTED"
	ErrCallbackTimeout         ErrorCode = "CALLBACK_TIMEOUT"
	ErrPopupBlocked            ErrorCode = "POPUP_BLOCKED"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Hint carries a human-actionable remediation step for UI surfacing.
	Hint string `json:"hint,omitempty"`
	Err  error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func NewAppErrorWithHint(code ErrorCode, message, hint string, err error) *AppError {
	return &AppError{Code: code, Message: message, Hint: hint, Err: err}
}

// IsAuthError reports whether the error means the stored grant is
// irrecoverable and automated sync must halt for the connection.
func IsAuthError(err error) bool {
	ae, ok := err.(*AppError)
	if !ok {
		return false
	}
	switch ae.Code {
	case ErrAuthExpired, ErrReauthorizationRequired, ErrUnauthorized:
		return true
	}
	return false
}

// IsRetryable reports whether the error is transient and worth retrying
// with backoff. Authorization failures are never retryable.
func IsRetryable(err error) bool {
	ae, ok := err.(*AppError)
	if !ok {
		return false
	}
	switch ae.Code {
	case ErrProviderRateLimited, ErrProviderUnavailable:
		return true
	}
	return false
}

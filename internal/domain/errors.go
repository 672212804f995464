package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failed gateway call. Codes mirror the backend's
// error envelope codes plus a few client-only conditions (network, timeout).
type ErrorCode string

const (
	ErrCodeNetwork        ErrorCode = "NETWORK_ERROR"        // no connectivity; request queued for replay
	ErrCodeAuthentication ErrorCode = "AUTHENTICATION_ERROR" // HTTP 401
	ErrCodeForbidden      ErrorCode = "FORBIDDEN"            // HTTP 403
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"     // HTTP 422, carries field details
	ErrCodeRateLimit      ErrorCode = "RATE_LIMIT_EXCEEDED"  // HTTP 429, carries Retry-After seconds
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"            // HTTP 404
	ErrCodeServer         ErrorCode = "SERVER_ERROR"         // HTTP 5xx, carries request id
	ErrCodeTimeout        ErrorCode = "TIMEOUT"              // client-side abort on the configured timeout
	ErrCodeAPI            ErrorCode = "API_ERROR"            // unclassified server failure
	ErrCodeUnknown        ErrorCode = "UNKNOWN_ERROR"        // unparseable or unclassified failure
)

// APIError is the typed error surfaced by the request gateway. Message is
// human-readable by convention; calling UI code displays it directly.
type APIError struct {
	Code       ErrorCode
	Message    string
	Details    map[string]any // field-level validation details, when present
	RequestID  string
	HTTPStatus int
	RetryAfter int // seconds, populated on rate-limit errors

	// RefreshAttempted marks an authentication error raised after a token
	// refresh was just triggered; the caller may resubmit the request.
	RefreshAttempted bool
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s: %s (request_id=%s)", e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the retry loop may re-attempt after this error.
// Authentication, validation and forbidden errors are caller or credential
// problems that retries cannot fix. An authentication error raised right
// after a refresh attempt is resubmittable by the caller, but still not
// retried automatically.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case ErrCodeAuthentication, ErrCodeValidation, ErrCodeForbidden:
		return false
	}
	return true
}

// NewAPIError constructs an APIError with the given code and message.
func NewAPIError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// AsAPIError unwraps err into an *APIError if one is in its chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// ErrCacheMiss is returned by ResponseCache implementations when no live
// entry exists for a key.
var ErrCacheMiss = errors.New("cache entry not found")

// ErrNoStoredTokens is returned by TokenStore implementations when no token
// pair has been persisted.
var ErrNoStoredTokens = errors.New("no stored tokens")

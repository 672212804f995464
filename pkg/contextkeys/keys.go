package contextkeys

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for the X-Request-ID stamped onto an
	// outgoing request, so log lines for one call correlate.
	RequestIDKey contextKey = "request_id"

	// EndpointKey is the context key for the resolved endpoint path.
	EndpointKey contextKey = "endpoint"

	// SessionIDKey is the context key for the realtime channel session id.
	SessionIDKey contextKey = "session_id"
)

// String makes contextKey satisfy fmt.Stringer to help with debugging/logging
// of keys themselves.
func (c contextKey) String() string {
	return string(c)
}

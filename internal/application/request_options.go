package application

import (
	"net/http"
	"time"
)

// requestOptions carries the per-call knobs of Gateway.Do. Defaults come
// from configuration and are applied before the options run.
type requestOptions struct {
	method      string
	body        any
	headers     map[string]string
	timeout     time.Duration
	retries     int
	enableCache bool
	cacheTTL    time.Duration
}

// RequestOption customizes a single gateway call.
type RequestOption func(*requestOptions)

// WithMethod sets the HTTP method. Defaults to GET.
func WithMethod(method string) RequestOption {
	return func(o *requestOptions) { o.method = method }
}

// WithBody sets a JSON-serialized request body.
func WithBody(body any) RequestOption {
	return func(o *requestOptions) { o.body = body }
}

// WithHeader adds or overrides one request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// WithTimeout overrides the per-request timeout (default 30s).
func WithTimeout(timeout time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = timeout }
}

// WithRetries overrides how many retries follow a failed attempt
// (default 3). Zero disables retrying.
func WithRetries(retries int) RequestOption {
	return func(o *requestOptions) { o.retries = retries }
}

// WithCache enables response caching for this call. Only GET responses are
// cached; a non-positive ttl selects the configured default (5m).
func WithCache(ttl time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.enableCache = true
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

func (o *requestOptions) cacheable() bool {
	return o.enableCache && o.method == http.MethodGet
}

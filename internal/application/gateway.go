package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/pulsefit/pulsefit-client-go/internal/adapters/config"
	"github.com/pulsefit/pulsefit-client-go/internal/adapters/metrics"
	"github.com/pulsefit/pulsefit-client-go/internal/domain"
	"github.com/pulsefit/pulsefit-client-go/pkg/backoff"
	"github.com/pulsefit/pulsefit-client-go/pkg/contextkeys"
	"github.com/pulsefit/pulsefit-client-go/pkg/safego"
)

const (
	headerRequestID       = "X-Request-ID"
	headerClientTimestamp = "X-Client-Timestamp"
	headerClientVersion   = "X-Client-Version"
	headerAPIVersion      = "X-API-Version"
	headerRetryAfter      = "Retry-After"

	defaultRetryAfterSeconds = 60
)

// Gateway issues HTTP calls against the backend's REST surface. It applies
// bearer-token auth, caches GET responses on request, retries transient
// failures with exponential backoff, queues requests made while offline and
// classifies server errors into the typed taxonomy in internal/domain.
type Gateway struct {
	cfgProvider  config.Provider
	logger       domain.Logger
	cache        domain.ResponseCache
	tokenStore   domain.TokenStore
	connectivity domain.ConnectivityMonitor
	httpClient   *http.Client
	clock        clock.Clock

	tokenMu      sync.RWMutex
	accessToken  string
	refreshToken string

	refreshMu    sync.Mutex
	isRefreshing bool

	queue       *offlineQueue
	unsubscribe func()
}

// NewGateway constructs a Gateway. The previously persisted token pair is
// loaded best-effort: a load failure is logged, not fatal. The gateway
// subscribes to the connectivity monitor so the offline queue drains as soon
// as the network returns. A nil clk selects the real clock; a nil httpClient
// selects a default one.
func NewGateway(
	ctx context.Context,
	cfgProvider config.Provider,
	appLogger domain.Logger,
	cache domain.ResponseCache,
	tokenStore domain.TokenStore,
	connectivity domain.ConnectivityMonitor,
	httpClient *http.Client,
	clk clock.Clock,
) *Gateway {
	if cfgProvider == nil {
		panic("cfgProvider cannot be nil in NewGateway")
	}
	if appLogger == nil {
		panic("logger cannot be nil in NewGateway")
	}
	if cache == nil {
		panic("cache cannot be nil in NewGateway")
	}
	if clk == nil {
		clk = clock.New()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	g := &Gateway{
		cfgProvider:  cfgProvider,
		logger:       appLogger,
		cache:        cache,
		tokenStore:   tokenStore,
		connectivity: connectivity,
		httpClient:   httpClient,
		clock:        clk,
		queue:        newOfflineQueue(),
	}

	if tokenStore != nil {
		if tokens, err := tokenStore.Load(ctx); err == nil {
			g.tokenMu.Lock()
			g.accessToken = tokens.AccessToken
			g.refreshToken = tokens.RefreshToken
			g.tokenMu.Unlock()
			appLogger.Info(ctx, "Loaded persisted auth tokens")
		} else if !errors.Is(err, domain.ErrNoStoredTokens) {
			appLogger.Warn(ctx, "Failed to load persisted auth tokens", "error", err.Error())
		}
	}

	if connectivity != nil {
		g.unsubscribe = connectivity.Subscribe(func(online bool) {
			if online {
				safego.Execute(ctx, g.logger, "OfflineQueueDrain", func() {
					g.drainOfflineQueue(ctx)
				})
			}
		})
	}

	return g
}

// Close detaches the gateway from the connectivity monitor.
func (g *Gateway) Close() {
	if g.unsubscribe != nil {
		g.unsubscribe()
	}
}

// Get issues a GET request.
func (g *Gateway) Get(ctx context.Context, endpoint string, opts ...RequestOption) (*domain.APIResponse, error) {
	return g.Do(ctx, endpoint, append(opts, WithMethod(http.MethodGet))...)
}

// Post issues a POST request with a JSON body.
func (g *Gateway) Post(ctx context.Context, endpoint string, body any, opts ...RequestOption) (*domain.APIResponse, error) {
	return g.Do(ctx, endpoint, append(opts, WithMethod(http.MethodPost), WithBody(body))...)
}

// Put issues a PUT request with a JSON body.
func (g *Gateway) Put(ctx context.Context, endpoint string, body any, opts ...RequestOption) (*domain.APIResponse, error) {
	return g.Do(ctx, endpoint, append(opts, WithMethod(http.MethodPut), WithBody(body))...)
}

// Patch issues a PATCH request with a JSON body.
func (g *Gateway) Patch(ctx context.Context, endpoint string, body any, opts ...RequestOption) (*domain.APIResponse, error) {
	return g.Do(ctx, endpoint, append(opts, WithMethod(http.MethodPatch), WithBody(body))...)
}

// Delete issues a DELETE request.
func (g *Gateway) Delete(ctx context.Context, endpoint string, opts ...RequestOption) (*domain.APIResponse, error) {
	return g.Do(ctx, endpoint, append(opts, WithMethod(http.MethodDelete))...)
}

// Do runs the full request pipeline: URL resolution, cache check,
// connectivity check, then execution under the retry policy.
//
// A request made while offline is queued for replay and fails immediately
// with ErrCodeNetwork; the queued replay happens later and its result is not
// delivered to this caller.
func (g *Gateway) Do(ctx context.Context, endpoint string, opts ...RequestOption) (*domain.APIResponse, error) {
	options := g.defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	fullURL := g.resolveURL(endpoint)
	ctx = context.WithValue(ctx, contextkeys.EndpointKey, endpoint)

	var bodyBytes []byte
	if options.body != nil {
		var err error
		bodyBytes, err = json.Marshal(options.body)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize request body: %w", err)
		}
	}

	cacheKey := buildCacheKey(options.method, fullURL, bodyBytes)
	if options.cacheable() {
		if entry, err := g.cache.Get(ctx, cacheKey); err == nil {
			metrics.IncrementRequests(options.method, "cache_hit")
			g.logger.Debug(ctx, "Response served from cache", "cache_key", cacheKey)
			var cached domain.APIResponse
			if err := json.Unmarshal(entry.Data, &cached); err == nil {
				return &cached, nil
			}
			// A corrupt entry falls through to a real request.
			g.logger.Warn(ctx, "Failed to decode cached response; refetching", "cache_key", cacheKey)
		} else if !errors.Is(err, domain.ErrCacheMiss) {
			g.logger.Warn(ctx, "Response cache lookup failed", "cache_key", cacheKey, "error", err.Error())
		}
	}

	if g.connectivity != nil && !g.connectivity.Online() {
		g.queue.push(offlineItem{
			method:  options.method,
			url:     fullURL,
			body:    bodyBytes,
			options: options,
		})
		metrics.SetOfflineQueueDepth(g.queue.len())
		metrics.IncrementRequests(options.method, "offline_queued")
		g.logger.Info(ctx, "Request queued while offline", "method", options.method, "url", fullURL, "queue_depth", g.queue.len())
		return nil, &domain.APIError{
			Code:    domain.ErrCodeNetwork,
			Message: "No network connection. Request queued and will be sent when connection is restored.",
		}
	}

	resp, raw, err := g.executeWithRetry(ctx, fullURL, bodyBytes, options)
	if err != nil {
		return nil, err
	}

	if options.cacheable() {
		if cacheErr := g.cache.Set(ctx, cacheKey, raw, options.cacheTTL); cacheErr != nil {
			g.logger.Warn(ctx, "Failed to cache response", "cache_key", cacheKey, "error", cacheErr.Error())
		}
	}
	return resp, nil
}

// executeWithRetry wraps executeOnce in the exponential backoff policy:
// up to options.retries retries after the initial attempt, with delays of
// base, 2*base, 4*base, ... Authentication, validation and forbidden errors
// are never retried; everything else retries until attempts are exhausted
// and the last error propagates.
func (g *Gateway) executeWithRetry(ctx context.Context, fullURL string, body []byte, options requestOptions) (*domain.APIResponse, []byte, error) {
	policy := backoff.Policy{Base: g.cfgProvider.Get().API.RetryBaseDelay()}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, raw, err := g.executeOnce(ctx, fullURL, body, options)
		if err == nil {
			metrics.IncrementRequests(options.method, "success")
			return resp, raw, nil
		}
		lastErr = err

		apiErr, ok := domain.AsAPIError(err)
		if ok {
			metrics.IncrementRequests(options.method, string(apiErr.Code))
		} else {
			metrics.IncrementRequests(options.method, "error")
		}
		if ok && !apiErr.Retryable() {
			return nil, nil, err
		}
		if attempt >= options.retries {
			return nil, nil, lastErr
		}

		delay := policy.Delay(attempt)
		g.logger.Warn(ctx, "Request failed, retrying",
			"url", fullURL, "attempt", attempt+1, "retries_left", options.retries-attempt, "delay", delay.String(), "error", err.Error())
		metrics.RetriesTotal.Inc()

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-g.clock.After(delay):
		}
	}
}

// executeOnce performs a single HTTP attempt and classifies its outcome.
// The returned raw bytes are the marshaled envelope used for caching.
func (g *Gateway) executeOnce(ctx context.Context, fullURL string, body []byte, options requestOptions) (*domain.APIResponse, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, options.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, options.method, fullURL, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestID)
	req.Header.Set(headerClientTimestamp, strconv.FormatInt(g.clock.Now().UnixMilli(), 10))
	req.Header.Set(headerClientVersion, g.cfgProvider.Get().App.Version())
	if token := g.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range options.headers {
		req.Header.Set(k, v)
	}

	logCtx := context.WithValue(ctx, contextkeys.RequestIDKey, requestID)
	start := g.clock.Now()

	resp, err := g.httpClient.Do(req)
	if err != nil {
		// A deadline on the per-request context (not the caller's) is the
		// configured timeout firing.
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			g.logger.Warn(logCtx, "Request timed out", "url", fullURL, "timeout", options.timeout.String())
			return nil, nil, &domain.APIError{
				Code:      domain.ErrCodeTimeout,
				Message:   "Request timed out",
				RequestID: requestID,
			}
		}
		return nil, nil, &domain.APIError{
			Code:      domain.ErrCodeUnknown,
			Message:   fmt.Sprintf("Request failed: %v", err),
			RequestID: requestID,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &domain.APIError{
			Code:      domain.ErrCodeUnknown,
			Message:   fmt.Sprintf("Failed to read response body: %v", err),
			RequestID: requestID,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, g.classifyError(logCtx, resp, respBody, requestID)
	}

	var envelope domain.APIResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, nil, &domain.APIError{
			Code:       domain.ErrCodeUnknown,
			Message:    "Failed to parse response body",
			RequestID:  requestID,
			HTTPStatus: resp.StatusCode,
		}
	}

	if envelope.Meta == nil {
		envelope.Meta = &domain.ResponseMeta{}
	}
	envelope.Meta.ProcessingMS = g.clock.Since(start).Milliseconds()
	if id := resp.Header.Get(headerRequestID); id != "" {
		envelope.Meta.RequestID = id
	} else if envelope.Meta.RequestID == "" {
		envelope.Meta.RequestID = requestID
	}
	if v := resp.Header.Get(headerAPIVersion); v != "" {
		envelope.Meta.APIVersion = v
	}

	raw, err := json.Marshal(&envelope)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to re-encode response envelope: %w", err)
	}
	return &envelope, raw, nil
}

// classifyError maps a non-2xx response onto the typed error taxonomy. The
// server's error envelope is used when it parses; otherwise a generic error
// is synthesized from the HTTP status.
func (g *Gateway) classifyError(ctx context.Context, resp *http.Response, body []byte, requestID string) error {
	payload := domain.ErrorPayload{
		Code:    "HTTP_ERROR",
		Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
	var envelope domain.APIResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		payload = *envelope.Error
	}
	if payload.RequestID == "" {
		payload.RequestID = requestID
	}

	apiErr := &domain.APIError{
		Message:    payload.Message,
		Details:    payload.Details,
		RequestID:  payload.RequestID,
		HTTPStatus: resp.StatusCode,
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		apiErr.Code = domain.ErrCodeAuthentication
		if g.AccessToken() != "" {
			attempted := g.tryRefreshTokens(ctx)
			apiErr.RefreshAttempted = attempted
			if attempted {
				apiErr.Message = "Session expired. Please retry your request."
			}
		}
	case http.StatusForbidden:
		apiErr.Code = domain.ErrCodeForbidden
	case http.StatusUnprocessableEntity:
		apiErr.Code = domain.ErrCodeValidation
	case http.StatusTooManyRequests:
		apiErr.Code = domain.ErrCodeRateLimit
		apiErr.RetryAfter = defaultRetryAfterSeconds
		if after := resp.Header.Get(headerRetryAfter); after != "" {
			if seconds, err := strconv.Atoi(after); err == nil {
				apiErr.RetryAfter = seconds
			}
		}
	case http.StatusNotFound:
		apiErr.Code = domain.ErrCodeNotFound
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		apiErr.Code = domain.ErrCodeServer
	default:
		apiErr.Code = domain.ErrCodeAPI
		if payload.Code != "" && payload.Code != "HTTP_ERROR" {
			apiErr.Code = domain.ErrorCode(payload.Code)
		}
	}

	g.logger.Debug(ctx, "Request failed with API error",
		"status", resp.StatusCode, "code", string(apiErr.Code), "request_id", apiErr.RequestID)
	return apiErr
}

// tryRefreshTokens runs a token refresh unless one is already in flight.
// Returns whether a refresh attempt was actually made.
func (g *Gateway) tryRefreshTokens(ctx context.Context) bool {
	g.refreshMu.Lock()
	if g.isRefreshing {
		g.refreshMu.Unlock()
		return false
	}
	g.isRefreshing = true
	g.refreshMu.Unlock()

	defer func() {
		g.refreshMu.Lock()
		g.isRefreshing = false
		g.refreshMu.Unlock()
	}()

	if err := g.refreshTokens(ctx); err != nil {
		g.logger.Warn(ctx, "Token refresh failed", "error", err.Error())
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return true
	}
	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	return true
}

// refreshTokens exchanges the stored refresh token for a new pair. Any
// failure clears all local auth state, forcing re-authentication.
func (g *Gateway) refreshTokens(ctx context.Context) error {
	g.tokenMu.RLock()
	refresh := g.refreshToken
	g.tokenMu.RUnlock()

	if refresh == "" {
		g.ClearTokens(ctx)
		return &domain.APIError{
			Code:    domain.ErrCodeAuthentication,
			Message: "No refresh token available",
		}
	}

	cfg := g.cfgProvider.Get()
	refreshURL := g.resolveURL(cfg.API.RefreshPath)

	payload, err := json.Marshal(map[string]string{"refreshToken": refresh})
	if err != nil {
		return fmt.Errorf("failed to serialize refresh payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.API.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, refreshURL, bytes.NewReader(payload))
	if err != nil {
		g.ClearTokens(ctx)
		return fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.ClearTokens(ctx)
		return fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.ClearTokens(ctx)
		return fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.ClearTokens(ctx)
		return &domain.APIError{
			Code:       domain.ErrCodeAuthentication,
			Message:    "Token refresh rejected",
			HTTPStatus: resp.StatusCode,
		}
	}

	var envelope domain.APIResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		g.ClearTokens(ctx)
		return fmt.Errorf("failed to parse refresh response: %w", err)
	}
	var tokens domain.TokenPair
	if err := envelope.DecodeData(&tokens); err != nil {
		g.ClearTokens(ctx)
		return fmt.Errorf("refresh response missing tokens: %w", err)
	}

	g.SetTokens(ctx, &tokens)
	g.logger.Info(ctx, "Auth tokens refreshed")
	return nil
}

// SetTokens installs a token pair in memory and persists it. Persistence is
// fire-and-forget: a write failure is logged but does not fail the call.
func (g *Gateway) SetTokens(ctx context.Context, tokens *domain.TokenPair) {
	g.tokenMu.Lock()
	g.accessToken = tokens.AccessToken
	g.refreshToken = tokens.RefreshToken
	g.tokenMu.Unlock()

	if g.tokenStore != nil {
		if err := g.tokenStore.Save(ctx, tokens); err != nil {
			g.logger.Warn(ctx, "Failed to persist auth tokens", "error", err.Error())
		}
	}
}

// ClearTokens wipes in-memory and persisted auth state.
func (g *Gateway) ClearTokens(ctx context.Context) {
	g.tokenMu.Lock()
	g.accessToken = ""
	g.refreshToken = ""
	g.tokenMu.Unlock()

	if g.tokenStore != nil {
		if err := g.tokenStore.Clear(ctx); err != nil {
			g.logger.Warn(ctx, "Failed to clear persisted auth tokens", "error", err.Error())
		}
	}
}

// AccessToken returns the current in-memory access token, empty when
// unauthenticated.
func (g *Gateway) AccessToken() string {
	g.tokenMu.RLock()
	defer g.tokenMu.RUnlock()
	return g.accessToken
}

// ClearCache empties the whole response cache. There is no per-resource
// granularity; service layers call this after cache-invalidating mutations.
func (g *Gateway) ClearCache(ctx context.Context) error {
	return g.cache.Clear(ctx)
}

// CacheStats exposes cache size and keys for diagnostics.
func (g *Gateway) CacheStats(ctx context.Context) (domain.CacheStats, error) {
	return g.cache.Stats(ctx)
}

// OfflineQueueLen reports how many requests await replay.
func (g *Gateway) OfflineQueueLen() int {
	return g.queue.len()
}

func (g *Gateway) defaultOptions() requestOptions {
	cfg := g.cfgProvider.Get()
	return requestOptions{
		method:   http.MethodGet,
		timeout:  cfg.API.Timeout(),
		retries:  cfg.API.RetryMax,
		cacheTTL: cfg.API.DefaultCacheTTL(),
	}
}

// resolveURL treats absolute endpoints as-is and prefixes relative ones with
// the configured base URL and API prefix.
func (g *Gateway) resolveURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	cfg := g.cfgProvider.Get()
	base := strings.TrimRight(cfg.API.BaseURL, "/")
	prefix := cfg.API.Prefix
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return base + prefix + endpoint
}

func buildCacheKey(method, fullURL string, body []byte) string {
	if len(body) == 0 {
		return method + ":" + fullURL
	}
	return method + ":" + fullURL + ":" + string(body)
}

package application

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/pulsefit-client-go/internal/adapters/cache"
	"github.com/pulsefit/pulsefit-client-go/internal/adapters/config"
	"github.com/pulsefit/pulsefit-client-go/internal/adapters/connectivity"
	"github.com/pulsefit/pulsefit-client-go/internal/adapters/logger"
	"github.com/pulsefit/pulsefit-client-go/internal/adapters/storage"
	"github.com/pulsefit/pulsefit-client-go/internal/domain"
)

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.API.BaseURL = baseURL
	cfg.API.Prefix = "/api/v1"
	cfg.API.RetryMax = 3
	cfg.API.RetryBaseDelayMs = 1
	cfg.API.RefreshPath = "/auth/refresh"
	cfg.App.ClientVersion = "1.2.3"
	return cfg
}

type gatewayFixture struct {
	gateway *Gateway
	monitor *connectivity.ManualMonitor
	cache   *cache.Memory
	clock   *clock.Mock
}

func newGatewayFixture(t *testing.T, baseURL string, mods ...func(*config.Config)) *gatewayFixture {
	t.Helper()

	cfg := testConfig(baseURL)
	for _, mod := range mods {
		mod(cfg)
	}
	mock := clock.NewMock()
	memCache := cache.NewMemory(mock)
	monitor := connectivity.NewManualMonitor(true)

	store, err := storage.NewFileTokenStore(t.TempDir() + "/tokens.json")
	require.NoError(t, err)

	g := NewGateway(
		context.Background(),
		&config.StaticProvider{Config: cfg},
		logger.NewNop(),
		memCache,
		store,
		monitor,
		nil,
		mock,
	)
	t.Cleanup(g.Close)

	return &gatewayFixture{gateway: g, monitor: monitor, cache: memCache, clock: mock}
}

// newRealClockFixture is for tests that exercise retry sleeps: the mock
// clock would park the backoff forever, so these use the real clock with a
// 1ms base delay.
func newRealClockFixture(t *testing.T, baseURL string, mods ...func(*config.Config)) *gatewayFixture {
	t.Helper()

	cfg := testConfig(baseURL)
	for _, mod := range mods {
		mod(cfg)
	}
	monitor := connectivity.NewManualMonitor(true)
	memCache := cache.NewMemory(nil)

	g := NewGateway(
		context.Background(),
		&config.StaticProvider{Config: cfg},
		logger.NewNop(),
		memCache,
		nil,
		monitor,
		nil,
		nil,
	)
	t.Cleanup(g.Close)

	return &gatewayFixture{gateway: g, monitor: monitor, cache: memCache}
}

func envelopeHandler(t *testing.T, data string, hits *int32, mu *sync.Mutex) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*hits++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":` + data + `}`))
	}
}

func TestCacheHitSkipsNetworkUntilTTL(t *testing.T) {
	var (
		mu   sync.Mutex
		hits int32
	)
	server := httptest.NewServer(envelopeHandler(t, `{"n":1}`, &hits, &mu))
	defer server.Close()

	f := newGatewayFixture(t, server.URL)
	ctx := context.Background()

	first, err := f.gateway.Get(ctx, "/workouts", WithCache(5*time.Minute))
	require.NoError(t, err)

	second, err := f.gateway.Get(ctx, "/workouts", WithCache(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data, "cached payload must be identical")

	mu.Lock()
	assert.EqualValues(t, 1, hits, "second call must not hit the network")
	mu.Unlock()

	// Past the TTL the next call goes back to the network and rewrites
	// the entry.
	f.clock.Add(5*time.Minute + time.Millisecond)
	_, err = f.gateway.Get(ctx, "/workouts", WithCache(5*time.Minute))
	require.NoError(t, err)
	mu.Lock()
	assert.EqualValues(t, 2, hits)
	mu.Unlock()

	stats, err := f.gateway.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, []string{"GET:" + server.URL + "/api/v1/workouts"}, stats.Keys)
}

func TestCacheOnlyAppliesToGet(t *testing.T) {
	var (
		mu   sync.Mutex
		hits int32
	)
	server := httptest.NewServer(envelopeHandler(t, `{"ok":true}`, &hits, &mu))
	defer server.Close()

	f := newGatewayFixture(t, server.URL)
	ctx := context.Background()

	_, err := f.gateway.Post(ctx, "/workouts", map[string]int{"reps": 10}, WithCache(time.Minute))
	require.NoError(t, err)
	_, err = f.gateway.Post(ctx, "/workouts", map[string]int{"reps": 10}, WithCache(time.Minute))
	require.NoError(t, err)

	mu.Lock()
	assert.EqualValues(t, 2, hits, "mutations are never served from cache")
	mu.Unlock()
}

func TestRetryServerErrorsUntilSuccess(t *testing.T) {
	var (
		mu   sync.Mutex
		hits int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"success":false,"error":{"code":"SERVER_ERROR","message":"overloaded"}}`))
			return
		}
		w.Write([]byte(`{"success":true,"data":{"ready":true}}`))
	}))
	defer server.Close()

	f := newRealClockFixture(t, server.URL)

	resp, err := f.gateway.Get(context.Background(), "/status")
	require.NoError(t, err)
	assert.True(t, resp.Success)

	mu.Lock()
	assert.Equal(t, 3, hits, "two failures then the successful attempt")
	mu.Unlock()
}

func TestRetriesExhaustedPropagatesLastError(t *testing.T) {
	var (
		mu   sync.Mutex
		hits int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	f := newRealClockFixture(t, server.URL)

	_, err := f.gateway.Get(context.Background(), "/status", WithRetries(2))
	require.Error(t, err)

	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrCodeServer, apiErr.Code)

	mu.Lock()
	assert.Equal(t, 3, hits, "initial attempt plus two retries")
	mu.Unlock()
}

func TestValidationAndAuthErrorsNeverRetry(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantCode domain.ErrorCode
	}{
		{
			name:     "validation",
			status:   http.StatusUnprocessableEntity,
			body:     `{"success":false,"error":{"code":"VALIDATION_ERROR","message":"email is invalid","details":{"email":"invalid format"}}}`,
			wantCode: domain.ErrCodeValidation,
		},
		{
			name:     "authentication",
			status:   http.StatusUnauthorized,
			body:     `{"success":false,"error":{"code":"AUTHENTICATION_ERROR","message":"missing token"}}`,
			wantCode: domain.ErrCodeAuthentication,
		},
		{
			name:     "forbidden",
			status:   http.StatusForbidden,
			body:     `{"success":false,"error":{"code":"FORBIDDEN","message":"not yours"}}`,
			wantCode: domain.ErrCodeForbidden,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var (
				mu   sync.Mutex
				hits int
			)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				hits++
				mu.Unlock()
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			f := newRealClockFixture(t, server.URL)

			_, err := f.gateway.Get(context.Background(), "/anything", WithRetries(5))
			require.Error(t, err)

			apiErr, ok := domain.AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, tc.wantCode, apiErr.Code)

			mu.Lock()
			assert.Equal(t, 1, hits, "must propagate on the first attempt")
			mu.Unlock()
		})
	}
}

func TestValidationErrorCarriesDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"success":false,"error":{"code":"VALIDATION_ERROR","message":"bad fields","details":{"email":"required"}}}`))
	}))
	defer server.Close()

	f := newGatewayFixture(t, server.URL)

	_, err := f.gateway.Post(context.Background(), "/auth/register", map[string]string{})
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "required", apiErr.Details["email"])
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "45")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"success":false,"error":{"code":"RATE_LIMIT_EXCEEDED","message":"slow down"}}`))
	}))
	defer server.Close()

	f := newGatewayFixture(t, server.URL)

	_, err := f.gateway.Get(context.Background(), "/feed", WithRetries(0))
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrCodeRateLimit, apiErr.Code)
	assert.Equal(t, 45, apiErr.RetryAfter)
}

func TestRateLimitDefaultsRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	f := newGatewayFixture(t, server.URL)

	_, err := f.gateway.Get(context.Background(), "/feed", WithRetries(0))
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 60, apiErr.RetryAfter)
}

func TestTimeoutSurfacesAsTimeoutError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	f := newRealClockFixture(t, server.URL)

	_, err := f.gateway.Get(context.Background(), "/slow", WithTimeout(20*time.Millisecond), WithRetries(0))
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrCodeTimeout, apiErr.Code)
	assert.True(t, apiErr.Retryable())
}

func TestOfflineRequestThrowsAndQueues(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		received = append(received, payload["id"])
		mu.Unlock()
		w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	defer server.Close()

	f := newRealClockFixture(t, server.URL)
	ctx := context.Background()

	f.monitor.SetOnline(false)

	_, err := f.gateway.Post(ctx, "/workouts", map[string]string{"id": "first"})
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok, "offline call must fail immediately")
	assert.Equal(t, domain.ErrCodeNetwork, apiErr.Code)

	_, err = f.gateway.Post(ctx, "/workouts", map[string]string{"id": "second"})
	require.Error(t, err)

	assert.Equal(t, 2, f.gateway.OfflineQueueLen())
	mu.Lock()
	assert.Empty(t, received, "nothing reaches the server while offline")
	mu.Unlock()

	f.monitor.SetOnline(true)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond, "queued requests replay on reconnect")

	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, received, "replay preserves enqueue order")
	mu.Unlock()
	assert.Zero(t, f.gateway.OfflineQueueLen())

	// Back online, a new request flows directly.
	_, err = f.gateway.Post(ctx, "/workouts", map[string]string{"id": "third"})
	require.NoError(t, err)
}

func TestExpiredTokenTriggersSingleRefresh(t *testing.T) {
	var (
		mu          sync.Mutex
		refreshHits int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/profile", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"error":{"code":"AUTHENTICATION_ERROR","message":"token expired"}}`))
	})
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		refreshHits++
		mu.Unlock()
		assert.Equal(t, "refresh-old", payload["refreshToken"])
		w.Write([]byte(`{"success":true,"data":{"accessToken":"access-new","refreshToken":"refresh-new"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := newGatewayFixture(t, server.URL)
	ctx := context.Background()
	f.gateway.SetTokens(ctx, &domain.TokenPair{AccessToken: "access-old", RefreshToken: "refresh-old"})

	_, err := f.gateway.Get(ctx, "/profile", WithRetries(0))
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrCodeAuthentication, apiErr.Code)
	assert.True(t, apiErr.RefreshAttempted, "caller may resubmit after the refresh")

	assert.Equal(t, "access-new", f.gateway.AccessToken())
	mu.Lock()
	assert.Equal(t, 1, refreshHits)
	mu.Unlock()
}

func TestRefreshFailureClearsAllTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/profile", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"error":{"code":"AUTHENTICATION_ERROR","message":"token expired"}}`))
	})
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"error":{"code":"AUTHENTICATION_ERROR","message":"refresh revoked"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := newGatewayFixture(t, server.URL)
	ctx := context.Background()
	f.gateway.SetTokens(ctx, &domain.TokenPair{AccessToken: "access-old", RefreshToken: "refresh-old"})

	_, err := f.gateway.Get(ctx, "/profile", WithRetries(0))
	require.Error(t, err)

	assert.Empty(t, f.gateway.AccessToken(), "unrecoverable 401 forces re-authentication")
}

func TestAuthenticatedCallSendsBearerAndStampedHeaders(t *testing.T) {
	var (
		mu  sync.Mutex
		got http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Header.Clone()
		mu.Unlock()
		w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	defer server.Close()

	f := newGatewayFixture(t, server.URL)
	ctx := context.Background()
	f.gateway.SetTokens(ctx, &domain.TokenPair{AccessToken: "abc123", RefreshToken: "r"})

	_, err := f.gateway.Get(ctx, "/me")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer abc123", got.Get("Authorization"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.NotEmpty(t, got.Get("X-Request-ID"))
	assert.NotEmpty(t, got.Get("X-Client-Timestamp"))
	assert.Equal(t, "1.2.3", got.Get("X-Client-Version"))
}

func TestClientVersionHeaderDefaultsWhenUnconfigured(t *testing.T) {
	var (
		mu  sync.Mutex
		got string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Header.Get("X-Client-Version")
		mu.Unlock()
		w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	defer server.Close()

	f := newGatewayFixture(t, server.URL, func(cfg *config.Config) {
		cfg.App.ClientVersion = ""
	})

	_, err := f.gateway.Get(context.Background(), "/me")
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, "dev", got, "the version header is always stamped")
	mu.Unlock()
}

func TestResponseMetaMergedFromHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", "req-42")
		w.Header().Set("X-API-Version", "2024-11")
		w.Write([]byte(`{"success":true,"data":{"ok":true}}`))
	}))
	defer server.Close()

	f := newGatewayFixture(t, server.URL)

	resp, err := f.gateway.Get(context.Background(), "/me")
	require.NoError(t, err)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, "req-42", resp.Meta.RequestID)
	assert.Equal(t, "2024-11", resp.Meta.APIVersion)
}

func TestAbsoluteEndpointBypassesPrefix(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	defer server.Close()

	f := newGatewayFixture(t, "http://unused.invalid")

	_, err := f.gateway.Get(context.Background(), server.URL+"/external/hook")
	require.NoError(t, err)
	assert.Equal(t, "/external/hook", gotPath)
}

func TestPersistedTokensLoadAtConstruction(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileTokenStore(dir + "/tokens.json")
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), &domain.TokenPair{AccessToken: "persisted", RefreshToken: "r"}))

	g := NewGateway(
		context.Background(),
		&config.StaticProvider{Config: testConfig("http://unused.invalid")},
		logger.NewNop(),
		cache.NewMemory(nil),
		store,
		connectivity.NewManualMonitor(true),
		nil,
		nil,
	)
	t.Cleanup(g.Close)

	assert.Equal(t, "persisted", g.AccessToken())
}

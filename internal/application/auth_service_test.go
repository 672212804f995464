package application

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/pulsefit-client-go/internal/adapters/logger"
	"github.com/pulsefit/pulsefit-client-go/internal/domain"
)

func newAuthFixture(t *testing.T) (*AuthService, *gatewayFixture, *http.ServeMux, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	f := newRealClockFixture(t, server.URL)
	svc := NewAuthService(f.gateway, logger.NewNop())
	return svc, f, mux, server
}

func TestLoginInstallsTokensForSubsequentCalls(t *testing.T) {
	svc, f, mux, _ := newAuthFixture(t)
	ctx := context.Background()

	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "lifter@example.com", creds.Email)
		assert.Equal(t, "hunter2", creds.Password)
		w.Write([]byte(`{"success":true,"data":{"user":{"id":"u1","displayName":"Lifter"},"tokens":{"accessToken":"at-1","refreshToken":"rt-1"}}}`))
	})

	var (
		mu   sync.Mutex
		auth string
	)
	mux.HandleFunc("/api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.Write([]byte(`{"success":true,"data":{"id":"u1"}}`))
	})

	session, err := svc.Login(ctx, "lifter@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "at-1", session.Tokens.AccessToken)
	assert.Equal(t, "at-1", f.gateway.AccessToken())

	_, err = f.gateway.Get(ctx, "/me")
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, "Bearer at-1", auth)
	mu.Unlock()
}

func TestLoginClearsResponseCache(t *testing.T) {
	svc, f, mux, _ := newAuthFixture(t)
	ctx := context.Background()

	mux.HandleFunc("/api/v1/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"items":[]}}`))
	})
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"user":{},"tokens":{"accessToken":"at","refreshToken":"rt"}}}`))
	})

	_, err := f.gateway.Get(ctx, "/feed", WithCache(time.Minute))
	require.NoError(t, err)
	stats, err := f.gateway.CacheStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Size)

	_, err = svc.Login(ctx, "a@b.c", "pw")
	require.NoError(t, err)

	stats, err = f.gateway.CacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Size, "identity changes flush cached per-user data")
}

func TestLoginRejectsEnvelopeWithoutTokens(t *testing.T) {
	svc, f, mux, _ := newAuthFixture(t)

	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"user":{}}}`))
	})

	_, err := svc.Login(context.Background(), "a@b.c", "pw")
	require.Error(t, err)
	assert.Empty(t, f.gateway.AccessToken())
}

func TestLoginPropagatesAuthError(t *testing.T) {
	svc, _, mux, _ := newAuthFixture(t)

	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"error":{"code":"AUTHENTICATION_ERROR","message":"Invalid email or password"}}`))
	})

	_, err := svc.Login(context.Background(), "a@b.c", "wrong")
	apiErr, ok := domain.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrCodeAuthentication, apiErr.Code)
	assert.Equal(t, "Invalid email or password", apiErr.Message)
}

func TestLogoutClearsLocalStateEvenOnServerError(t *testing.T) {
	svc, f, mux, _ := newAuthFixture(t)
	ctx := context.Background()

	f.gateway.SetTokens(ctx, &domain.TokenPair{AccessToken: "at", RefreshToken: "rt"})
	mux.HandleFunc("/api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := svc.Logout(ctx)
	assert.Error(t, err, "server failure is reported")
	assert.Empty(t, f.gateway.AccessToken(), "local session is gone regardless")
}

func TestRegisterInstallsSession(t *testing.T) {
	svc, f, mux, _ := newAuthFixture(t)

	mux.HandleFunc("/api/v1/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var reg Registration
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
		assert.Equal(t, "New Lifter", reg.DisplayName)
		w.Write([]byte(`{"success":true,"data":{"user":{"id":"u2"},"tokens":{"accessToken":"at-2","refreshToken":"rt-2"}}}`))
	})

	session, err := svc.Register(context.Background(), Registration{
		Email:       "new@example.com",
		Password:    "hunter2",
		DisplayName: "New Lifter",
	})
	require.NoError(t, err)
	assert.Equal(t, "at-2", session.Tokens.AccessToken)
	assert.Equal(t, "at-2", f.gateway.AccessToken())
}

package application

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pulsefit/pulsefit-client-go/internal/domain"
)

// AuthService wraps the gateway's auth endpoints and owns the token
// lifecycle policy around them: tokens install on login/register, clear on
// logout, and the response cache is flushed after each successful auth
// mutation so no stale per-user data survives an identity change.
type AuthService struct {
	gateway *Gateway
	logger  domain.Logger
}

// Credentials is the login request payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the register request payload.
type Registration struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// Session is the data payload of a successful login or register call.
type Session struct {
	User   json.RawMessage  `json:"user"`
	Tokens domain.TokenPair `json:"tokens"`
}

// NewAuthService creates an AuthService over the given gateway.
func NewAuthService(gateway *Gateway, logger domain.Logger) *AuthService {
	if gateway == nil {
		panic("gateway cannot be nil in NewAuthService")
	}
	if logger == nil {
		panic("logger cannot be nil in NewAuthService")
	}
	return &AuthService{gateway: gateway, logger: logger}
}

// Login authenticates with email and password. On success the returned
// token pair is installed on the gateway; every subsequent call carries the
// bearer token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	resp, err := s.gateway.Post(ctx, "/auth/login", Credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	return s.installSession(ctx, resp)
}

// Register creates an account and logs it in.
func (s *AuthService) Register(ctx context.Context, reg Registration) (*Session, error) {
	resp, err := s.gateway.Post(ctx, "/auth/register", reg)
	if err != nil {
		return nil, err
	}
	return s.installSession(ctx, resp)
}

// Logout tells the backend to revoke the session, then clears local auth
// state regardless of the call's outcome.
func (s *AuthService) Logout(ctx context.Context) error {
	_, err := s.gateway.Post(ctx, "/auth/logout", nil)
	if err != nil {
		s.logger.Warn(ctx, "Logout call failed; clearing local session anyway", "error", err.Error())
	}
	s.gateway.ClearTokens(ctx)
	if clearErr := s.gateway.ClearCache(ctx); clearErr != nil {
		s.logger.Warn(ctx, "Failed to clear response cache on logout", "error", clearErr.Error())
	}
	return err
}

func (s *AuthService) installSession(ctx context.Context, resp *domain.APIResponse) (*Session, error) {
	var session Session
	if err := resp.DecodeData(&session); err != nil {
		return nil, fmt.Errorf("unexpected auth response shape: %w", err)
	}
	if session.Tokens.AccessToken == "" {
		return nil, fmt.Errorf("auth response missing access token")
	}

	s.gateway.SetTokens(ctx, &session.Tokens)
	if err := s.gateway.ClearCache(ctx); err != nil {
		s.logger.Warn(ctx, "Failed to clear response cache on auth change", "error", err.Error())
	}
	s.logger.Info(ctx, "Session established")
	return &session, nil
}

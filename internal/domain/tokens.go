package domain

import "context"

// TokenPair holds the opaque bearer tokens issued by the backend.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenStore persists the token pair on the device. Implementations must
// return ErrNoStoredTokens from Load when nothing has been saved.
type TokenStore interface {
	Load(ctx context.Context) (*TokenPair, error)
	Save(ctx context.Context, tokens *TokenPair) error
	Clear(ctx context.Context) error
}

// Package storage persists client auth state on the device.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pulsefit/pulsefit-client-go/internal/domain"
)

// FileTokenStore implements domain.TokenStore using a single JSON file.
// The file is written with 0600 permissions since it holds bearer tokens.
type FileTokenStore struct {
	mu   sync.Mutex
	path string
}

// NewFileTokenStore creates a token store backed by the file at path.
// Parent directories are created on first Save.
func NewFileTokenStore(path string) (*FileTokenStore, error) {
	if path == "" {
		return nil, errors.New("token store path cannot be empty")
	}
	return &FileTokenStore{path: path}, nil
}

// Load reads the persisted token pair. A missing file means no tokens have
// been saved yet and returns domain.ErrNoStoredTokens.
func (s *FileTokenStore) Load(_ context.Context) (*domain.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNoStoredTokens
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file '%s': %w", s.path, err)
	}

	var tokens domain.TokenPair
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token file '%s': %w", s.path, err)
	}
	if tokens.AccessToken == "" && tokens.RefreshToken == "" {
		return nil, domain.ErrNoStoredTokens
	}
	return &tokens, nil
}

// Save writes the token pair, replacing any previous file atomically.
func (s *FileTokenStore) Save(_ context.Context, tokens *domain.TokenPair) error {
	if tokens == nil {
		return errors.New("tokens cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	raw, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Clear removes the persisted tokens. Clearing an empty store is a no-op.
func (s *FileTokenStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove token file '%s': %w", s.path, err)
	}
	return nil
}

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProviderLoadsFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("api:\n  base_url: https://api.test\n"), 0o600))
	t.Setenv("PULSEFIT_CONFIG_PATH", dir)

	p, err := NewViperProvider(context.Background(), zap.NewNop())
	require.NoError(t, err)

	cfg := p.Get()
	assert.Equal(t, "https://api.test", cfg.API.BaseURL)
	assert.Equal(t, "/api/v1", cfg.API.Prefix)
	assert.Equal(t, 3, cfg.API.RetryMax)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "dev", cfg.App.Version())
}

// The fsnotify reload callback swaps the config from its own goroutine;
// concurrent Get calls must never observe a torn pointer. Run with -race.
func TestProviderGetIsSafeDuringReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path,
		[]byte("api:\n  base_url: https://api-0.test\n"), 0o600))
	t.Setenv("PULSEFIT_CONFIG_PATH", dir)

	p, err := NewViperProvider(context.Background(), zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				cfg := p.Get()
				if cfg == nil {
					t.Error("Get returned nil during reload")
					return
				}
				_ = cfg.API.BaseURL
			}
		}()
	}

	for j := 1; j <= 20; j++ {
		require.NoError(t, os.WriteFile(path,
			[]byte(fmt.Sprintf("api:\n  base_url: https://api-%d.test\n", j)), 0o600))
	}
	wg.Wait()

	require.NotNil(t, p.Get())
}

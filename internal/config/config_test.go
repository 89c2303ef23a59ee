package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, "memory", cfg.RateLimit.Backend)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
		assert.Equal(t, 60, cfg.RateLimit.Tiers["free"].RequestsPerMinute)
	})

	t.Run("missing jwt secret fails", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("tier override file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tiers.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"free": {"requests_per_minute": 10, "requests_per_hour": 100, "requests_per_day": 500},
			"internal": {"requests_per_minute": 9999, "requests_per_hour": 99999, "requests_per_day": 999999}
		}`), 0o644))
		t.Setenv("RATE_LIMIT_TIERS_FILE", path)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 10, cfg.RateLimit.Tiers["free"].RequestsPerMinute)
		assert.Equal(t, 9999, cfg.RateLimit.Tiers["internal"].RequestsPerMinute)
		// Untouched tiers keep their defaults.
		assert.Equal(t, 1000, cfg.RateLimit.Tiers["enterprise"].RequestsPerMinute)
	})
}

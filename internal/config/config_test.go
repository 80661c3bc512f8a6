package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "PLATFORM_FEE_PERCENT", "AUTO_RELEASE_HOURS", "SWEEP_INTERVAL", "ADMIN_SECRET"} {
		setEnv(t, key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, "5.00", cfg.PlatformFeePercent.StringFixed(2))
	assert.Equal(t, 72*time.Hour, cfg.AutoReleaseWindow)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "PLATFORM_FEE_PERCENT", "7.50")
	setEnv(t, "AUTO_RELEASE_HOURS", "24")
	setEnv(t, "SWEEP_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "7.50", cfg.PlatformFeePercent.StringFixed(2))
	assert.Equal(t, 24*time.Hour, cfg.AutoReleaseWindow)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}

func TestLoad_InvalidFeePercent(t *testing.T) {
	setEnv(t, "PLATFORM_FEE_PERCENT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_FeePercentBounds(t *testing.T) {
	setEnv(t, "PLATFORM_FEE_PERCENT", "150.00")
	_, err := Load()
	assert.Error(t, err)

	setEnv(t, "PLATFORM_FEE_PERCENT", "-1.00")
	_, err = Load()
	assert.Error(t, err)
}

func TestValidate_ProductionRequiresAdminSecret(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "ADMIN_SECRET", "")
	os.Unsetenv("ADMIN_SECRET")

	_, err := Load()
	assert.Error(t, err)

	setEnv(t, "ADMIN_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

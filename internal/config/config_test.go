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
	setEnv(t, "PORT", "")
	setEnv(t, "ENV", "")
	setEnv(t, "RECOVERY_INTERVAL", "")
	setEnv(t, "RECOVERY_WINDOW", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultRecoveryInterval, cfg.RecoveryInterval)
	assert.Equal(t, DefaultRecoveryWindow, cfg.RecoveryWindow)
	assert.Equal(t, DefaultMutationTimeout, cfg.MutationTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "RECOVERY_INTERVAL", "1h")
	setEnv(t, "RECOVERY_WINDOW", "6h")
	setEnv(t, "RATE_LIMIT_RPM", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, time.Hour, cfg.RecoveryInterval)
	assert.Equal(t, 6*time.Hour, cfg.RecoveryWindow)
	assert.Equal(t, 30, cfg.RateLimitRPM)
}

func TestLoad_BadDurationFallsBack(t *testing.T) {
	setEnv(t, "RECOVERY_INTERVAL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultRecoveryInterval, cfg.RecoveryInterval)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				Env:              "development",
				MutationTimeout:  time.Second,
				RecoveryInterval: time.Hour,
				RecoveryWindow:   time.Hour,
			},
			wantErr: "",
		},
		{
			name: "zero recovery interval",
			config: Config{
				Env:              "development",
				MutationTimeout:  time.Second,
				RecoveryWindow:   time.Hour,
			},
			wantErr: "RECOVERY_INTERVAL",
		},
		{
			name: "zero mutation timeout",
			config: Config{
				Env:              "development",
				RecoveryInterval: time.Hour,
				RecoveryWindow:   time.Hour,
			},
			wantErr: "MUTATION_TIMEOUT",
		},
		{
			name: "production requires admin secret",
			config: Config{
				Env:              "production",
				MutationTimeout:  time.Second,
				RecoveryInterval: time.Hour,
				RecoveryWindow:   time.Hour,
			},
			wantErr: "ADMIN_SECRET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	cfg := Config{Env: "production"}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())

	cfg.Env = "development"
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

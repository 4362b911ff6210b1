package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/commercekit/subsync/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultDebounceInterval, cfg.DebounceInterval)
	assert.Equal(t, DefaultFetchAttempts, cfg.FetchAttempts)
	assert.Equal(t, DefaultRetryBaseDelay, cfg.RetryBaseDelay)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.MockMode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SUBSYNC_PRODUCT_IDS", "premium_monthly, premium_yearly ,")
	t.Setenv("SUBSYNC_DEBOUNCE_INTERVAL", "90s")
	t.Setenv("SUBSYNC_FETCH_ATTEMPTS", "5")
	t.Setenv("SUBSYNC_MOCK_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"premium_monthly", "premium_yearly"}, cfg.ProductIDs)
	assert.Equal(t, 90*time.Second, cfg.DebounceInterval)
	assert.Equal(t, 5, cfg.FetchAttempts)
	assert.True(t, cfg.MockMode)
}

func TestLoad_RejectsMalformedEnv(t *testing.T) {
	t.Setenv("SUBSYNC_DEBOUNCE_INTERVAL", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerrors.ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	validKey := base64.StdEncoding.EncodeToString(make([]byte, ed25519.PublicKeySize))

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults valid", mutate: func(*Config) {}},
		{name: "empty product set allowed", mutate: func(c *Config) { c.ProductIDs = nil }},
		{name: "valid key", mutate: func(c *Config) { c.TrustedPublicKey = validKey }},
		{name: "zero debounce rejected", mutate: func(c *Config) { c.DebounceInterval = 0 }, wantErr: true},
		{name: "zero attempts rejected", mutate: func(c *Config) { c.FetchAttempts = 0 }, wantErr: true},
		{name: "negative retry delay rejected", mutate: func(c *Config) { c.RetryBaseDelay = -time.Second }, wantErr: true},
		{name: "reconnect max below base rejected", mutate: func(c *Config) { c.ReconnectMax = time.Second }, wantErr: true},
		{name: "blank product ID rejected", mutate: func(c *Config) { c.ProductIDs = []string{"a", " "} }, wantErr: true},
		{name: "duplicate product ID rejected", mutate: func(c *Config) { c.ProductIDs = []string{"a", "a"} }, wantErr: true},
		{name: "non-base64 key rejected", mutate: func(c *Config) { c.TrustedPublicKey = "%%%" }, wantErr: true},
		{name: "short key rejected", mutate: func(c *Config) { c.TrustedPublicKey = base64.StdEncoding.EncodeToString([]byte("short")) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			cfg.ProductIDs = []string{"premium_monthly"}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, syncerrors.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

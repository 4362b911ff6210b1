// Package config holds the engine configuration: tracked products, trust
// material, and the timing knobs of the fetch and reconnect machinery. All
// shared state downstream is constructed eagerly from a validated Config;
// misconfiguration fails fast here, never at first concurrent use.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	syncerrors "github.com/commercekit/subsync/internal/errors"
)

// Defaults for the fetch and reconnect machinery.
const (
	DefaultDebounceInterval  = 3 * time.Minute
	DefaultFetchAttempts     = 3
	DefaultRetryBaseDelay    = 3 * time.Second
	DefaultReconnectBase     = 5 * time.Second
	DefaultReconnectMax      = 5 * time.Minute
	DefaultConnectionTimeout = 45 * time.Second
)

// Config is the engine configuration.
type Config struct {
	// ProductIDs is the set of subscription products the engine tracks.
	// With an empty set the engine syncs entitlements only and skips offer
	// metadata queries.
	ProductIDs []string

	// TrustedPublicKey is the base64-encoded Ed25519 key purchase receipts
	// must be signed with. Empty skips verification (less-secure default).
	TrustedPublicKey string

	// DebounceInterval suppresses non-forced fetches issued within this
	// window of the last successful fetch.
	DebounceInterval time.Duration

	// FetchAttempts is the network-phase retry budget per fetch cycle.
	FetchAttempts int

	// RetryBaseDelay scales the linear retry backoff (attempt * base).
	RetryBaseDelay time.Duration

	// Reconnect backoff bounds for the connection supervisor.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// ConnectionTimeout bounds a single connect attempt.
	ConnectionTimeout time.Duration

	// HistoryPath is the SQLite file for the purchase event journal.
	// Empty disables the journal.
	HistoryPath string

	// BackendURL is the websocket endpoint of the commerce backend, used
	// only when the engine constructs its own transport.
	BackendURL string

	LogLevel  string
	LogFormat string

	// MockMode runs the engine against the in-memory scripted backend.
	MockMode bool
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		DebounceInterval:  DefaultDebounceInterval,
		FetchAttempts:     DefaultFetchAttempts,
		RetryBaseDelay:    DefaultRetryBaseDelay,
		ReconnectBase:     DefaultReconnectBase,
		ReconnectMax:      DefaultReconnectMax,
		ConnectionTimeout: DefaultConnectionTimeout,
		LogLevel:          "info",
		LogFormat:         "auto",
	}
}

// Load builds a Config from the environment. A .env file in the working
// directory is overlaid first (deployment overrides), then SUBSYNC_*
// variables are applied over the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded configuration overrides from .env")
	}

	cfg := New()

	if v := os.Getenv("SUBSYNC_PRODUCT_IDS"); v != "" {
		cfg.ProductIDs = splitList(v)
	}
	cfg.TrustedPublicKey = os.Getenv("SUBSYNC_TRUSTED_PUBLIC_KEY")
	cfg.BackendURL = os.Getenv("SUBSYNC_BACKEND_URL")
	cfg.HistoryPath = os.Getenv("SUBSYNC_HISTORY_PATH")

	if v := os.Getenv("SUBSYNC_DEBOUNCE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, syncerrors.WrapContract("load_config", fmt.Errorf("SUBSYNC_DEBOUNCE_INTERVAL: %w", err))
		}
		cfg.DebounceInterval = d
	}
	if v := os.Getenv("SUBSYNC_FETCH_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, syncerrors.WrapContract("load_config", fmt.Errorf("SUBSYNC_FETCH_ATTEMPTS: %w", err))
		}
		cfg.FetchAttempts = n
	}
	if v := os.Getenv("SUBSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SUBSYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("SUBSYNC_MOCK_MODE"); v != "" {
		cfg.MockMode = strings.EqualFold(v, "true") || v == "1"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with. The engine
// refuses to start on a bad config rather than failing later under
// concurrent first use.
func (c *Config) Validate() error {
	if c.DebounceInterval <= 0 {
		return syncerrors.WrapContract("validate_config", fmt.Errorf("debounce interval must be positive, got %v", c.DebounceInterval))
	}
	if c.FetchAttempts < 1 {
		return syncerrors.WrapContract("validate_config", fmt.Errorf("fetch attempts must be at least 1, got %d", c.FetchAttempts))
	}
	if c.RetryBaseDelay < 0 {
		return syncerrors.WrapContract("validate_config", fmt.Errorf("retry base delay must not be negative, got %v", c.RetryBaseDelay))
	}
	if c.ReconnectBase <= 0 || c.ReconnectMax < c.ReconnectBase {
		return syncerrors.WrapContract("validate_config", fmt.Errorf("reconnect backoff bounds invalid: base=%v max=%v", c.ReconnectBase, c.ReconnectMax))
	}

	seen := make(map[string]struct{}, len(c.ProductIDs))
	for _, id := range c.ProductIDs {
		if strings.TrimSpace(id) == "" {
			return syncerrors.WrapContract("validate_config", fmt.Errorf("product IDs must not be empty strings"))
		}
		if _, dup := seen[id]; dup {
			return syncerrors.WrapContract("validate_config", fmt.Errorf("duplicate product ID %q", id))
		}
		seen[id] = struct{}{}
	}

	if c.TrustedPublicKey != "" {
		raw, err := base64.StdEncoding.DecodeString(c.TrustedPublicKey)
		if err != nil {
			return syncerrors.WrapContract("validate_config", fmt.Errorf("trusted public key is not valid base64: %w", err))
		}
		if len(raw) != ed25519.PublicKeySize {
			return syncerrors.WrapContract("validate_config", fmt.Errorf("trusted public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw)))
		}
	}

	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

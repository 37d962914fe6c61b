package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/internal/provider"
)

func validTestConfig() *Config {
	return &Config{
		Language:        "auto",
		DefaultProvider: "local",
		DataDir:         "/tmp/sidekick-test",
		Providers: []provider.Config{
			{
				ID:             "local",
				BaseURL:        "http://localhost:11434",
				Model:          "llama3.2",
				WireFormat:     provider.WireNativeChat,
				SupportsSearch: true,
			},
			{
				ID:         "hosted",
				BaseURL:    "https://api.example.com",
				APIKey:     "sk-this-is-a-long-test-key",
				Model:      "big-model",
				WireFormat: provider.WireOpenAICompat,
			},
		},
		Search: SearchConfig{
			Enabled:      true,
			MaxResults:   3,
			CacheTTL:     5 * time.Minute,
			CacheEntries: 20,
			ScrapeURL:    "https://html.duckduckgo.com/html/",
		},
		Fetch: FetchConfig{
			PerFetchTimeout: 8 * time.Second,
			OverallTimeout:  10 * time.Second,
			Parallelism:     3,
			MaxContentChars: 6000,
		},
		Session: SessionConfig{MaxPerProvider: 30, MaxMessages: 40},
		Log:     LogConfig{Level: "info"},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validTestConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*Config)
		sentinel error
	}{
		{
			name:     "no providers",
			mutate:   func(c *Config) { c.Providers = nil },
			sentinel: ErrNoProviders,
		},
		{
			name: "duplicate provider ids",
			mutate: func(c *Config) {
				c.Providers = append(c.Providers, c.Providers[0])
			},
			sentinel: ErrDuplicateProvider,
		},
		{
			name:     "unknown default provider",
			mutate:   func(c *Config) { c.DefaultProvider = "ghost" },
			sentinel: ErrUnknownProvider,
		},
		{
			name:     "search max results out of range",
			mutate:   func(c *Config) { c.Search.MaxResults = 11 },
			sentinel: ErrInvalidSearch,
		},
		{
			name:     "search without any endpoint",
			mutate:   func(c *Config) { c.Search.ScrapeURL = "" },
			sentinel: ErrInvalidSearch,
		},
		{
			name:     "fetch parallelism out of range",
			mutate:   func(c *Config) { c.Fetch.Parallelism = 0 },
			sentinel: ErrInvalidFetch,
		},
		{
			name:     "fetch content cap too small",
			mutate:   func(c *Config) { c.Fetch.MaxContentChars = 10 },
			sentinel: ErrInvalidFetch,
		},
		{
			name:     "session cap too small",
			mutate:   func(c *Config) { c.Session.MaxMessages = 1 },
			sentinel: ErrInvalidSession,
		},
		{
			name:     "bad log level",
			mutate:   func(c *Config) { c.Log.Level = "verbose" },
			sentinel: ErrInvalidLogLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
		})
	}
}

func TestValidateSearchSkippedWhenDisabled(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	cfg.Search = SearchConfig{Enabled: false}
	assert.NoError(t, cfg.Validate())
}

func TestProviderLookup(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()

	p, err := cfg.Provider("hosted")
	require.NoError(t, err)
	assert.Equal(t, "hosted", p.ID)

	// Empty id resolves to the default provider.
	p, err = cfg.Provider("")
	require.NoError(t, err)
	assert.Equal(t, "local", p.ID)

	_, err = cfg.Provider("ghost")
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "short fully masked", in: "12345678", want: maskedValue},
		{name: "long keeps edges", in: "sk-abcdefghij-99", want: "sk<" + maskedValue + ">99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, maskSecret(tt.in))
		})
	}
}

// MarshalJSON (and therefore String) must never leak API keys.
func TestMarshalJSONMasksSecrets(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	cfg.Search.APIKey = "search-secret-key-123"

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	serialized := string(data)

	assert.NotContains(t, serialized, "sk-this-is-a-long-test-key")
	assert.NotContains(t, serialized, "search-secret-key-123")
	assert.Contains(t, serialized, maskedValue)

	// Masking must not mutate the live config.
	assert.Equal(t, "sk-this-is-a-long-test-key", cfg.Providers[1].APIKey)

	assert.NotContains(t, cfg.String(), "sk-this-is-a-long-test-key")
}

func TestSessionPaths(t *testing.T) {
	t.Parallel()

	cfg := validTestConfig()
	assert.True(t, strings.HasSuffix(cfg.SessionDBPath(), "sessions.db"))
	assert.True(t, strings.HasSuffix(cfg.LegacySessionsPath(), "sessions.json"))
}

func TestSanitizeEnvSegment(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "LOCAL", sanitizeEnvSegment("local"))
	assert.Equal(t, "MY_PROVIDER_2", sanitizeEnvSegment("my-provider.2"))
}

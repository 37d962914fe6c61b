// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.sidekick/config.yaml)
//  3. Default values (a local model endpoint for quick start)
//
// Security: API keys are never logged; MarshalJSON masks every sensitive
// field and String() routes through it so accidental printing stays safe.
// The config directory is created with 0750 permissions.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"sidekick/internal/provider"
)

const (
	// DefaultMaxSearchResults is how many search results feed one answer.
	DefaultMaxSearchResults = 3

	// DefaultMaxSessionsPerProvider caps stored sessions per provider.
	DefaultMaxSessionsPerProvider = 30

	// DefaultMaxSessionMessages caps messages kept per stored session.
	DefaultMaxSessionMessages = 40
)

// SearchConfig controls the web search pipeline.
type SearchConfig struct {
	Enabled      bool          `mapstructure:"enabled" json:"enabled"`
	MaxResults   int           `mapstructure:"max_results" json:"max_results"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	CacheEntries int           `mapstructure:"cache_entries" json:"cache_entries"`
	APIBaseURL   string        `mapstructure:"api_base_url" json:"api_base_url"`
	APIKey       string        `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	ScrapeURL    string        `mapstructure:"scrape_url" json:"scrape_url"`
}

// FetchConfig controls page content retrieval.
type FetchConfig struct {
	PerFetchTimeout time.Duration `mapstructure:"per_fetch_timeout" json:"per_fetch_timeout"`
	OverallTimeout  time.Duration `mapstructure:"overall_timeout" json:"overall_timeout"`
	Parallelism     int           `mapstructure:"parallelism" json:"parallelism"`
	MaxContentChars int           `mapstructure:"max_content_chars" json:"max_content_chars"`
}

// SessionConfig controls session persistence limits.
type SessionConfig struct {
	MaxPerProvider int `mapstructure:"max_per_provider" json:"max_per_provider"`
	MaxMessages    int `mapstructure:"max_messages" json:"max_messages"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"` // debug, info, warn, error
	JSON  bool   `mapstructure:"json" json:"json"`
}

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (API keys, tokens), update MarshalJSON.
type Config struct {
	// Language the assistant answers in; "auto" matches the user's.
	Language string `mapstructure:"language" json:"language"`

	// DefaultProvider is the id used when no --provider flag is given.
	DefaultProvider string `mapstructure:"default_provider" json:"default_provider"`

	// DataDir holds the session database and legacy files.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	Providers []provider.Config `mapstructure:"providers" json:"providers"`

	Search  SearchConfig  `mapstructure:"search" json:"search"`
	Fetch   FetchConfig   `mapstructure:"fetch" json:"fetch"`
	Session SessionConfig `mapstructure:"session" json:"session"`
	Log     LogConfig     `mapstructure:"log" json:"log"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".sidekick")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults(configDir)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = defaultProviders()
	}
	cfg.applyEnvSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	viper.SetDefault("language", "auto")
	viper.SetDefault("default_provider", "local")
	viper.SetDefault("data_dir", configDir)

	// Search defaults
	viper.SetDefault("search.enabled", true)
	viper.SetDefault("search.max_results", DefaultMaxSearchResults)
	viper.SetDefault("search.cache_ttl", 5*time.Minute)
	viper.SetDefault("search.cache_entries", 20)
	viper.SetDefault("search.scrape_url", "https://html.duckduckgo.com/html/")

	// Fetch defaults
	viper.SetDefault("fetch.per_fetch_timeout", 8*time.Second)
	viper.SetDefault("fetch.overall_timeout", 10*time.Second)
	viper.SetDefault("fetch.parallelism", 3)
	viper.SetDefault("fetch.max_content_chars", 6000)

	// Session defaults
	viper.SetDefault("session.max_per_provider", DefaultMaxSessionsPerProvider)
	viper.SetDefault("session.max_messages", DefaultMaxSessionMessages)

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", false)
}

// defaultProviders is the out-of-the-box provider list: a local model
// endpoint that needs no credential.
func defaultProviders() []provider.Config {
	return []provider.Config{
		{
			ID:             "local",
			DisplayName:    "Local model",
			BaseURL:        "http://localhost:11434",
			Model:          "llama3.2",
			WireFormat:     provider.WireNativeChat,
			SupportsSearch: true,
		},
	}
}

// bindEnvVariables binds overridable settings to environment variables.
// Secrets never live in the config file by default: provider API keys come
// from SIDEKICK_<PROVIDER_ID>_API_KEY and the search key from
// SIDEKICK_SEARCH_API_KEY (see applyEnvSecrets).
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("language", "SIDEKICK_LANGUAGE")
	mustBind("default_provider", "SIDEKICK_PROVIDER")
	mustBind("data_dir", "SIDEKICK_DATA_DIR")
	mustBind("search.enabled", "SIDEKICK_SEARCH_ENABLED")
	mustBind("search.api_base_url", "SIDEKICK_SEARCH_API_BASE_URL")
	mustBind("search.api_key", "SIDEKICK_SEARCH_API_KEY")
	mustBind("log.level", "SIDEKICK_LOG_LEVEL")
	mustBind("log.json", "SIDEKICK_LOG_JSON")
}

// applyEnvSecrets overlays per-provider API keys from the environment.
// Providers are a list, so viper key binding cannot reach them.
func (c *Config) applyEnvSecrets() {
	for i := range c.Providers {
		envVar := "SIDEKICK_" + sanitizeEnvSegment(c.Providers[i].ID) + "_API_KEY"
		if v := os.Getenv(envVar); v != "" {
			c.Providers[i].APIKey = v
		}
	}
}

func sanitizeEnvSegment(id string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
	return mapped
}

// Provider returns the provider with the given id, or the default provider
// when id is empty.
func (c *Config) Provider(id string) (provider.Config, error) {
	if id == "" {
		id = c.DefaultProvider
	}
	for _, p := range c.Providers {
		if p.ID == id {
			return p, nil
		}
	}
	return provider.Config{}, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
}

// SessionDBPath is the SQLite session database location.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// LegacySessionsPath is the pre-SQLite JSON session file location,
// imported once on startup if present.
func (c *Config) LegacySessionsPath() string {
	return filepath.Join(c.DataDir, "sessions.json")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 bytes or
// fewer are fully masked; longer ones keep the first and last 2 characters
// for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking: every provider APIKey and the search APIKey.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)

	a.Providers = make([]provider.Config, len(c.Providers))
	copy(a.Providers, c.Providers)
	for i := range a.Providers {
		a.Providers[i].APIKey = maskSecret(a.Providers[i].APIKey)
	}
	a.Search.APIKey = maskSecret(a.Search.APIKey)

	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

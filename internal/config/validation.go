package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrNoProviders indicates the provider list is empty.
	ErrNoProviders = errors.New("no providers configured")

	// ErrUnknownProvider indicates a provider id that is not configured.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrDuplicateProvider indicates two providers share an id.
	ErrDuplicateProvider = errors.New("duplicate provider id")

	// ErrInvalidSearch indicates the search section is misconfigured.
	ErrInvalidSearch = errors.New("invalid search configuration")

	// ErrInvalidFetch indicates the fetch section is misconfigured.
	ErrInvalidFetch = errors.New("invalid fetch configuration")

	// ErrInvalidSession indicates the session section is misconfigured.
	ErrInvalidSession = errors.New("invalid session configuration")

	// ErrInvalidLogLevel indicates an unrecognized log level.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// Validate checks the whole configuration, fail-fast on load.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if len(c.Providers) == 0 {
		return ErrNoProviders
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateProvider, p.ID)
		}
		seen[p.ID] = true
	}
	if _, err := c.Provider(c.DefaultProvider); err != nil {
		return fmt.Errorf("default_provider: %w", err)
	}

	if err := c.validateSearch(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}

	return nil
}

func (c *Config) validateSearch() error {
	s := c.Search
	if !s.Enabled {
		return nil
	}
	if s.MaxResults < 1 || s.MaxResults > 10 {
		return fmt.Errorf("%w: max_results must be 1-10, got %d", ErrInvalidSearch, s.MaxResults)
	}
	if s.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache_ttl must be positive, got %s", ErrInvalidSearch, s.CacheTTL)
	}
	if s.CacheEntries < 1 {
		return fmt.Errorf("%w: cache_entries must be positive, got %d", ErrInvalidSearch, s.CacheEntries)
	}
	if s.ScrapeURL == "" && (s.APIBaseURL == "" || s.APIKey == "") {
		return fmt.Errorf("%w: need a scrape_url or an api_base_url with api_key", ErrInvalidSearch)
	}
	return nil
}

func (c *Config) validateFetch() error {
	f := c.Fetch
	if f.PerFetchTimeout <= 0 {
		return fmt.Errorf("%w: per_fetch_timeout must be positive, got %s", ErrInvalidFetch, f.PerFetchTimeout)
	}
	if f.OverallTimeout <= 0 {
		return fmt.Errorf("%w: overall_timeout must be positive, got %s", ErrInvalidFetch, f.OverallTimeout)
	}
	if f.Parallelism < 1 || f.Parallelism > 16 {
		return fmt.Errorf("%w: parallelism must be 1-16, got %d", ErrInvalidFetch, f.Parallelism)
	}
	if f.MaxContentChars < 100 {
		return fmt.Errorf("%w: max_content_chars must be at least 100, got %d", ErrInvalidFetch, f.MaxContentChars)
	}
	return nil
}

func (c *Config) validateSession() error {
	s := c.Session
	if s.MaxPerProvider < 1 {
		return fmt.Errorf("%w: max_per_provider must be positive, got %d", ErrInvalidSession, s.MaxPerProvider)
	}
	if s.MaxMessages < 2 {
		return fmt.Errorf("%w: max_messages must be at least 2, got %d", ErrInvalidSession, s.MaxMessages)
	}
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"sidekick/internal/config"
	"sidekick/internal/conversation"
	"sidekick/internal/fetch"
	"sidekick/internal/httpx"
	"sidekick/internal/log"
	"sidekick/internal/search"
	"sidekick/internal/session"
)

// app holds the wired components shared by commands.
type app struct {
	cfg     *config.Config
	logger  log.Logger
	client  *httpx.Client
	backend *session.SQLite
	store   *session.Store
}

// newApp loads configuration and wires the shared components. The one-time
// legacy session import runs here so every command sees migrated data.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := log.New(log.Config{
		Level: parseLogLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})

	client := httpx.New(httpx.Options{Logger: logger.With("component", "httpx")})

	backend, err := session.OpenSQLite(cfg.SessionDBPath())
	if err != nil {
		return nil, err
	}

	store := session.NewStore(backend, session.Limits{
		MaxPerProvider: cfg.Session.MaxPerProvider,
		MaxMessages:    cfg.Session.MaxMessages,
	}, logger.With("component", "session"))

	if _, err := store.MigrateLegacyIfPresent(ctx, cfg.LegacySessionsPath()); err != nil {
		logger.Warn("legacy session import failed", "error", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		backend: backend,
		store:   store,
	}, nil
}

func (a *app) close() {
	if err := a.backend.Close(); err != nil {
		a.logger.Warn("closing session database", "error", err)
	}
}

// orchestrator builds the turn pipeline for one provider.
func (a *app) orchestrator(providerID string, searchEnabled bool) (*conversation.Orchestrator, error) {
	prov, err := a.cfg.Provider(providerID)
	if err != nil {
		return nil, err
	}

	searchEnabled = searchEnabled && a.cfg.Search.Enabled

	ocfg := conversation.Config{
		Provider:         prov,
		Client:           a.client,
		Sessions:         a.store,
		Logger:           a.logger.With("component", "conversation"),
		SearchEnabled:    searchEnabled,
		MaxSearchResults: a.cfg.Search.MaxResults,
		Language:         a.cfg.Language,
	}

	if searchEnabled {
		cache := search.NewCache(a.cfg.Search.CacheTTL, a.cfg.Search.CacheEntries)
		ocfg.Classifier = search.NewClassifier(a.client, a.logger.With("component", "classifier"))
		ocfg.Searcher = search.NewService(a.client, cache, search.Config{
			APIBaseURL: a.cfg.Search.APIBaseURL,
			APIKey:     a.cfg.Search.APIKey,
			ScrapeURL:  a.cfg.Search.ScrapeURL,
		}, a.logger.With("component", "search"))
		ocfg.Fetcher = fetch.NewService(a.client, fetch.Config{
			PerFetchTimeout: a.cfg.Fetch.PerFetchTimeout,
			OverallTimeout:  a.cfg.Fetch.OverallTimeout,
			Parallelism:     a.cfg.Fetch.Parallelism,
			MaxContentChars: a.cfg.Fetch.MaxContentChars,
		}, a.logger.With("component", "fetch"))
	}

	return conversation.New(ocfg)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonathan/cascade/internal/config"
	"github.com/jonathan/cascade/internal/store"
)

// loadConfig merges defaults, an optional JSON config file, and the
// environment. Flag overrides happen at each command's call site.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Config{}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return cfg, err
		}
		cfg = *loaded
	}

	cfg = cfg.MergeWithDefaults(config.Defaults())

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

// openStore picks the Postgres backend when a database URL is configured,
// the filesystem backend otherwise. The returned closer is safe to call
// either way.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		pg, err := store.ConnectPostgres(ctx, cfg.DatabaseURL, cfg.StoreDir)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return pg, pg.Close, nil
	}

	fs, err := store.NewFS(cfg.StoreDir)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

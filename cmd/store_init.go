package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trial-tracker/internal/qafetch"
	"github.com/sells-group/trial-tracker/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "trial-tracker.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initFetcher() *qafetch.Client {
	return qafetch.NewClient(qafetch.ClientOptions{
		BaseURL:    cfg.Registry.BaseURL,
		UserAgent:  cfg.Registry.UserAgent,
		Timeout:    cfg.Registry.Timeout(),
		MaxRetries: cfg.Registry.MaxRetries,
		RatePerSec: cfg.Registry.RatePerSec,
		Burst:      cfg.Registry.Burst,
	})
}

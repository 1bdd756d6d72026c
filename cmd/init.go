package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/propflow/skiptrace-cli/internal/enrich"
	"github.com/propflow/skiptrace-cli/internal/pipeline"
	"github.com/propflow/skiptrace-cli/internal/resilience"
	"github.com/propflow/skiptrace-cli/internal/schema"
	"github.com/propflow/skiptrace-cli/internal/store"
	"github.com/propflow/skiptrace-cli/pkg/skipdata"
)

// openStore initializes the configured store backend and runs
// migrations. Callers should defer Close().
func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "skiptrace.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// newOrchestrator builds the processing pipeline on top of the store:
// provider client, rate limit, breaker, and worker pool from config.
func newOrchestrator(st store.Store) *pipeline.Orchestrator {
	api := skipdata.NewClient(cfg.SkipData.ClientID, cfg.SkipData.ClientSecret,
		skipdata.WithBaseURL(cfg.SkipData.BaseURL),
		skipdata.WithRateLimit(cfg.SkipData.RateLimit),
		skipdata.WithRetry(resilience.FromRetryConfig(cfg.SkipData.RetryAttempts, cfg.SkipData.RetryBackoffMs, 0)),
	)

	return pipeline.New(st, enrich.NewProviderClient(api), pipeline.Config{
		Workers:     cfg.Pipeline.Workers,
		CacheMaxAge: cfg.Pipeline.CacheMaxAge(),
		Breaker:     resilience.FromBreakerConfig(cfg.Pipeline.BreakerFailures, cfg.Pipeline.BreakerResetSec),
	})
}

// newMapper builds the column mapper, merging the user alias file over
// the built-in header aliases when one is configured.
func newMapper() (*schema.Mapper, error) {
	if cfg.Schema.AliasFile == "" {
		return schema.NewMapper(), nil
	}
	aliases, err := schema.LoadAliases(cfg.Schema.AliasFile)
	if err != nil {
		return nil, err
	}
	return schema.NewMapperWithAliases(aliases), nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelmycode/cqrs-framework/adapters/nats"
	"github.com/modelmycode/cqrs-framework/adapters/postgres"
	"github.com/modelmycode/cqrs-framework/adapters/sqlite"
	"github.com/modelmycode/cqrs-framework/core/processor"
	"github.com/modelmycode/cqrs-framework/internal/config"
)

// newTokenStore opens the configured claim backend. The returned function
// releases it.
func newTokenStore(ctx context.Context, cfg config.TokensConfig, connect nats.Connector, log *slog.Logger) (processor.TokenStore, func(), error) {
	log = log.With(slog.String("tokens", cfg.Backend))

	switch cfg.Backend {
	case config.TokensNATS:
		store, err := nats.NewKvStore(ctx, nats.KvConfig{Connect: connect, Log: log, Bucket: cfg.Bucket})
		if err != nil {
			return nil, nil, err
		}
		return processor.NewKVTokenStore(store, nil), func() { _ = store.Close() }, nil

	case config.TokensPostgres:
		db, err := postgres.Open(cfg.DSN, log)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewTokenStore(db, postgres.WithTable(cfg.Table))
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil

	case config.TokensSQLite:
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewTokenStore(db, nil), func() { _ = db.Close() }, nil

	case config.TokensMemory:
		log.Warn("claims are kept in memory, failover across processes is disabled")
		return processor.NewInMemoryTokenStore(nil), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown token backend %q", cfg.Backend)
}

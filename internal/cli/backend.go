package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/tandem/internal/config"
	"github.com/roach88/tandem/internal/gateway"
	"github.com/roach88/tandem/internal/gateway/memory"
	"github.com/roach88/tandem/internal/gateway/pggw"
	"github.com/roach88/tandem/internal/gateway/redisgw"
	"github.com/roach88/tandem/internal/gateway/sqlitegw"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/store"
)

// Backend holds the connections to the configured remote source. Gateways
// for every kind share them.
type Backend struct {
	cfg    *config.Config
	logger *slog.Logger

	store *store.Store
	redis *redis.Client
	pg    *sql.DB
}

// OpenBackend connects to the backend named by cfg.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{cfg: cfg, logger: logger}

	switch cfg.Backend {
	case config.BackendMemory:
	case config.BackendSQLite:
		logger.Info("opening database", "path", cfg.SQLite.Path)
		st, err := store.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		b.store = st
	case config.BackendRedis:
		logger.Info("connecting to redis")
		client, err := redisgw.NewClient(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		b.redis = client
	case config.BackendPostgres:
		if cfg.Postgres.URL == "" {
			return nil, errors.New("postgres backend requires postgres.url or TANDEM_DATABASE_URL")
		}
		logger.Info("connecting to postgres")
		db, err := pggw.Open(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		if err := pggw.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		b.pg = db
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return b, nil
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	var errs []error
	if b.store != nil {
		errs = append(errs, b.store.Close())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.pg != nil {
		errs = append(errs, b.pg.Close())
	}
	return errors.Join(errs...)
}

// gatewayFor returns a gateway for kind over b.
func gatewayFor[R any](b *Backend, kind ir.Kind[R]) gateway.Gateway[R] {
	switch {
	case b.store != nil:
		return sqlitegw.New(kind, b.store,
			sqlitegw.WithPollInterval(b.cfg.PollInterval()),
			sqlitegw.WithLogger(b.logger),
		)
	case b.redis != nil:
		return redisgw.New(kind, b.redis,
			redisgw.WithPrefix(b.cfg.Redis.Prefix),
			redisgw.WithLogger(b.logger),
		)
	case b.pg != nil:
		return pggw.New(kind, b.pg, b.cfg.ListenURL(), pggw.WithLogger(b.logger))
	}
	return memory.New(kind)
}

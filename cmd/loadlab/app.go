package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/FairForge/loadlab/internal/cache"
	"github.com/FairForge/loadlab/internal/catalog"
	"github.com/FairForge/loadlab/internal/config"
	"github.com/FairForge/loadlab/internal/pool"
)

// app owns the data access stack shared by serve and bench.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sql.DB
	pool    *pool.Pool[catalog.Conn]
	cache   *cache.Cache
	service *catalog.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var factory pool.Factory[catalog.Conn]
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := catalog.OpenPostgres(cfg.Store.Postgres, cfg.Pool.Size)
		if err != nil {
			return nil, err
		}
		a.db = db
		factory = catalog.PostgresFactory(db)
		logger.Info("using postgres store",
			zap.String("host", cfg.Store.Postgres.Host),
			zap.String("database", cfg.Store.Postgres.Database))

	default:
		ds := catalog.SampleDataset()
		if cfg.Store.DataDir != "" {
			var err error
			if ds, err = catalog.LoadDataset(cfg.Store.DataDir); err != nil {
				return nil, err
			}
		}
		factory = catalog.NewMemoryStore(ds, cfg.Store.ServiceTime).Factory()
		logger.Info("using memory store",
			zap.Int("titles", len(ds.Titles)),
			zap.Duration("service_time", cfg.Store.ServiceTime))
	}

	p, err := pool.New(ctx, factory, cfg.Pool.ToPool())
	if err != nil {
		_ = a.closeDB()
		return nil, fmt.Errorf("create pool: %w", err)
	}
	a.pool = p

	if cfg.Cache.Enabled {
		c, err := cache.New(cfg.Cache.Regions, cache.WithLogger(logger))
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("create cache: %w", err)
		}
		c.StartJanitor(ctx, cfg.Cache.JanitorInterval)
		a.cache = c
	}

	a.service = catalog.NewService(a.pool, a.cache, catalog.WithLogger(logger))
	return a, nil
}

func (a *app) closeDB() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Close drains the pool, then closes the database.
func (a *app) Close(ctx context.Context) error {
	var result *multierror.Error
	if a.pool != nil {
		if err := a.pool.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := a.closeDB(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

package main

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/FairForge/loadlab/internal/api"
	"github.com/FairForge/loadlab/internal/config"
	"github.com/FairForge/loadlab/internal/metrics"
)

func runServe(ctx context.Context, args []string) error {
	fs, path := commonFlags("serve")
	addr := fs.String("addr", "", "listen address, overrides server.addr")
	watch := fs.Bool("watch", true, "reload cache settings when the config file changes")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Pool.DrainTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error("close failed", zap.Error(err))
		}
	}()

	m := metrics.New()
	if err := m.Register(metrics.NewPoolCollector("catalog", a.pool)); err != nil {
		return err
	}
	if a.cache != nil {
		if err := m.Register(metrics.NewCacheCollector(a.cache)); err != nil {
			return err
		}
	}

	if *path != "" && *watch && a.cache != nil {
		err := config.Watch(ctx, *path, logger, func(next *config.Config) {
			if err := next.Cache.Apply(a.cache); err != nil {
				logger.Warn("cache reconfiguration failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("config watch disabled", zap.Error(err))
		}
	}

	server := api.NewServer(cfg.Server, a.service, m, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

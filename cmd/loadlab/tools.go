package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/loadlab/internal/capacity"
	"github.com/FairForge/loadlab/internal/catalog"
	"github.com/FairForge/loadlab/internal/loadtest"
)

// runImport creates the schema and bulk-loads a TSV dataset directory.
func runImport(ctx context.Context, args []string) error {
	fs, path := commonFlags("import")
	dir := fs.String("data", "", "directory holding the IMDb .tsv or .tsv.gz files, overrides store.data_dir")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	if *dir != "" {
		cfg.Store.DataDir = *dir
	}
	if cfg.Store.DataDir == "" {
		return fmt.Errorf("no dataset directory given")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	start := time.Now()
	ds, err := catalog.LoadDataset(cfg.Store.DataDir)
	if err != nil {
		return err
	}
	logger.Info("dataset loaded",
		zap.Int("titles", len(ds.Titles)),
		zap.Int("people", len(ds.People)),
		zap.Duration("elapsed", time.Since(start)))

	db, err := catalog.OpenPostgres(cfg.Store.Postgres, 1)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := catalog.CreateSchema(ctx, db); err != nil {
		return err
	}
	if err := catalog.ImportDataset(ctx, db, ds); err != nil {
		return err
	}
	logger.Info("import complete", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// runQueries saves the current popular-title query set for replay.
func runQueries(ctx context.Context, args []string) error {
	fs, path := commonFlags("queries")
	out := fs.String("out", "queries.json", "output file")
	n := fs.Int("n", 0, "number of queries, overrides harness.queries")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	if *n > 0 {
		cfg.Harness.Queries = *n
	}
	cfg.Cache.Enabled = false

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	queries, err := a.service.PopularQueries(ctx, cfg.Harness.Queries)
	if err != nil {
		return err
	}
	set := &loadtest.QuerySet{GeneratedAt: time.Now().UTC(), Source: cfg.Store.Driver, Queries: queries}
	if err := loadtest.SaveQueries(*out, set); err != nil {
		return err
	}
	logger.Info("query set written", zap.String("path", *out), zap.Int("queries", len(queries)))
	return nil
}

// runModel prints the capacity analysis for a peak throughput given on the
// command line.
func runModel(args []string) error {
	fs, path := commonFlags("model")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: loadlab model [-config file] <peak req/s>")
	}

	peak, err := strconv.ParseFloat(fs.Arg(0), 64)
	if err != nil {
		return fmt.Errorf("invalid peak throughput: %w", err)
	}

	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}

	model, err := capacity.ModelFromPeak(&cfg.Capacity, peak)
	if err != nil {
		return err
	}
	analysis, err := model.Analyze()
	if err != nil {
		return err
	}
	fmt.Print(analysis.Summary())
	return nil
}

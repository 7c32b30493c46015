package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/FairForge/loadlab/internal/capacity"
	"github.com/FairForge/loadlab/internal/config"
	"github.com/FairForge/loadlab/internal/loadtest"
	"github.com/FairForge/loadlab/internal/metrics"
	"github.com/FairForge/loadlab/internal/reporting"
)

func runBench(ctx context.Context, args []string) error {
	fs, path := commonFlags("bench")
	target := fs.String("target", "", "base URL of a running API, overrides harness.target_url")
	queries := fs.String("queries", "", "query set file, overrides harness.queries_file")
	out := fs.String("out", "", "report directory, overrides harness.report_dir")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics here during the sweep, overrides harness.metrics_addr")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	if *target != "" {
		cfg.Harness.TargetURL = *target
	}
	if *queries != "" {
		cfg.Harness.QueriesFile = *queries
	}
	if *out != "" {
		cfg.Harness.ReportDir = *out
	}
	if *metricsAddr != "" {
		cfg.Harness.MetricsAddr = *metricsAddr
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	b, err := newBench(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	if addr := cfg.Harness.MetricsAddr; addr != "" {
		stop, err := b.serveMetrics(ctx, addr)
		if err != nil {
			return err
		}
		defer stop()
	}

	summaries, err := b.harness.Sweep(ctx, cfg.Harness.SweepConfig(), b.sampler)
	if err != nil && len(summaries) == 0 {
		return err
	}
	if err != nil {
		logger.Warn("sweep interrupted, reporting completed levels", zap.Error(err))
	}

	report, err := b.report(summaries)
	if err != nil {
		return err
	}
	return writeReports(report, cfg.Harness.ReportDir, logger)
}

type bench struct {
	cfg     *config.Config
	logger  *zap.Logger
	app     *app // nil when benchmarking a remote API
	harness *loadtest.Harness
	sampler *loadtest.WeightedSampler
	metrics *metrics.Metrics
}

func newBench(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*bench, error) {
	b := &bench{cfg: cfg, logger: logger}

	var target loadtest.Target
	if cfg.Harness.TargetURL != "" {
		target = loadtest.NewHTTPTarget(cfg.Harness.TargetURL, maxLevel(cfg.Harness.Levels))
	} else {
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		b.app = a
		target = a.service
	}

	sampler, err := b.loadSampler(ctx)
	if err != nil {
		b.close()
		return nil, err
	}
	b.sampler = sampler

	b.metrics = metrics.New()
	if b.app != nil {
		if err := b.metrics.Register(metrics.NewPoolCollector("catalog", b.app.pool)); err != nil {
			b.close()
			return nil, err
		}
		if b.app.cache != nil {
			if err := b.metrics.Register(metrics.NewCacheCollector(b.app.cache)); err != nil {
				b.close()
				return nil, err
			}
		}
	}

	harness, err := loadtest.New(&cfg.Harness.Config, target,
		loadtest.WithLogger(logger),
		loadtest.WithRecorder(b.metrics.Recorder(cfg.Harness.Name)))
	if err != nil {
		b.close()
		return nil, err
	}
	b.harness = harness
	return b, nil
}

// serveMetrics exposes the harness, pool and cache metrics while the sweep
// runs. The returned func stops the listener.
func (b *bench) serveMetrics(ctx context.Context, addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	b.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.metrics.Serve(ctx, ln); err != nil {
			b.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func (b *bench) loadSampler(ctx context.Context) (*loadtest.WeightedSampler, error) {
	if f := b.cfg.Harness.QueriesFile; f != "" {
		set, err := loadtest.LoadQueries(f)
		if err != nil {
			return nil, err
		}
		b.logger.Info("loaded query set", zap.String("path", f), zap.Int("queries", len(set.Queries)))
		return set.Sampler()
	}
	if b.app == nil {
		return nil, errors.New("remote benchmarks need a query set file (harness.queries_file)")
	}

	queries, err := b.app.service.PopularQueries(ctx, b.cfg.Harness.Queries)
	if err != nil {
		return nil, fmt.Errorf("popular queries: %w", err)
	}
	return loadtest.NewWeightedSampler(queries)
}

func (b *bench) report(summaries []*loadtest.Summary) (*reporting.Report, error) {
	analysisCfg := loadtest.DefaultAnalysisConfig()
	analysisCfg.MinSuccessRate = b.cfg.Harness.MinSuccessRate
	opts := []reporting.Option{reporting.WithAnalysisConfig(analysisCfg)}

	if b.app != nil {
		opts = append(opts, reporting.WithPoolReport(b.app.pool.GenerateReport()))
		if b.app.cache != nil {
			opts = append(opts, reporting.WithCacheStats(b.app.cache.Stats()))
		}
	}

	var analysis *capacity.Analysis
	model, err := capacity.ModelFromPeak(&b.cfg.Capacity, loadtest.PeakGoodput(summaries))
	if err == nil {
		analysis, err = model.Analyze()
	}
	if err != nil {
		b.logger.Warn("capacity model unavailable", zap.Error(err))
		analysis = nil
	}

	return reporting.Build(summaries, analysis, opts...)
}

func (b *bench) close() {
	if b.app == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Pool.DrainTimeout)
	defer cancel()
	if err := b.app.Close(ctx); err != nil {
		b.logger.Error("close failed", zap.Error(err))
	}
}

func writeReports(report *reporting.Report, dir string, logger *zap.Logger) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	for _, name := range []string{"performance_report.json", "performance_levels.csv", "PERFORMANCE_REPORT.md"} {
		path := filepath.Join(dir, name)
		if err := reporting.WriteFile(report, path); err != nil {
			return err
		}
		logger.Info("report written", zap.String("path", path))
	}
	fmt.Print(reporting.Markdown(report))
	return nil
}

func maxLevel(levels []int) int {
	m := 1
	for _, l := range levels {
		m = max(m, l)
	}
	return m
}

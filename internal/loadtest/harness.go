package loadtest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FailureKind classifies a failed request.
type FailureKind string

const (
	FailureTimeout      FailureKind = "timeout"       // Exceeded the per-request timeout
	FailureServiceError FailureKind = "service_error" // Target returned an error in time
)

var ErrAlreadyRunning = errors.New("loadtest: harness already running")

// Config defines harness parameters.
type Config struct {
	Name           string        `yaml:"name" json:"name"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	ThinkTime      time.Duration `yaml:"think_time" json:"think_time"`
	MaxRPS         float64       `yaml:"max_rps" json:"max_rps"` // Global cap across clients, 0 = unlimited
	Seed           uint64        `yaml:"seed" json:"seed"`       // 0 picks a random seed per run
}

// DefaultConfig returns the harness defaults: 10s request timeout, 100ms think time.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:           name,
		RequestTimeout: 10 * time.Second,
		ThinkTime:      100 * time.Millisecond,
	}
}

// Validate checks configuration
func (c *Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return errors.New("loadtest: request timeout must be positive")
	}
	if c.ThinkTime < 0 {
		return errors.New("loadtest: think time must not be negative")
	}
	if c.MaxRPS < 0 {
		return errors.New("loadtest: max rps must not be negative")
	}
	return nil
}

// Sample is the outcome of one simulated request.
type Sample struct {
	Level     int
	Client    int
	Query     string
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Failure   FailureKind // empty on success
	Err       error
}

// Recorder observes every sample as it is collected. Record is called from a
// single collector goroutine.
type Recorder interface {
	Record(Sample)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Sample)

func (f RecorderFunc) Record(s Sample) { f(s) }

// Summary aggregates one run at one concurrency level.
type Summary struct {
	RunID         uuid.UUID             `json:"run_id"`
	Name          string                `json:"name"`
	Level         int                   `json:"users"`
	StartTime     time.Time             `json:"start_time"`
	EndTime       time.Time             `json:"end_time"`
	TotalRequests int64                 `json:"total_requests"`
	SuccessCount  int64                 `json:"successful_requests"`
	FailureCount  int64                 `json:"failed_requests"`
	SuccessRate   float64               `json:"success_rate"` // Percentage, 0-100
	MinLatency    time.Duration         `json:"min_latency"`
	AvgLatency    time.Duration         `json:"avg_latency"`
	P50Latency    time.Duration         `json:"p50_latency"`
	P95Latency    time.Duration         `json:"p95_latency"`
	P99Latency    time.Duration         `json:"p99_latency"`
	MaxLatency    time.Duration         `json:"max_latency"`
	Throughput    float64               `json:"throughput"` // Completed requests per second
	Goodput       float64               `json:"goodput"`    // Successful requests per second
	Failures      map[FailureKind]int64 `json:"failures"`
}

// Window is the wall-clock duration the summary covers.
func (s *Summary) Window() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Option configures a Harness.
type Option func(*Harness)

// WithRecorder registers a per-sample observer.
func WithRecorder(r Recorder) Option {
	return func(h *Harness) { h.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Harness) { h.logger = logger }
}

// Harness drives concurrent simulated clients against a Target.
type Harness struct {
	config   *Config
	target   Target
	recorder Recorder
	logger   *zap.Logger
	limiter  *rate.Limiter

	running atomic.Bool
}

// New creates a harness. A nil config uses DefaultConfig.
func New(config *Config, target Target, opts ...Option) (*Harness, error) {
	if config == nil {
		config = DefaultConfig("default")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errors.New("loadtest: target is required")
	}

	h := &Harness{
		config: config,
		target: target,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if config.MaxRPS > 0 {
		burst := int(config.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(config.MaxRPS), burst)
	}
	return h, nil
}

// Run spawns concurrency independent clients, each looping until duration
// elapses: pick a query, issue it with the request timeout, record the
// sample, think. Failed requests are recorded and never retried. In-flight
// requests at the end of the window are allowed to finish.
//
// If ctx is cancelled the partial summary is returned along with ctx.Err().
func (h *Harness) Run(ctx context.Context, concurrency int, duration time.Duration, sampler *WeightedSampler) (*Summary, error) {
	if concurrency < 1 {
		return nil, fmt.Errorf("loadtest: concurrency must be at least 1, got %d", concurrency)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("loadtest: duration must be positive, got %v", duration)
	}
	if sampler == nil {
		return nil, ErrNoQueries
	}
	if !h.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer h.running.Store(false)

	seed := h.config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	agg := newAggregator(concurrency)
	samples := make(chan Sample, concurrency*16)
	collectorDone := make(chan struct{})
	go h.collect(samples, agg, collectorDone)

	start := time.Now()
	windowCtx, cancel := context.WithDeadline(ctx, start.Add(duration))
	defer cancel()

	h.logger.Debug("load level starting",
		zap.String("name", h.config.Name),
		zap.Int("users", concurrency),
		zap.Duration("duration", duration))

	var wg sync.WaitGroup
	for client := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, uint64(client)))
			h.client(ctx, windowCtx, client, concurrency, sampler, rng, samples)
		}()
	}

	wg.Wait()
	end := time.Now()
	close(samples)
	<-collectorDone

	summary := agg.summary(h.config.Name, concurrency, start, end)

	h.logger.Info("load level complete",
		zap.String("run_id", summary.RunID.String()),
		zap.Int("users", concurrency),
		zap.Int64("requests", summary.TotalRequests),
		zap.Float64("success_rate", summary.SuccessRate),
		zap.Duration("avg_latency", summary.AvgLatency),
		zap.Float64("throughput", summary.Throughput))

	return summary, ctx.Err()
}

// client is one simulated user.
func (h *Harness) client(ctx, window context.Context, id, level int, sampler *WeightedSampler, rng *rand.Rand, out chan<- Sample) {
	for window.Err() == nil {
		if h.limiter != nil {
			if err := h.limiter.Wait(window); err != nil {
				return
			}
		}

		q := sampler.Pick(rng)
		s := h.issue(ctx, q)
		if ctx.Err() != nil {
			// Aborted by the caller, not a measurement.
			return
		}
		s.Level = level
		s.Client = id
		out <- s

		if !sleep(window, h.config.ThinkTime) {
			return
		}
	}
}

type callResult struct {
	err error
}

// issue performs one request. The timeout holds even if the target ignores
// its context: the call runs on its own goroutine and is abandoned on expiry.
func (h *Harness) issue(ctx context.Context, q Query) Sample {
	reqCtx, cancel := context.WithTimeout(ctx, h.config.RequestTimeout)
	defer cancel()

	done := make(chan callResult, 1)
	start := time.Now()
	go func() {
		done <- callResult{err: h.target.Do(reqCtx, q)}
	}()

	s := Sample{Query: q.Text, StartTime: start}
	select {
	case res := <-done:
		s.Duration = time.Since(start)
		s.Err = res.err
		if res.err != nil {
			s.Failure = classify(res.err)
		}
	case <-reqCtx.Done():
		s.Duration = time.Since(start)
		s.Err = reqCtx.Err()
		s.Failure = FailureTimeout
	}
	s.Success = s.Err == nil
	return s
}

// classify maps a target error to a failure kind.
func classify(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return FailureTimeout
	}
	return FailureServiceError
}

// sleep waits for d or until ctx is done; it reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// collect aggregates samples from clients.
func (h *Harness) collect(samples <-chan Sample, agg *aggregator, done chan struct{}) {
	defer close(done)
	for s := range samples {
		agg.add(s)
		if h.recorder != nil {
			h.recorder.Record(s)
		}
	}
}

// IsRunning returns whether a run is in progress.
func (h *Harness) IsRunning() bool {
	return h.running.Load()
}

// Config returns the harness configuration.
func (h *Harness) Config() Config {
	return *h.config
}

type aggregator struct {
	total, success, failure int64
	latencies               []time.Duration
	failures                map[FailureKind]int64
}

func newAggregator(concurrency int) *aggregator {
	return &aggregator{
		latencies: make([]time.Duration, 0, concurrency*64),
		failures:  make(map[FailureKind]int64),
	}
}

func (a *aggregator) add(s Sample) {
	a.total++
	if s.Success {
		a.success++
	} else {
		a.failure++
		a.failures[s.Failure]++
	}
	a.latencies = append(a.latencies, s.Duration)
}

func (a *aggregator) summary(name string, level int, start, end time.Time) *Summary {
	s := &Summary{
		RunID:         uuid.New(),
		Name:          name,
		Level:         level,
		StartTime:     start,
		EndTime:       end,
		TotalRequests: a.total,
		SuccessCount:  a.success,
		FailureCount:  a.failure,
		Failures:      a.failures,
	}

	if a.total > 0 {
		s.SuccessRate = float64(a.success) / float64(a.total) * 100
	}
	if window := end.Sub(start).Seconds(); window > 0 {
		s.Throughput = float64(a.total) / window
		s.Goodput = float64(a.success) / window
	}
	if len(a.latencies) > 0 {
		s.MinLatency, s.MaxLatency, s.AvgLatency,
			s.P50Latency, s.P95Latency, s.P99Latency = calculatePercentiles(a.latencies)
	}
	return s
}

// calculatePercentiles computes latency statistics using nearest rank.
func calculatePercentiles(latencies []time.Duration) (min, max, avg, p50, p95, p99 time.Duration) {
	if len(latencies) == 0 {
		return
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var total time.Duration
	for _, l := range sorted {
		total += l
	}
	avg = total / time.Duration(len(sorted))

	p50 = percentile(sorted, 50)
	p95 = percentile(sorted, 95)
	p99 = percentile(sorted, 99)
	return
}

func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (len(sorted)*p + 99) / 100 // ceil(n*p/100)
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

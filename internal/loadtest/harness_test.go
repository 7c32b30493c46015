package loadtest

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func testSampler(t *testing.T) *WeightedSampler {
	t.Helper()
	s, err := UniformSampler("matrix", "godfather", "pulp fiction")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func constantTarget(d time.Duration) TargetFunc {
	return func(ctx context.Context, q Query) error {
		time.Sleep(d)
		return nil
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("test")

	if config.Name != "test" {
		t.Errorf("expected name 'test', got %q", config.Name)
	}
	if config.RequestTimeout != 10*time.Second {
		t.Errorf("expected 10s request timeout, got %v", config.RequestTimeout)
	}
	if config.ThinkTime != 100*time.Millisecond {
		t.Errorf("expected 100ms think time, got %v", config.ThinkTime)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("expected error for nil target")
	}

	h, err := New(nil, constantTarget(0))
	if err != nil {
		t.Fatal(err)
	}
	if h.Config().Name != "default" {
		t.Error("expected default config when nil provided")
	}

	if _, err := New(&Config{RequestTimeout: 0}, constantTarget(0)); err == nil {
		t.Error("expected error for zero request timeout")
	}
}

func TestHarness_Run_ConstantService(t *testing.T) {
	const service, think = 10 * time.Millisecond, 40 * time.Millisecond

	h, err := New(&Config{
		Name:           "constant",
		RequestTimeout: time.Second,
		ThinkTime:      think,
		Seed:           42,
	}, constantTarget(service), WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatal(err)
	}

	summary, err := h.Run(context.Background(), 1, 600*time.Millisecond, testSampler(t))
	if err != nil {
		t.Fatal(err)
	}

	if summary.SuccessRate != 100 {
		t.Errorf("expected 100%% success, got %.1f%%", summary.SuccessRate)
	}
	if summary.FailureCount != 0 {
		t.Errorf("expected no failures, got %d", summary.FailureCount)
	}
	if summary.Level != 1 {
		t.Errorf("expected level 1, got %d", summary.Level)
	}

	// One user completes a request every service+think.
	expected := 1 / (service + think).Seconds()
	if math.Abs(summary.Throughput-expected)/expected > 0.3 {
		t.Errorf("expected throughput near %.1f req/s, got %.1f", expected, summary.Throughput)
	}
	if summary.Goodput != summary.Throughput {
		t.Errorf("goodput %.2f should equal throughput %.2f with no failures", summary.Goodput, summary.Throughput)
	}
	if summary.MinLatency < service {
		t.Errorf("min latency %v below service time %v", summary.MinLatency, service)
	}
	if summary.MinLatency > summary.P50Latency || summary.P50Latency > summary.P95Latency ||
		summary.P95Latency > summary.P99Latency || summary.P99Latency > summary.MaxLatency {
		t.Errorf("latency percentiles out of order: %+v", summary)
	}
}

func TestHarness_Run_ClassifiesFailures(t *testing.T) {
	var calls atomic.Int64
	target := TargetFunc(func(ctx context.Context, q Query) error {
		if calls.Add(1)%2 == 0 {
			<-ctx.Done()
			return ctx.Err()
		}
		return errors.New("boom")
	})

	h, err := New(&Config{RequestTimeout: 20 * time.Millisecond, ThinkTime: 5 * time.Millisecond}, target)
	if err != nil {
		t.Fatal(err)
	}

	summary, err := h.Run(context.Background(), 2, 300*time.Millisecond, testSampler(t))
	if err != nil {
		t.Fatal(err)
	}

	if summary.SuccessCount != 0 {
		t.Errorf("expected no successes, got %d", summary.SuccessCount)
	}
	if summary.Failures[FailureTimeout] == 0 {
		t.Error("expected timeout failures")
	}
	if summary.Failures[FailureServiceError] == 0 {
		t.Error("expected service error failures")
	}
	if got := summary.Failures[FailureTimeout] + summary.Failures[FailureServiceError]; got != summary.FailureCount {
		t.Errorf("failure breakdown %d does not sum to %d", got, summary.FailureCount)
	}
	if summary.Goodput != 0 {
		t.Errorf("expected zero goodput, got %.2f", summary.Goodput)
	}
}

func TestHarness_Run_FailuresAreNotRetried(t *testing.T) {
	var calls atomic.Int64
	target := TargetFunc(func(ctx context.Context, q Query) error {
		calls.Add(1)
		return errors.New("unavailable")
	})

	h, err := New(&Config{RequestTimeout: time.Second, ThinkTime: 2 * time.Millisecond}, target)
	if err != nil {
		t.Fatal(err)
	}

	summary, err := h.Run(context.Background(), 4, 200*time.Millisecond, testSampler(t))
	if err != nil {
		t.Fatal(err)
	}

	if summary.TotalRequests == 0 {
		t.Fatal("expected requests to be issued")
	}
	if got := calls.Load(); got != summary.TotalRequests {
		t.Errorf("target saw %d calls for %d recorded requests", got, summary.TotalRequests)
	}
	if summary.FailureCount != summary.TotalRequests {
		t.Errorf("expected every request to fail once, got %d failures of %d", summary.FailureCount, summary.TotalRequests)
	}
	if summary.Failures[FailureServiceError] != summary.TotalRequests {
		t.Errorf("expected %d service errors, got %d", summary.TotalRequests, summary.Failures[FailureServiceError])
	}
}

func TestHarness_Run_HungTargetIsBounded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// Ignores its context entirely.
	target := TargetFunc(func(ctx context.Context, q Query) error {
		<-release
		return nil
	})

	h, err := New(&Config{RequestTimeout: 50 * time.Millisecond}, target)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	summary, err := h.Run(context.Background(), 3, 100*time.Millisecond, testSampler(t))
	if err != nil {
		t.Fatal(err)
	}

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("run took %v, hung requests were not bounded", elapsed)
	}
	if summary.FailureCount == 0 || summary.Failures[FailureTimeout] != summary.FailureCount {
		t.Errorf("expected only timeouts, got %+v", summary.Failures)
	}
}

func TestHarness_Run_Recorder(t *testing.T) {
	var mu sync.Mutex
	var samples []Sample

	h, err := New(&Config{RequestTimeout: time.Second, ThinkTime: time.Millisecond},
		constantTarget(time.Millisecond),
		WithRecorder(RecorderFunc(func(s Sample) {
			mu.Lock()
			samples = append(samples, s)
			mu.Unlock()
		})))
	if err != nil {
		t.Fatal(err)
	}

	summary, err := h.Run(context.Background(), 4, 100*time.Millisecond, testSampler(t))
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if int64(len(samples)) != summary.TotalRequests {
		t.Errorf("recorder saw %d samples, summary has %d", len(samples), summary.TotalRequests)
	}
	clients := make(map[int]bool)
	for _, s := range samples {
		if s.Level != 4 {
			t.Fatalf("sample has level %d", s.Level)
		}
		clients[s.Client] = true
	}
	if len(clients) != 4 {
		t.Errorf("expected samples from 4 clients, got %d", len(clients))
	}
}

func TestHarness_Run_MaxRPS(t *testing.T) {
	h, err := New(&Config{RequestTimeout: time.Second, MaxRPS: 50}, constantTarget(0))
	if err != nil {
		t.Fatal(err)
	}

	summary, err := h.Run(context.Background(), 8, 500*time.Millisecond, testSampler(t))
	if err != nil {
		t.Fatal(err)
	}

	// 50 burst tokens plus 50/s refill over half a second.
	if summary.TotalRequests > 90 {
		t.Errorf("rate limit not applied: %d requests", summary.TotalRequests)
	}
}

func TestHarness_Run_Cancelled(t *testing.T) {
	h, err := New(&Config{RequestTimeout: time.Second, ThinkTime: time.Millisecond}, constantTarget(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	summary, err := h.Run(ctx, 2, time.Minute, testSampler(t))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if summary == nil || summary.TotalRequests == 0 {
		t.Error("expected partial summary")
	}
}

func TestHarness_Run_InvalidArgs(t *testing.T) {
	h, err := New(nil, constantTarget(0))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := h.Run(ctx, 0, time.Second, testSampler(t)); err == nil {
		t.Error("expected error for zero concurrency")
	}
	if _, err := h.Run(ctx, 1, 0, testSampler(t)); err == nil {
		t.Error("expected error for zero duration")
	}
	if _, err := h.Run(ctx, 1, time.Second, nil); !errors.Is(err, ErrNoQueries) {
		t.Errorf("expected ErrNoQueries, got %v", err)
	}
}

func TestHarness_Run_AlreadyRunning(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	target := TargetFunc(func(ctx context.Context, q Query) error {
		once.Do(func() { close(started) })
		return nil
	})

	h, err := New(&Config{RequestTimeout: time.Second, ThinkTime: time.Millisecond}, target)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.Run(context.Background(), 1, 200*time.Millisecond, testSampler(t))
	}()

	<-started
	if _, err := h.Run(context.Background(), 1, time.Millisecond, testSampler(t)); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	<-done
}

func TestCalculatePercentiles(t *testing.T) {
	latencies := make([]time.Duration, 100)
	for i := range latencies {
		latencies[i] = time.Duration(100-i) * time.Millisecond
	}

	min, max, avg, p50, p95, p99 := calculatePercentiles(latencies)

	if min != time.Millisecond || max != 100*time.Millisecond {
		t.Errorf("unexpected bounds %v..%v", min, max)
	}
	if avg != 50500*time.Microsecond {
		t.Errorf("expected avg 50.5ms, got %v", avg)
	}
	if p50 != 50*time.Millisecond || p95 != 95*time.Millisecond || p99 != 99*time.Millisecond {
		t.Errorf("unexpected percentiles p50=%v p95=%v p99=%v", p50, p95, p99)
	}
	if latencies[0] != 100*time.Millisecond {
		t.Error("input slice was modified")
	}
}

func TestClassify(t *testing.T) {
	if classify(context.DeadlineExceeded) != FailureTimeout {
		t.Error("deadline exceeded should be a timeout")
	}
	if classify(timeoutErr{}) != FailureTimeout {
		t.Error("net-style timeout should be a timeout")
	}
	if classify(errors.New("500")) != FailureServiceError {
		t.Error("plain error should be a service error")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

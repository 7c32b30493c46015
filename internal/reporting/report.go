// Package reporting combines a concurrency sweep with the capacity model into
// a single performance report, exported as JSON, CSV or Markdown.
package reporting

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FairForge/loadlab/internal/cache"
	"github.com/FairForge/loadlab/internal/capacity"
	"github.com/FairForge/loadlab/internal/loadtest"
	"github.com/FairForge/loadlab/internal/pool"
)

// Export formats
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
)

var ErrNoLevels = errors.New("report: no load levels")

// LevelResult is one sweep level, latencies in seconds.
type LevelResult struct {
	Users           int     `json:"users"`
	Throughput      float64 `json:"throughput"`
	Goodput         float64 `json:"goodput"`
	AvgResponseTime float64 `json:"avg_response_time"`
	P95ResponseTime float64 `json:"p95_response_time"`
	SuccessRate     float64 `json:"success_rate"`
	Timeouts        int64   `json:"timeouts"`
	ServiceErrors   int64   `json:"service_errors"`
}

// BottleneckPoint describes the first level that missed the success target.
type BottleneckPoint struct {
	Users           int     `json:"bottleneck_users"`
	AvgResponseTime float64 `json:"response_time_at_bottleneck"`
	Throughput      float64 `json:"throughput_at_bottleneck"`
}

type LoadTestSection struct {
	MaxUsersTested  int                          `json:"max_users_tested"`
	PeakThroughput  float64                      `json:"peak_throughput"`
	PeakGoodput     float64                      `json:"peak_goodput"`
	BestSuccessRate float64                      `json:"best_success_rate"`
	Bottleneck      *BottleneckPoint             `json:"bottleneck,omitempty"`
	Analysis        *loadtest.BottleneckAnalysis `json:"analysis"`
	Levels          []LevelResult                `json:"levels"`
}

type CapacitySection struct {
	Model                  string  `json:"model"`
	ServiceRate            float64 `json:"service_rate"`
	DBServiceRate          float64 `json:"db_service_rate"`
	OptimalUsers           int     `json:"optimal_users"`
	RecommendedArrivalRate float64 `json:"recommended_arrival_rate"`
	MaxStableThroughput    float64 `json:"max_stable_throughput"`
}

// Validation compares the model's prediction with what the sweep measured.
// Agrees is only meaningful when Validated is set.
type Validation struct {
	PredictedOptimalUsers    int  `json:"predicted_optimal_users"`
	MeasuredDegradationUsers int  `json:"measured_degradation_users"` // 0 when no level degraded
	MaxUsersTested           int  `json:"max_users_tested"`
	Validated                bool `json:"validated"`
	Agrees                   bool `json:"agrees"`
}

// Report represents a generated report
type Report struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	GeneratedAt     time.Time        `json:"generated_at"`
	LoadTest        LoadTestSection  `json:"load_test_results"`
	Capacity        *CapacitySection `json:"capacity_analysis,omitempty"`
	Validation      *Validation      `json:"validation,omitempty"`
	Cache           []cache.Stats    `json:"cache,omitempty"`
	Pool            *pool.Report     `json:"pool,omitempty"`
	Recommendations []string         `json:"recommendations"`
}

type options struct {
	analysis *loadtest.AnalysisConfig
	cache    []cache.Stats
	pool     *pool.Report
	now      func() time.Time
}

type Option func(*options)

// WithAnalysisConfig sets the bottleneck thresholds, including the success
// rate that marks degradation.
func WithAnalysisConfig(config *loadtest.AnalysisConfig) Option {
	return func(o *options) { o.analysis = config }
}

// WithCacheStats attaches cache statistics taken after the sweep.
func WithCacheStats(stats []cache.Stats) Option {
	return func(o *options) { o.cache = stats }
}

// WithPoolReport attaches the pool's report taken after the sweep.
func WithPoolReport(r *pool.Report) Option {
	return func(o *options) { o.pool = r }
}

// Build assembles a report from sweep summaries in level order. analysis may
// be nil when the model could not be fitted; the capacity and validation
// sections are then omitted.
func Build(levels []*loadtest.Summary, analysis *capacity.Analysis, opts ...Option) (*Report, error) {
	if len(levels) == 0 {
		return nil, ErrNoLevels
	}

	o := &options{
		analysis: loadtest.DefaultAnalysisConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	r := &Report{
		ID:          uuid.New().String(),
		Title:       "Movie Search Performance Report",
		GeneratedAt: o.now().UTC(),
		Cache:       o.cache,
		Pool:        o.pool,
	}

	lt := &r.LoadTest
	for _, s := range levels {
		lt.Levels = append(lt.Levels, LevelResult{
			Users:           s.Level,
			Throughput:      s.Throughput,
			Goodput:         s.Goodput,
			AvgResponseTime: s.AvgLatency.Seconds(),
			P95ResponseTime: s.P95Latency.Seconds(),
			SuccessRate:     s.SuccessRate,
			Timeouts:        s.Failures[loadtest.FailureTimeout],
			ServiceErrors:   s.Failures[loadtest.FailureServiceError],
		})
		lt.MaxUsersTested = max(lt.MaxUsersTested, s.Level)
		lt.PeakThroughput = max(lt.PeakThroughput, s.Throughput)
		lt.BestSuccessRate = max(lt.BestSuccessRate, s.SuccessRate)
	}
	lt.PeakGoodput = loadtest.PeakGoodput(levels)

	if d := loadtest.DegradationPoint(levels, o.analysis.MinSuccessRate); d != nil {
		lt.Bottleneck = &BottleneckPoint{
			Users:           d.Level,
			AvgResponseTime: d.AvgLatency.Seconds(),
			Throughput:      d.Throughput,
		}
	}
	lt.Analysis = loadtest.NewBottleneckAnalyzer(o.analysis).AnalyzeSweep(levels)

	if analysis != nil {
		r.Capacity = &CapacitySection{
			Model:                  "M/M/1 tandem queue, database tier as bottleneck",
			ServiceRate:            analysis.ServiceRate,
			DBServiceRate:          analysis.DBServiceRate,
			OptimalUsers:           analysis.OptimalUsers,
			RecommendedArrivalRate: analysis.RecommendedArrivalRate,
			MaxStableThroughput:    analysis.MaxStableThroughput,
		}
		r.Validation = validate(analysis.OptimalUsers, lt.MaxUsersTested, lt.Bottleneck)
	}

	r.Recommendations = recommend(r)
	return r, nil
}

// validate checks the model's recommended user count against the sweep. With
// a degraded level the model agrees when it stays below it. Without one the
// prediction is only checked if the sweep reached it.
func validate(predicted, maxTested int, bottleneck *BottleneckPoint) *Validation {
	v := &Validation{PredictedOptimalUsers: predicted, MaxUsersTested: maxTested}
	switch {
	case bottleneck != nil:
		v.MeasuredDegradationUsers = bottleneck.Users
		v.Validated = true
		v.Agrees = predicted < bottleneck.Users
	case predicted <= maxTested:
		v.Validated = true
		v.Agrees = true
	}
	return v
}

func recommend(r *Report) []string {
	var recs []string

	if c := r.Capacity; c != nil {
		recs = append(recs, fmt.Sprintf("Keep concurrent users at or below %d (%.1f req/s) to hold response time under the threshold",
			c.OptimalUsers, c.RecommendedArrivalRate))
	}
	if v := r.Validation; v != nil {
		switch {
		case !v.Validated:
			recs = append(recs, fmt.Sprintf("Model predicts %d users but the sweep stopped at %d; extend the levels to validate it",
				v.PredictedOptimalUsers, v.MaxUsersTested))
		case !v.Agrees:
			recs = append(recs, fmt.Sprintf("Model predicts %d users but the service degraded at %d; re-measure the service rate",
				v.PredictedOptimalUsers, v.MeasuredDegradationUsers))
		}
	}

	if a := r.LoadTest.Analysis; a != nil {
		seen := make(map[string]bool)
		for _, b := range a.Bottlenecks {
			if b.Suggestion != "" && !seen[b.Suggestion] {
				seen[b.Suggestion] = true
				recs = append(recs, b.Suggestion)
			}
		}
	}

	for _, s := range r.Cache {
		if s.Hits+s.Misses > 0 && s.HitRate() < 0.5 {
			recs = append(recs, fmt.Sprintf("Cache region %q hits only %.0f%% of lookups; raise its capacity or TTL",
				s.Region, s.HitRate()*100))
		}
	}

	if p := r.Pool; p != nil && p.TotalTimeouts > 0 {
		recs = append(recs, fmt.Sprintf("%d connection acquisitions timed out; enlarge the pool beyond %d or shed load earlier",
			p.TotalTimeouts, p.Capacity))
	}

	if len(recs) == 0 {
		recs = append(recs, "No bottleneck found in the tested range; extend the sweep to higher concurrency")
	}
	return recs
}

// Export renders a report in the given format.
func Export(report *Report, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(report, "", "  ")
	case FormatCSV:
		return exportCSV(report)
	case FormatMarkdown:
		return []byte(Markdown(report)), nil
	default:
		return nil, fmt.Errorf("report: unsupported format: %s", format)
	}
}

// WriteFile exports a report to path, picking the format from the extension.
func WriteFile(report *Report, path string) error {
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = FormatJSON
	case ".csv":
		format = FormatCSV
	case ".md", ".markdown":
		format = FormatMarkdown
	default:
		return fmt.Errorf("report: cannot infer format from %q", path)
	}

	data, err := Export(report, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func exportCSV(report *Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"users", "throughput", "goodput", "avg_response_time", "p95_response_time",
		"success_rate", "timeouts", "service_errors"})
	for _, l := range report.LoadTest.Levels {
		_ = w.Write([]string{
			strconv.Itoa(l.Users),
			strconv.FormatFloat(l.Throughput, 'f', 2, 64),
			strconv.FormatFloat(l.Goodput, 'f', 2, 64),
			strconv.FormatFloat(l.AvgResponseTime, 'f', 4, 64),
			strconv.FormatFloat(l.P95ResponseTime, 'f', 4, 64),
			strconv.FormatFloat(l.SuccessRate, 'f', 1, 64),
			strconv.FormatInt(l.Timeouts, 10),
			strconv.FormatInt(l.ServiceErrors, 10),
		})
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

package loadtest

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// BottleneckType identifies the category of bottleneck.
type BottleneckType string

const (
	BottleneckErrors     BottleneckType = "errors"
	BottleneckTimeouts   BottleneckType = "timeouts"
	BottleneckLatency    BottleneckType = "latency"
	BottleneckThroughput BottleneckType = "throughput"
)

// Severity indicates how critical a bottleneck is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Bottleneck is one finding at a given load level.
type Bottleneck struct {
	Type        BottleneckType     `json:"type"`
	Severity    Severity           `json:"severity"`
	Users       int                `json:"users"`
	Description string             `json:"description"`
	Evidence    []string           `json:"evidence"`
	Suggestion  string             `json:"suggestion"`
	Metrics     map[string]float64 `json:"metrics"`
}

// BottleneckAnalysis contains the findings across a sweep.
type BottleneckAnalysis struct {
	Timestamp time.Time `json:"timestamp"`

	// DegradationUsers is the first level whose success rate fell below the
	// threshold, 0 if none did.
	DegradationUsers int `json:"degradation_users"`

	// SaturationUsers is the first level past which goodput stopped growing,
	// 0 if it kept growing.
	SaturationUsers int          `json:"saturation_users"`
	Bottlenecks     []Bottleneck `json:"bottlenecks"`
	HealthScore     float64      `json:"health_score"` // 0-100, higher is better
	Summary         string       `json:"summary"`
	TopIssue        *Bottleneck  `json:"top_issue,omitempty"`
}

// AnalysisConfig configures bottleneck detection thresholds.
type AnalysisConfig struct {
	MinSuccessRate      float64       `yaml:"min_success_rate" json:"min_success_rate"` // Percent
	P95LatencyThreshold time.Duration `yaml:"p95_latency_threshold" json:"p95_latency_threshold"`
	AvgLatencyThreshold time.Duration `yaml:"avg_latency_threshold" json:"avg_latency_threshold"`

	// MinScalingGain is the smallest relative goodput increase between
	// consecutive levels that still counts as scaling.
	MinScalingGain float64 `yaml:"min_scaling_gain" json:"min_scaling_gain"`
}

// DefaultAnalysisConfig returns 95% success, 1s mean and 2s p95 latency, 10% scaling gain.
func DefaultAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{
		MinSuccessRate:      95,
		AvgLatencyThreshold: time.Second,
		P95LatencyThreshold: 2 * time.Second,
		MinScalingGain:      0.10,
	}
}

// BottleneckAnalyzer identifies where a sweep stops scaling.
type BottleneckAnalyzer struct {
	config *AnalysisConfig
}

// NewBottleneckAnalyzer creates a new analyzer with the given config.
func NewBottleneckAnalyzer(config *AnalysisConfig) *BottleneckAnalyzer {
	if config == nil {
		config = DefaultAnalysisConfig()
	}
	return &BottleneckAnalyzer{config: config}
}

// AnalyzeSweep inspects summaries in level order. Only the first level to
// trip each check is reported.
func (a *BottleneckAnalyzer) AnalyzeSweep(summaries []*Summary) *BottleneckAnalysis {
	analysis := &BottleneckAnalysis{
		Timestamp:   time.Now(),
		Bottlenecks: make([]Bottleneck, 0),
	}

	if s := DegradationPoint(summaries, a.config.MinSuccessRate); s != nil {
		analysis.DegradationUsers = s.Level
		a.addErrorBottleneck(s, analysis)
	}
	a.checkLatency(summaries, analysis)
	a.checkScaling(summaries, analysis)

	a.calculateHealthScore(analysis)
	a.generateSummary(analysis)
	return analysis
}

func (a *BottleneckAnalyzer) addErrorBottleneck(s *Summary, analysis *BottleneckAnalysis) {
	failRate := 100 - s.SuccessRate
	severity := SeverityMedium
	if failRate >= 20 {
		severity = SeverityCritical
	} else if failRate >= 2*(100-a.config.MinSuccessRate) {
		severity = SeverityHigh
	}

	timeouts := s.Failures[FailureTimeout]
	b := Bottleneck{
		Type:        BottleneckErrors,
		Severity:    severity,
		Users:       s.Level,
		Description: "Success rate fell below threshold",
		Evidence: []string{
			fmt.Sprintf("Success rate: %.1f%% (threshold: %.1f%%)", s.SuccessRate, a.config.MinSuccessRate),
			fmt.Sprintf("Timeouts: %d, service errors: %d", timeouts, s.Failures[FailureServiceError]),
		},
		Suggestion: "Review service errors and connection pool sizing",
		Metrics: map[string]float64{
			"success_rate":   s.SuccessRate,
			"timeouts":       float64(timeouts),
			"service_errors": float64(s.Failures[FailureServiceError]),
		},
	}
	// Mostly timeouts means requests queued, typically on the connection pool.
	if timeouts*2 > s.FailureCount {
		b.Type = BottleneckTimeouts
		b.Suggestion = "Requests are queueing; enlarge the connection pool or cache more aggressively"
	}
	analysis.Bottlenecks = append(analysis.Bottlenecks, b)
}

func (a *BottleneckAnalyzer) checkLatency(summaries []*Summary, analysis *BottleneckAnalysis) {
	for _, s := range summaries {
		if s.AvgLatency <= a.config.AvgLatencyThreshold && s.P95Latency <= a.config.P95LatencyThreshold {
			continue
		}

		severity := SeverityMedium
		if s.AvgLatency > a.config.AvgLatencyThreshold*2 {
			severity = SeverityHigh
		}
		if s.AvgLatency > a.config.AvgLatencyThreshold*5 {
			severity = SeverityCritical
		}

		analysis.Bottlenecks = append(analysis.Bottlenecks, Bottleneck{
			Type:        BottleneckLatency,
			Severity:    severity,
			Users:       s.Level,
			Description: "Response time exceeds acceptable threshold",
			Evidence: []string{
				fmt.Sprintf("Avg latency: %v (threshold: %v)", s.AvgLatency, a.config.AvgLatencyThreshold),
				fmt.Sprintf("P95 latency: %v (threshold: %v)", s.P95Latency, a.config.P95LatencyThreshold),
			},
			Suggestion: "Add caching, optimize database queries",
			Metrics: map[string]float64{
				"avg_latency_ms": float64(s.AvgLatency.Milliseconds()),
				"p95_latency_ms": float64(s.P95Latency.Milliseconds()),
			},
		})
		return
	}
}

func (a *BottleneckAnalyzer) checkScaling(summaries []*Summary, analysis *BottleneckAnalysis) {
	for i := 1; i < len(summaries); i++ {
		prev, cur := summaries[i-1], summaries[i]
		if prev.Goodput <= 0 {
			continue
		}
		gain := (cur.Goodput - prev.Goodput) / prev.Goodput
		if gain >= a.config.MinScalingGain {
			continue
		}

		analysis.SaturationUsers = prev.Level
		severity := SeverityInfo
		if gain < 0 {
			severity = SeverityMedium
		}

		analysis.Bottlenecks = append(analysis.Bottlenecks, Bottleneck{
			Type:        BottleneckThroughput,
			Severity:    severity,
			Users:       cur.Level,
			Description: "Throughput stopped scaling with users",
			Evidence: []string{
				fmt.Sprintf("Goodput at %d users: %.1f req/s", prev.Level, prev.Goodput),
				fmt.Sprintf("Goodput at %d users: %.1f req/s (%+.1f%%)", cur.Level, cur.Goodput, gain*100),
			},
			Suggestion: "The slowest tier is saturated; see the queueing model for the stable limit",
			Metrics: map[string]float64{
				"previous_goodput": prev.Goodput,
				"goodput":          cur.Goodput,
				"gain":             gain,
			},
		})
		return
	}
}

// calculateHealthScore computes overall system health from bottlenecks.
func (a *BottleneckAnalyzer) calculateHealthScore(analysis *BottleneckAnalysis) {
	score := 100.0

	for _, b := range analysis.Bottlenecks {
		switch b.Severity {
		case SeverityCritical:
			score -= 30
		case SeverityHigh:
			score -= 20
		case SeverityMedium:
			score -= 10
		case SeverityLow:
			score -= 5
		case SeverityInfo:
			score -= 2
		}
	}

	if score < 0 {
		score = 0
	}
	analysis.HealthScore = score

	if len(analysis.Bottlenecks) > 0 {
		sorted := make([]Bottleneck, len(analysis.Bottlenecks))
		copy(sorted, analysis.Bottlenecks)
		sort.SliceStable(sorted, func(i, j int) bool {
			return severityRank(sorted[i].Severity) > severityRank(sorted[j].Severity)
		})
		analysis.TopIssue = &sorted[0]
	}
}

// severityRank returns numeric rank for sorting.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

func (a *BottleneckAnalyzer) generateSummary(analysis *BottleneckAnalysis) {
	if len(analysis.Bottlenecks) == 0 {
		analysis.Summary = "No significant bottlenecks detected."
		return
	}

	counts := make(map[Severity]int)
	for _, b := range analysis.Bottlenecks {
		counts[b.Severity]++
	}

	var parts []string
	for _, sev := range []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo} {
		if counts[sev] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[sev], sev))
		}
	}

	analysis.Summary = fmt.Sprintf("Detected %d bottleneck(s): %s. Health score: %.0f/100",
		len(analysis.Bottlenecks), strings.Join(parts, ", "), analysis.HealthScore)
}

// GenerateReport renders the analysis as plain text.
func (analysis *BottleneckAnalysis) GenerateReport() string {
	var sb strings.Builder
	sb.WriteString("Bottleneck Analysis Report\n")
	sb.WriteString("==========================\n\n")
	fmt.Fprintf(&sb, "Analyzed: %s\n", analysis.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Health Score: %.0f/100\n\n", analysis.HealthScore)
	fmt.Fprintf(&sb, "Summary: %s\n", analysis.Summary)

	for i, b := range analysis.Bottlenecks {
		fmt.Fprintf(&sb, "\n%d. [%s] %s at %d users - %s\n", i+1, b.Severity, b.Type, b.Users, b.Description)
		for _, e := range b.Evidence {
			fmt.Fprintf(&sb, "   - %s\n", e)
		}
		fmt.Fprintf(&sb, "   Suggestion: %s\n", b.Suggestion)
	}
	return sb.String()
}

package loadtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultLevels is the standard concurrency sweep.
var DefaultLevels = []int{1, 5, 10, 20, 50, 100, 200}

// SweepConfig defines a sequence of load levels.
type SweepConfig struct {
	Levels   []int         `yaml:"levels" json:"levels"`
	Duration time.Duration `yaml:"duration" json:"duration"` // Per level
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"` // Between levels
}

// DefaultSweepConfig returns 30s levels with 5s cooldowns.
func DefaultSweepConfig() *SweepConfig {
	return &SweepConfig{
		Levels:   append([]int(nil), DefaultLevels...),
		Duration: 30 * time.Second,
		Cooldown: 5 * time.Second,
	}
}

// Validate checks that levels are positive and strictly increasing.
func (c *SweepConfig) Validate() error {
	if len(c.Levels) == 0 {
		return errors.New("loadtest: sweep needs at least one level")
	}
	for i, l := range c.Levels {
		if l < 1 {
			return fmt.Errorf("loadtest: level %d must be at least 1, got %d", i, l)
		}
		if i > 0 && l <= c.Levels[i-1] {
			return fmt.Errorf("loadtest: levels must be strictly increasing, %d follows %d", l, c.Levels[i-1])
		}
	}
	if c.Duration <= 0 {
		return errors.New("loadtest: level duration must be positive")
	}
	if c.Cooldown < 0 {
		return errors.New("loadtest: cooldown must not be negative")
	}
	return nil
}

// Sweep runs each level in order and returns one summary per completed level.
// On cancellation the levels completed so far are returned with the error.
func (h *Harness) Sweep(ctx context.Context, config *SweepConfig, sampler *WeightedSampler) ([]*Summary, error) {
	if config == nil {
		config = DefaultSweepConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	summaries := make([]*Summary, 0, len(config.Levels))
	for i, level := range config.Levels {
		summary, err := h.Run(ctx, level, config.Duration, sampler)
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, summary)

		h.logger.Info("sweep progress",
			zap.Int("users", level),
			zap.Float64("success_rate", summary.SuccessRate),
			zap.Duration("avg_latency", summary.AvgLatency),
			zap.Float64("throughput", summary.Throughput),
			zap.Int("completed", i+1),
			zap.Int("levels", len(config.Levels)))

		if i < len(config.Levels)-1 && !sleep(ctx, config.Cooldown) {
			return summaries, ctx.Err()
		}
	}
	return summaries, nil
}

// DegradationPoint returns the first summary whose success rate falls below
// minSuccessRate (percent), or nil if every level held.
func DegradationPoint(summaries []*Summary, minSuccessRate float64) *Summary {
	for _, s := range summaries {
		if s.SuccessRate < minSuccessRate {
			return s
		}
	}
	return nil
}

// PeakGoodput returns the highest successful-request rate across levels.
func PeakGoodput(summaries []*Summary) float64 {
	var peak float64
	for _, s := range summaries {
		if s.Goodput > peak {
			peak = s.Goodput
		}
	}
	return peak
}

// BestLevel returns the summary with the highest goodput among those whose
// mean latency stays under maxAvgLatency, or nil if none does.
func BestLevel(summaries []*Summary, maxAvgLatency time.Duration) *Summary {
	var best *Summary
	for _, s := range summaries {
		if s.TotalRequests == 0 || s.AvgLatency >= maxAvgLatency {
			continue
		}
		if best == nil || s.Goodput > best.Goodput {
			best = s
		}
	}
	return best
}

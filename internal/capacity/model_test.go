package capacity

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictResponseTime(t *testing.T) {
	t.Run("stable queue", func(t *testing.T) {
		rt, err := PredictResponseTime(150, 200)
		require.NoError(t, err)
		assert.InDelta(t, 0.02, rt, 1e-12)
	})

	t.Run("idle queue is one service time", func(t *testing.T) {
		rt, err := PredictResponseTime(0, 50)
		require.NoError(t, err)
		assert.InDelta(t, 0.02, rt, 1e-12)
	})

	t.Run("unstable at and beyond service rate", func(t *testing.T) {
		for _, lambda := range []float64{200, 200.0001, 500} {
			rt, err := PredictResponseTime(lambda, 200)
			assert.ErrorIs(t, err, ErrUnstable, "lambda=%v", lambda)
			assert.Zero(t, rt, "no numeric response time when unstable")
		}
	})

	t.Run("rejects invalid rates", func(t *testing.T) {
		_, err := PredictResponseTime(-1, 200)
		assert.ErrorIs(t, err, ErrInvalidRate)
		_, err = PredictResponseTime(math.NaN(), 200)
		assert.ErrorIs(t, err, ErrInvalidRate)
		_, err = PredictResponseTime(1, math.Inf(1))
		assert.ErrorIs(t, err, ErrInvalidRate)
	})
}

func TestRecommendOperatingPoint(t *testing.T) {
	t.Run("solves threshold algebraically", func(t *testing.T) {
		lambda, err := RecommendOperatingPoint(200, 0.02)
		require.NoError(t, err)
		assert.InDelta(t, 150, lambda, 1e-9)
	})

	t.Run("round trips through response time", func(t *testing.T) {
		for _, tc := range []struct{ mu, threshold float64 }{
			{200, 0.05}, {60, 1}, {1000, 0.003},
		} {
			lambda, err := RecommendOperatingPoint(tc.mu, tc.threshold)
			require.NoError(t, err)
			rt, err := PredictResponseTime(lambda, tc.mu)
			require.NoError(t, err)
			assert.InDelta(t, tc.threshold, rt, 1e-9)
		}
	})

	t.Run("unattainable threshold yields zero", func(t *testing.T) {
		lambda, err := RecommendOperatingPoint(200, 0.001)
		require.NoError(t, err)
		assert.Zero(t, lambda)
	})

	t.Run("rejects non-positive threshold", func(t *testing.T) {
		_, err := RecommendOperatingPoint(200, 0)
		assert.Error(t, err)
	})
}

func TestTandem(t *testing.T) {
	t.Run("equal stations", func(t *testing.T) {
		lambda, err := TandemOperatingPoint(100, 100, 1)
		require.NoError(t, err)
		assert.InDelta(t, 98, lambda, 1e-9)
	})

	t.Run("operating point meets threshold", func(t *testing.T) {
		lambda, err := TandemOperatingPoint(60, 36, 1)
		require.NoError(t, err)
		assert.Less(t, lambda, 36.0)

		rt, err := TandemResponseTime(lambda, 60, 36)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, rt, 1e-9)
	})

	t.Run("unstable when either station saturates", func(t *testing.T) {
		_, err := TandemResponseTime(40, 60, 36)
		assert.ErrorIs(t, err, ErrUnstable)
	})
}

func TestNewEstimate(t *testing.T) {
	est, err := NewEstimate(150, 200)
	require.NoError(t, err)
	assert.True(t, est.Stable)
	assert.InDelta(t, 0.75, est.Utilization, 1e-12)
	assert.InDelta(t, 0.02, est.ResponseTime, 1e-12)

	est, err = NewEstimate(250, 200)
	require.NoError(t, err)
	assert.False(t, est.Stable)
	assert.Zero(t, est.ResponseTime)
}

func TestConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	assert.InDelta(t, 60, config.EstimateServiceRate(50), 1e-9)
	assert.Equal(t, config.DefaultServiceRate, config.EstimateServiceRate(0))

	bad := *config
	bad.PeakAdjustment = 0
	assert.Error(t, bad.Validate())

	bad = *config
	bad.UserThinkPeriod = 0
	assert.Error(t, bad.Validate())
}

func TestModel_Analyze(t *testing.T) {
	model, err := ModelFromPeak(nil, 50)
	require.NoError(t, err)

	assert.InDelta(t, 60, model.ServiceRate, 1e-9)
	assert.InDelta(t, 36, model.DBServiceRate, 1e-9)
	assert.InDelta(t, 36, model.BottleneckRate(), 1e-9)
	assert.InDelta(t, 0.5, model.ArrivalRate(1), 1e-12)

	analysis, err := model.Analyze()
	require.NoError(t, err)

	assert.InDelta(t, 34.958, analysis.RecommendedArrivalRate, 1e-3)
	assert.Equal(t, 69, analysis.OptimalUsers)
	assert.InDelta(t, 36, analysis.MaxStableThroughput, 1e-9)

	// Users 1, 6, ..., 71 are stable; 76 and beyond exceed the database rate.
	require.Len(t, analysis.Points, 15)
	last := analysis.Points[len(analysis.Points)-1]
	assert.Equal(t, 71, last.Users)
	assert.InDelta(t, last.WebResponseTime+last.DBResponseTime, last.ResponseTime, 1e-12)

	for i := 1; i < len(analysis.Points); i++ {
		assert.Greater(t, analysis.Points[i].ResponseTime, analysis.Points[i-1].ResponseTime,
			"response time grows with load")
	}

	assert.Contains(t, analysis.Summary(), "Optimal number of users: 69")
}

func TestModel_OptimalUsersCapped(t *testing.T) {
	config := DefaultConfig()
	config.MaxUsers = 10

	model, err := NewModel(config, 1000)
	require.NoError(t, err)

	users, err := model.OptimalUsers()
	require.NoError(t, err)
	assert.Equal(t, 10, users)
}

func TestNewModel_Invalid(t *testing.T) {
	_, err := NewModel(nil, 0)
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = NewModel(nil, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestModel_Headroom(t *testing.T) {
	model, err := ModelFromPeak(nil, 50)
	require.NoError(t, err)

	tests := []struct {
		rate float64
		risk string
	}{
		{10, "low"},
		{20, "medium"},
		{35, "critical"},
		{40, "unstable"},
	}
	for _, tt := range tests {
		h, err := model.Headroom(tt.rate)
		require.NoError(t, err)
		assert.Equal(t, tt.risk, h.RiskLevel, "rate=%v", tt.rate)
	}

	h, err := model.Headroom(10)
	require.NoError(t, err)
	assert.InDelta(t, 26, h.AbsoluteHeadroom, 1e-9)
	assert.InDelta(t, 24.958, h.RecommendedHeadroom, 1e-3)

	// Past the response-time threshold but below 90% utilization.
	config := DefaultConfig()
	config.DBServiceRatio = 1
	config.ResponseTimeThreshold = 100 * time.Millisecond
	fast, err := NewModel(config, 100)
	require.NoError(t, err)

	h, err = fast.Headroom(85)
	require.NoError(t, err)
	assert.Equal(t, "high", h.RiskLevel)
}

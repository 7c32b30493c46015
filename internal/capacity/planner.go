package capacity

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Config holds the empirical constants of the model. They were measured on one
// test bed and are not expected to transfer to another, so every one of them
// is configuration rather than code.
type Config struct {
	// PeakAdjustment scales the peak observed goodput up to an estimated
	// service rate. Measured plateaus sit below the true capacity because the
	// harness spends part of every window in think time and ramp-down.
	PeakAdjustment float64 `yaml:"peak_adjustment" json:"peak_adjustment"`

	// DBServiceRatio is the database tier's service rate as a fraction of the
	// web tier's.
	DBServiceRatio float64 `yaml:"db_service_ratio" json:"db_service_ratio"`

	// UserThinkPeriod is the mean interval between requests of one user, so
	// that users/UserThinkPeriod is the offered arrival rate.
	UserThinkPeriod time.Duration `yaml:"user_think_period" json:"user_think_period"`

	// ResponseTimeThreshold is the acceptable mean response time.
	ResponseTimeThreshold time.Duration `yaml:"response_time_threshold" json:"response_time_threshold"`

	// DefaultServiceRate is used when no measurement is available.
	DefaultServiceRate float64 `yaml:"default_service_rate" json:"default_service_rate"`

	MaxUsers    int `yaml:"max_users" json:"max_users"`
	SampleEvery int `yaml:"sample_every" json:"sample_every"`
}

// DefaultConfig returns the constants observed on the reference deployment.
func DefaultConfig() *Config {
	return &Config{
		PeakAdjustment:        1.2,
		DBServiceRatio:        0.6,
		UserThinkPeriod:       2 * time.Second,
		ResponseTimeThreshold: time.Second,
		DefaultServiceRate:    50,
		MaxUsers:              200,
		SampleEvery:           5,
	}
}

// Validate checks configuration
func (c *Config) Validate() error {
	if !(c.PeakAdjustment > 0) {
		return errors.New("capacity: peak adjustment must be positive")
	}
	if !(c.DBServiceRatio > 0) {
		return errors.New("capacity: db service ratio must be positive")
	}
	if c.UserThinkPeriod <= 0 {
		return errors.New("capacity: user think period must be positive")
	}
	if c.ResponseTimeThreshold <= 0 {
		return errors.New("capacity: response time threshold must be positive")
	}
	if c.MaxUsers < 1 {
		return errors.New("capacity: max users must be at least 1")
	}
	return nil
}

// Model is a two-tier (web + database) M/M/1 model.
type Model struct {
	config        *Config
	ServiceRate   float64 `json:"service_rate"`
	DBServiceRate float64 `json:"db_service_rate"`
}

// NewModel builds a model around a known web-tier service rate.
func NewModel(config *Config, serviceRate float64) (*Model, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !validRate(serviceRate) || serviceRate == 0 {
		return nil, fmt.Errorf("%w: service rate %v", ErrInvalidRate, serviceRate)
	}
	return &Model{
		config:        config,
		ServiceRate:   serviceRate,
		DBServiceRate: serviceRate * config.DBServiceRatio,
	}, nil
}

// EstimateServiceRate derives mu from the peak sustained throughput observed
// at saturation. A non-positive peak falls back to Config.DefaultServiceRate.
func (c *Config) EstimateServiceRate(peakThroughput float64) float64 {
	if !(peakThroughput > 0) || math.IsInf(peakThroughput, 0) {
		return c.DefaultServiceRate
	}
	return peakThroughput * c.PeakAdjustment
}

// ModelFromPeak builds a model from a measured throughput plateau.
func ModelFromPeak(config *Config, peakThroughput float64) (*Model, error) {
	if config == nil {
		config = DefaultConfig()
	}
	return NewModel(config, config.EstimateServiceRate(peakThroughput))
}

// BottleneckRate is the service rate of the slower tier, which bounds stable
// throughput.
func (m *Model) BottleneckRate() float64 {
	return math.Min(m.ServiceRate, m.DBServiceRate)
}

// ArrivalRate converts a concurrent user count to requests per second.
func (m *Model) ArrivalRate(users int) float64 {
	return float64(users) / m.config.UserThinkPeriod.Seconds()
}

// ResponseTime predicts the end-to-end response time at lambda.
func (m *Model) ResponseTime(lambda float64) (float64, error) {
	return TandemResponseTime(lambda, m.ServiceRate, m.DBServiceRate)
}

// OperatingPoint returns the maximum arrival rate meeting the configured
// response time threshold.
func (m *Model) OperatingPoint() (float64, error) {
	return TandemOperatingPoint(m.ServiceRate, m.DBServiceRate, m.config.ResponseTimeThreshold.Seconds())
}

// OptimalUsers is the largest user count whose arrival rate stays at or below
// the operating point, capped at Config.MaxUsers.
func (m *Model) OptimalUsers() (int, error) {
	lambda, err := m.OperatingPoint()
	if err != nil {
		return 0, err
	}
	users := int(math.Floor(lambda*m.config.UserThinkPeriod.Seconds() + 1e-9))
	if users > m.config.MaxUsers {
		users = m.config.MaxUsers
	}
	return users, nil
}

// Point is one row of the response-time curve.
type Point struct {
	Users           int     `json:"users"`
	ArrivalRate     float64 `json:"arrival_rate"`
	ResponseTime    float64 `json:"response_time"`
	WebResponseTime float64 `json:"web_response_time"`
	DBResponseTime  float64 `json:"db_response_time"`
}

// Analysis is the model's summary over 1..MaxUsers users.
type Analysis struct {
	ServiceRate            float64 `json:"service_rate"`
	DBServiceRate          float64 `json:"db_service_rate"`
	ArrivalPerUser         float64 `json:"arrival_per_user"`
	ResponseTimeThreshold  float64 `json:"response_time_threshold"`
	OptimalUsers           int     `json:"optimal_users"`
	RecommendedArrivalRate float64 `json:"recommended_arrival_rate"`
	MaxStableThroughput    float64 `json:"max_stable_throughput"`
	Points                 []Point `json:"analysis_points"`
}

// Analyze evaluates the curve. Points past the stability bound are omitted.
func (m *Model) Analyze() (*Analysis, error) {
	lambda, err := m.OperatingPoint()
	if err != nil {
		return nil, err
	}
	users, err := m.OptimalUsers()
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		ServiceRate:            m.ServiceRate,
		DBServiceRate:          m.DBServiceRate,
		ArrivalPerUser:         m.ArrivalRate(1),
		ResponseTimeThreshold:  m.config.ResponseTimeThreshold.Seconds(),
		OptimalUsers:           users,
		RecommendedArrivalRate: lambda,
		MaxStableThroughput:    m.BottleneckRate(),
	}

	step := m.config.SampleEvery
	if step < 1 {
		step = 1
	}
	for u := 1; u <= m.config.MaxUsers; u += step {
		rate := m.ArrivalRate(u)
		web, err := PredictResponseTime(rate, m.ServiceRate)
		if err != nil {
			continue
		}
		db, err := PredictResponseTime(rate, m.DBServiceRate)
		if err != nil {
			continue
		}
		a.Points = append(a.Points, Point{
			Users:           u,
			ArrivalRate:     rate,
			ResponseTime:    web + db,
			WebResponseTime: web,
			DBResponseTime:  db,
		})
	}

	return a, nil
}

// HeadroomAnalysis shows remaining capacity at a given load.
type HeadroomAnalysis struct {
	CurrentRate         float64 `json:"current_rate"`
	RecommendedRate     float64 `json:"recommended_rate"`
	RecommendedHeadroom float64 `json:"recommended_headroom"`
	AbsoluteHeadroom    float64 `json:"absolute_headroom"`
	Utilization         float64 `json:"utilization"` // Percentage of bottleneck capacity used
	RiskLevel           string  `json:"risk_level"`
	Recommendation      string  `json:"recommendation"`
}

// Headroom compares a current arrival rate with the operating point and the
// stability bound.
func (m *Model) Headroom(currentRate float64) (*HeadroomAnalysis, error) {
	recommended, err := m.OperatingPoint()
	if err != nil {
		return nil, err
	}

	analysis := &HeadroomAnalysis{
		CurrentRate:     currentRate,
		RecommendedRate: recommended,
	}

	if currentRate < recommended {
		analysis.RecommendedHeadroom = recommended - currentRate
	}

	bound := m.BottleneckRate()
	if currentRate < bound {
		analysis.AbsoluteHeadroom = bound - currentRate
	}
	analysis.Utilization = currentRate / bound * 100

	switch {
	case analysis.Utilization >= 100:
		analysis.RiskLevel = "unstable"
		analysis.Recommendation = "Arrival rate exceeds service rate; shed load or add capacity"
	case analysis.Utilization >= 90:
		analysis.RiskLevel = "critical"
		analysis.Recommendation = "Immediate scaling required"
	case currentRate > recommended:
		analysis.RiskLevel = "high"
		analysis.Recommendation = "Response time threshold exceeded; reduce concurrency"
	case analysis.Utilization >= 50:
		analysis.RiskLevel = "medium"
		analysis.Recommendation = "Monitor closely, plan for growth"
	default:
		analysis.RiskLevel = "low"
		analysis.Recommendation = "Adequate headroom available"
	}

	return analysis, nil
}

// Summary renders the analysis as plain text.
func (a *Analysis) Summary() string {
	var sb strings.Builder
	sb.WriteString("Queueing Analysis\n")
	sb.WriteString("=================\n\n")
	fmt.Fprintf(&sb, "Estimated service rate: %.1f req/s\n", a.ServiceRate)
	fmt.Fprintf(&sb, "Database service rate:  %.1f req/s\n", a.DBServiceRate)
	fmt.Fprintf(&sb, "Max stable throughput:  %.1f req/s\n", a.MaxStableThroughput)
	fmt.Fprintf(&sb, "Recommended arrival:    %.1f req/s (<= %.2fs response)\n",
		a.RecommendedArrivalRate, a.ResponseTimeThreshold)
	fmt.Fprintf(&sb, "Optimal number of users: %d\n", a.OptimalUsers)
	return sb.String()
}

// Package capacity predicts response time and the stable-throughput ceiling of
// a request-serving system from measured service rates, using M/M/1 queues.
package capacity

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnstable reports that the arrival rate meets or exceeds the service rate.
// The queue grows without bound, so there is no finite response time.
var ErrUnstable = errors.New("capacity: arrival rate meets or exceeds service rate")

var ErrInvalidRate = errors.New("capacity: rates must be finite and non-negative")

func validRate(r float64) bool {
	return r >= 0 && !math.IsNaN(r) && !math.IsInf(r, 0)
}

// PredictResponseTime returns the mean M/M/1 response time 1/(mu-lambda) in
// seconds, or ErrUnstable when lambda >= mu.
func PredictResponseTime(lambda, mu float64) (float64, error) {
	if !validRate(lambda) || !validRate(mu) {
		return 0, ErrInvalidRate
	}
	if lambda >= mu {
		return 0, ErrUnstable
	}
	return 1 / (mu - lambda), nil
}

// RecommendOperatingPoint returns the largest arrival rate whose predicted
// response time stays within threshold seconds: mu - 1/threshold. When even an
// idle server cannot meet the threshold (1/mu > threshold) it returns 0.
func RecommendOperatingPoint(mu, threshold float64) (float64, error) {
	if !validRate(mu) {
		return 0, ErrInvalidRate
	}
	if !(threshold > 0) || math.IsInf(threshold, 0) {
		return 0, fmt.Errorf("capacity: response time threshold must be positive, got %v", threshold)
	}
	return math.Max(0, mu-1/threshold), nil
}

// TandemResponseTime is the response time of two M/M/1 stations in series,
// e.g. a web tier followed by its database.
func TandemResponseTime(lambda, mu1, mu2 float64) (float64, error) {
	r1, err := PredictResponseTime(lambda, mu1)
	if err != nil {
		return 0, err
	}
	r2, err := PredictResponseTime(lambda, mu2)
	if err != nil {
		return 0, err
	}
	return r1 + r2, nil
}

// TandemOperatingPoint returns the largest arrival rate at which two stations
// in series stay within threshold. It solves
//
//	1/(mu1-x) + 1/(mu2-x) = threshold
//
// which rearranges to T*x^2 - (T*(mu1+mu2) - 2)*x + (T*mu1*mu2 - mu1 - mu2) = 0.
// The smaller root is the one below both service rates; the discriminant
// T^2*(mu1-mu2)^2 + 4 is always positive.
func TandemOperatingPoint(mu1, mu2, threshold float64) (float64, error) {
	if !validRate(mu1) || !validRate(mu2) {
		return 0, ErrInvalidRate
	}
	if !(threshold > 0) || math.IsInf(threshold, 0) {
		return 0, fmt.Errorf("capacity: response time threshold must be positive, got %v", threshold)
	}

	t := threshold
	b := t*(mu1+mu2) - 2
	c := t*mu1*mu2 - mu1 - mu2
	disc := b*b - 4*t*c
	x := (b - math.Sqrt(disc)) / (2 * t)
	return math.Max(0, x), nil
}

// Estimate is a derived capacity estimate for one arrival rate.
type Estimate struct {
	ServiceRate  float64 `json:"service_rate"`
	ArrivalRate  float64 `json:"arrival_rate"`
	ResponseTime float64 `json:"response_time"` // seconds; zero when unstable
	Utilization  float64 `json:"utilization"`
	Stable       bool    `json:"stable"`
}

// NewEstimate evaluates a single-server queue at the given rates. An unstable
// configuration is reported through Stable, not as an error.
func NewEstimate(lambda, mu float64) (Estimate, error) {
	est := Estimate{ServiceRate: mu, ArrivalRate: lambda}
	if mu > 0 {
		est.Utilization = lambda / mu
	}

	rt, err := PredictResponseTime(lambda, mu)
	switch {
	case errors.Is(err, ErrUnstable):
		return est, nil
	case err != nil:
		return est, err
	}
	est.ResponseTime = rt
	est.Stable = true
	return est, nil
}

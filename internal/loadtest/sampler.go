package loadtest

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// Query is one synthetic request with its popularity weight.
type Query struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

var ErrNoQueries = errors.New("loadtest: no queries with positive weight")

// WeightedSampler draws queries with probability weight_i / sum(weights).
// It is immutable after construction and safe for concurrent use as long as
// each caller brings its own *rand.Rand.
type WeightedSampler struct {
	queries []Query
	cumsum  []float64
	total   float64
}

// NewWeightedSampler precomputes prefix sums over the weights. Zero weights are
// allowed (never drawn); negative, NaN or infinite weights are rejected.
func NewWeightedSampler(queries []Query) (*WeightedSampler, error) {
	s := &WeightedSampler{
		queries: make([]Query, 0, len(queries)),
		cumsum:  make([]float64, 0, len(queries)),
	}

	for i, q := range queries {
		if q.Weight < 0 || math.IsNaN(q.Weight) || math.IsInf(q.Weight, 0) {
			return nil, fmt.Errorf("loadtest: query %d (%q) has invalid weight %v", i, q.Text, q.Weight)
		}
		if q.Weight == 0 {
			continue
		}
		s.total += q.Weight
		s.queries = append(s.queries, q)
		s.cumsum = append(s.cumsum, s.total)
	}

	if len(s.queries) == 0 {
		return nil, ErrNoQueries
	}
	return s, nil
}

// UniformSampler gives every text the same weight.
func UniformSampler(texts ...string) (*WeightedSampler, error) {
	queries := make([]Query, len(texts))
	for i, t := range texts {
		queries[i] = Query{Text: t, Weight: 1}
	}
	return NewWeightedSampler(queries)
}

// Pick draws one query.
func (s *WeightedSampler) Pick(rng *rand.Rand) Query {
	u := rng.Float64() * s.total
	// First prefix sum strictly greater than u.
	i := sort.Search(len(s.cumsum), func(i int) bool { return s.cumsum[i] > u })
	if i == len(s.cumsum) {
		i = len(s.cumsum) - 1
	}
	return s.queries[i]
}

// Draw materializes n queries, e.g. to persist a reproducible query set.
func (s *WeightedSampler) Draw(n int, rng *rand.Rand) []Query {
	out := make([]Query, n)
	for i := range out {
		out[i] = s.Pick(rng)
	}
	return out
}

// Len returns the number of drawable queries.
func (s *WeightedSampler) Len() int {
	return len(s.queries)
}

// Probability returns the selection probability of the i-th drawable query.
func (s *WeightedSampler) Probability(i int) float64 {
	return s.queries[i].Weight / s.total
}

package loadtest

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func TestNewWeightedSampler_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		queries []Query
	}{
		{"empty", nil},
		{"all zero", []Query{{"a", 0}, {"b", 0}}},
		{"negative", []Query{{"a", 1}, {"b", -1}}},
		{"nan", []Query{{"a", math.NaN()}}},
		{"inf", []Query{{"a", math.Inf(1)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWeightedSampler(tt.queries); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := NewWeightedSampler(nil); !errors.Is(err, ErrNoQueries) {
		t.Errorf("expected ErrNoQueries, got %v", err)
	}
}

func TestWeightedSampler_Distribution(t *testing.T) {
	sampler, err := NewWeightedSampler([]Query{
		{"matrix", 70},
		{"godfather", 20},
		{"pulp fiction", 10},
	})
	if err != nil {
		t.Fatal(err)
	}

	const draws = 100000
	rng := rand.New(rand.NewPCG(1, 2))
	counts := make(map[string]int)
	for _, q := range sampler.Draw(draws, rng) {
		counts[q.Text]++
	}

	want := map[string]float64{"matrix": 0.70, "godfather": 0.20, "pulp fiction": 0.10}
	for text, p := range want {
		got := float64(counts[text]) / draws
		if math.Abs(got-p) > 0.01 {
			t.Errorf("%s: expected frequency %.2f, got %.4f", text, p, got)
		}
	}
}

func TestWeightedSampler_ZeroWeightNeverDrawn(t *testing.T) {
	sampler, err := NewWeightedSampler([]Query{{"a", 1}, {"never", 0}, {"b", 1}})
	if err != nil {
		t.Fatal(err)
	}
	if sampler.Len() != 2 {
		t.Errorf("expected 2 drawable queries, got %d", sampler.Len())
	}

	rng := rand.New(rand.NewPCG(3, 4))
	for range 10000 {
		if q := sampler.Pick(rng); q.Text == "never" {
			t.Fatal("drew zero-weight query")
		}
	}
}

func TestWeightedSampler_Reproducible(t *testing.T) {
	sampler, err := UniformSampler("a", "b", "c", "d")
	if err != nil {
		t.Fatal(err)
	}
	if p := sampler.Probability(0); p != 0.25 {
		t.Errorf("expected probability 0.25, got %v", p)
	}

	first := sampler.Draw(50, rand.New(rand.NewPCG(7, 7)))
	second := sampler.Draw(50, rand.New(rand.NewPCG(7, 7)))
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("draw %d differs with same seed: %v vs %v", i, first[i], second[i])
		}
	}
}

package domain

import (
	"math"
	"sort"
)

// validValues returns the non-NaN entries of vs, in order.
func validValues(vs []float64) []float64 {
	out := make([]float64, 0, len(vs))
	for _, v := range vs {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Max returns the largest non-NaN value, or nil when none exists.
func Max(vs []float64) *float64 {
	valid := validValues(vs)
	if len(valid) == 0 {
		return nil
	}
	m := valid[0]
	for _, v := range valid[1:] {
		if v > m {
			m = v
		}
	}
	return &m
}

// Mean returns the arithmetic mean of the non-NaN values, or nil when none
// exists.
func Mean(vs []float64) *float64 {
	valid := validValues(vs)
	if len(valid) == 0 {
		return nil
	}
	var sum float64
	for _, v := range valid {
		sum += v
	}
	m := sum / float64(len(valid))
	return &m
}

// Percentile returns the p-th percentile (0 < p <= 100) of the non-NaN
// values using the nearest-rank method, or nil when none exists.
func Percentile(vs []float64, p float64) *float64 {
	valid := validValues(vs)
	if len(valid) == 0 || p <= 0 || p > 100 {
		return nil
	}
	sort.Float64s(valid)
	rank := int(math.Ceil(p / 100 * float64(len(valid))))
	if rank < 1 {
		rank = 1
	}
	v := valid[rank-1]
	return &v
}

// Summarize computes the standard neighborhood aggregate over a bag of grid
// samples.
func Summarize(vs []float64) Aggregate {
	return Aggregate{
		Max:   Max(vs),
		Mean:  Mean(vs),
		P90:   Percentile(vs, 90),
		Count: len(validValues(vs)),
	}
}

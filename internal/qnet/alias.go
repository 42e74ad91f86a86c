package qnet

import "math/rand"

// AliasSampler draws a weighted random index in O(1) using Vose's alias
// method, precomputed once from fixed weights (§9: "weighted sampling of
// in-links at a node uses an alias method precomputed at partition
// construction from fixed link capacities").
type AliasSampler struct {
	prob  []float64
	alias []int
}

// NewAliasSampler builds a sampler over len(weights) outcomes. Weights need
// not sum to 1; they are normalized internally. Panics if weights is empty
// or all-zero.
func NewAliasSampler(weights []float64) *AliasSampler {
	n := len(weights)
	if n == 0 {
		panic("qnet: NewAliasSampler requires at least one weight")
	}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		panic("qnet: NewAliasSampler requires a positive total weight")
	}

	scaled := make([]float64, n)
	for i, w := range weights {
		scaled[i] = w * float64(n) / sum
	}

	small := make([]int, 0, n)
	large := make([]int, 0, n)
	for i, p := range scaled {
		if p < 1.0 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}

	prob := make([]float64, n)
	alias := make([]int, n)

	for len(small) > 0 && len(large) > 0 {
		s := small[len(small)-1]
		small = small[:len(small)-1]
		l := large[len(large)-1]
		large = large[:len(large)-1]

		prob[s] = scaled[s]
		alias[s] = l

		scaled[l] = scaled[l] + scaled[s] - 1.0
		if scaled[l] < 1.0 {
			small = append(small, l)
		} else {
			large = append(large, l)
		}
	}
	for _, l := range large {
		prob[l] = 1.0
	}
	for _, s := range small {
		prob[s] = 1.0
	}

	return &AliasSampler{prob: prob, alias: alias}
}

// Sample draws one index in [0, n) using rng.
func (a *AliasSampler) Sample(rng *rand.Rand) int {
	n := len(a.prob)
	i := rng.Intn(n)
	if rng.Float64() < a.prob[i] {
		return i
	}
	return a.alias[i]
}

package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// minCorrelationPairs is the smallest series length worth correlating.
// Below this the coefficients stay at their previous values.
const minCorrelationPairs = 3

// CorrelationStats holds Pearson and Spearman correlation coefficients, with
// two-sided p-values, between observed and expected per-reference counts.
// The fields are never summed; they are recomputed from child counts after
// every update and after every merge.
type CorrelationStats struct {
	Spearman  float64 `json:"spearman"`
	SpearmanP float64 `json:"spearman_p"`
	Pearson   float64 `json:"pearson"`
	PearsonP  float64 `json:"pearson_p"`
}

// update recomputes the coefficients from (observed, expected) pairs. Every
// key in expected contributes a pair; a key with no observed count counts as
// 0. Series shorter than minCorrelationPairs, and degenerate series with no
// variance, leave the previous values in place.
func (c *CorrelationStats) update(observed map[string]int, expected map[string]float64) {
	if len(expected) < minCorrelationPairs {
		return
	}
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	obs := make([]float64, len(keys))
	exp := make([]float64, len(keys))
	for i, k := range keys {
		obs[i] = float64(observed[k])
		exp[i] = expected[k]
	}

	if r, p, ok := pearson(obs, exp); ok {
		c.Pearson, c.PearsonP = r, p
	}
	if r, p, ok := pearson(ranks(obs), ranks(exp)); ok {
		c.Spearman, c.SpearmanP = r, p
	}
}

// pearson returns the Pearson correlation coefficient of x and y and its
// two-sided p-value under the usual t-distribution approximation. ok is
// false when either series has zero variance.
func pearson(x, y []float64) (r, p float64, ok bool) {
	r = stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, 0, false
	}
	n := float64(len(x))
	if 1-r*r <= 0 {
		// Perfectly correlated series.
		return r, 0, true
	}
	t := r * math.Sqrt((n-2)/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 2}
	return r, 2 * dist.CDF(-math.Abs(t)), true
}

// ranks maps x to 1-based ranks, averaging ties, so that the Pearson
// coefficient of the ranked series is the Spearman coefficient of x.
func ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return x[idx[i]] < x[idx[j]] })

	out := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		rank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = rank
		}
		i = j + 1
	}
	return out
}

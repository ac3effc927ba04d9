package workload

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/quotagate/quotagate/game"
)

// Generator draws synthetic candidates whose attribute marginals follow the
// scenario's relative frequencies and, when the correlation matrix is usable,
// whose pairwise structure follows a Gaussian copula: correlated standard
// normals thresholded at each attribute's quantile.
type Generator struct {
	attrs      []game.AttributeID
	thresholds []float64
	l          *mat.TriDense // Cholesky factor; nil = independent draws
	rng        *rand.Rand
	next       int
}

// NewGenerator builds a generator over the attributes named in stats.
// A missing or non-positive-definite correlation matrix degrades to
// independent per-attribute draws.
func NewGenerator(stats game.AttributeStatistics, rng *rand.Rand) (*Generator, error) {
	if len(stats.RelativeFrequencies) == 0 {
		return nil, fmt.Errorf("no relative frequencies to sample from")
	}
	attrs := make([]game.AttributeID, 0, len(stats.RelativeFrequencies))
	for a := range stats.RelativeFrequencies {
		attrs = append(attrs, a)
	}
	sort.Strings(attrs)

	norm := distuv.Normal{Mu: 0, Sigma: 1}
	thresholds := make([]float64, len(attrs))
	for i, a := range attrs {
		f := stats.RelativeFrequencies[a]
		switch {
		case f <= 0:
			thresholds[i] = norm.Quantile(1e-9)
		case f >= 1:
			thresholds[i] = norm.Quantile(1 - 1e-9)
		default:
			thresholds[i] = norm.Quantile(f)
		}
	}

	g := &Generator{attrs: attrs, thresholds: thresholds, rng: rng}
	if chol := factorize(attrs, stats); chol != nil {
		g.l = &mat.TriDense{}
		chol.LTo(g.l)
	}
	return g, nil
}

// factorize attempts a Cholesky decomposition of the scenario correlation
// matrix restricted to attrs. Missing entries count as zero correlation.
// Returns nil when the matrix is absent, fewer than two attributes are in
// play, or the matrix is not positive definite.
func factorize(attrs []game.AttributeID, stats game.AttributeStatistics) *mat.Cholesky {
	if len(stats.Correlations) == 0 || len(attrs) < 2 {
		return nil
	}
	n := len(attrs)
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		sym.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			sym.SetSym(i, j, stats.Corr(attrs[i], attrs[j]))
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil
	}
	return &chol
}

// Next draws one candidate. Indices increase from 0 in generation order.
func (g *Generator) Next() game.Candidate {
	n := len(g.attrs)
	z := make([]float64, n)
	for i := range z {
		z[i] = g.rng.NormFloat64()
	}
	if g.l != nil {
		out := mat.NewVecDense(n, nil)
		out.MulVec(g.l, mat.NewVecDense(n, z))
		for i := range z {
			z[i] = out.AtVec(i)
		}
	}
	attrs := make(map[game.AttributeID]bool, n)
	for i, a := range g.attrs {
		attrs[a] = z[i] <= g.thresholds[i]
	}
	c := game.Candidate{Index: g.next, Attributes: attrs}
	g.next++
	return c
}

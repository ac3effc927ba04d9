package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotagate/quotagate/game"
)

func TestAttrEWMA_PriorsSeedEstimates(t *testing.T) {
	acct := mustAccounting(t, 10,
		game.Constraint{Attribute: "A", MinCount: 2},
		game.Constraint{Attribute: "B", MinCount: 1})
	p := NewAttrEWMA(acct, game.AttributeStatistics{
		RelativeFrequencies: map[game.AttributeID]float64{"A": 0.3},
	}, AttrConfig{Alpha: 0.5, RiskMargin: 0, Warmup: 0})

	assert.Equal(t, 0.3, p.Rate("A"))
	// B has no prior: the first observation replaces it outright.
	p.RecordObservation(map[game.AttributeID]bool{"A": true, "B": true}, true)
	assert.InDelta(t, 0.65, p.Rate("A"), 1e-12)
	assert.Equal(t, 1.0, p.Rate("B"))
}

func TestAttrEWMA_EstimatesStayInUnitInterval(t *testing.T) {
	acct := mustAccounting(t, 10, game.Constraint{Attribute: "A", MinCount: 2})
	p := NewAttrEWMA(acct, game.AttributeStatistics{}, AttrConfig{Alpha: 0.9, RiskMargin: 0, Warmup: 0})
	for i := 0; i < 100; i++ {
		p.RecordObservation(map[game.AttributeID]bool{"A": i%2 == 0}, false)
		assert.GreaterOrEqual(t, p.Rate("A"), 0.0)
		assert.LessOrEqual(t, p.Rate("A"), 1.0)
	}
}

// The coverage-ratio gate focuses on the scarcest attribute: with a rare
// attribute far from its quota, a non-helpful candidate is rejected even
// though the common attribute alone looks comfortable.
func TestAttrEWMA_GatesOnScarcestAttribute(t *testing.T) {
	acct := mustAccounting(t, 51,
		game.Constraint{Attribute: "rare", MinCount: 10},
		game.Constraint{Attribute: "common", MinCount: 1})
	p := NewAttrEWMA(acct, game.AttributeStatistics{
		RelativeFrequencies: map[game.AttributeID]float64{"rare": 0.05, "common": 0.9},
	}, AttrConfig{Alpha: 0.04, RiskMargin: 0, Warmup: 0, GateTopK: 1})

	// R=51, R'=50: expected rare coverage 0.05*50 = 2.5 < 10.
	d := p.Redecide(game.Candidate{Index: 0, Attributes: map[game.AttributeID]bool{}}, acct)
	assert.Equal(t, game.Reject, d)
}

// Exactly tied coverage ratios and rates break lexicographically: the gate
// holds x, whose margin-inflated target is reachable, not y, whose is not.
func TestAttrEWMA_TopKTiebreakIsLexicographic(t *testing.T) {
	acct := mustAccounting(t, 111,
		game.Constraint{Attribute: "x", MinCount: 10},
		game.Constraint{Attribute: "y", MinCount: 20})
	for i := 0; i < 10; i++ {
		require.NoError(t, acct.RecordAccept(map[game.AttributeID]bool{"y": true}))
	}
	// Both needs are 10 and both rates 0.115, so coverage ratios tie.
	p := NewAttrEWMA(acct, game.AttributeStatistics{
		RelativeFrequencies: map[game.AttributeID]float64{"x": 0.115, "y": 0.115},
	}, AttrConfig{Alpha: 0.04, RiskMargin: 0.1, Warmup: 0, GateTopK: 1})

	// R=101, R'=100: q*R' = 11.5. Gating x: 11.5 >= 10*1.1 accepts.
	// Gating y instead would reject: 10+11.5 < 20*1.1.
	d := p.Redecide(game.Candidate{Index: 0, Attributes: map[game.AttributeID]bool{}}, acct)
	assert.Equal(t, game.Accept, d)
}

// Correlation-aware inflation borrows rate from a strongly correlated
// attribute, flipping a reject into an accept.
func TestAttrEWMA_CorrelationInflation(t *testing.T) {
	stats := game.AttributeStatistics{
		RelativeFrequencies: map[game.AttributeID]float64{"A": 0.06, "B": 0.9},
		Correlations: map[game.AttributeID]map[game.AttributeID]float64{
			"A": {"A": 1, "B": 0.5},
			"B": {"A": 0.5, "B": 1},
		},
	}
	cfg := AttrConfig{Alpha: 0.04, RiskMargin: 0, Warmup: 0, CorrBeta: 1}

	baseline := func(corrAware bool) game.Decision {
		acct := mustAccounting(t, 21,
			game.Constraint{Attribute: "A", MinCount: 3},
			game.Constraint{Attribute: "B", MinCount: 1})
		cfg := cfg
		cfg.CorrAware = corrAware
		p := NewAttrEWMA(acct, stats, cfg)
		return p.Redecide(game.Candidate{Index: 0, Attributes: map[game.AttributeID]bool{}}, acct)
	}

	// R'=20: bare coverage 0.06*20 = 1.2 < 3 rejects; inflated rate
	// 0.06 + 0.5*0.9 = 0.51 covers 10.2 >= 3 and accepts.
	assert.Equal(t, game.Reject, baseline(false))
	assert.Equal(t, game.Accept, baseline(true))
}

// Mixed-sign correlations all enter the inflation sum; only the total is
// floored at zero.
func TestAttrEWMA_SignedCorrelationSum(t *testing.T) {
	build := func(corrAC float64) (*AttrEWMA, *game.Accounting) {
		stats := game.AttributeStatistics{
			RelativeFrequencies: map[game.AttributeID]float64{"A": 0.2, "B": 0.5, "C": 0.5},
			Correlations: map[game.AttributeID]map[game.AttributeID]float64{
				"A": {"A": 1, "B": 0.4, "C": corrAC},
				"B": {"A": 0.4, "B": 1, "C": 0},
				"C": {"A": corrAC, "B": 0, "C": 1},
			},
		}
		acct := mustAccounting(t, 100,
			game.Constraint{Attribute: "A", MinCount: 5},
			game.Constraint{Attribute: "B", MinCount: 5},
			game.Constraint{Attribute: "C", MinCount: 5})
		p := NewAttrEWMA(acct, stats, AttrConfig{
			Alpha: 0.04, RiskMargin: 0, Warmup: 0,
			CorrAware: true, CorrBeta: 1,
		})
		return p, acct
	}

	// Negative total floors at zero: 0.2 + max(0, 0.4*0.5 - 0.8*0.5) = 0.2.
	p, acct := build(-0.8)
	assert.InDelta(t, 0.2, p.effectiveRate("A", acct), 1e-12)

	// A milder negative term only dampens: 0.2 + (0.4*0.5 - 0.2*0.5) = 0.3.
	p, acct = build(-0.2)
	assert.InDelta(t, 0.3, p.effectiveRate("A", acct), 1e-12)

	// A satisfied attribute drops out of the sum entirely.
	p, acct = build(-0.8)
	for i := 0; i < 5; i++ {
		require.NoError(t, acct.RecordAccept(map[game.AttributeID]bool{"C": true}))
	}
	assert.InDelta(t, 0.4, p.effectiveRate("A", acct), 1e-12)
}

func TestAttrEWMA_RecordObservationMatchesDecideUpdates(t *testing.T) {
	stats := game.AttributeStatistics{
		RelativeFrequencies: map[game.AttributeID]float64{"A": 0.3, "B": 0.6},
	}
	cfg := AttrConfig{Alpha: 0.1, RiskMargin: 0.1, Warmup: 3}
	acctA := mustAccounting(t, 50,
		game.Constraint{Attribute: "A", MinCount: 10},
		game.Constraint{Attribute: "B", MinCount: 10})
	acctB := mustAccounting(t, 50,
		game.Constraint{Attribute: "A", MinCount: 10},
		game.Constraint{Attribute: "B", MinCount: 10})
	live := NewAttrEWMA(acctA, stats, cfg)
	replayed := NewAttrEWMA(acctB, stats, cfg)

	arrivals := []map[game.AttributeID]bool{
		{"A": true}, {"B": true}, {}, {"A": true, "B": true}, {"B": true},
	}
	for i, attrs := range arrivals {
		live.Decide(game.Candidate{Index: i, Attributes: attrs}, acctA)
		replayed.RecordObservation(attrs, acctB.Helpful(attrs))
	}
	assert.Equal(t, live.n, replayed.n)
	assert.Equal(t, live.pHat, replayed.pHat)
}

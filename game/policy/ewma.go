package policy

import "github.com/quotagate/quotagate/game"

// EWMA relaxes the reserve rule using a single exponentially-weighted
// estimate of the helpful-arrival rate.
type EWMA struct {
	acct *game.Accounting

	alpha      float64
	riskMargin float64
	warmup     int

	pHat float64
	n    int
}

// NewEWMA creates the global-EWMA policy over acct. The estimate starts at a
// neutral 0.5 prior; the first observation replaces it outright, every later
// one folds in with weight alpha.
func NewEWMA(acct *game.Accounting, alpha, riskMargin float64, warmup int) *EWMA {
	return &EWMA{
		acct:       acct,
		alpha:      clamp(alpha, 1e-6, 1),
		riskMargin: riskMargin,
		warmup:     warmup,
		pHat:       0.5,
	}
}

func (p *EWMA) Name() string { return "ewma" }

func (p *EWMA) update(helpful bool) {
	x := 0.0
	if helpful {
		x = 1.0
	}
	if p.n == 0 {
		p.pHat = x
	} else {
		p.pHat = p.alpha*x + (1-p.alpha)*p.pHat
	}
}

func (p *EWMA) Decide(c game.Candidate, acct *game.Accounting) game.Decision {
	helpful := acct.Helpful(c.Attributes)
	p.update(helpful)
	d := p.gate(helpful, c.Attributes, acct)
	p.n++
	return d
}

// Redecide renders a verdict without consuming an observation.
func (p *EWMA) Redecide(c game.Candidate, acct *game.Accounting) game.Decision {
	return p.gate(acct.Helpful(c.Attributes), c.Attributes, acct)
}

func (p *EWMA) gate(helpful bool, attrs map[game.AttributeID]bool, acct *game.Accounting) game.Decision {
	if helpful || p.n < p.warmup {
		return reserveRule(attrs, acct)
	}
	s := acct.Slack()
	r := acct.Remaining()
	if s >= r {
		return game.Reject
	}
	rPrime := r - 1
	if rPrime < 1 {
		rPrime = 1
	}
	threshold := float64(s) / float64(rPrime) * (1 + p.riskMargin)
	if p.pHat >= threshold {
		return game.Accept
	}
	return game.Reject
}

func (p *EWMA) RecordObservation(_ map[game.AttributeID]bool, helpful bool) {
	p.update(helpful)
	p.n++
}

func (p *EWMA) OnAccept(game.Candidate) {}

func (p *EWMA) RemainingNeeded() map[game.AttributeID]int { return p.acct.NeedAll() }

// Rate exposes the current estimate for progress reporting and tests.
func (p *EWMA) Rate() float64 { return p.pHat }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

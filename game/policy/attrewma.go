package policy

import (
	"sort"

	"github.com/quotagate/quotagate/game"
)

// AttrConfig carries the attribute-EWMA tuning knobs.
type AttrConfig struct {
	Alpha      float64
	RiskMargin float64
	Warmup     int

	// GateTopK restricts the acceptance gate to the K attributes with the
	// smallest coverage ratio (0 gates on all underfilled attributes).
	GateTopK int

	// CorrAware inflates each attribute's effective rate with the
	// correlation-weighted rates of the other underfilled attributes.
	CorrAware bool
	CorrBeta  float64
}

// AttrEWMA tracks an independent arrival-rate estimate per constrained
// attribute. A single global helpfulness rate masks a low-frequency
// bottleneck attribute; gating on per-attribute expected coverage does not.
type AttrEWMA struct {
	acct *game.Accounting
	cfg  AttrConfig

	corr   map[game.AttributeID]map[game.AttributeID]float64 // snapshot at construction
	pHat   map[game.AttributeID]float64
	primed map[game.AttributeID]bool // has a prior or at least one observation
	n      int
}

// NewAttrEWMA creates the per-attribute EWMA policy over acct. Estimates are
// seeded from the scenario's relative frequencies where available; an
// unseeded attribute is replaced outright by its first observation.
func NewAttrEWMA(acct *game.Accounting, stats game.AttributeStatistics, cfg AttrConfig) *AttrEWMA {
	cfg.Alpha = clamp(cfg.Alpha, 1e-6, 1)
	p := &AttrEWMA{
		acct:   acct,
		cfg:    cfg,
		pHat:   make(map[game.AttributeID]float64),
		primed: make(map[game.AttributeID]bool),
	}
	for _, a := range acct.Constrained() {
		if f, ok := stats.RelativeFrequencies[a]; ok {
			p.pHat[a] = clamp(f, 0, 1)
			p.primed[a] = true
		}
	}
	if cfg.CorrAware {
		p.corr = stats.Correlations
	}
	return p
}

func (p *AttrEWMA) Name() string { return "attr-ewma" }

// observe folds one arrival's full attribute vector into the estimates.
func (p *AttrEWMA) observe(attrs map[game.AttributeID]bool) {
	for _, a := range p.acct.Constrained() {
		x := 0.0
		if attrs[a] {
			x = 1.0
		}
		if !p.primed[a] {
			p.pHat[a] = x
			p.primed[a] = true
			continue
		}
		p.pHat[a] = p.cfg.Alpha*x + (1-p.cfg.Alpha)*p.pHat[a]
	}
}

func (p *AttrEWMA) Decide(c game.Candidate, acct *game.Accounting) game.Decision {
	helpful := acct.Helpful(c.Attributes)
	p.observe(c.Attributes)
	d := p.gate(helpful, c.Attributes, acct)
	p.n++
	return d
}

// Redecide renders a verdict without consuming an observation.
func (p *AttrEWMA) Redecide(c game.Candidate, acct *game.Accounting) game.Decision {
	return p.gate(acct.Helpful(c.Attributes), c.Attributes, acct)
}

func (p *AttrEWMA) gate(helpful bool, attrs map[game.AttributeID]bool, acct *game.Accounting) game.Decision {
	if helpful {
		return game.Accept
	}
	s := acct.Slack()
	r := acct.Remaining()
	if p.n < p.cfg.Warmup || s >= r {
		return reserveRule(attrs, acct)
	}

	rPrime := r - 1
	if rPrime < 1 {
		rPrime = 1
	}
	under := make([]game.AttributeID, 0, len(acct.Constrained()))
	for _, a := range acct.Constrained() {
		if acct.Need(a) > 0 {
			under = append(under, a)
		}
	}
	gateSet := p.selectGate(under, rPrime, acct)
	for _, a := range gateSet {
		q := p.effectiveRate(a, acct)
		covered := float64(acct.CountByAttr[a]) + q*float64(rPrime)
		target := float64(acct.MinCount(a)) * (1 + p.cfg.RiskMargin)
		if covered < target {
			return game.Reject
		}
	}
	return game.Accept
}

// effectiveRate is p̂[a], optionally inflated by the correlation-weighted
// rates of the other underfilled attributes. Every signed term enters the
// sum; only the total is floored at zero before scaling and clamping.
func (p *AttrEWMA) effectiveRate(a game.AttributeID, acct *game.Accounting) float64 {
	q := p.pHat[a]
	if !p.cfg.CorrAware {
		return q
	}
	sum := 0.0
	for _, b := range acct.Constrained() {
		if b == a || acct.Need(b) == 0 {
			continue
		}
		c := 0.0
		if row, ok := p.corr[a]; ok {
			c = row[b]
		}
		sum += c * p.pHat[b]
	}
	if sum < 0 {
		sum = 0
	}
	return clamp(q+p.cfg.CorrBeta*sum, 0, 1)
}

// selectGate picks the gating set: all underfilled attributes, or the K with
// the smallest coverage ratio q·(R-1)/need. Ties break on smaller effective
// rate, then attribute id.
func (p *AttrEWMA) selectGate(under []game.AttributeID, rPrime int, acct *game.Accounting) []game.AttributeID {
	k := p.cfg.GateTopK
	if k <= 0 || len(under) <= k {
		return under
	}
	type ranked struct {
		attr     game.AttributeID
		coverage float64
		rate     float64
	}
	rs := make([]ranked, 0, len(under))
	for _, a := range under {
		q := p.effectiveRate(a, acct)
		rs = append(rs, ranked{
			attr:     a,
			coverage: q * float64(rPrime) / float64(acct.Need(a)),
			rate:     q,
		})
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].coverage != rs[j].coverage {
			return rs[i].coverage < rs[j].coverage
		}
		if rs[i].rate != rs[j].rate {
			return rs[i].rate < rs[j].rate
		}
		return rs[i].attr < rs[j].attr
	})
	gate := make([]game.AttributeID, k)
	for i := 0; i < k; i++ {
		gate[i] = rs[i].attr
	}
	return gate
}

// RecordObservation replays one historical arrival. The attribute-EWMA
// estimator needs the full vector; the helpful bit alone cannot reproduce
// per-attribute rates.
func (p *AttrEWMA) RecordObservation(attrs map[game.AttributeID]bool, _ bool) {
	p.observe(attrs)
	p.n++
}

func (p *AttrEWMA) OnAccept(game.Candidate) {}

func (p *AttrEWMA) RemainingNeeded() map[game.AttributeID]int { return p.acct.NeedAll() }

// Rate exposes the estimate for attr, for progress reporting and tests.
func (p *AttrEWMA) Rate(attr game.AttributeID) float64 { return p.pHat[attr] }

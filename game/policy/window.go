package policy

import "github.com/quotagate/quotagate/game"

// Window relaxes the reserve rule using the empirical helpful rate over the
// last windowSize arrivals. A non-helpful candidate is admitted when the
// recent rate clears the break-even threshold S/(R-1) with a safety margin.
type Window struct {
	acct *game.Accounting

	windowSize int
	riskMargin float64
	minObs     int

	ring []bool // fixed-capacity ring of helpfulness booleans
	head int    // next write position
	size int    // booleans currently held, <= windowSize
	h    int    // count of true values in the ring
	n    int    // total observations seen
}

// NewWindow creates the sliding-window policy over acct.
func NewWindow(acct *game.Accounting, windowSize int, riskMargin float64, minObs int) *Window {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Window{
		acct:       acct,
		windowSize: windowSize,
		riskMargin: riskMargin,
		minObs:     minObs,
		ring:       make([]bool, windowSize),
	}
}

func (p *Window) Name() string { return "window" }

// push records one helpfulness observation, evicting the oldest when full.
func (p *Window) push(helpful bool) {
	if p.size == p.windowSize {
		if p.ring[p.head] {
			p.h--
		}
	} else {
		p.size++
	}
	p.ring[p.head] = helpful
	if helpful {
		p.h++
	}
	p.head = (p.head + 1) % p.windowSize
	p.n++
}

// rate is the empirical helpful rate over the current window contents.
func (p *Window) rate() float64 {
	if p.size == 0 {
		return 0
	}
	return float64(p.h) / float64(p.size)
}

func (p *Window) Decide(c game.Candidate, acct *game.Accounting) game.Decision {
	helpful := acct.Helpful(c.Attributes)
	p.push(helpful)
	return p.gate(helpful, c.Attributes, acct)
}

// Redecide renders a verdict without consuming an observation.
func (p *Window) Redecide(c game.Candidate, acct *game.Accounting) game.Decision {
	return p.gate(acct.Helpful(c.Attributes), c.Attributes, acct)
}

func (p *Window) gate(helpful bool, attrs map[game.AttributeID]bool, acct *game.Accounting) game.Decision {
	if helpful || p.n < p.minObs {
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
	if p.rate() >= threshold {
		return game.Accept
	}
	return game.Reject
}

func (p *Window) RecordObservation(_ map[game.AttributeID]bool, helpful bool) {
	p.push(helpful)
}

func (p *Window) OnAccept(game.Candidate) {}

func (p *Window) RemainingNeeded() map[game.AttributeID]int { return p.acct.NeedAll() }

package policy

import "github.com/quotagate/quotagate/game"

// Reserve is the feasibility-preserving baseline. Every remaining seat is
// reserved for a distinct still-needed attribute: a non-helpful candidate is
// admitted only while S < R, so accepting can never break a feasible state.
type Reserve struct {
	acct *game.Accounting
}

// NewReserve creates the quota-reserve policy over acct.
func NewReserve(acct *game.Accounting) *Reserve {
	return &Reserve{acct: acct}
}

func (p *Reserve) Name() string { return "reserve" }

func (p *Reserve) Decide(c game.Candidate, acct *game.Accounting) game.Decision {
	return reserveRule(c.Attributes, acct)
}

// Redecide is identical to Decide: the reserve policy carries no streaming
// state.
func (p *Reserve) Redecide(c game.Candidate, acct *game.Accounting) game.Decision {
	return reserveRule(c.Attributes, acct)
}

func (p *Reserve) RecordObservation(map[game.AttributeID]bool, bool) {}

func (p *Reserve) OnAccept(game.Candidate) {}

func (p *Reserve) RemainingNeeded() map[game.AttributeID]int { return p.acct.NeedAll() }

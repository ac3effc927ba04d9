package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotagate/quotagate/game"
)

func TestWindow_RingInvariants(t *testing.T) {
	acct := mustAccounting(t, 100, game.Constraint{Attribute: "A", MinCount: 50})
	p := NewWindow(acct, 4, 0.15, 2)

	pattern := []bool{true, false, true, true, false, false, true}
	for i, helpful := range pattern {
		attrs := map[game.AttributeID]bool{"A": helpful}
		p.Decide(game.Candidate{Index: i, Attributes: attrs}, acct)

		assert.LessOrEqual(t, p.size, 4, "ring over capacity")
		trues := 0
		for j := 0; j < p.size; j++ {
			if p.ring[j] {
				trues++
			}
		}
		assert.Equal(t, trues, p.h, "h out of sync with ring contents")
	}
	assert.Equal(t, len(pattern), p.n)
	// Last four observations are false, false, true and the evicted-in
	// true: ring holds {true, false, false, true}.
	assert.Equal(t, 2, p.h)
}

func TestWindow_WarmupDefersToReserve(t *testing.T) {
	acct := mustAccounting(t, 3, game.Constraint{Attribute: "A", MinCount: 2})
	p := NewWindow(acct, 10, 0, 5)

	// Below minObs, non-helpful follows the reserve rule: S=2 < R=3.
	d := p.Decide(game.Candidate{Index: 0, Attributes: nil}, acct)
	assert.Equal(t, game.Accept, d)
	require.NoError(t, acct.RecordAccept(nil))

	// S=2 = R=2: reserve rejects.
	d = p.Decide(game.Candidate{Index: 1, Attributes: nil}, acct)
	assert.Equal(t, game.Reject, d)
}

func TestWindow_GateAcceptsOnHighRecentRate(t *testing.T) {
	acct := mustAccounting(t, 6, game.Constraint{Attribute: "A", MinCount: 3})
	p := NewWindow(acct, 4, 0, 2)

	type step struct {
		helpful bool
		want    game.Decision
	}
	steps := []step{
		{true, game.Accept},  // helpful, ring [T]
		{false, game.Accept}, // rate 1/2 >= S/(R-1) = 2/4
		{true, game.Accept},  // helpful
		{false, game.Accept}, // rate 2/4 >= 1/2
		{false, game.Reject}, // rate 1/4 < 1/1 (window slid)
		{true, game.Accept},  // helpful, clears the quota
		{false, game.Accept}, // S=0: threshold 0
	}
	for i, s := range steps {
		attrs := map[game.AttributeID]bool{"A": s.helpful}
		d := p.Decide(game.Candidate{Index: i, Attributes: attrs}, acct)
		require.Equal(t, s.want, d, "candidate %d", i)
		if d.Accepted() {
			require.NoError(t, acct.RecordAccept(attrs))
		}
	}
	assert.Equal(t, 6, acct.Admitted)
	assert.True(t, acct.Satisfied())
}

func TestWindow_RecordObservationMatchesDecideUpdates(t *testing.T) {
	acctA := mustAccounting(t, 50, game.Constraint{Attribute: "A", MinCount: 20})
	acctB := mustAccounting(t, 50, game.Constraint{Attribute: "A", MinCount: 20})
	live := NewWindow(acctA, 8, 0.1, 3)
	replayed := NewWindow(acctB, 8, 0.1, 3)

	pattern := []bool{true, true, false, true, false, false, true, false, true, true}
	for i, helpful := range pattern {
		attrs := map[game.AttributeID]bool{"A": helpful}
		live.Decide(game.Candidate{Index: i, Attributes: attrs}, acctA)
		replayed.RecordObservation(attrs, acctB.Helpful(attrs))
	}
	assert.Equal(t, live.n, replayed.n)
	assert.Equal(t, live.h, replayed.h)
	assert.Equal(t, live.ring, replayed.ring)
}

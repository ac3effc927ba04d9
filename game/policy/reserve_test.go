package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotagate/quotagate/game"
)

func mustAccounting(t *testing.T, capacity int, constraints ...game.Constraint) *game.Accounting {
	t.Helper()
	acct, err := game.NewAccounting(capacity, constraints)
	require.NoError(t, err)
	return acct
}

func TestReserve_HelpfulAlwaysAccepted(t *testing.T) {
	acct := mustAccounting(t, 5,
		game.Constraint{Attribute: "A", MinCount: 2},
		game.Constraint{Attribute: "B", MinCount: 1})
	p := NewReserve(acct)

	d := p.Decide(game.Candidate{Index: 0, Attributes: map[game.AttributeID]bool{"A": true}}, acct)
	assert.Equal(t, game.Accept, d)
}

func TestReserve_NonHelpfulNeedsSlack(t *testing.T) {
	acct := mustAccounting(t, 5,
		game.Constraint{Attribute: "A", MinCount: 2},
		game.Constraint{Attribute: "B", MinCount: 1})
	p := NewReserve(acct)

	// S=3, R=5: two seats of slack remain, non-helpful accepted.
	d := p.Decide(game.Candidate{Index: 0, Attributes: nil}, acct)
	assert.Equal(t, game.Accept, d)
	require.NoError(t, acct.RecordAccept(nil))

	// Burn slack down to S=3, R=3: non-helpful rejected.
	require.NoError(t, acct.RecordAccept(nil))
	assert.Equal(t, 3, acct.Remaining())
	d = p.Decide(game.Candidate{Index: 2, Attributes: nil}, acct)
	assert.Equal(t, game.Reject, d)
}

// Feasibility is preserved: starting from S <= R, no sequence of reserve
// decisions ever drives S above R.
func TestReserve_FeasibilityInvariant(t *testing.T) {
	acct := mustAccounting(t, 6,
		game.Constraint{Attribute: "A", MinCount: 3},
		game.Constraint{Attribute: "B", MinCount: 2})
	p := NewReserve(acct)

	arrivals := []map[game.AttributeID]bool{
		{}, {}, {"A": true}, {}, {"B": true, "A": true}, {}, {"A": true}, {"B": true}, {},
	}
	for i, attrs := range arrivals {
		if acct.Remaining() == 0 {
			break
		}
		d := p.Decide(game.Candidate{Index: i, Attributes: attrs}, acct)
		if d.Accepted() {
			require.NoError(t, acct.RecordAccept(attrs))
		}
		assert.LessOrEqual(t, acct.Slack(), acct.Remaining(),
			"feasibility broken after candidate %d", i)
	}
}

func TestReserve_RedecideMatchesDecide(t *testing.T) {
	acct := mustAccounting(t, 3, game.Constraint{Attribute: "A", MinCount: 1})
	p := NewReserve(acct)
	c := game.Candidate{Index: 0, Attributes: map[game.AttributeID]bool{"A": false}}
	assert.Equal(t, p.Decide(c, acct), p.Redecide(c, acct))
}

func TestReserve_RemainingNeeded(t *testing.T) {
	acct := mustAccounting(t, 4,
		game.Constraint{Attribute: "A", MinCount: 2},
		game.Constraint{Attribute: "B", MinCount: 1})
	p := NewReserve(acct)
	require.NoError(t, acct.RecordAccept(map[game.AttributeID]bool{"A": true}))
	assert.Equal(t, map[game.AttributeID]int{"A": 1, "B": 1}, p.RemainingNeeded())
}

// Package replay rebuilds accounting and policy state from a prior event
// log so an interrupted game resumes with the exact same decision stream.
package replay

import (
	"errors"
	"fmt"
	"sort"

	"github.com/quotagate/quotagate/game"
	"github.com/quotagate/quotagate/game/eventlog"
	"github.com/quotagate/quotagate/game/policy"
)

// ErrNoStart means the log holds no start event to rebuild from.
var ErrNoStart = errors.New("no start event found in log")

// State is a ready-to-resume game rebuilt from a log.
type State struct {
	GameID     string
	Scenario   int
	Capacity   int
	Accounting *game.Accounting
	Policy     policy.Policy
	Stats      game.AttributeStatistics

	// NextIndex is the first candidate index the resumed run should fetch.
	// A trailing request with no logged response is not replayed: the crash
	// happened before the decision became durable, the server never received
	// it, and the live loop will re-decide that candidate when the server
	// re-serves it.
	NextIndex int

	// Observed holds every candidate index whose observation is durable, so
	// the resumed controller never feeds a replayed index to the estimators
	// twice.
	Observed map[int]struct{}

	// Rejected is the rejection count derived from replayed decisions.
	Rejected int
}

// arrival is one logged request occurrence paired with the response that
// followed it, if any. An index can occur more than once after a resync.
type arrival struct {
	index    int
	attrs    map[game.AttributeID]bool
	decision game.Decision
	decided  bool
}

// FromLog rebuilds game state from the most recent game recorded at path.
// The policy is constructed with the given name and params; its streaming
// estimates are replayed from the logged arrivals, with priors restored from
// the start event. When policyName is empty the logged policy name is used.
func FromLog(path, policyName string, params policy.Params) (*State, error) {
	records, err := eventlog.Read(path)
	if err != nil {
		return nil, err
	}
	var start *eventlog.Record
	for i := range records {
		if records[i].Kind == eventlog.KindStart {
			start = &records[i]
			break
		}
	}
	if start == nil {
		return nil, ErrNoStart
	}

	constraints := make([]game.Constraint, 0, len(start.Constraints))
	for _, attr := range sortedKeys(start.Constraints) {
		constraints = append(constraints, game.Constraint{Attribute: attr, MinCount: start.Constraints[attr]})
	}
	acct, err := game.NewAccounting(start.Capacity, constraints)
	if err != nil {
		return nil, fmt.Errorf("rebuild accounting: %w", err)
	}
	stats := game.AttributeStatistics{
		RelativeFrequencies: start.RelativeFrequencies,
		Correlations:        start.Correlations,
	}
	if policyName == "" {
		policyName = start.Policy
	}
	if !policy.IsValidName(policyName) {
		return nil, fmt.Errorf("log names no usable policy (got %q); pass one explicitly", policyName)
	}
	pol := policy.New(policyName, acct, stats, params)

	st := &State{
		GameID:     start.GameID,
		Scenario:   start.Scenario,
		Capacity:   start.Capacity,
		Accounting: acct,
		Policy:     pol,
		Stats:      stats,
		Observed:   make(map[int]struct{}),
	}

	// Pair each request occurrence with the response that follows it. The
	// accounting effect of an index is applied at its last decided
	// occurrence: an earlier occurrence was rolled back when the server
	// reported skew, so only the final decision stuck.
	arrivals := make([]*arrival, 0, len(records))
	open := make(map[int]*arrival)
	lastDecided := make(map[int]*arrival)
	for _, rec := range records {
		if rec.PersonIndex == nil {
			continue
		}
		idx := *rec.PersonIndex
		switch rec.Kind {
		case eventlog.KindRequest:
			a := &arrival{index: idx, attrs: rec.Attributes}
			arrivals = append(arrivals, a)
			open[idx] = a
		case eventlog.KindResponse:
			if a := open[idx]; a != nil && !a.decided {
				a.decision = game.Decision(rec.Decision)
				a.decided = true
				lastDecided[idx] = a
			}
		}
	}

	for _, a := range arrivals {
		if !a.decided {
			continue
		}
		if _, seen := st.Observed[a.index]; !seen {
			helpful := acct.Helpful(a.attrs)
			pol.RecordObservation(a.attrs, helpful)
			st.Observed[a.index] = struct{}{}
		}
		if lastDecided[a.index] != a {
			continue
		}
		if a.decision.Accepted() {
			if err := acct.RecordAccept(a.attrs); err != nil {
				return nil, fmt.Errorf("replay index %d: %w", a.index, err)
			}
		} else {
			st.Rejected++
		}
		if a.index >= st.NextIndex {
			st.NextIndex = a.index + 1
		}
	}
	return st, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

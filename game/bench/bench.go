// Package bench runs policies offline against synthetic candidate streams
// and summarizes how many inspections each policy needs to fill capacity.
package bench

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/quotagate/quotagate/game"
	"github.com/quotagate/quotagate/game/policy"
	"github.com/quotagate/quotagate/game/workload"
)

// Spec describes one synthetic game.
type Spec struct {
	Scenario game.Scenario

	PolicyName   string
	PolicyParams policy.Params

	// MaxArrivals bounds the stream; a game that cannot fill capacity within
	// it counts as unmet.
	MaxArrivals int
}

// Outcome is the result of one synthetic game.
type Outcome struct {
	Admitted  int            `json:"admitted"`
	Rejected  int            `json:"rejected"`
	Inspected int            `json:"inspected"`
	Remaining map[string]int `json:"remaining"`
	Satisfied bool           `json:"satisfied"`
}

// Summary aggregates outcomes across repeated seeded runs.
type Summary struct {
	Runs         int       `json:"runs"`
	SatisfiedAll bool      `json:"satisfiedAll"`
	RejectedMean float64   `json:"rejectedMean"`
	RejectedStd  float64   `json:"rejectedStd"`
	Outcomes     []Outcome `json:"outcomes"`
}

// RunSynthetic plays one game against a generated stream with the given
// seed. The loop mirrors the live controller: decide, account on accept,
// stop when capacity is filled.
func RunSynthetic(spec Spec, seed int64) (Outcome, error) {
	acct, err := game.NewAccounting(spec.Scenario.Capacity, spec.Scenario.Constraints)
	if err != nil {
		return Outcome{}, err
	}
	pol := policy.New(spec.PolicyName, acct, spec.Scenario.Stats, spec.PolicyParams)
	rng := workload.NewPartitionedRNG(seed)
	gen, err := workload.NewGenerator(spec.Scenario.Stats, rng.ForSubsystem("arrivals"))
	if err != nil {
		return Outcome{}, err
	}

	maxArrivals := spec.MaxArrivals
	if maxArrivals <= 0 {
		maxArrivals = 20 * spec.Scenario.Capacity
	}
	out := Outcome{}
	for i := 0; i < maxArrivals && acct.Remaining() > 0; i++ {
		c := gen.Next()
		d := pol.Decide(c, acct)
		if d.Accepted() {
			if err := acct.RecordAccept(c.Attributes); err != nil {
				return Outcome{}, err
			}
			pol.OnAccept(c)
		} else {
			out.Rejected++
		}
		out.Inspected++
	}
	out.Admitted = acct.Admitted
	out.Remaining = acct.NeedAll()
	out.Satisfied = acct.Remaining() == 0 && acct.Satisfied()
	return out, nil
}

// Repeat plays runs seeded games and aggregates them.
func Repeat(spec Spec, baseSeed int64, runs int) (Summary, error) {
	if runs <= 0 {
		return Summary{}, fmt.Errorf("runs must be > 0, got %d", runs)
	}
	s := Summary{Runs: runs, SatisfiedAll: true}
	rejected := make([]float64, 0, runs)
	for i := 0; i < runs; i++ {
		out, err := RunSynthetic(spec, baseSeed+int64(i))
		if err != nil {
			return Summary{}, err
		}
		s.Outcomes = append(s.Outcomes, out)
		rejected = append(rejected, float64(out.Rejected))
		if !out.Satisfied {
			s.SatisfiedAll = false
		}
	}
	s.RejectedMean = stat.Mean(rejected, nil)
	if runs > 1 {
		s.RejectedStd = stat.StdDev(rejected, nil)
	}
	return s, nil
}

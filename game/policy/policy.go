// Package policy implements the admission-policy family. The four variants
// form a closed set dispatched uniformly by the run controller; there is no
// extension point for external consumers.
package policy

import (
	"fmt"

	"github.com/quotagate/quotagate/game"
)

// Policy is the uniform decide/observe contract shared by all variants.
//
// Decide updates internal streaming estimates with the current candidate
// before rendering a verdict, so it must be called exactly once per
// newly-arrived candidate. Redecide renders a verdict against current state
// without updating estimates; the controller uses it when the server
// re-serves a candidate after index resync. RecordObservation performs the
// same estimator update as Decide without deciding; the reconstructor uses
// it to replay historical arrivals.
type Policy interface {
	Name() string
	Decide(c game.Candidate, acct *game.Accounting) game.Decision
	Redecide(c game.Candidate, acct *game.Accounting) game.Decision
	RecordObservation(attrs map[game.AttributeID]bool, helpful bool)
	OnAccept(c game.Candidate)
	RemainingNeeded() map[game.AttributeID]int
}

// Params groups tuning knobs across the policy family for by-name
// construction. Nil pointer fields select the per-policy defaults.
type Params struct {
	Alpha           *float64 // EWMA smoothing factor in (0,1]
	RiskMargin      *float64 // safety cushion on relaxed gates
	Warmup          *int     // observations before relaxing (EWMA policies)
	WindowSize      *int     // ring capacity (window policy)
	MinObservations *int     // observations before relaxing (window policy)

	// Attribute-EWMA options.
	GateTopK  *int // gate only the K tightest attributes (0 = all)
	CorrAware bool // inflate per-attribute rates using correlations
	CorrBeta  *float64
}

// Default tuning values per policy variant.
const (
	DefaultWindowSize      = 500
	DefaultWindowMargin    = 0.15
	DefaultMinObservations = 80

	DefaultEWMAAlpha  = 0.03
	DefaultEWMAMargin = 0.18
	DefaultEWMAWarmup = 100

	DefaultAttrAlpha  = 0.04
	DefaultAttrMargin = 0.15
	DefaultAttrWarmup = 120
	DefaultCorrBeta   = 0.25
)

// ValidNames lists the policy names accepted by New.
var ValidNames = []string{"reserve", "window", "ewma", "attr-ewma"}

// IsValidName reports whether name selects a known policy.
func IsValidName(name string) bool {
	for _, n := range ValidNames {
		if n == name {
			return true
		}
	}
	return false
}

func orFloat(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func orInt(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

// New creates a policy by name over the given accounting. Scenario priors in
// stats seed the attribute-EWMA estimates and correlation matrix; the other
// variants ignore them. Panics on unrecognized names.
func New(name string, acct *game.Accounting, stats game.AttributeStatistics, p Params) Policy {
	switch name {
	case "reserve":
		return NewReserve(acct)
	case "window":
		return NewWindow(acct,
			orInt(p.WindowSize, DefaultWindowSize),
			orFloat(p.RiskMargin, DefaultWindowMargin),
			orInt(p.MinObservations, DefaultMinObservations))
	case "ewma":
		return NewEWMA(acct,
			orFloat(p.Alpha, DefaultEWMAAlpha),
			orFloat(p.RiskMargin, DefaultEWMAMargin),
			orInt(p.Warmup, DefaultEWMAWarmup))
	case "attr-ewma":
		return NewAttrEWMA(acct, stats, AttrConfig{
			Alpha:      orFloat(p.Alpha, DefaultAttrAlpha),
			RiskMargin: orFloat(p.RiskMargin, DefaultAttrMargin),
			Warmup:     orInt(p.Warmup, DefaultAttrWarmup),
			GateTopK:   orInt(p.GateTopK, 0),
			CorrAware:  p.CorrAware,
			CorrBeta:   orFloat(p.CorrBeta, DefaultCorrBeta),
		})
	default:
		panic(fmt.Sprintf("unknown policy %q; valid policies: %v", name, ValidNames))
	}
}

// reserveRule is the feasibility-preserving baseline shared by all variants:
// accept helpful candidates unconditionally, and non-helpful ones only while
// there is at least one seat of slack (S < R strictly).
func reserveRule(attrs map[game.AttributeID]bool, acct *game.Accounting) game.Decision {
	if acct.Helpful(attrs) {
		return game.Accept
	}
	if acct.Slack() < acct.Remaining() {
		return game.Accept
	}
	return game.Reject
}

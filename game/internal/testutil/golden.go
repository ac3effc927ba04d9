// Package testutil provides shared test infrastructure for the admission
// agent: golden scenario types and assertion helpers used across policy and
// runner test packages.
package testutil

import (
	"encoding/json"
	"os"
	"testing"
)

// GoldenDataset represents the structure of a golden scenario file.
type GoldenDataset struct {
	Cases []GoldenCase `json:"cases"`
}

// GoldenCase is one deterministic arrival stream with the expected decision
// sequence and final accounting.
type GoldenCase struct {
	Name        string             `json:"name"`
	Capacity    int                `json:"capacity"`
	Constraints map[string]int     `json:"constraints"`
	Order       []string           `json:"order"` // constraint order (maps are unordered)
	Policy      string             `json:"policy"`
	Params      GoldenParams       `json:"params"`
	Priors      map[string]float64 `json:"priors,omitempty"`

	Arrivals  []map[string]bool `json:"arrivals"`
	Decisions []string          `json:"decisions"` // "accept"/"reject" per arrival, "" = loop already stopped

	FinalAdmitted int            `json:"finalAdmitted"`
	FinalRejected int            `json:"finalRejected"`
	FinalCounts   map[string]int `json:"finalCounts"`
}

// GoldenParams mirrors the policy tuning knobs in plain JSON.
type GoldenParams struct {
	Alpha           *float64 `json:"alpha,omitempty"`
	RiskMargin      *float64 `json:"riskMargin,omitempty"`
	Warmup          *int     `json:"warmup,omitempty"`
	WindowSize      *int     `json:"windowSize,omitempty"`
	MinObservations *int     `json:"minObservations,omitempty"`
	GateTopK        *int     `json:"gateTopK,omitempty"`
	CorrAware       bool     `json:"corrAware,omitempty"`
	CorrBeta        *float64 `json:"corrBeta,omitempty"`
}

// LoadGolden reads a golden dataset from path, failing the test on error.
func LoadGolden(t *testing.T, path string) GoldenDataset {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read golden dataset: %v", err)
	}
	var ds GoldenDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		t.Fatalf("parse golden dataset: %v", err)
	}
	if len(ds.Cases) == 0 {
		t.Fatal("golden dataset holds no cases")
	}
	return ds
}

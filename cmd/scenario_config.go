package cmd

import (
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/quotagate/quotagate/game"
)

// ScenarioPreset is one entry of the scenario preset file. Priors are used
// by synthetic benchmarking; live games take statistics from the server.
type ScenarioPreset struct {
	Capacity            int                           `yaml:"capacity"`
	Constraints         map[string]int                `yaml:"constraints"`
	RelativeFrequencies map[string]float64            `yaml:"relative_frequencies"`
	Correlations        map[string]map[string]float64 `yaml:"correlations"`
}

// ScenarioConfig is the yaml file layout.
type ScenarioConfig struct {
	Scenarios map[int]ScenarioPreset `yaml:"scenarios"`
}

// loadPreset returns the preset for scenario id, or nil when the file or the
// entry is absent.
func loadPreset(path string, id int) *ScenarioPreset {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cfg ScenarioConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		logrus.Warnf("scenario preset file %s: %v", path, err)
		return nil
	}
	preset, ok := cfg.Scenarios[id]
	if !ok {
		return nil
	}
	logrus.Infof("using preset scenario %d", id)
	return &preset
}

// presetStats converts preset priors into scenario statistics.
func presetStats(p *ScenarioPreset) game.AttributeStatistics {
	return game.AttributeStatistics{
		RelativeFrequencies: p.RelativeFrequencies,
		Correlations:        p.Correlations,
	}
}

// presetConstraints converts the preset constraint map into ordered
// constraints.
func presetConstraints(p *ScenarioPreset) []game.Constraint {
	out := make([]game.Constraint, 0, len(p.Constraints))
	for _, attr := range sortedAttrs(p.Constraints) {
		out = append(out, game.Constraint{Attribute: attr, MinCount: p.Constraints[attr]})
	}
	return out
}

func sortedAttrs(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quotagate/quotagate/game"
	"github.com/quotagate/quotagate/game/bench"
	"github.com/quotagate/quotagate/game/policy"
	"github.com/quotagate/quotagate/game/runner"
)

var (
	benchScenarios string
	benchSynthetic bool
	benchSeed      int64
	benchRepeat    int
	benchArrivals  int
	benchJSONOut   string
)

// benchCmd plays each scenario and prints a summary. Synthetic mode runs
// --repeat seeded offline streams per scenario, generated from the preset
// priors; live mode plays one game per scenario against the server.
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark policies across scenarios",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if !policy.IsValidName(policyName) {
			logrus.Fatalf("unknown policy %q; valid policies: %v", policyName, policy.ValidNames)
		}
		ids, err := parseScenarioList(benchScenarios)
		if err != nil {
			logrus.Fatal(err)
		}

		results := make(map[string]any)
		var mu sync.Mutex
		if benchSynthetic {
			var g errgroup.Group
			for _, id := range ids {
				g.Go(func() error {
					preset := loadPreset(scenarioFile, id)
					if preset == nil {
						return fmt.Errorf("scenario %d: no preset in %s (synthetic mode needs priors)", id, scenarioFile)
					}
					seats := capacity
					if !cmd.Flags().Changed("capacity") && preset.Capacity > 0 {
						seats = preset.Capacity
					}
					spec := bench.Spec{
						Scenario: game.Scenario{
							ID:          id,
							Capacity:    seats,
							Constraints: presetConstraints(preset),
							Stats:       presetStats(preset),
						},
						PolicyName:   policyName,
						PolicyParams: buildParams(cmd.Flags()),
						MaxArrivals:  benchArrivals,
					}
					summary, err := bench.Repeat(spec, benchSeed, benchRepeat)
					if err != nil {
						return fmt.Errorf("scenario %d: %w", id, err)
					}
					mu.Lock()
					results[strconv.Itoa(id)] = summary
					mu.Unlock()
					logrus.Infof("scenario %d: rejectedMean=%.1f satisfiedAll=%t",
						id, summary.RejectedMean, summary.SatisfiedAll)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				logrus.Fatal(err)
			}
		} else {
			if err := validatePlayer(); err != nil {
				logrus.Fatal(err)
			}
			ctx, stop := signalContext()
			defer stop()
			// Live games run sequentially: the server streams one candidate
			// at a time per player.
			for _, id := range ids {
				scenario = id
				r, err := runner.New(runnerConfig(cmd.Flags(), defaultLogPath("bench")))
				if err != nil {
					logrus.Fatal(err)
				}
				res, err := r.Run(ctx)
				if err != nil {
					results[strconv.Itoa(id)] = map[string]string{"error": err.Error()}
					logrus.Errorf("scenario %d failed: %v", id, err)
					continue
				}
				results[strconv.Itoa(id)] = res
				logrus.Infof("scenario %d: rejected=%d remaining=%v", id, res.Rejected, res.Remaining)
			}
		}

		fmt.Println("Summary:")
		keys := make([]string, 0, len(results))
		for k := range results {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			line, _ := json.Marshal(results[k])
			fmt.Printf("  s%s: %s\n", k, line)
		}
		if benchJSONOut != "" {
			out, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				logrus.Fatal(err)
			}
			if err := os.WriteFile(benchJSONOut, out, 0o644); err != nil {
				logrus.Fatal(err)
			}
		}
	},
}

// parseScenarioList parses "1,2,3" into scenario ids.
func parseScenarioList(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad scenario id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no scenarios in %q", s)
	}
	return ids, nil
}

func init() {
	addGameFlags(benchCmd)
	benchCmd.Flags().StringVar(&benchScenarios, "scenarios", "1,2,3", "Comma-separated scenario ids")
	benchCmd.Flags().BoolVar(&benchSynthetic, "synthetic", false, "Run offline against generated candidate streams")
	benchCmd.Flags().Int64Var(&benchSeed, "seed", 42, "Base seed for synthetic streams")
	benchCmd.Flags().IntVar(&benchRepeat, "repeat", 1, "Seeded repetitions per scenario (synthetic)")
	benchCmd.Flags().IntVar(&benchArrivals, "max-arrivals", 0, "Arrival cap per synthetic game (0 = 20x capacity)")
	benchCmd.Flags().StringVar(&benchJSONOut, "json-out", "", "Write summary JSON to file")
	rootCmd.AddCommand(benchCmd)
}

package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quotagate/quotagate/game/policy"
	"github.com/quotagate/quotagate/game/runner"
)

// runCmd plays one game from scratch.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Play one game against the server",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if err := validatePlayer(); err != nil {
			logrus.Fatal(err)
		}
		if !policy.IsValidName(policyName) {
			logrus.Fatalf("unknown policy %q; valid policies: %v", policyName, policy.ValidNames)
		}
		if preset := loadPreset(scenarioFile, scenario); preset != nil && !cmd.Flags().Changed("capacity") {
			capacity = preset.Capacity
			logrus.Infof("using preset capacity %d for scenario %d", capacity, scenario)
		}
		logPath := logJSON
		if logPath == "" {
			logPath = defaultLogPath("run")
		}

		r, err := runner.New(runnerConfig(cmd.Flags(), logPath))
		if err != nil {
			logrus.Fatal(err)
		}
		ctx, stop := signalContext()
		defer stop()

		res, err := r.Run(ctx)
		if res != nil {
			fmt.Printf("Completed. Admitted: %d. Rejected: %d. Remaining: %v\n",
				res.Admitted, res.Rejected, res.Remaining)
		}
		exitWith(res, err)
	},
}

func init() {
	addGameFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

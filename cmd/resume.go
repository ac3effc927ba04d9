package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quotagate/quotagate/game"
	"github.com/quotagate/quotagate/game/policy"
	"github.com/quotagate/quotagate/game/replay"
	"github.com/quotagate/quotagate/game/runner"
)

var (
	resumeFromLog string
	resumeGameID  string
	startIndex    int
)

// resumeCmd continues an interrupted game, either by replaying an event log
// or from an explicit game id and index.
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted game",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if err := validatePlayer(); err != nil {
			logrus.Fatal(err)
		}
		if resumeFromLog == "" && (resumeGameID == "" || !cmd.Flags().Changed("start-index")) {
			logrus.Fatal("provide --resume-from-log, or both --game-id and --start-index")
		}

		var st *replay.State
		logPath := logJSON
		if resumeFromLog != "" {
			// An unset --policy defers to the policy recorded in the log.
			name := policyName
			if !cmd.Flags().Changed("policy") {
				name = ""
			}
			var err error
			st, err = replay.FromLog(resumeFromLog, name, buildParams(cmd.Flags()))
			if err != nil {
				logrus.Fatal(err)
			}
			if resumeGameID != "" {
				st.GameID = resumeGameID
			}
			if cmd.Flags().Changed("start-index") {
				st.NextIndex = startIndex
			}
			if st.Capacity > 0 {
				capacity = st.Capacity
			}
			if st.Scenario > 0 {
				scenario = st.Scenario
			}
			// Appending to the source log keeps the whole game in one
			// replayable file.
			if logPath == "" {
				logPath = resumeFromLog
			}
		} else {
			// Manual resume: constraints are unknown, so only policies that
			// need no history behave sensibly. Accounting starts empty.
			if !policy.IsValidName(policyName) {
				logrus.Fatalf("unknown policy %q; valid policies: %v", policyName, policy.ValidNames)
			}
			acct, err := game.NewAccounting(capacity, nil)
			if err != nil {
				logrus.Fatal(err)
			}
			st = &replay.State{
				GameID:     resumeGameID,
				Scenario:   scenario,
				Capacity:   capacity,
				Accounting: acct,
				Policy:     policy.New(policyName, acct, game.AttributeStatistics{}, buildParams(cmd.Flags())),
				NextIndex:  startIndex,
			}
			if logPath == "" {
				logPath = defaultLogPath("resume")
			}
		}

		r, err := runner.New(runnerConfig(cmd.Flags(), logPath))
		if err != nil {
			logrus.Fatal(err)
		}
		ctx, stop := signalContext()
		defer stop()

		res, err := r.Resume(ctx, st)
		if res != nil {
			fmt.Printf("Completed. Admitted: %d. Rejected: %d. Remaining: %v\n",
				res.Admitted, res.Rejected, res.Remaining)
		}
		exitWith(res, err)
	},
}

func init() {
	addGameFlags(resumeCmd)
	resumeCmd.Flags().StringVar(&resumeFromLog, "resume-from-log", "", "Resume from an NDJSON event log")
	resumeCmd.Flags().StringVar(&resumeGameID, "game-id", "", "Resume target gameId (overrides the log)")
	resumeCmd.Flags().IntVar(&startIndex, "start-index", 0, "Resume starting personIndex (overrides the log)")
	rootCmd.AddCommand(resumeCmd)
}

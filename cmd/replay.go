package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quotagate/quotagate/game/replay"
)

// replayCmd rebuilds game state from an event log and prints it without
// contacting the server. Useful to sanity-check a log before resuming.
var replayCmd = &cobra.Command{
	Use:   "replay <log>",
	Short: "Inspect the reconstructed state of an event log",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		name := policyName
		if !cmd.Flags().Changed("policy") {
			name = ""
		}
		st, err := replay.FromLog(args[0], name, buildParams(cmd.Flags()))
		if err != nil {
			logrus.Fatal(err)
		}
		fmt.Printf("gameId:    %s\n", st.GameID)
		fmt.Printf("scenario:  %d\n", st.Scenario)
		fmt.Printf("capacity:  %d\n", st.Capacity)
		fmt.Printf("policy:    %s\n", st.Policy.Name())
		fmt.Printf("admitted:  %d\n", st.Accounting.Admitted)
		fmt.Printf("rejected:  %d\n", st.Rejected)
		fmt.Printf("nextIndex: %d\n", st.NextIndex)
		fmt.Printf("remaining: %v\n", st.Accounting.NeedAll())
	},
}

func init() {
	addGameFlags(replayCmd)
	rootCmd.AddCommand(replayCmd)
}

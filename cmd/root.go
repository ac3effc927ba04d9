package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/quotagate/quotagate/game/policy"
	"github.com/quotagate/quotagate/game/runner"
)

// Exit codes: 0 completed with all quotas met, 1 failed, 2 cancelled.
const (
	exitOK        = 0
	exitFailed    = 1
	exitCancelled = 2
)

var (
	// Connection flags, env-backed via viper.
	baseURL  string // Game server base URL
	playerID string // UUID identifying the player
	timeout  float64
	retries  int

	// Game flags.
	scenario     int
	capacity     int
	policyName   string
	logLevel     string
	logJSON      string // NDJSON event log path
	logInterval  int
	progressIval int
	scenarioFile string

	// Policy tuning flags; only flags the user set are passed on, so each
	// policy keeps its own defaults.
	alpha      float64
	riskMargin float64
	warmup     int
	windowSize int
	minObs     int
	gateTopK   int
	corrAware  bool
	corrBeta   float64
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "quotagate",
	Short: "Online admission-control agent for quota-constrained games",
}

// Execute runs the CLI root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitFailed)
	}
}

// setupLogging parses the log level flag the way the simulator CLI family
// does.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exitWith maps a finished run to the process exit code.
func exitWith(res *runner.Result, err error) {
	switch {
	case err == nil && res != nil && res.Satisfied:
		os.Exit(exitOK)
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "cancelled")
		os.Exit(exitCancelled)
	default:
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		} else if res != nil {
			fmt.Fprintf(os.Stderr, "completed with unmet quotas: %v\n", res.Remaining)
		}
		os.Exit(exitFailed)
	}
}

// validatePlayer checks the player id is present and looks like a UUID.
func validatePlayer() error {
	if playerID == "" {
		return fmt.Errorf("missing --player-id (env PLAYER_ID)")
	}
	if _, err := uuid.Parse(playerID); err != nil {
		return fmt.Errorf("player id %q is not a UUID: %w", playerID, err)
	}
	return nil
}

// buildParams converts set flags into policy params, leaving unset knobs to
// the per-policy defaults.
func buildParams(flags *pflag.FlagSet) policy.Params {
	var p policy.Params
	if flags.Changed("alpha") {
		p.Alpha = &alpha
	}
	if flags.Changed("risk-margin") {
		p.RiskMargin = &riskMargin
	}
	if flags.Changed("warmup") {
		p.Warmup = &warmup
	}
	if flags.Changed("window-size") {
		p.WindowSize = &windowSize
	}
	if flags.Changed("min-observations") {
		p.MinObservations = &minObs
	}
	if flags.Changed("gate-top-k") {
		p.GateTopK = &gateTopK
	}
	p.CorrAware = corrAware
	if flags.Changed("corr-beta") {
		p.CorrBeta = &corrBeta
	}
	return p
}

// defaultLogPath names a fresh NDJSON log under logs/.
func defaultLogPath(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405Z")
	id := strings.Split(uuid.NewString(), "-")[0]
	return filepath.Join("logs", fmt.Sprintf("%s-%s-s%d-%s-%s.ndjson", prefix, policyName, scenario, ts, id))
}

// runnerConfig assembles the core config from resolved flags.
func runnerConfig(flags *pflag.FlagSet, logPath string) runner.Config {
	return runner.Config{
		BaseURL:          baseURL,
		PlayerID:         playerID,
		Scenario:         scenario,
		Capacity:         capacity,
		Timeout:          time.Duration(timeout * float64(time.Second)),
		Retries:          retries,
		PolicyName:       policyName,
		PolicyParams:     buildParams(flags),
		LogPath:          logPath,
		LogInterval:      logInterval,
		ProgressInterval: progressIval,
		ProgressAttrs:    3,
	}
}

// addGameFlags registers the flags shared by run, resume, and bench.
func addGameFlags(c *cobra.Command) {
	c.Flags().StringVar(&baseURL, "base-url", viper.GetString("base-url"), "Game server base URL (env BASE_URL)")
	c.Flags().StringVar(&playerID, "player-id", viper.GetString("player-id"), "UUID identifying the player (env PLAYER_ID)")
	c.Flags().Float64Var(&timeout, "timeout", viper.GetFloat64("timeout"), "HTTP timeout in seconds (env TIMEOUT)")
	c.Flags().IntVar(&retries, "retries", viper.GetInt("retries"), "Retries on transient transport errors (env RETRIES)")

	c.Flags().IntVar(&scenario, "scenario", 1, "Scenario id")
	c.Flags().IntVar(&capacity, "capacity", 1000, "Admission capacity")
	c.Flags().StringVar(&policyName, "policy", "reserve", "Policy (reserve, window, ewma, attr-ewma)")
	c.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	c.Flags().StringVar(&logJSON, "log-json", "", "NDJSON event log path (default logs/<run>.ndjson)")
	c.Flags().IntVar(&logInterval, "log-interval", 100, "Progress events every N decisions (0 disables)")
	c.Flags().IntVar(&progressIval, "progress-interval", 100, "Progress lines every N decisions (0 disables)")
	c.Flags().StringVar(&scenarioFile, "scenario-file", "scenarios.yaml", "Scenario preset file")

	c.Flags().Float64Var(&alpha, "alpha", 0, "EWMA smoothing factor")
	c.Flags().Float64Var(&riskMargin, "risk-margin", 0, "Safety margin for relaxed policies")
	c.Flags().IntVar(&warmup, "warmup", 0, "Warmup observations before relaxing gates")
	c.Flags().IntVar(&windowSize, "window-size", 0, "Window size for the window policy")
	c.Flags().IntVar(&minObs, "min-observations", 0, "Minimum observations before relaxing the window policy")
	c.Flags().IntVar(&gateTopK, "gate-top-k", 0, "Gate only the K tightest attributes (0 = all)")
	c.Flags().BoolVar(&corrAware, "corr-aware", false, "Enable correlation-aware expectation")
	c.Flags().Float64Var(&corrBeta, "corr-beta", 0, "Scale for correlation inflation (0-1)")
}

// init binds environment defaults. The core receives them as parameters and
// never reads the environment itself.
func init() {
	viper.SetDefault("base-url", "https://berghain.challenges.listenlabs.ai/")
	viper.SetDefault("timeout", 30.0)
	viper.SetDefault("retries", 3)
	_ = viper.BindEnv("base-url", "BASE_URL")
	_ = viper.BindEnv("player-id", "PLAYER_ID")
	_ = viper.BindEnv("timeout", "TIMEOUT")
	_ = viper.BindEnv("retries", "RETRIES")
}

package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath string
	apiURL     string
	timeout    time.Duration
	operator   string
	reason     string
	publish    bool

	rootCmd = &cobra.Command{
		Use:           "calibractl",
		Short:         "Operate a running calibration engine and inspect its outcome log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show engine health and retrain status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	patternsCmd = &cobra.Command{
		Use:   "patterns",
		Short: "List patterns with win rate, expectancy and lifecycle state",
		Args:  cobra.NoArgs,
		RunE:  runPatterns,
	}

	resetCmd = &cobra.Command{
		Use:   "reset [pattern]",
		Short: "Return a pattern to ACTIVE with fresh baselines",
		Args:  cobra.ExactArgs(1),
		RunE:  runReset,
	}

	retrainCmd = &cobra.Command{
		Use:   "retrain",
		Short: "Request a model retrain",
		Args:  cobra.NoArgs,
		RunE:  runRetrain,
	}

	replayCmd = &cobra.Command{
		Use:   "replay [outcome-log]",
		Short: "Replay an outcome log through the lifecycle rules of the current config",
		Long: `Replay folds every outcome of a log into fresh aggregates and prints the
lifecycle transitions the configured thresholds would produce. With --publish
the outcomes are also sent to the outcomes topic.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runReplay,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "config/config.yaml", "config file path")
	pf.StringVar(&apiURL, "api", "http://localhost:8080", "engine base URL")
	pf.DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	resetCmd.Flags().StringVar(&operator, "operator", "calibractl", "operator recorded with the reset")
	retrainCmd.Flags().StringVar(&reason, "reason", "manual trigger", "reason recorded with the retrain")
	replayCmd.Flags().BoolVar(&publish, "publish", false, "publish replayed outcomes to Kafka")

	rootCmd.AddCommand(checkCmd, statusCmd, patternsCmd, resetCmd, retrainCmd, replayCmd)
}

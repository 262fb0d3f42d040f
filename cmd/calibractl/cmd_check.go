package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"Calibra/pkg/config"
)

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config %s ok (env=%s)\n", configPath, cfg.Environment)
	fmt.Fprintf(out, "  data dir:     %s\n", cfg.Storage.DataDir)
	fmt.Fprintf(out, "  calibration:  [%.0f, %.0f]\n", cfg.Calibration.Min, cfg.Calibration.Max)
	fmt.Fprintf(out, "  horizon:      %s\n", cfg.Monitor.Horizon)
	fmt.Fprintf(out, "  regime:       %s candles from %s\n", cfg.Regime.CandleTimeframe, cfg.Regime.Source)
	fmt.Fprintf(out, "  retrain:      %s\n", onOff(cfg.Retrain.Enabled, cfg.Retrain.Mode))
	fmt.Fprintf(out, "  kafka:        %s\n", onOff(cfg.Kafka.Enabled, strings.Join(cfg.Kafka.Brokers, ",")))
	fmt.Fprintf(out, "  clickhouse:   %s\n", onOff(cfg.ClickHouse.Enabled, cfg.ClickHouse.Host))
	fmt.Fprintf(out, "  redis:        %s\n", onOff(cfg.Redis.Enabled, cfg.Redis.Addr))
	fmt.Fprintf(out, "  feed:         %s\n", onOff(cfg.Feed.Enabled, cfg.Feed.URL))
	return nil
}

func onOff(enabled bool, detail string) string {
	if !enabled {
		return "off"
	}
	return "on " + detail
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"binance-decision-core/config"
	"binance-decision-core/internal/backtest"
	"binance-decision-core/internal/binance"
	"binance-decision-core/internal/clock"
	"binance-decision-core/internal/logging"
	"binance-decision-core/internal/market"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay stored candles through the decision pipeline",
		Long: `Replay feeds historical candles one bar at a time through the same
context, structure, strategy and confirmation pipeline the live engine runs,
then simulates the submitted entries against the following bars.

Candle files are CSV (timestamp,open,high,low,close,volume) or JSON (candle
objects or a raw kline dump).`,
		SilenceUsage: true,
		RunE:         runReplay,
	}

	rootCmd.Flags().String("config", "", "Configuration file path (defaults are used when empty)")
	rootCmd.Flags().String("symbol", "", "Symbol being replayed")
	rootCmd.Flags().String("primary", "", "Primary timeframe candle file")
	rootCmd.Flags().String("higher", "", "Higher timeframe candle file")
	rootCmd.Flags().String("reference", "", "Reference (BTC) candle file for the correlation filter")
	rootCmd.Flags().Int("expiry", 0, "Override the confirmation window in seconds for both directions")
	rootCmd.Flags().Int("max-hold", 48, "Close simulated trades after this many primary bars")
	rootCmd.Flags().String("log-level", "WARN", "Log level for pipeline output")
	rootCmd.Flags().Bool("json", false, "Print the result as JSON")
	rootCmd.MarkFlagRequired("symbol")
	rootCmd.MarkFlagRequired("primary")
	rootCmd.MarkFlagRequired("higher")

	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newSampleConfigCmd())

	return rootCmd
}

func runReplay(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	cfgPath, _ := flags.GetString("config")
	symbol, _ := flags.GetString("symbol")
	primaryPath, _ := flags.GetString("primary")
	higherPath, _ := flags.GetString("higher")
	referencePath, _ := flags.GetString("reference")
	expiry, _ := flags.GetInt("expiry")
	maxHold, _ := flags.GetInt("max-hold")
	logLevel, _ := flags.GetString("log-level")
	asJSON, _ := flags.GetBool("json")

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.LoadFile(cfgPath); err != nil {
			return err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	logCfg := cfg.Logging
	logCfg.Level = logLevel
	logCfg.Output = "stderr"
	logCfg.Component = "replay"
	logger := logging.New(&logCfg)

	provider := backtest.NewReplayProvider()
	roles := []struct {
		role market.TimeframeRole
		path string
	}{
		{market.RolePrimary, primaryPath},
		{market.RoleHigher, higherPath},
		{market.RoleReference, referencePath},
	}
	for _, r := range roles {
		if r.path == "" {
			continue
		}
		candles, err := backtest.LoadCandles(r.path)
		if err != nil {
			return err
		}
		if err := provider.Load(r.role, candles); err != nil {
			return err
		}
		logger.Info("Candles loaded", "role", string(r.role), "count", len(candles), "file", r.path)
	}

	opts := cfg.EngineOptions()
	if referencePath == "" && opts.Engine.Correlation.Enabled {
		opts.Engine.Correlation.Enabled = false
		logger.Warn("No reference candles, correlation filter disabled")
	}

	confirmCfg := cfg.Confirmation
	if expiry > 0 {
		confirmCfg.Long.ExpirySeconds = expiry
		confirmCfg.Short.ExpirySeconds = expiry
	}
	if interval, ok := provider.Interval(market.RolePrimary); ok {
		window := time.Duration(min(confirmCfg.Long.ExpirySeconds, confirmCfg.Short.ExpirySeconds)) * time.Second
		if window < interval {
			logger.Warn("Confirmation window is shorter than one primary bar, pending entries will expire",
				"window", window.String(), "interval", interval.String())
		}
	}

	btCfg := backtest.Config{
		Options:        opts,
		Confirmation:   confirmCfg,
		Builder:        cfg.Execution.Builder,
		MaxHoldCandles: maxHold,
		Logger:         logger,
	}
	if cfg.CircuitBreaker.Enabled {
		breakerCfg := cfg.CircuitBreaker
		btCfg.Breaker = &breakerCfg
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := backtest.NewBacktestEngine(btCfg).Run(ctx, symbol, provider)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	backtest.PrintResults(cmd.OutOrStdout(), result)
	return nil
}

// newGenerateCmd writes deterministic mock candles for offline replays
func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [OUTPUT]",
		Short: "Write mock candles to a CSV or JSON file",
		Long: `Generate writes candles from the mock market data client. The same
symbol, interval and end time always produce the same series.
Example: replay generate btc_1m.csv --symbol BTCUSDT --interval 1m --count 600`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, _ := cmd.Flags().GetString("symbol")
			interval, _ := cmd.Flags().GetString("interval")
			count, _ := cmd.Flags().GetInt("count")
			end, _ := cmd.Flags().GetString("end")
			return runGenerate(cmd, args[0], strings.ToUpper(symbol), interval, count, end)
		},
	}

	cmd.Flags().String("symbol", "BTCUSDT", "Symbol to simulate")
	cmd.Flags().String("interval", "1m", "Kline interval")
	cmd.Flags().Int("count", 500, "Number of candles")
	cmd.Flags().String("end", "", "RFC3339 end time (now if not provided)")

	return cmd
}

func runGenerate(cmd *cobra.Command, output, symbol, interval string, count int, end string) error {
	at := time.Now().UTC()
	if end != "" {
		var err error
		if at, err = time.Parse(time.RFC3339, end); err != nil {
			return fmt.Errorf("invalid end time, use RFC3339: %w", err)
		}
	}
	if count < 2 {
		return fmt.Errorf("count must be at least 2")
	}

	client := binance.NewMockClient(clock.NewManual(at))
	klines, err := client.GetKlines(cmd.Context(), symbol, interval, count)
	if err != nil {
		return err
	}
	candles := make([]market.Candle, len(klines))
	for i, k := range klines {
		candles[i] = k.ToCandle()
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(output), ".csv") {
		err = backtest.WriteCSV(f, candles)
	} else {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		err = enc.Encode(candles)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d %s %s candles to %s\n", len(candles), symbol, interval, output)
	return nil
}

// newSampleConfigCmd writes the default configuration
func newSampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sample-config [OUTPUT]",
		Short: "Write the default configuration as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.GenerateSampleConfig(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sample configuration written to %s\n", args[0])
			return nil
		},
	}
}

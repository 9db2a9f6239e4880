// Command backtest is a standalone offline harness that replays historical
// candles through the same strategy/ensemble/gate/executor stack the live
// engine runs, via internal/backtestrunner, and prints a performance
// report. It exists alongside cmd/engine's "backtest" subcommand for
// callers who only ever want the replay tool and not the rest of the
// engine binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/quantspot/engine/internal/analytics"
	"github.com/quantspot/engine/internal/backtestrunner"
	"github.com/quantspot/engine/internal/marketdata"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the engine's YAML config file")
	from := flag.String("from", "", "backtest start date, YYYY-MM-DD")
	to := flag.String("to", "", "backtest end date, YYYY-MM-DD")
	interval := flag.String("interval", "1m", "candle interval to replay")
	spreadBps := flag.Float64("spread-bps", 0, "synthetic order book spread override; 0 uses the config's spread_bps")
	flag.Parse()

	if err := run(*configPath, *from, *to, *interval, *spreadBps); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, from, to, interval string, spreadBps float64) error {
	if from == "" || to == "" {
		return fmt.Errorf("backtest: -from and -to are required")
	}

	fromTime, err := time.Parse("2006-01-02", from)
	if err != nil {
		return fmt.Errorf("backtest: invalid -from: %w", err)
	}
	toTime, err := time.Parse("2006-01-02", to)
	if err != nil {
		return fmt.Errorf("backtest: invalid -to: %w", err)
	}

	logger := log.New(log.Writer(), "[backtest] ", log.LstdFlags)
	provider := marketdata.NewBinanceCandleProvider(marketdata.BinanceConfig{Interval: interval})

	result, err := backtestrunner.Run(context.Background(), provider, backtestrunner.Options{
		ConfigPath:        configPath,
		From:              fromTime,
		To:                toTime,
		SpreadBpsOverride: spreadBps,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	fmt.Printf("replayed %d tick(s) across %s to %s\n\n", result.Ticks, from, to)
	fmt.Println(analytics.FormatReport(result.Report))
	return nil
}

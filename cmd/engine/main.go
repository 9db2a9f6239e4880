// Command engine is the process entrypoint for the quantspot trading
// engine: it loads configuration, wires the indicator/strategy/ensemble
// pipeline through the gates and executor, and runs the per-symbol
// trading loop.
//
// Subcommands:
//   - run        runs the live trading loop (dry_run or live, per config)
//   - arm        a preflight safety check before switching a config to live
//   - reconcile  converges local state against exchange truth, once
//   - backtest   replays historical candles through the same engine stack
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/quantspot/engine/internal/analytics"
	"github.com/quantspot/engine/internal/armtoken"
	"github.com/quantspot/engine/internal/backtestrunner"
	"github.com/quantspot/engine/internal/breaker"
	"github.com/quantspot/engine/internal/config"
	"github.com/quantspot/engine/internal/cost"
	"github.com/quantspot/engine/internal/dailylock"
	"github.com/quantspot/engine/internal/ensemble"
	"github.com/quantspot/engine/internal/eventsink"
	"github.com/quantspot/engine/internal/exchange"
	"github.com/quantspot/engine/internal/executor"
	"github.com/quantspot/engine/internal/marketdata"
	"github.com/quantspot/engine/internal/observability"
	"github.com/quantspot/engine/internal/scheduler"
	"github.com/quantspot/engine/internal/storage"
	"github.com/quantspot/engine/internal/strategy"
	"github.com/quantspot/engine/internal/tradingloop"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	configPath  string
	metricsAddr string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "engine",
		Short: "quantspot trading engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the engine's YAML config file")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")

	root.AddCommand(newRunCmd())
	root.AddCommand(newArmCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newBacktestCmd())
	return root
}

// newStore opens either the Postgres repository or, for local smoke
// testing, an in-memory one when --config resolves to database_url:
// "memory".
func newStore(ctx context.Context, snap *config.Snapshot, logger *log.Logger) (storage.Store, func(), error) {
	if snap.Config.DatabaseURL == "memory" {
		logger.Println("using in-memory store (database_url: memory)")
		return storage.NewMemoryStore(), func() {}, nil
	}
	ps, err := storage.NewPostgresStore(ctx, snap.Config.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: connect storage: %w", err)
	}
	return ps, ps.Close, nil
}

func newExchangeClient() *exchange.Binance {
	return exchange.New(exchange.Config{
		APIKey:    os.Getenv("QUANTSPOT_API_KEY"),
		APISecret: os.Getenv("QUANTSPOT_API_SECRET"),
	})
}

func buildStrategies() []strategy.Strategy {
	return []strategy.Strategy{strategy.NewTrend(), strategy.NewMeanReversion(), strategy.NewBreakout()}
}

func tickParams(cfg config.Config) tradingloop.Params {
	return tradingloop.Params{
		Ensemble: ensemble.Params{
			MinAgreement:        cfg.Ensemble.MinAgreement,
			ConfidenceThreshold: cfg.Ensemble.ConfidenceThreshold,
		},
		Fees: cost.Fees{
			TakerBps: decimal.NewFromFloat(cfg.Fees.TakerBps),
			MakerBps: decimal.NewFromFloat(cfg.Fees.MakerBps),
		},
		SpreadBps:     decimal.NewFromFloat(cfg.SpreadBps),
		MinProfitUSD:  decimal.NewFromFloat(cfg.Risk.MinProfitUSD),
		MaxConcurrent: cfg.Risk.MaxConcurrentPositions,
		Sizing: tradingloop.Sizing{
			RiskPerTradePct:      cfg.Sizing.RiskPerTradePct,
			MaxPositionPctEquity: cfg.Sizing.MaxPositionPctEquity,
			MinNotional:          cfg.Sizing.MinNotional,
		},
		Equity: decimal.NewFromFloat(cfg.Equity),
	}
}

// serveHTTP exposes /metrics for Prometheus scraping and /events for the
// websocket event relay, on the same listener.
func serveHTTP(addr string, metrics *observability.Metrics, sink *eventsink.Sink, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		var afterSeq int64
		if v := r.URL.Query().Get("after"); v != "" {
			fmt.Sscanf(v, "%d", &afterSeq)
		}
		sink.ServeWebSocket(w, r, afterSeq)
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("http server stopped: %v", err)
		}
	}()
}

func newRunCmd() *cobra.Command {
	var tickInterval time.Duration
	var lookback time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the live trading loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), tickInterval, lookback)
		},
	}
	cmd.Flags().DurationVar(&tickInterval, "tick-interval", 30*time.Second, "how often to tick every symbol")
	cmd.Flags().DurationVar(&lookback, "candle-lookback", 30*24*time.Hour, "initial candle history to sync before the first tick")
	return cmd
}

func runEngine(ctx context.Context, tickInterval, lookback time.Duration) error {
	logger := log.New(log.Writer(), "[engine] ", log.LstdFlags)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	snap, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	logger.Printf("loaded config version %d for %d symbol(s), trading_mode=%s", snap.Version, len(snap.Config.Symbols), snap.Config.TradingMode)

	watcher := config.NewWatcher(configPath, snap, log.New(log.Writer(), "[config-watcher] ", log.LstdFlags))
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("engine: start config watcher: %w", err)
	}
	defer watcher.Stop()

	store, closeStore, err := newStore(ctx, snap, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sink := eventsink.New(store, log.New(log.Writer(), "[eventsink] ", log.LstdFlags))
	if ps, ok := store.(*storage.PostgresStore); ok {
		go sink.RelayNotifications(ctx, ps.Notifications())
	}

	metrics := observability.New()
	serveHTTP(metricsAddr, metrics, sink, logger)
	logger.Printf("http listening on %s (/metrics, /events)", metricsAddr)

	provider := marketdata.NewBinanceCandleProvider(marketdata.BinanceConfig{})
	cache := marketdata.NewMemoryCandleCache()
	manager := marketdata.NewManager(provider, cache)
	manager.SetLogger(func(format string, args ...any) { logger.Printf(format, args...) })

	now := time.Now().UTC()
	if err := manager.SyncCandles(ctx, snap.Config.Symbols, now, lookback); err != nil {
		return fmt.Errorf("engine: initial candle sync: %w", err)
	}

	streamer := marketdata.NewBinanceBookStreamer("", 20, log.New(log.Writer(), "[bookstream] ", log.LstdFlags))
	go func() {
		if err := manager.StreamBooks(ctx, streamer, snap.Config.Symbols); err != nil && ctx.Err() == nil {
			logger.Printf("book stream stopped: %v", err)
		}
	}()

	breakers := breaker.NewManager(toBreakerConfig(snap.Config.Breaker), log.New(log.Writer(), "[breaker] ", log.LstdFlags))
	breakers.SetMetrics(metrics)
	lock := dailylock.NewManager(dailylock.Config{
		Mode:           dailylock.Mode(snap.Config.DailyLock.Mode),
		DailyTargetUSD: snap.Config.DailyLock.DailyTargetUSD,
		TrailingBuffer: snap.Config.DailyLock.TrailingBuffer,
		Location:       snap.Location,
	}, log.New(log.Writer(), "[daily-lock] ", log.LstdFlags))

	dayKey := lock.DayKey(now)
	closedToday, err := store.GetTodayClosedTrades(ctx, dayKey)
	if err != nil {
		return fmt.Errorf("engine: load today's closed trades: %w", err)
	}
	pnls := make([]float64, 0, len(closedToday))
	for _, t := range closedToday {
		pnls = append(pnls, t.RealizedPnL.InexactFloat64())
	}
	lock.Reconstruct(now, pnls)

	watcher.OnChange(func(old, next *config.Snapshot) {
		breakers.UpdateConfig(toBreakerConfig(next.Config.Breaker))
		logger.Printf("applied config version %d -> %d", old.Version, next.Version)
	})

	var opener tradingloop.Opener
	var exitChecker tradingloop.ExitChecker
	if snap.Config.TradingMode == config.TradingModeLive {
		if err := armtoken.Verify(configPath, now); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		exchangeClient := newExchangeClient()
		live := executor.NewLive(store, exchangeClient)
		live.SetMetrics(metrics)
		events, err := live.Reconcile(ctx, now)
		if err != nil {
			return fmt.Errorf("engine: startup reconcile: %w", err)
		}
		persistEvents(ctx, sink, events, logger)
		opener, exitChecker = live, live
		logger.Println("trading_mode=live: executor is the real exchange client")
	} else {
		dry := executor.NewDry(store, executor.FeeModel{TakerBps: decimal.NewFromFloat(snap.Config.Fees.TakerBps)})
		dry.SetMetrics(metrics)
		opener, exitChecker = dry, dry
		logger.Println("trading_mode=dry_run: executor simulates fills from candle data")
	}

	strategies := buildStrategies()
	symbols := make([]*tradingloop.Symbol, 0, len(snap.Config.Symbols))
	for _, sym := range snap.Config.Symbols {
		symLoop := tradingloop.NewSymbol(sym, strategies, manager, manager, opener, exitChecker, breakers, lock, store, sinkPublisher{sink}, nil)
		symLoop.SetMetrics(metrics)
		symbols = append(symbols, symLoop)
	}
	runner := tradingloop.NewRunner(symbols, logger)

	sched := scheduler.New(log.New(log.Writer(), "[scheduler] ", log.LstdFlags))
	sched.RegisterJob(scheduler.Job{Name: "equity-snapshot", Type: scheduler.JobTypeDaily, RunFunc: func(ctx context.Context) error {
		return appendEquitySnapshot(ctx, store, manager, lock, snap.Config.Equity, time.Now().UTC())
	}})
	sched.RegisterJob(scheduler.Job{Name: "report-status", Type: scheduler.JobTypeTick, RunFunc: func(ctx context.Context) error {
		count, err := store.OpenPositionCount(ctx)
		if err != nil {
			return err
		}
		metrics.SetOpenPositions(count)
		metrics.SetRealizedPnLToday(lock.RealizedToday())
		metrics.SetEquity(snap.Config.Equity)
		metrics.SetDailyLockEngaged(lock.Engaged())
		return nil
	}})
	logger.Println(sched.Status())

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastDayKey := dayKey
	for {
		select {
		case <-ctx.Done():
			logger.Println("shutting down")
			return nil
		case tickTime := <-ticker.C:
			current := watcher.Current().Config
			thisDayKey := lock.DayKey(tickTime)
			if thisDayKey != lastDayKey {
				if err := sched.RunDailyJobs(ctx); err != nil {
					logger.Printf("daily job cycle failed: %v", err)
				}
				lastDayKey = thisDayKey
			}

			params := tickParams(current)
			if err := runner.TickAll(ctx, params, tickTime); err != nil {
				logger.Printf("tick failed: %v", err)
			}
			sched.RunTickJobs(ctx)
		}
	}
}

// appendEquitySnapshot computes and persists one point-in-time audit-trail
// reading. Unrealized PnL is approximated mark-to-market from each open
// trade's entry price against its symbol's last known candle close; cash
// is equity minus that unrealized PnL.
func appendEquitySnapshot(ctx context.Context, store storage.Store, manager *marketdata.Manager, lock *dailylock.Manager, equity float64, now time.Time) error {
	openTrades, err := store.GetOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("engine: equity snapshot: list open trades: %w", err)
	}

	unrealized := decimal.Zero
	for _, t := range openTrades {
		candles, err := manager.Candles(ctx, t.Symbol)
		if err != nil || len(candles) == 0 {
			continue
		}
		lastClose := decimal.NewFromFloat(candles[len(candles)-1].Close)
		unrealized = unrealized.Add(lastClose.Sub(t.EntryPrice).Mul(t.Qty))
	}

	equityDec := decimal.NewFromFloat(equity)
	cash := equityDec.Sub(unrealized)

	return store.AppendEquity(ctx, storage.EquitySnapshot{
		At:               now,
		Equity:           equityDec,
		Cash:             cash,
		UnrealizedPnL:    unrealized,
		RealizedPnLToday: decimal.NewFromFloat(lock.RealizedToday()),
		OpenPositions:    len(openTrades),
		Meta:             map[string]any{"source": "equity-snapshot-job"},
	})
}

func toBreakerConfig(cfg config.BreakerConfig) breaker.Config {
	return breaker.Config{
		VolatilityATRMultiple:   cfg.VolatilityATRMultiple,
		VolatilityPauseMinutes:  cfg.VolatilityPauseMinutes,
		SpreadCapBps:            cfg.SpreadCapBps,
		SpreadPauseMinutes:      cfg.SpreadPauseMinutes,
		ConsecutiveLossesWindow: cfg.ConsecutiveLossesWindow,
		ConsecutiveLossesPause:  cfg.ConsecutiveLossesPause,
		InstabilityRatePerMin:   cfg.InstabilityRatePerMin,
		InstabilityPauseMinutes: cfg.InstabilityPauseMinutes,
		NewsPauseMinutes:        cfg.NewsPauseMinutes,
	}
}

// sinkPublisher adapts eventsink.Sink's repo-backed Append into the
// fire-and-forget tradingloop.EventSink interface, which has no error
// return for the loop to handle.
type sinkPublisher struct {
	sink *eventsink.Sink
}

func (p sinkPublisher) Publish(events ...any) {
	for _, e := range events {
		storageEvent, ok := toStorageEvent(e)
		if !ok {
			continue
		}
		if _, err := p.sink.Append(context.Background(), storageEvent); err != nil {
			log.Printf("[engine] failed to persist event %s: %v", storageEvent.Type, err)
		}
	}
}

func toStorageEvent(e any) (storage.Event, bool) {
	switch v := e.(type) {
	case executor.Event:
		return storage.Event{Type: v.Type, Level: eventLevel(v.Type), Symbol: v.Symbol, TradeID: v.TradeID, At: v.At, Detail: v.Detail, PublicSafe: publicSafeEventType(v.Type)}, true
	case tradingloop.GateEvent:
		return storage.Event{Type: v.Type, Level: eventLevel(v.Type), Symbol: v.Symbol, At: v.At, Detail: map[string]any{"reason": v.Reason}, PublicSafe: publicSafeEventType(v.Type)}, true
	case breaker.Event:
		return storage.Event{Type: v.Type, Level: eventLevel(v.Type), Symbol: v.Symbol, At: v.At, Detail: map[string]any{"kind": v.Kind, "reason": v.Reason}, PublicSafe: true}, true
	case dailylock.Event:
		return storage.Event{Type: v.Type, Level: eventLevel(v.Type), At: v.At, Detail: map[string]any{"day_key": v.DayKey, "detail": v.Detail}, PublicSafe: true}, true
	default:
		return storage.Event{}, false
	}
}

// eventLevel classifies an event type's severity for the audit trail and
// alerting, per the DataUnavailable/ExchangePermanent/PersistenceFailure/
// ReconciliationConflict taxonomy: data gaps warn, permanent failures and
// reconciliation conflicts are errors, everything else is routine.
func eventLevel(eventType string) storage.Level {
	switch eventType {
	case "market.tick":
		return storage.LevelWarn
	case executor.EventTradeCanceled, "reconcile.orphan_cancel_failed":
		return storage.LevelError
	default:
		return storage.LevelInfo
	}
}

// publicSafeEventType decides which executor/gate event types are safe to
// relay to public surfaces (the websocket relay): trade opened/closed and
// order filled are; every other executor or gate event type, including
// gate outcomes and anything carrying raw error detail, is not.
func publicSafeEventType(eventType string) bool {
	switch eventType {
	case executor.EventTradeOpened, executor.EventTradeClosed, executor.EventOrderFilled:
		return true
	default:
		return false
	}
}

func persistEvents(ctx context.Context, sink *eventsink.Sink, events []executor.Event, logger *log.Logger) {
	for _, e := range events {
		storageEvent, _ := toStorageEvent(e)
		if _, err := sink.Append(ctx, storageEvent); err != nil {
			logger.Printf("failed to persist event %s: %v", e.Type, err)
		}
	}
}

func newArmCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "arm",
		Short: "preflight check before running a config with trading_mode: live",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("engine: %w", err)
			}
			if snap.Config.TradingMode != config.TradingModeLive {
				fmt.Println("config's trading_mode is dry_run — nothing to arm")
				return nil
			}
			if !confirm {
				fmt.Println("SAFETY CHECK - this config trades with real funds")
				fmt.Println()
				fmt.Printf("exchange:    %s\n", snap.Config.Exchange.Name)
				fmt.Printf("symbols:     %v\n", snap.Config.Symbols)
				fmt.Printf("equity:      %.2f %s\n", snap.Config.Equity, snap.Config.Exchange.QuoteAsset)
				fmt.Println()
				fmt.Println("To proceed, run:")
				fmt.Println("  engine arm --confirm")
				return nil
			}

			exchangeClient := newExchangeClient()
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			positions, err := exchangeClient.OpenPositions(ctx)
			if err != nil {
				return fmt.Errorf("engine: arm connectivity check failed: %w", err)
			}
			fmt.Printf("exchange reachable, %d asset balance(s) visible\n", len(positions))

			if err := armtoken.Issue(configPath, time.Now().UTC()); err != nil {
				return fmt.Errorf("engine: issue arm token: %w", err)
			}
			fmt.Printf("armed: this config may run live for the next %s\n", armtoken.TTL)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the live-trading preflight check")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "converge local state against exchange truth, once, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.Writer(), "[reconcile] ", log.LstdFlags)
			ctx := cmd.Context()

			snap, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("engine: %w", err)
			}
			if snap.Config.TradingMode != config.TradingModeLive {
				return fmt.Errorf("engine: reconcile only applies to trading_mode: live")
			}
			if err := armtoken.Verify(configPath, time.Now().UTC()); err != nil {
				return fmt.Errorf("engine: %w", err)
			}

			store, closeStore, err := newStore(ctx, snap, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			sink := eventsink.New(store, logger)
			live := executor.NewLive(store, newExchangeClient())
			events, err := live.Reconcile(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("engine: reconcile: %w", err)
			}
			persistEvents(ctx, sink, events, logger)
			logger.Printf("reconcile complete: %d event(s) emitted", len(events))
			return nil
		},
	}
	return cmd
}

func newBacktestCmd() *cobra.Command {
	var from, to string
	var interval string

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "replay historical candles through the engine and print a performance report",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromTime, err := time.Parse("2006-01-02", from)
			if err != nil {
				return fmt.Errorf("engine: invalid --from: %w", err)
			}
			toTime, err := time.Parse("2006-01-02", to)
			if err != nil {
				return fmt.Errorf("engine: invalid --to: %w", err)
			}

			provider := marketdata.NewBinanceCandleProvider(marketdata.BinanceConfig{Interval: interval})
			result, err := backtestrunner.Run(cmd.Context(), provider, backtestrunner.Options{
				ConfigPath: configPath,
				From:       fromTime,
				To:         toTime,
			})
			if err != nil {
				return fmt.Errorf("engine: backtest: %w", err)
			}

			fmt.Printf("replayed %d tick(s) across %s to %s\n\n", result.Ticks, from, to)
			fmt.Println(analytics.FormatReport(result.Report))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "backtest start date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "backtest end date, YYYY-MM-DD")
	cmd.Flags().StringVar(&interval, "interval", "1m", "candle interval to replay")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

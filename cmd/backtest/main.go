// cmd/backtest runs the backtest engine over a universe of symbols and
// timeframes, in fixed-size concurrent batches with a pause between batches.
//
// Usage:
//
//	go run ./cmd/backtest --config=swing --tf=1H,4H --symbols=EURUSD,GBPUSD --from=2024-01-01
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"forex-backtest/config"
	"forex-backtest/internal/backtest"
	"forex-backtest/internal/logger"
	"forex-backtest/internal/metrics"
	"forex-backtest/internal/model"
	"forex-backtest/internal/notification"
	"forex-backtest/internal/strategy"
	redisstore "forex-backtest/internal/store/redis"
	sqlitestore "forex-backtest/internal/store/sqlite"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	config.LoadDotEnv()
	cfg := config.Load()
	defaults := strategy.DefaultParams()

	// Flags override env
	configName := flag.String("config", backtest.DefaultConfigName, "Configuration name recorded with each result")
	symbolsStr := flag.String("symbols", cfg.Symbols, "Comma-separated symbols")
	tfStr := flag.String("tf", cfg.EnabledTFs, "Comma-separated timeframes (1H,4H,1D,W)")
	fromStr := flag.String("from", "", "Test start date YYYY-MM-DD (default: BACKTEST_MONTHS ago)")
	toStr := flag.String("to", "", "Test end date YYYY-MM-DD (default: now)")
	rsiBuy := flag.Float64("rsi-buy", defaults.RSIBuyThreshold, "RSI threshold below which BUY signals fire")
	rsiSell := flag.Float64("rsi-sell", defaults.RSISellThreshold, "RSI threshold above which SELL signals fire")
	perSymbol := flag.Bool("per-symbol", true, "One invocation per symbol x timeframe (false: one per timeframe)")
	batchSize := flag.Int("batch", cfg.BatchSize, "Invocations run concurrently per batch")
	batchDelay := flag.Duration("delay", cfg.BatchDelay, "Pause between batches")
	dbPath := flag.String("db", cfg.SQLitePath, "Path to SQLite database")
	flag.Parse()

	slogger := logger.Init("backtest-batch", logger.ParseLevel(cfg.LogLevel))

	cfg.EnabledTFs = *tfStr
	tfs := cfg.ParseTimeframes()
	if len(tfs) == 0 {
		log.Fatal("[backtest] no valid timeframes specified")
	}
	symbols := config.SplitSymbols(*symbolsStr)
	if len(symbols) == 0 {
		log.Fatal("[backtest] no symbols specified")
	}
	start, end, err := window(*fromStr, *toStr, cfg.BacktestMonths, time.Now().UTC())
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	params := strategy.Params{RSIBuyThreshold: *rsiBuy, RSISellThreshold: *rsiSell}
	if err := params.Validate(); err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	// Stores
	writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[backtest] sqlite writer: %v", err)
	}
	defer writer.Close()
	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite reader: %v", err)
	}
	defer reader.Close()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.RedisEnabled)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer, health)
	metricsSrv.Start()
	defer metricsSrv.Stop(context.Background())

	opts := []backtest.Option{
		backtest.WithTradeLog(writer),
		backtest.WithMetrics(m),
		backtest.WithLogger(slogger),
		backtest.WithWorkers(cfg.BacktestWorkers),
	}
	if cfg.RedisEnabled {
		pub, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[backtest] WARNING: redis unavailable, results will not be published: %v", err)
		} else {
			defer pub.Close()
			opts = append(opts, backtest.WithPublisher(pub))
		}
	}
	if cfg.WebhookURL != "" {
		opts = append(opts, backtest.WithPublisher(notification.NewResultAlerts(notification.NewWebhookNotifier(cfg.WebhookURL))))
	}
	runner := backtest.NewRunner(reader, writer, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	health.StartLivenessChecker(ctx, nil, writer.DB(), 15*time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	jobs := buildJobs(symbols, tfs, *perSymbol)
	log.Printf("[backtest] %d invocations over %s..%s, batch=%d delay=%s",
		len(jobs), start.Format("2006-01-02"), end.Format("2006-01-02"), *batchSize, *batchDelay)

	sum := runBatches(ctx, jobs, *batchSize, *batchDelay, func(ctx context.Context, j job) (*backtest.Report, error) {
		return runner.Run(ctx, backtest.Request{
			ConfigName: *configName,
			Symbols:    j.Symbols,
			Timeframe:  j.Timeframe,
			Params:     params,
			Start:      start,
			End:        end,
		})
	})

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST BATCH COMPLETE       ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Invocations:       %-16d ║\n", sum.Invocations)
	fmt.Printf("║  Failed:            %-16d ║\n", sum.Failed)
	fmt.Printf("║  Symbols skipped:   %-16d ║\n", sum.Skipped)
	fmt.Printf("║  Trades:            %-16d ║\n", sum.Tally.Total)
	fmt.Printf("║  Win rate:          %-16s ║\n", fmt.Sprintf("%.2f%%", sum.Tally.WinRate()))
	fmt.Printf("║  Profit factor:     %-16.2f ║\n", sum.Tally.ProfitFactor())
	fmt.Printf("║  Timeframes:        %-16s ║\n", joinTFs(tfs))
	fmt.Println("╚══════════════════════════════════════╝")

	if sum.Failed > 0 {
		os.Exit(1)
	}
}

// window resolves the test period from flags, defaulting to the last months.
func window(from, to string, months int, now time.Time) (time.Time, time.Time, error) {
	end := now
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", to, err)
		}
		end = t
	}
	start := end.AddDate(0, -months, 0)
	if from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: %w", from, err)
		}
		start = t
	}
	return start, end, nil
}

func joinTFs(tfs []model.Timeframe) string {
	s := make([]string, len(tfs))
	for i, tf := range tfs {
		s[i] = string(tf)
	}
	return strings.Join(s, ",")
}

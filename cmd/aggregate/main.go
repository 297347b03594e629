// cmd/aggregate rolls raw ticks stored in SQLite into timeframe candles and
// upserts them, so re-running over the same window is idempotent.
//
// Usage:
//
//	go run ./cmd/aggregate --tf=1H,4H --from=2024-01-01T00:00:00Z --to=2024-02-01T00:00:00Z
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forex-backtest/config"
	"forex-backtest/internal/logger"
	"forex-backtest/internal/marketdata/agg"
	"forex-backtest/internal/metrics"
	redisstore "forex-backtest/internal/store/redis"
	sqlitestore "forex-backtest/internal/store/sqlite"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	config.LoadDotEnv()
	cfg := config.Load()

	tfStr := flag.String("tf", cfg.EnabledTFs, "Comma-separated timeframes to build")
	symbolsStr := flag.String("symbols", "", "Comma-separated symbols (default: every symbol with ticks)")
	fromStr := flag.String("from", "", "Window start, RFC3339 (default: 7 days ago)")
	toStr := flag.String("to", "", "Window end, RFC3339, exclusive (default: now)")
	minTicks := flag.Int("min-ticks", cfg.MinTicks, "Skip symbols with fewer ticks in the window")
	dbPath := flag.String("db", cfg.SQLitePath, "Path to SQLite database")
	flag.Parse()

	slogger := logger.Init("aggregate", logger.ParseLevel(cfg.LogLevel))

	cfg.EnabledTFs = *tfStr
	tfs := cfg.ParseTimeframes()
	if len(tfs) == 0 {
		log.Fatal("[aggregate] no valid timeframes specified")
	}
	to := time.Now().UTC()
	if *toStr != "" {
		to = mustParse("to", *toStr)
	}
	from := to.AddDate(0, 0, -7)
	if *fromStr != "" {
		from = mustParse("from", *fromStr)
	}

	writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[aggregate] sqlite writer: %v", err)
	}
	defer writer.Close()
	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[aggregate] sqlite reader: %v", err)
	}
	defer reader.Close()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	writer.OnCommit = func(table string, rows int) {
		if table == "candles" {
			m.CandlesUpserted.Add(float64(rows))
		}
	}

	var pub *redisstore.Publisher
	if cfg.RedisEnabled {
		pub, err = redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[aggregate] WARNING: redis unavailable, candles will not be published: %v", err)
			pub = nil
		} else {
			defer pub.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	symbols := config.SplitSymbols(*symbolsStr)
	if len(symbols) == 0 {
		symbols, err = reader.TickSymbols(ctx)
		if err != nil {
			log.Fatalf("[aggregate] list symbols: %v", err)
		}
	}
	if len(symbols) == 0 {
		log.Println("[aggregate] no ticks stored, nothing to do")
		return
	}

	for _, tf := range tfs {
		a := agg.New(tf, "ticks")
		a.MinTicks = *minTicks
		svc := agg.NewService(a, reader, writer, slogger)
		svc.OnSkipped = func(string) { m.AggregationSkipped.Inc() }
		if pub != nil {
			svc.Publish = pub.PublishCandles
		}

		rep, err := svc.Run(ctx, symbols, from, to)
		if err != nil {
			log.Fatalf("[aggregate] %s: %v", tf, err)
		}
		log.Printf("[aggregate] %s: %d candles, processed=%v skipped=%v", tf, rep.Candles, rep.Processed, rep.Skipped)
	}
}

func mustParse(name, s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		log.Fatalf("[aggregate] invalid --%s %q: %v", name, s, err)
	}
	return t.UTC()
}

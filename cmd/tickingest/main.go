// cmd/tickingest connects to a JSON tick WebSocket feed and stores every tick
// in SQLite. With REDIS_ENABLED ticks are also published live on Redis.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"forex-backtest/config"
	"forex-backtest/internal/marketdata/bus"
	"forex-backtest/internal/marketdata/feed"
	"forex-backtest/internal/metrics"
	"forex-backtest/internal/model"
	redisstore "forex-backtest/internal/store/redis"
	sqlitestore "forex-backtest/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	config.LoadDotEnv()
	cfg := config.Load()

	writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[tickingest] sqlite writer: %v", err)
	}
	defer writer.Close()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.RedisEnabled)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer, health)
	metricsSrv.Start()
	writer.OnCommit = func(table string, rows int) {
		if table == "ticks" {
			m.TicksIngested.Add(float64(rows))
		}
	}

	ing, err := feed.New(feed.Config{URL: cfg.TickFeedURL})
	if err != nil {
		log.Fatalf("[tickingest] feed config: %v", err)
	}
	ing.OnReconnect = func() { m.FeedReconnects.Inc() }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Fan-out: SQLite always, Redis when enabled ----
	tickCh := make(chan model.PriceTick, 10000)
	fo := bus.New[model.PriceTick](10000)
	fo.OnDrop = func(idx int) {
		log.Printf("[tickingest] subscriber %d full, dropping tick", idx)
	}
	sqliteCh := fo.Subscribe()

	var rdb *goredis.Client
	var redisCh <-chan model.PriceTick
	var pub *redisstore.Publisher
	if cfg.RedisEnabled {
		pub, err = redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[tickingest] WARNING: redis unavailable, ticks will not be published: %v", err)
		} else {
			defer pub.Close()
			rdb = pub.Client()
			redisCh = fo.Subscribe()
		}
	}
	health.StartLivenessChecker(ctx, rdb, writer.DB(), 15*time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		writer.RunTicks(ctx, sqliteCh)
	}()
	if redisCh != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.RunTicks(ctx, redisCh)
		}()
	}
	go fo.Run(ctx, tickCh)

	go func() {
		if err := ing.Start(ctx, tickCh); err != nil {
			log.Printf("[tickingest] feed stopped: %v", err)
		}
	}()
	log.Printf("[tickingest] ingesting from %s into %s", cfg.TickFeedURL, cfg.SQLitePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[tickingest] shutting down...")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
}

// cmd/server serves the backtest engine over HTTP.
//
//	POST /api/v1/backtests          run a backtest synchronously
//	GET  /api/v1/backtests          list stored runs (?config=&limit=)
//	GET  /api/v1/backtests/{id}     one stored run
//	GET  /api/v1/backtests/latest   latest run of a config from Redis (REDIS_ENABLED)
//	GET  /api/v1/health             liveness + FX market status
//
// /metrics and /healthz are served on METRICS_ADDR.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forex-backtest/config"
	"forex-backtest/internal/api"
	"forex-backtest/internal/backtest"
	"forex-backtest/internal/logger"
	"forex-backtest/internal/metrics"
	"forex-backtest/internal/notification"
	redisstore "forex-backtest/internal/store/redis"
	sqlitestore "forex-backtest/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	config.LoadDotEnv()
	cfg := config.Load()
	slogger := logger.Init("backtest-server", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Stores ----
	writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[server] sqlite writer: %v", err)
	}
	defer writer.Close()

	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[server] sqlite reader: %v", err)
	}
	defer reader.Close()

	// ---- Metrics + health ----
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.RedisEnabled)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer, health)
	metricsSrv.Start()

	opts := []backtest.Option{
		backtest.WithTradeLog(writer),
		backtest.WithMetrics(m),
		backtest.WithLogger(slogger),
		backtest.WithWorkers(cfg.BacktestWorkers),
	}

	// ---- Result publication (optional) ----
	deps := api.Deps{
		Results:    reader,
		TOTPSecret: cfg.APITOTPSecret,
		RunTimeout: cfg.RunTimeout,
	}
	var rdb *goredis.Client
	if cfg.RedisEnabled {
		pub, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[server] WARNING: redis unavailable, results will not be published: %v", err)
		} else {
			defer pub.Close()
			rdb = pub.Client()
			opts = append(opts, backtest.WithPublisher(bufferedPublisher(pub, m)))
			deps.Latest = pub
		}
	}
	opts = append(opts, backtest.WithPublisher(resultAlerts(cfg.WebhookURL)))

	health.StartLivenessChecker(ctx, rdb, writer.DB(), 15*time.Second)

	deps.Runner = backtest.NewRunner(reader, writer, opts...)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: api.NewRouter(deps)}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[server] serving at http://localhost%s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[server] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[server] shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
}

// bufferedPublisher guards pub with a circuit breaker reported to m.
func bufferedPublisher(pub *redisstore.Publisher, m *metrics.Metrics) *redisstore.BufferedPublisher {
	cb := redisstore.NewCircuitBreaker("results", 5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		m.CircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			m.CircuitBreakerTrips.Inc()
		}
	}
	return redisstore.NewBufferedPublisher(pub, cb, 1000)
}

// resultAlerts posts to url, or logs when no webhook is configured.
func resultAlerts(url string) *notification.ResultAlerts {
	if url == "" {
		return notification.NewResultAlerts(notification.NewLogNotifier())
	}
	return notification.NewResultAlerts(notification.NewWebhookNotifier(url))
}

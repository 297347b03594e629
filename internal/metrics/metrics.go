package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the backtest engine.
type Metrics struct {
	// Backtest runs
	RunsTotal        *prometheus.CounterVec // labels: status=ok|invalid|upstream_error|persist_error|canceled
	RunDuration      prometheus.Histogram
	SymbolsProcessed prometheus.Counter
	SymbolsSkipped   prometheus.Counter
	TradesTotal      *prometheus.CounterVec // labels: outcome=WIN|LOSS|UNRESOLVED
	SeriesFetchDur   prometheus.Histogram

	// Result publication
	PublishFailures     prometheus.Counter
	CircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	CircuitBreakerTrips prometheus.Counter

	// Candle aggregation + tick ingest
	TicksIngested      prometheus.Counter
	FeedReconnects     prometheus.Counter
	CandlesUpserted    prometheus.Counter
	AggregationSkipped prometheus.Counter
}

// NewMetrics creates all metrics and registers them on reg.
// Pass prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_runs_total",
			Help: "Backtest invocations by final status",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall time of a full backtest run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		SymbolsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_symbols_processed_total",
			Help: "Symbols with enough history that were simulated",
		}),
		SymbolsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_symbols_skipped_total",
			Help: "Symbols skipped for insufficient history",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_trades_total",
			Help: "Simulated trades by outcome",
		}, []string{"outcome"}),
		SeriesFetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_series_fetch_duration_seconds",
			Help:    "Historical close-series fetch latency per symbol",
			Buckets: prometheus.DefBuckets,
		}),

		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_result_publish_failures_total",
			Help: "Results that could not be published to Redis",
		}),
		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		CircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		TicksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_ticks_ingested_total",
			Help: "Ticks received from the feed and stored",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_feed_reconnects_total",
			Help: "Tick feed WebSocket reconnection attempts",
		}),
		CandlesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_candles_upserted_total",
			Help: "Candles written by the aggregator",
		}),
		AggregationSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdata_aggregation_skipped_total",
			Help: "Symbols skipped by the aggregator for too few ticks",
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.SymbolsProcessed,
		m.SymbolsSkipped,
		m.TradesTotal,
		m.SeriesFetchDur,
		m.PublishFailures,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
		m.TicksIngested,
		m.FeedReconnects,
		m.CandlesUpserted,
		m.AggregationSkipped,
	)

	return m
}

// HealthStatus represents the health of the engine's stores.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool
	RedisConnected bool
	SQLiteOK       bool

	// Liveness probe results
	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(redisEnabled bool) *HealthStatus {
	return &HealthStatus{
		RedisEnabled: redisEnabled,
		StartedAt:    time.Now(),
	}
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
// Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	check()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
// SQLite is required; Redis only degrades the status when enabled.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if h.RedisEnabled && !h.RedisConnected {
		overallStatus = "degraded"
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz for the
// batch binaries that have no API of their own.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. health may be nil.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if health != nil {
		mux.Handle("/healthz", health)
	}

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

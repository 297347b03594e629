package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"forex-backtest/internal/model"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	SQLitePath    string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	ListenAddr    string
	MetricsAddr   string
	LogLevel      string

	// Backtest engine
	BacktestWorkers int
	RunTimeout      time.Duration
	APITOTPSecret   string // empty disables the guard on POST /api/v1/backtests
	WebhookURL      string // empty disables result alerts

	// Batch driver
	Symbols        string // comma-separated, e.g. "EURUSD,GBPUSD"
	BatchSize      int
	BatchDelay     time.Duration
	EnabledTFs     string // comma-separated timeframes, e.g. "1H,4H,1D"
	BacktestMonths int

	// Candle aggregation / tick ingest
	MinTicks       int
	TickFeedURL    string
	TickServerAddr string
	TickInterval   time.Duration
}

// LoadDotEnv loads a .env file from the working directory when present.
// Variables already set in the environment win.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] .env not loaded: %v", err)
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		SQLitePath:    getEnv("SQLITE_PATH", "data/forex.db"),
		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		BacktestWorkers: getEnvInt("BACKTEST_WORKERS", 4),
		RunTimeout:      time.Duration(getEnvInt("RUN_TIMEOUT_SEC", 120)) * time.Second,
		APITOTPSecret:   getEnv("API_TOTP_SECRET", ""),
		WebhookURL:      getEnv("NOTIFY_WEBHOOK_URL", ""),

		// Default: the majors
		Symbols:        getEnv("SYMBOLS", "EURUSD,GBPUSD,USDJPY,AUDUSD,USDCAD,USDCHF,NZDUSD"),
		BatchSize:      getEnvInt("BATCH_SIZE", 5),
		BatchDelay:     time.Duration(getEnvInt("BATCH_DELAY_MS", 1000)) * time.Millisecond,
		EnabledTFs:     getEnv("ENABLED_TIMEFRAMES", "1H,4H,1D"),
		BacktestMonths: getEnvInt("BACKTEST_MONTHS", 12),

		MinTicks:       getEnvInt("MIN_TICKS", 100),
		TickFeedURL:    getEnv("TICK_FEED_URL", "ws://localhost:9001/ws"),
		TickServerAddr: getEnv("TICK_SERVER_ADDR", ":9001"),
		TickInterval:   time.Duration(getEnvInt("TICK_INTERVAL_MS", 250)) * time.Millisecond,
	}
}

// ParseTimeframes parses EnabledTFs, skipping unknown values.
func (c *Config) ParseTimeframes() []model.Timeframe {
	parts := strings.Split(c.EnabledTFs, ",")
	tfs := make([]model.Timeframe, 0, len(parts))
	seen := make(map[model.Timeframe]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tf, err := model.ParseTimeframe(p)
		if err != nil {
			log.Printf("[config] skipping invalid timeframe: %q", p)
			continue
		}
		if !seen[tf] {
			seen[tf] = true
			tfs = append(tfs, tf)
		}
	}
	return tfs
}

// ParseSymbols splits Symbols into upper-case, de-duplicated symbols.
func (c *Config) ParseSymbols() []string {
	return SplitSymbols(c.Symbols)
}

// SplitSymbols splits a comma-separated symbol list.
func SplitSymbols(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid integer for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid boolean for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

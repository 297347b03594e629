package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"forex-backtest/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// ResultsStream receives every finished backtest run.
	ResultsStream = "backtest:results"
	// ResultsChannel is the pub/sub channel for finished runs.
	ResultsChannel = "pub:backtest:results"

	resultsMaxLen    = 10000
	candlesMaxLen    = 5000
	defaultLatestTTL = 24 * time.Hour
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher announces backtest results and fresh candles on Redis.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a new Redis Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// LatestKey is where the most recent result of a configuration is cached.
func LatestKey(configName string) string {
	return "backtest:latest:" + configName
}

// CandleStream is the stream that receives candles of symbol at tf.
func CandleStream(tf model.Timeframe, symbol string) string {
	return "candle:" + string(tf) + ":" + symbol
}

// PublishResult appends the run to the results stream, caches it as the
// latest result of its configuration and publishes it, in one pipeline.
func (p *Publisher) PublishResult(ctx context.Context, runID string, r model.BacktestResult) error {
	data := string(r.JSON())

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: ResultsStream,
		MaxLen: resultsMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"run_id": runID,
			"data":   data,
		},
	})
	pipe.Set(ctx, LatestKey(r.ConfigName), data, defaultLatestTTL)
	pipe.Publish(ctx, ResultsChannel, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish result %s: %w", runID, err)
	}
	return nil
}

// PublishCandles streams aggregated candles and updates each symbol's
// latest candle key.
func (p *Publisher) PublishCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for i := range candles {
		c := &candles[i]
		data := string(c.JSON())
		stream := CandleStream(c.Timeframe, c.Symbol)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: stream,
			MaxLen: candlesMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, stream+":latest", data, defaultLatestTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %d candles: %w", len(candles), err)
	}
	return nil
}

// TickChannel is the pub/sub channel carrying live ticks of symbol.
func TickChannel(symbol string) string {
	return "pub:tick:" + symbol
}

// RunTicks publishes every tick from tickCh to its symbol's channel.
// Blocks until ctx is cancelled or tickCh is closed.
func (p *Publisher) RunTicks(ctx context.Context, tickCh <-chan model.PriceTick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			data, err := json.Marshal(tick)
			if err != nil {
				continue
			}
			if err := p.client.Publish(ctx, TickChannel(tick.Symbol), data).Err(); err != nil {
				log.Printf("[redis] publish tick %s: %v", tick.Symbol, err)
			}
		}
	}
}

// LatestResult returns the cached latest result of configName, or nil if none.
func (p *Publisher) LatestResult(ctx context.Context, configName string) (*model.BacktestResult, error) {
	data, err := p.client.Get(ctx, LatestKey(configName)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis GET %s: %w", LatestKey(configName), err)
	}
	var r model.BacktestResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode latest result: %w", err)
	}
	return &r, nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Package feed provides a WebSocket client for a live FX tick feed
// (e.g. cmd/tickserver) that hands ticks to the ingestion pipeline.
//
// The expected JSON message format on the wire is Message:
//
//	{"symbol":"EURUSD","price":"1.08512","ts":"2024-03-04T10:00:00.123Z"}
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"forex-backtest/internal/model"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Message is one tick on the wire.
type Message struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	TS     time.Time       `json:"ts"`
}

// Tick validates m and converts it to a PriceTick.
func (m Message) Tick() (model.PriceTick, error) {
	sym := strings.ToUpper(strings.TrimSpace(m.Symbol))
	if sym == "" {
		return model.PriceTick{}, errors.New("empty symbol")
	}
	if !m.Price.IsPositive() {
		return model.PriceTick{}, fmt.Errorf("non-positive price %s", m.Price)
	}
	if m.TS.IsZero() {
		return model.PriceTick{}, errors.New("missing timestamp")
	}
	return model.PriceTick{Symbol: sym, Timestamp: m.TS.UTC(), Price: m.Price}, nil
}

// Config holds configuration for the feed client.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest connects to the tick server and pushes PriceTick values into tickCh.
type Ingest struct {
	cfg Config

	// OnReconnect is called each time a reconnection happens (optional).
	OnReconnect func()
	// OnTick is called for every accepted tick (optional).
	OnTick func(model.PriceTick)
	// OnDrop is called when a tick is rejected or tickCh is full (optional).
	OnDrop func(reason string)
}

// New creates a new Ingest. Returns an error if the URL is not a ws(s) URL.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed url %q: scheme must be ws or wss", cfg.URL)
	}
	return &Ingest{cfg: cfg}, nil
}

// Start streams ticks into tickCh until ctx is cancelled, reconnecting with
// exponential backoff on disconnect.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.PriceTick) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := ing.runOnce(ctx, tickCh)
		if err == nil {
			return nil
		}
		if connected {
			delay = ing.cfg.ReconnectDelay
		}

		log.Printf("[feed] disconnected (%v), reconnecting in %s...", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded.
func (ing *Ingest) runOnce(ctx context.Context, tickCh chan<- model.PriceTick) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[feed] connected to %s", ing.cfg.URL)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[feed] parse error: %v (raw: %s)", err, raw)
			ing.drop("parse")
			continue
		}
		tick, err := msg.Tick()
		if err != nil {
			log.Printf("[feed] skipping tick: %v", err)
			ing.drop("invalid")
			continue
		}

		select {
		case tickCh <- tick:
			if ing.OnTick != nil {
				ing.OnTick(tick)
			}
		default:
			log.Println("[feed] tickCh full, dropping tick")
			ing.drop("backpressure")
		}
	}
}

func (ing *Ingest) drop(reason string) {
	if ing.OnDrop != nil {
		ing.OnDrop(reason)
	}
}

// cmd/tickserver is a demo WebSocket FX tick server.
// Broadcasts simulated quotes for testing cmd/tickingest without a real
// market-data provider.
//
// Tick JSON shape is feed.Message:
//
//	{"symbol":"EURUSD","price":"1.08512","ts":"..."}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default: ":9001")
//	SYMBOLS           comma-separated symbols (default: the majors)
//	TICK_INTERVAL_MS  broadcast interval milliseconds (default: "250")
//	TICK_ALWAYS_OPEN  "true" keeps ticking over the weekend closure
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"forex-backtest/config"
	"forex-backtest/internal/marketdata/feed"
	"forex-backtest/internal/markethours"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  decimal.Decimal
	Places int32 // quote precision, 3 for JPY crosses else 5
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop tick
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

// walkPrice applies a small random walk (up to ±2 bp) rounded to the quote precision.
func walkPrice(rng *rand.Rand, in instrument) decimal.Decimal {
	bp := decimal.NewFromFloat((rng.Float64()*4 - 2) / 10000)
	next := in.Price.Add(in.Price.Mul(bp)).Round(in.Places)
	if !next.IsPositive() {
		return in.Price
	}
	return next
}

func runGenerator(h *hub, instruments []instrument, interval time.Duration, alwaysOpen bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for now := range ticker.C {
		if !alwaysOpen && !markethours.IsMarketOpen(now) {
			continue
		}
		for i := range instruments {
			instruments[i].Price = walkPrice(rng, instruments[i])
			b, err := json.Marshal(feed.Message{
				Symbol: instruments[i].Symbol,
				Price:  instruments[i].Price,
				TS:     now.UTC(),
			})
			if err != nil {
				continue
			}
			h.broadcast(b)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo FX tick server...")

	config.LoadDotEnv()
	cfg := config.Load()
	alwaysOpen := os.Getenv("TICK_ALWAYS_OPEN") == "true"

	instruments := newInstruments(cfg.ParseSymbols())
	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no instruments configured via SYMBOLS")
	}
	log.Printf("[tickserver] instruments: %d, interval: %s, %s",
		len(instruments), cfg.TickInterval, markethours.StatusString(time.Now()))

	h := newHub()
	go runGenerator(h, instruments, cfg.TickInterval, alwaysOpen)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s  (WebSocket: ws://localhost%s/ws)", cfg.TickServerAddr, cfg.TickServerAddr)
	if err := http.ListenAndServe(cfg.TickServerAddr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// Rough starting quotes for the majors.
var startPrices = map[string]string{
	"EURUSD": "1.08500",
	"GBPUSD": "1.26500",
	"USDJPY": "150.000",
	"AUDUSD": "0.66000",
	"USDCAD": "1.35000",
	"USDCHF": "0.88000",
	"NZDUSD": "0.61000",
}

func newInstruments(symbols []string) []instrument {
	out := make([]instrument, 0, len(symbols))
	for _, s := range symbols {
		places := int32(5)
		if len(s) == 6 && s[3:] == "JPY" {
			places = 3
		}
		price, ok := startPrices[s]
		if !ok {
			price = "1.00000"
		}
		out = append(out, instrument{Symbol: s, Price: decimal.RequireFromString(price), Places: places})
	}
	return out
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"forex-backtest/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 500
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/backtest.db"
}

// Writer is the single-connection SQLite writer. It owns the schema.
type Writer struct {
	db *sql.DB

	// OnCommit is called after each committed batch with its row count (optional).
	OnCommit func(table string, rows int)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ticks (
			symbol     TEXT    NOT NULL,
			ts         INTEGER NOT NULL, -- unix nanoseconds
			price      TEXT    NOT NULL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS candles (
			symbol       TEXT    NOT NULL,
			timeframe    TEXT    NOT NULL,
			bucket_start INTEGER NOT NULL, -- unix seconds
			open         TEXT    NOT NULL,
			high         TEXT    NOT NULL,
			low          TEXT    NOT NULL,
			close        TEXT    NOT NULL,
			volume       INTEGER NOT NULL DEFAULT 0,
			source       TEXT,
			updated_at   INTEGER NOT NULL,
			PRIMARY KEY (symbol, timeframe, bucket_start)
		);

		CREATE TABLE IF NOT EXISTS backtest_results (
			run_id         TEXT    PRIMARY KEY,
			config_name    TEXT    NOT NULL,
			parameters     TEXT    NOT NULL,
			timeframe      TEXT    NOT NULL,
			period_start   INTEGER NOT NULL,
			period_end     INTEGER NOT NULL,
			total_trades   INTEGER NOT NULL,
			winning_trades INTEGER NOT NULL,
			losing_trades  INTEGER NOT NULL,
			win_rate       REAL    NOT NULL,
			profit_factor  REAL    NOT NULL,
			created_at     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_results_config ON backtest_results(config_name, created_at);

		CREATE TABLE IF NOT EXISTS backtest_trades (
			run_id          TEXT    NOT NULL,
			seq             INTEGER NOT NULL,
			symbol          TEXT    NOT NULL,
			direction       TEXT    NOT NULL,
			generated_at    INTEGER NOT NULL,
			entry_index     INTEGER NOT NULL,
			entry_price     REAL    NOT NULL,
			stop_loss       REAL    NOT NULL,
			take_profits    TEXT    NOT NULL,
			outcome         TEXT    NOT NULL,
			exit_index      INTEGER,
			risk_amount     REAL    NOT NULL,
			reward_multiple REAL    NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
	`)
	return err
}

// WriteTicks inserts ticks in a single transaction. A tick at an existing
// (symbol, ts) replaces the stored one.
func (w *Writer) WriteTicks(ctx context.Context, ticks []model.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}
	err := w.inTx(ctx, `INSERT OR REPLACE INTO ticks (symbol, ts, price) VALUES (?, ?, ?)`,
		len(ticks), func(stmt *sql.Stmt, i int) error {
			t := ticks[i]
			_, err := stmt.ExecContext(ctx, t.Symbol, t.Timestamp.UnixNano(), t.Price)
			return err
		})
	if err != nil {
		return fmt.Errorf("sqlite insert ticks: %w", err)
	}
	w.committed("ticks", len(ticks))
	return nil
}

// UpsertCandles writes candles keyed by (symbol, timeframe, bucket_start);
// re-aggregated candles overwrite the stored row.
func (w *Writer) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	now := time.Now().Unix()
	err := w.inTx(ctx, `
		INSERT INTO candles (symbol, timeframe, bucket_start, open, high, low, close, volume, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, timeframe, bucket_start) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, len(candles), func(stmt *sql.Stmt, i int) error {
		c := candles[i]
		_, err := stmt.ExecContext(ctx, c.Symbol, string(c.Timeframe), c.BucketStart.Unix(),
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Source, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("sqlite upsert candles: %w", err)
	}
	w.committed("candles", len(candles))
	return nil
}

// SaveResult persists the record of one backtest run.
func (w *Writer) SaveResult(ctx context.Context, runID string, r model.BacktestResult) error {
	params, err := json.Marshal(r.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	_, err = w.db.ExecContext(ctx, `
		INSERT INTO backtest_results (run_id, config_name, parameters, timeframe, period_start, period_end,
			total_trades, winning_trades, losing_trades, win_rate, profit_factor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, r.ConfigName, string(params), string(r.Timeframe), r.PeriodStart.Unix(), r.PeriodEnd.Unix(),
		r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate, float64(r.ProfitFactor), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite insert result: %w", err)
	}
	w.committed("backtest_results", 1)
	return nil
}

// SaveTrades stores the simulated trade log of a run in one transaction.
func (w *Writer) SaveTrades(ctx context.Context, runID string, trades []model.TradeOutcome) error {
	if len(trades) == 0 {
		return nil
	}
	err := w.inTx(ctx, `
		INSERT OR REPLACE INTO backtest_trades (run_id, seq, symbol, direction, generated_at, entry_index,
			entry_price, stop_loss, take_profits, outcome, exit_index, risk_amount, reward_multiple)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, len(trades), func(stmt *sql.Stmt, i int) error {
		t := trades[i]
		tps, err := json.Marshal(t.Signal.TakeProfits)
		if err != nil {
			return err
		}
		var exit sql.NullInt64
		if t.ExitIndex != nil {
			exit = sql.NullInt64{Int64: int64(*t.ExitIndex), Valid: true}
		}
		_, err = stmt.ExecContext(ctx, runID, i, t.Signal.Symbol, string(t.Signal.Direction), t.Signal.GeneratedAt,
			t.Signal.EntryIndex, t.Signal.EntryPrice, t.Signal.StopLoss, string(tps), string(t.Outcome),
			exit, t.RiskAmount, t.RewardMultiple)
		return err
	})
	if err != nil {
		return fmt.Errorf("sqlite insert trades: %w", err)
	}
	w.committed("backtest_trades", len(trades))
	return nil
}

// RunTicks reads ticks from tickCh and inserts them in batched transactions.
// Flushes every batchSize ticks OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or tickCh is closed.
func (w *Writer) RunTicks(ctx context.Context, tickCh <-chan model.PriceTick) {
	batch := make([]model.PriceTick, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// the run context may already be cancelled during the final flush
		if err := w.WriteTicks(context.Background(), batch); err != nil {
			log.Printf("[sqlite] tick batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d ticks in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case tick, ok := <-tickCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, tick)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// inTx prepares query once and executes it n times in a single transaction.
func (w *Writer) inTx(ctx context.Context, query string, n int, exec func(stmt *sql.Stmt, i int) error) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (w *Writer) committed(table string, rows int) {
	if w.OnCommit != nil {
		w.OnCommit(table, rows)
	}
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}

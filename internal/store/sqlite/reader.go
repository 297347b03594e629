package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"forex-backtest/internal/model"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

// pageSize bounds each keyset page of a range read.
const pageSize = 1000

// ErrNotFound is returned when a run has no stored result.
var ErrNotFound = errors.New("sqlite: not found")

// StoredResult is a persisted run record.
type StoredResult struct {
	RunID     string               `json:"run_id"`
	CreatedAt time.Time            `json:"created_at"`
	Result    model.BacktestResult `json:"result"`
}

// Reader provides read-only access to SQLite for backtests and aggregation.
type Reader struct {
	db       *sql.DB
	pageSize int
}

// NewReader opens a SQLite connection for reading. The schema is owned by
// Writer, so a Writer must have opened the same path first.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db, pageSize: pageSize}, nil
}

// ReadBars returns the close series of symbol at tf for buckets in
// [start, end], ascending. Rows are fetched page by page.
func (r *Reader) ReadBars(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time) ([]model.Bar, error) {
	var bars []model.Bar
	after := start.Unix() - 1
	for {
		rows, err := r.db.QueryContext(ctx, `
			SELECT bucket_start, close
			FROM candles
			WHERE symbol = ? AND timeframe = ? AND bucket_start > ? AND bucket_start <= ?
			ORDER BY bucket_start ASC
			LIMIT ?
		`, symbol, string(tf), after, end.Unix(), r.pageSize)
		if err != nil {
			return nil, fmt.Errorf("sqlite query candles: %w", err)
		}

		n := 0
		for rows.Next() {
			var ts int64
			var px decimal.Decimal
			if err := rows.Scan(&ts, &px); err != nil {
				rows.Close()
				return nil, fmt.Errorf("sqlite scan candles: %w", err)
			}
			bars = append(bars, model.Bar{Timestamp: time.Unix(ts, 0).UTC(), Close: px.InexactFloat64()})
			after = ts
			n++
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("sqlite read candles: %w", err)
		}
		if n < r.pageSize {
			return bars, nil
		}
	}
}

// ReadTicks returns raw ticks of symbol in [start, end), ascending.
func (r *Reader) ReadTicks(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceTick, error) {
	var ticks []model.PriceTick
	after := start.UnixNano() - 1
	for {
		rows, err := r.db.QueryContext(ctx, `
			SELECT ts, price
			FROM ticks
			WHERE symbol = ? AND ts > ? AND ts < ?
			ORDER BY ts ASC
			LIMIT ?
		`, symbol, after, end.UnixNano(), r.pageSize)
		if err != nil {
			return nil, fmt.Errorf("sqlite query ticks: %w", err)
		}

		n := 0
		for rows.Next() {
			var ts int64
			t := model.PriceTick{Symbol: symbol}
			if err := rows.Scan(&ts, &t.Price); err != nil {
				rows.Close()
				return nil, fmt.Errorf("sqlite scan ticks: %w", err)
			}
			t.Timestamp = time.Unix(0, ts).UTC()
			ticks = append(ticks, t)
			after = ts
			n++
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("sqlite read ticks: %w", err)
		}
		if n < r.pageSize {
			return ticks, nil
		}
	}
}

// TickSymbols lists the distinct symbols with stored ticks.
func (r *Reader) TickSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM ticks ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query tick symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("sqlite scan tick symbols: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadResult loads the stored result of runID, or ErrNotFound.
func (r *Reader) ReadResult(ctx context.Context, runID string) (*StoredResult, error) {
	row := r.db.QueryRowContext(ctx, resultSelect+` WHERE run_id = ?`, runID)
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// ListResults returns the newest results first, optionally filtered by config name.
func (r *Reader) ListResults(ctx context.Context, configName string, limit int) ([]StoredResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, resultSelect+`
		WHERE (? = '' OR config_name = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, configName, configName, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query results: %w", err)
	}
	defer rows.Close()

	var out []StoredResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

const resultSelect = `
	SELECT run_id, config_name, parameters, timeframe, period_start, period_end,
		total_trades, winning_trades, losing_trades, win_rate, profit_factor, created_at
	FROM backtest_results`

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(s scanner) (*StoredResult, error) {
	var (
		out            StoredResult
		params, tf     string
		ps, pe, create int64
		pf             float64
	)
	res := &out.Result
	err := s.Scan(&out.RunID, &res.ConfigName, &params, &tf, &ps, &pe,
		&res.TotalTrades, &res.WinningTrades, &res.LosingTrades, &res.WinRate, &pf, &create)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite scan result: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &res.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	res.Timeframe = model.Timeframe(tf)
	res.PeriodStart = time.Unix(ps, 0).UTC()
	res.PeriodEnd = time.Unix(pe, 0).UTC()
	res.ProfitFactor = model.Ratio(pf)
	out.CreatedAt = time.Unix(0, create).UTC()
	return &out, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

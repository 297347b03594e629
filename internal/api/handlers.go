// Package api exposes the backtest engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"forex-backtest/internal/backtest"
	"forex-backtest/internal/markethours"
	"forex-backtest/internal/model"
	sqlitestore "forex-backtest/internal/store/sqlite"
)

// maxBodyBytes bounds a request body.
const maxBodyBytes = 1 << 20

// Backtester runs one backtest.
type Backtester interface {
	Run(ctx context.Context, req backtest.Request) (*backtest.Report, error)
}

// ResultStore reads persisted runs.
type ResultStore interface {
	ReadResult(ctx context.Context, runID string) (*sqlitestore.StoredResult, error)
	ListResults(ctx context.Context, configName string, limit int) ([]sqlitestore.StoredResult, error)
}

// LatestCache returns the most recent result of a configuration, nil if none.
type LatestCache interface {
	LatestResult(ctx context.Context, configName string) (*model.BacktestResult, error)
}

// Deps are the collaborators of the HTTP surface. Results and Latest are optional.
type Deps struct {
	Runner     Backtester
	Results    ResultStore
	Latest     LatestCache
	TOTPSecret string
	// RunTimeout bounds a single synchronous run (0 means no bound).
	RunTimeout time.Duration
	Now        func() time.Time
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+OTPHeader)
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(d Deps) *http.ServeMux {
	if d.Now == nil {
		d.Now = time.Now
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"market": markethours.StatusString(d.Now()),
		})
	})

	mux.HandleFunc("OPTIONS /api/v1/backtests", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v1/backtests", requireTOTP(d.TOTPSecret, d.runBacktest))

	if d.Results != nil {
		mux.HandleFunc("GET /api/v1/backtests", d.listResults)
		mux.HandleFunc("GET /api/v1/backtests/{id}", d.getResult)
	}
	if d.Latest != nil {
		mux.HandleFunc("GET /api/v1/backtests/latest", d.latestResult)
	}
	return mux
}

func (d Deps) runBacktest(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)

	var body BacktestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req, err := body.ToRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req = req.Normalize()

	ctx := r.Context()
	if d.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.RunTimeout)
		defer cancel()
	}

	rep, err := d.Runner.Run(ctx, req)
	if err != nil {
		status := statusFor(err)
		log.Printf("[api] backtest %s failed (%d): %v", req.ConfigName, status, err)
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newBacktestResponse(rep, req.Symbols))
}

func (d Deps) listResults(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1,500]")
			return
		}
		limit = n
	}
	results, err := d.Results.ListResults(r.Context(), r.URL.Query().Get("config"), limit)
	if err != nil {
		log.Printf("[api] list results: %v", err)
		writeError(w, http.StatusInternalServerError, "results store unavailable")
		return
	}
	if results == nil {
		results = []sqlitestore.StoredResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (d Deps) getResult(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	res, err := d.Results.ReadResult(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sqlitestore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		log.Printf("[api] read result: %v", err)
		writeError(w, http.StatusInternalServerError, "results store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d Deps) latestResult(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	cfg := r.URL.Query().Get("config")
	if cfg == "" {
		cfg = backtest.DefaultConfigName
	}
	res, err := d.Latest.LatestResult(r.Context(), cfg)
	if err != nil {
		log.Printf("[api] latest result: %v", err)
		writeError(w, http.StatusBadGateway, "latest result cache unavailable")
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "no result for config "+cfg)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusFor maps the engine's error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, backtest.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, backtest.ErrUpstreamFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

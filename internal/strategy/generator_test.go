package strategy

import (
	"math"
	"math/rand"
	"testing"

	"forex-backtest/internal/indicator"
	"forex-backtest/internal/model"
)

// flatSeries builds closes and hand-set indicators of length n.
func flatSeries(n int, close, ema50, ema200, rsi, atr float64) ([]float64, indicator.Series) {
	closes := make([]float64, n)
	ind := indicator.Series{
		EMA50:  make([]float64, n),
		EMA200: make([]float64, n),
		RSI14:  make([]float64, n),
		ATR14:  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		closes[i] = close
		ind.EMA50[i] = ema50
		ind.EMA200[i] = ema200
		ind.RSI14[i] = rsi
		ind.ATR14[i] = atr
	}
	return closes, ind
}

func TestGenerate_BuyInUptrend(t *testing.T) {
	closes, ind := flatSeries(205, 100, 99, 98, 50, 1)
	ind.RSI14[202] = 25 // last scannable bar (len-3)
	ind.RSI14[203] = 10 // too close to the end

	sigs := Generate("EURUSD", closes, ind, DefaultParams())
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(sigs))
	}
	s := sigs[0]
	if s.Direction != model.Buy || s.GeneratedAt != 202 || s.EntryIndex != 203 {
		t.Fatalf("unexpected signal %+v", s)
	}
	// risk = clamp(100*0.015, 0.5, 3) = 1.5
	want := []float64{102.25, 103, 104.5}
	if math.Abs(s.StopLoss-98.5) > 1e-9 {
		t.Errorf("expected stop=98.5, got %v", s.StopLoss)
	}
	for k := range want {
		if math.Abs(s.TakeProfits[k]-want[k]) > 1e-9 {
			t.Errorf("tp%d: got %v, want %v", k+1, s.TakeProfits[k], want[k])
		}
	}
}

func TestGenerate_SellInDowntrend(t *testing.T) {
	closes, ind := flatSeries(210, 100, 101, 102, 50, 0.2)
	ind.RSI14[201] = 75
	closes[202] = 100.5 // entry fill is the next bar

	sigs := Generate("GBPUSD", closes, ind, DefaultParams())
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(sigs))
	}
	s := sigs[0]
	// risk = clamp(1.5075, 0.1, 0.6) = 0.6
	if s.Direction != model.Sell || s.EntryPrice != 100.5 {
		t.Fatalf("unexpected signal %+v", s)
	}
	if math.Abs(s.StopLoss-101.1) > 1e-9 || math.Abs(s.TakeProfits[0]-99.6) > 1e-9 {
		t.Errorf("unexpected levels stop=%v tp1=%v", s.StopLoss, s.TakeProfits[0])
	}
}

func TestGenerate_NoSignalWithoutTrend(t *testing.T) {
	// oversold but close below EMA50: no uptrend
	closes, ind := flatSeries(260, 100, 101, 98, 20, 1)
	if sigs := Generate("X", closes, ind, DefaultParams()); len(sigs) != 0 {
		t.Errorf("expected no signals, got %d", len(sigs))
	}
}

func TestGenerate_WarmupAndShortSeries(t *testing.T) {
	// oversold uptrend on every bar; len-3 = 199 leaves nothing past warm-up
	closes, ind := flatSeries(202, 100, 99, 98, 20, 1)
	if sigs := Generate("X", closes, ind, DefaultParams()); len(sigs) != 0 {
		t.Errorf("expected no signals on 202 bars, got %d", len(sigs))
	}

	closes, ind = flatSeries(203, 100, 99, 98, 20, 1)
	sigs := Generate("X", closes, ind, DefaultParams())
	if len(sigs) != 1 || sigs[0].GeneratedAt != WarmupBars {
		t.Errorf("expected a single signal at bar %d, got %+v", WarmupBars, sigs)
	}
}

func TestGenerate_MisalignedIndicators(t *testing.T) {
	closes, ind := flatSeries(250, 100, 99, 98, 20, 1)
	ind.ATR14 = ind.ATR14[:100]
	if sigs := Generate("X", closes, ind, DefaultParams()); sigs != nil {
		t.Errorf("expected nil for misaligned input, got %d", len(sigs))
	}
}

func TestGenerate_ZeroATRDropsSignal(t *testing.T) {
	closes, ind := flatSeries(205, 100, 99, 98, 20, 0)
	if sigs := Generate("X", closes, ind, DefaultParams()); len(sigs) != 0 {
		t.Errorf("expected zero-risk signals to be dropped, got %d", len(sigs))
	}
}

func TestGenerate_RiskBoundedByATR(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	params := Params{RSIBuyThreshold: 45, RSISellThreshold: 55}
	total := 0
	for trial := 0; trial < 30; trial++ {
		closes := make([]float64, 600)
		p := 100.0
		drift := (r.Float64() - 0.5) * 0.4
		for i := range closes {
			p += drift + (r.Float64()-0.5)*2
			if p < 1 {
				p = 1
			}
			closes[i] = p
		}
		ind := indicator.Compute(closes)
		for _, s := range Generate("RND", closes, ind, params) {
			total++
			atr := ind.ATR14[s.GeneratedAt]
			risk := math.Abs(s.EntryPrice - s.StopLoss)
			if risk < 0.5*atr-1e-9 || risk > 3*atr+1e-9 {
				t.Fatalf("risk %v outside [%v, %v]", risk, 0.5*atr, 3*atr)
			}
			if s.EntryPrice != closes[s.GeneratedAt+1] {
				t.Fatalf("entry %v is not the next close %v", s.EntryPrice, closes[s.GeneratedAt+1])
			}
		}
	}
	if total == 0 {
		t.Fatal("expected the random walks to produce some signals")
	}
}

func TestRiskDistance(t *testing.T) {
	cases := []struct{ entry, atr, want float64 }{
		{100, 1, 1.5},
		{100, 10, 5},
		{100, 0.1, 0.3},
		{1.1, 0.001, 0.003},
	}
	for _, c := range cases {
		if got := RiskDistance(c.entry, c.atr); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("RiskDistance(%v,%v)=%v, want %v", c.entry, c.atr, got, c.want)
		}
	}
}

func TestParams_Validate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if err := (Params{RSIBuyThreshold: -1, RSISellThreshold: 70}).Validate(); err == nil {
		t.Error("expected error for negative threshold")
	}
	if err := (Params{RSIBuyThreshold: 30, RSISellThreshold: math.NaN()}).Validate(); err == nil {
		t.Error("expected error for NaN threshold")
	}
}

func TestParamsFromMap(t *testing.T) {
	p, err := ParamsFromMap(nil)
	if err != nil || p != DefaultParams() {
		t.Errorf("empty map: got %+v, %v", p, err)
	}

	p, err = ParamsFromMap(map[string]float64{"rsiBuyThreshold": 25, "rsi_sell_threshold": 80})
	if err != nil {
		t.Fatalf("ParamsFromMap: %v", err)
	}
	if p.RSIBuyThreshold != 25 || p.RSISellThreshold != 80 {
		t.Errorf("got %+v", p)
	}

	if _, err := ParamsFromMap(map[string]float64{"ema_fast": 20}); err == nil {
		t.Error("expected unknown key to fail")
	}
	if _, err := ParamsFromMap(map[string]float64{"rsiSellThreshold": 120}); err == nil {
		t.Error("expected out-of-range value to fail")
	}
}

package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestTimeframe_Align4H(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 42, 13, 0, time.UTC)
	got := TF4H.Align(ts)
	want := time.Date(2024, 3, 5, 4, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("4H align: got %v, want %v", got, want)
	}
}

func TestTimeframe_AlignNonUTCInput(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	ts := time.Date(2024, 3, 5, 2, 30, 0, 0, loc) // 23:30 UTC on the 4th
	got := TF4H.Align(ts)
	want := time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTimeframe_AlignWeekStartsMonday(t *testing.T) {
	sunday := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)
	got := TFW.Align(sunday)
	want := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got.Weekday() != time.Monday {
		t.Errorf("expected Monday, got %v", got.Weekday())
	}
}

func TestParseTimeframe(t *testing.T) {
	cases := map[string]Timeframe{"4h": TF4H, "1D": TF1D, "d": TF1D, "1w": TFW, " 1H ": TF1H}
	for in, want := range cases {
		got, err := ParseTimeframe(in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", in, err)
		}
		if got != want {
			t.Errorf("%q: got %s, want %s", in, got, want)
		}
	}
	if _, err := ParseTimeframe("3M"); err == nil {
		t.Error("expected error for unsupported timeframe")
	}
}

func TestRatio_InfinityJSON(t *testing.T) {
	r := BacktestResult{ConfigName: "x", ProfitFactor: Ratio(math.Inf(1))}
	b := r.JSON()
	var back BacktestResult
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !math.IsInf(float64(back.ProfitFactor), 1) {
		t.Errorf("expected +Inf profit factor, got %v", back.ProfitFactor)
	}
}

func TestCandle_Key(t *testing.T) {
	c := Candle{Symbol: "EURUSD", Timeframe: TF4H, BucketStart: time.Unix(1700000000, 0)}
	if got := c.Key(); got != "EURUSD:4H:1700000000" {
		t.Errorf("got %s", got)
	}
}

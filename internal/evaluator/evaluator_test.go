package evaluator

import (
	"context"
	"testing"

	"strategy-monitor/internal/models"

	"github.com/google/uuid"
)

// mockPrefetcher is a hand-rolled fake satisfying the Prefetcher
// interface, with injectable responses and call-tracking fields.
type mockPrefetcher struct {
	priceCalls   int
	prices       map[string]float64
	pricePresent map[string]bool

	candleCalls   int
	candles       map[string][]Candle
	candlePresent map[string]bool
}

func newMockPrefetcher() *mockPrefetcher {
	return &mockPrefetcher{
		prices:        make(map[string]float64),
		pricePresent:  make(map[string]bool),
		candles:       make(map[string][]Candle),
		candlePresent: make(map[string]bool),
	}
}

func (m *mockPrefetcher) GetPrice(ctx context.Context, asset, quote string) (float64, bool, error) {
	m.priceCalls++
	return m.prices[asset], m.pricePresent[asset], nil
}

func (m *mockPrefetcher) GetCandles(ctx context.Context, asset, interval string, limit int, quote string) ([]Candle, bool, error) {
	m.candleCalls++
	return m.candles[asset], m.candlePresent[asset], nil
}

func closesToCandles(closes []float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = Candle{T: int64(i), Close: c, Volume: 1}
	}
	return out
}

func newCondition(payload models.ConditionPayload, enabled bool) *models.Condition {
	return &models.Condition{ID: uuid.New(), Payload: payload, Enabled: enabled}
}

// S1: price below target trips.
func TestEvaluate_PriceAlertBelow_Trips(t *testing.T) {
	pf := newMockPrefetcher()
	pf.prices["BTC"] = 49500
	pf.pricePresent["BTC"] = true

	e := New(pf)
	cond := newCondition(models.PriceAlertPayload{Asset: "BTC", Direction: "below", TargetPrice: 50000}, true)
	result := e.Evaluate(context.Background(), cond, "usd")

	if !result.Met {
		t.Errorf("expected price below target to be met, got %+v", result)
	}
	if result.Value == nil || *result.Value != 49500 {
		t.Errorf("expected observed value 49500, got %+v", result.Value)
	}
}

func TestEvaluate_PriceAlertAbove_DoesNotTrip(t *testing.T) {
	pf := newMockPrefetcher()
	pf.prices["BTC"] = 60
	pf.pricePresent["BTC"] = true

	e := New(pf)
	cond := newCondition(models.PriceAlertPayload{Asset: "BTC", Direction: "below", TargetPrice: 50}, true)
	result := e.Evaluate(context.Background(), cond, "usd")
	if result.Met {
		t.Error("expected price above threshold not to trip a 'below' condition")
	}
}

func TestEvaluate_PriceAlert_SourceUnavailable(t *testing.T) {
	pf := newMockPrefetcher()
	e := New(pf)
	cond := newCondition(models.PriceAlertPayload{Asset: "BTC", Direction: "above", TargetPrice: 1}, true)
	result := e.Evaluate(context.Background(), cond, "usd")
	if result.Met {
		t.Error("expected unmet verdict when price is absent")
	}
	if result.Details["source_unavailable"] != true {
		t.Errorf("expected source_unavailable diagnostic, got %+v", result.Details)
	}
}

// Disabled conditions always short-circuit to met=false regardless of data.
func TestEvaluate_Disabled_AlwaysUnmet(t *testing.T) {
	pf := newMockPrefetcher()
	pf.prices["BTC"] = 1
	pf.pricePresent["BTC"] = true

	e := New(pf)
	cond := newCondition(models.PriceAlertPayload{Asset: "BTC", Direction: "below", TargetPrice: 1000000}, false)
	result := e.Evaluate(context.Background(), cond, "usd")
	if result.Met {
		t.Error("expected disabled condition to never be met")
	}
	if result.Details["disabled"] != true {
		t.Errorf("expected disabled diagnostic, got %+v", result.Details)
	}
}

// S3 / S4: RSI threshold and the insufficient-data boundary.
func TestEvaluate_RSI_Under30(t *testing.T) {
	pf := newMockPrefetcher()
	// A strictly increasing series yields RSI 100, not under 30; build a
	// mostly-declining series so RSI lands comfortably under 30.
	closes := []float64{100, 99, 98, 97, 96, 95, 94, 93, 92, 91, 90, 89, 88, 87, 86}
	pf.candles["BTC"] = closesToCandles(closes)
	pf.candlePresent["BTC"] = true

	e := New(pf)
	cond := newCondition(models.TechnicalIndicatorPayload{
		Indicator: "rsi",
		Params:    map[string]float64{"period": 14},
		Operator:  "lt",
		Value:     30,
		Asset:     "BTC",
		Timeframe: "1h",
	}, true)
	result := e.Evaluate(context.Background(), cond, "usd")
	if !result.Met {
		t.Errorf("expected RSI to be under 30 for a steadily declining series, got %+v", result)
	}
	if result.Details["indicator"] != "rsi" || result.Details["threshold"] != 30.0 {
		t.Errorf("expected rsi/threshold details, got %+v", result.Details)
	}
}

func TestEvaluate_RSI_InsufficientData(t *testing.T) {
	pf := newMockPrefetcher()
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = float64(i)
	}
	pf.candles["BTC"] = closesToCandles(closes)
	pf.candlePresent["BTC"] = true

	e := New(pf)
	cond := newCondition(models.TechnicalIndicatorPayload{
		Indicator: "rsi",
		Params:    map[string]float64{"period": 14},
		Operator:  "lt",
		Value:     30,
		Asset:     "BTC",
		Timeframe: "1h",
	}, true)
	result := e.Evaluate(context.Background(), cond, "usd")
	if result.Met {
		t.Error("expected unmet verdict with insufficient candles")
	}
	if result.Details["insufficient_data"] != true {
		t.Errorf("expected insufficient_data diagnostic, got %+v", result.Details)
	}
}

// S5: cross_above fires on the SMA transition.
func TestEvaluate_SMA_CrossAbove(t *testing.T) {
	pf := newMockPrefetcher()
	closes := []float64{90, 95, 100, 108}
	pf.candles["X"] = closesToCandles(closes)
	pf.candlePresent["X"] = true

	e := New(pf)
	cond := newCondition(models.TechnicalIndicatorPayload{
		Indicator: "sma",
		Params:    map[string]float64{"period": 3},
		Operator:  "cross_above",
		Value:     100,
		Asset:     "X",
		Timeframe: "1m",
	}, true)
	result := e.Evaluate(context.Background(), cond, "usd")
	if !result.Met {
		t.Errorf("expected cross_above to fire on SMA transition through 100, got %+v", result)
	}
}

func TestEvaluate_Cross_EqualDoesNotCount(t *testing.T) {
	pf := newMockPrefetcher()
	// prior=100, current=100: not a cross even though prior <= threshold.
	closes := []float64{100, 100, 100, 100}
	pf.candles["X"] = closesToCandles(closes)
	pf.candlePresent["X"] = true

	e := New(pf)
	cond := newCondition(models.TechnicalIndicatorPayload{
		Indicator: "sma",
		Params:    map[string]float64{"period": 3},
		Operator:  "cross_above",
		Value:     100,
		Asset:     "X",
		Timeframe: "1m",
	}, true)
	result := e.Evaluate(context.Background(), cond, "usd")
	if result.Met {
		t.Error("expected prior==threshold, current==threshold not to count as a cross")
	}
}

func TestEvaluate_Bollinger_BandSelection(t *testing.T) {
	pf := newMockPrefetcher()
	closes := []float64{10, 12, 8, 14, 6, 16, 4}
	pf.candles["X"] = closesToCandles(closes)
	pf.candlePresent["X"] = true

	e := New(pf)

	upperCond := newCondition(models.TechnicalIndicatorPayload{
		Indicator: "bollinger",
		Params:    map[string]float64{"period": 7, "mult": 2},
		Band:      "upper",
		Operator:  "gt",
		Value:     0,
		Asset:     "X",
		Timeframe: "1h",
	}, true)
	lowerCond := newCondition(models.TechnicalIndicatorPayload{
		Indicator: "bollinger",
		Params:    map[string]float64{"period": 7, "mult": 2},
		Band:      "lower",
		Operator:  "gt",
		Value:     0,
		Asset:     "X",
		Timeframe: "1h",
	}, true)

	upperResult := e.Evaluate(context.Background(), upperCond, "usd")
	lowerResult := e.Evaluate(context.Background(), lowerCond, "usd")

	if upperResult.Value == nil || lowerResult.Value == nil {
		t.Fatal("expected both bands to produce a value")
	}
	if *upperResult.Value <= *lowerResult.Value {
		t.Errorf("expected upper band value to exceed lower band value, got upper=%v lower=%v", *upperResult.Value, *lowerResult.Value)
	}
}

func TestEvaluate_UnknownIndicator(t *testing.T) {
	pf := newMockPrefetcher()
	e := New(pf)
	cond := newCondition(models.TechnicalIndicatorPayload{
		Indicator: "made_up",
		Operator:  "gt",
		Value:     1,
		Asset:     "X",
		Timeframe: "1h",
	}, true)
	result := e.Evaluate(context.Background(), cond, "usd")
	if result.Met {
		t.Error("expected unmet verdict for unknown indicator")
	}
	if result.Details["unknown_indicator"] != "made_up" {
		t.Errorf("expected unknown_indicator diagnostic, got %+v", result.Details)
	}
}

func TestEvaluate_VolumeAlert(t *testing.T) {
	pf := newMockPrefetcher()
	pf.candles["BTC"] = []Candle{{Volume: 500}}
	pf.candlePresent["BTC"] = true

	e := New(pf)
	cond := newCondition(models.VolumeAlertPayload{
		Asset:     "BTC",
		Timeframe: "1h",
		Operator:  "gt",
		Threshold: 100,
	}, true)
	result := e.Evaluate(context.Background(), cond, "usd")
	if !result.Met {
		t.Errorf("expected volume 500 > threshold 100 to be met, got %+v", result)
	}
}

// Invariant 4: the evaluator never panics; an invalid payload type
// resolves to a quiet, unmet verdict.
func TestEvaluate_InvalidPayload_NeverPanics(t *testing.T) {
	pf := newMockPrefetcher()
	e := New(pf)
	cond := &models.Condition{ID: uuid.New(), Payload: nil, Enabled: true}

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("evaluator panicked on invalid payload: %v", r)
		}
	}()

	result := e.Evaluate(context.Background(), cond, "usd")
	if result.Met {
		t.Error("expected unmet verdict for invalid payload")
	}
}

// Package evaluator resolves one Condition against market data fetched
// through a Prefetcher, returning a total, panic-free verdict.
package evaluator

import (
	"context"
	"math"
	"strings"

	"strategy-monitor/internal/indicators"
	"strategy-monitor/internal/models"
)

// Candle is the internal OHLCV shape every Provider normalises into.
type Candle struct {
	T      int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Prefetcher is the subset of the Prefetcher/Cache component the
// evaluator consumes. It never returns an error for "no data" — absent
// results are reported via the ok/present return value, per its own
// contract.
type Prefetcher interface {
	GetPrice(ctx context.Context, asset, quote string) (value float64, present bool, err error)
	GetCandles(ctx context.Context, asset, interval string, limit int, quote string) (candles []Candle, present bool, err error)
}

// Result is one condition's verdict.
type Result struct {
	Met     bool
	Value   *float64
	Details map[string]interface{}
}

func absentResult(details map[string]interface{}) Result {
	return Result{Met: false, Value: nil, Details: details}
}

func valueResult(met bool, value float64, details map[string]interface{}) Result {
	return Result{Met: met, Value: &value, Details: details}
}

// Evaluator resolves conditions against a Prefetcher. It never panics and
// never returns an error: every input produces a Result.
type Evaluator struct {
	prefetch Prefetcher
}

func New(prefetch Prefetcher) *Evaluator {
	return &Evaluator{prefetch: prefetch}
}

// Evaluate resolves one Condition. quote defaults to "usd" when empty.
func (e *Evaluator) Evaluate(ctx context.Context, c *models.Condition, quote string) Result {
	if quote == "" {
		quote = "usd"
	}
	if !c.Enabled {
		return absentResult(map[string]interface{}{"disabled": true})
	}

	switch payload := c.Payload.(type) {
	case models.PriceAlertPayload:
		return e.evaluatePriceAlert(ctx, payload, quote)
	case models.TechnicalIndicatorPayload:
		return e.evaluateTechnicalIndicator(ctx, payload, quote)
	case models.VolumeAlertPayload:
		return e.evaluateVolumeAlert(ctx, payload, quote)
	default:
		return absentResult(map[string]interface{}{"invalid": true})
	}
}

func (e *Evaluator) evaluatePriceAlert(ctx context.Context, p models.PriceAlertPayload, quote string) Result {
	if p.Asset == "" || (p.Direction != "above" && p.Direction != "below") {
		return absentResult(map[string]interface{}{"invalid": true})
	}
	asset := strings.ToUpper(p.Asset)
	price, present, err := e.prefetch.GetPrice(ctx, asset, quote)
	if err != nil || !present {
		return absentResult(map[string]interface{}{"source_unavailable": true})
	}
	var met bool
	if p.Direction == "above" {
		met = price > p.TargetPrice
	} else {
		met = price < p.TargetPrice
	}
	return valueResult(met, price, map[string]interface{}{
		"asset":     asset,
		"direction": p.Direction,
		"target":    p.TargetPrice,
	})
}

// comparisonOperators and crossOperators partition the operator space
// technical_indicator and volume_alert payloads dispatch on.
var comparisonOperators = map[string]bool{"gt": true, "ge": true, "lt": true, "le": true, "eq": true}

func isCrossOperator(op string) bool {
	return strings.HasPrefix(op, "cross_")
}

func compare(lhs *float64, op string, rhs float64) bool {
	if lhs == nil {
		return false
	}
	switch op {
	case "gt":
		return *lhs > rhs
	case "ge":
		return *lhs >= rhs
	case "lt":
		return *lhs < rhs
	case "le":
		return *lhs <= rhs
	case "eq":
		return *lhs == rhs
	default:
		return false
	}
}

func cross(prev, curr *float64, direction string, threshold float64) bool {
	if prev == nil || curr == nil {
		return false
	}
	switch direction {
	case "cross_above":
		return *prev <= threshold && *curr > threshold
	case "cross_below":
		return *prev >= threshold && *curr < threshold
	default:
		return false
	}
}

func (e *Evaluator) evaluateTechnicalIndicator(ctx context.Context, p models.TechnicalIndicatorPayload, quote string) Result {
	indicator := strings.ToLower(p.Indicator)
	op := strings.ToLower(p.Operator)
	asset := strings.ToUpper(p.Asset)
	interval := strings.ToLower(p.Timeframe)

	if asset == "" || indicator == "" {
		return absentResult(map[string]interface{}{"invalid": true})
	}

	if indicator == "price" || indicator == "price_change" {
		price, present, err := e.prefetch.GetPrice(ctx, asset, quote)
		if err != nil || !present {
			return absentResult(map[string]interface{}{"source_unavailable": true})
		}
		var met bool
		switch {
		case comparisonOperators[op]:
			pv := price
			met = compare(&pv, op, p.Value)
		case isCrossOperator(op):
			// The previous spot price is never populated upstream of
			// this evaluator, so price-indicator crosses are always
			// false. Retained rather than rejected at load time.
			var prevPrice *float64
			pv := price
			met = cross(prevPrice, &pv, op, p.Value)
		default:
			return absentResult(map[string]interface{}{"unknown_operator": op})
		}
		return valueResult(met, price, map[string]interface{}{
			"indicator": "price",
			"operator":  op,
			"threshold": p.Value,
			"asset":     asset,
		})
	}

	neededLimit, recognised := neededLimitFor(indicator, op, p.Params)
	if !recognised {
		return absentResult(map[string]interface{}{"unknown_indicator": indicator})
	}

	candles, present, err := e.prefetch.GetCandles(ctx, asset, interval, neededLimit, quote)
	if err != nil || !present || len(candles) < neededLimit {
		return absentResult(map[string]interface{}{"insufficient_data": true})
	}

	closes := closeSeries(candles)
	val, prevVal, insufficient := computeIndicator(indicator, op, p.Params, p.Band, closes, candles)
	if insufficient {
		return absentResult(map[string]interface{}{"insufficient_data": true})
	}

	var met bool
	switch {
	case comparisonOperators[op]:
		met = compare(val, op, p.Value)
	case isCrossOperator(op):
		met = cross(prevVal, val, op, p.Value)
	default:
		return absentResult(map[string]interface{}{"unknown_operator": op})
	}

	details := map[string]interface{}{
		"indicator": indicator,
		"operator":  op,
		"threshold": p.Value,
		"asset":     asset,
		"interval":  interval,
	}
	if val == nil {
		return absentResult(details)
	}
	return valueResult(met, *val, details)
}

func (e *Evaluator) evaluateVolumeAlert(ctx context.Context, p models.VolumeAlertPayload, quote string) Result {
	asset := strings.ToUpper(p.Asset)
	interval := strings.ToLower(p.Timeframe)
	op := strings.ToLower(p.Operator)
	if asset == "" {
		return absentResult(map[string]interface{}{"invalid": true})
	}
	neededLimit := 1
	if isCrossOperator(op) {
		neededLimit = 2
	}
	candles, present, err := e.prefetch.GetCandles(ctx, asset, interval, neededLimit, quote)
	if err != nil || !present || len(candles) < neededLimit {
		return absentResult(map[string]interface{}{"insufficient_data": true})
	}
	vols := volumeSeries(candles)
	var val, prevVal *float64
	if len(vols) > 0 {
		v := vols[len(vols)-1]
		val = &v
	}
	if isCrossOperator(op) && len(vols) >= 2 {
		v := vols[len(vols)-2]
		prevVal = &v
	}

	var met bool
	switch {
	case comparisonOperators[op]:
		met = compare(val, op, p.Threshold)
	case isCrossOperator(op):
		met = cross(prevVal, val, op, p.Threshold)
	default:
		return absentResult(map[string]interface{}{"unknown_operator": op})
	}

	details := map[string]interface{}{
		"indicator": "volume",
		"operator":  op,
		"threshold": p.Threshold,
		"asset":     asset,
		"interval":  interval,
	}
	if val == nil {
		return absentResult(details)
	}
	return valueResult(met, *val, details)
}

// neededLimitFor computes the minimum candle count required by an
// indicator/operator pair, mirroring the source's per-indicator table
// (with its period/period+1/floor-of-2 rules). recognised is false for
// an unrecognised indicator name.
func neededLimitFor(indicator, op string, params map[string]float64) (int, bool) {
	cross := isCrossOperator(op)
	switch indicator {
	case "rsi":
		period := intParam(params, "period", 14)
		return period + 1, true
	case "sma", "ema":
		period := intParam(params, "period", 20)
		limit := period
		if cross {
			limit = period + 1
		}
		if limit < 2 {
			limit = 2
		}
		return limit, true
	case "macd":
		fast := intParam(params, "fast", 12)
		_ = fast
		slow := intParam(params, "slow", 26)
		signal := intParam(params, "signal", 9)
		return slow + signal, true
	case "bollinger":
		period := intParam(params, "period", 20)
		return period, true
	case "volume":
		if cross {
			return 2, true
		}
		return 1, true
	default:
		return 0, false
	}
}

func intParam(params map[string]float64, key string, def int) int {
	if v, ok := params[key]; ok {
		return int(v)
	}
	return def
}

func floatParam(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

// computeIndicator dispatches the value/prior-value computation for one
// technical_indicator payload. insufficient is set when an indicator with
// its own internal minimum (MACD, Bollinger) cannot be computed even
// though the candle-count gate passed.
func computeIndicator(indicator, op string, params map[string]float64, band string, closes []float64, candles []Candle) (val, prevVal *float64, insufficient bool) {
	cross := isCrossOperator(op)

	switch indicator {
	case "rsi":
		period := intParam(params, "period", 14)
		if v, ok := indicators.RSI(closes, period); ok {
			val = &v
		}
		if cross && len(closes) >= period+2 {
			if pv, ok := indicators.RSI(closes[:len(closes)-1], period); ok {
				prevVal = &pv
			}
		}
	case "sma":
		period := intParam(params, "period", 20)
		if v, ok := indicators.SMA(closes, period); ok {
			val = &v
		}
		if cross {
			if pv, ok := indicators.SMA(closes[:len(closes)-1], period); ok {
				prevVal = &pv
			}
		}
	case "ema":
		period := intParam(params, "period", 20)
		if v, ok := indicators.EMA(closes, period); ok {
			val = &v
		}
		if cross {
			if pv, ok := indicators.EMA(closes[:len(closes)-1], period); ok {
				prevVal = &pv
			}
		}
	case "macd":
		fast := intParam(params, "fast", 12)
		slow := intParam(params, "slow", 26)
		signal := intParam(params, "signal", 9)
		m, _, _, ok := indicators.MACD(closes, fast, slow, signal)
		if !ok {
			return nil, nil, true
		}
		val = &m
		if cross {
			if pm, _, _, ok := indicators.MACD(closes[:len(closes)-1], fast, slow, signal); ok {
				prevVal = &pm
			}
		}
	case "bollinger":
		period := intParam(params, "period", 20)
		mult := floatParam(params, "mult", 2.0)
		middle, upper, lower, ok := indicators.Bollinger(closes, period, mult)
		if !ok {
			return nil, nil, true
		}
		selectedBand := strings.ToLower(band)
		v := bandValue(selectedBand, middle, upper, lower)
		val = &v
		if cross {
			if pm, pu, pl, ok := indicators.Bollinger(closes[:len(closes)-1], period, mult); ok {
				pv := bandValue(selectedBand, pm, pu, pl)
				prevVal = &pv
			}
		}
	case "volume":
		vols := volumeSeriesFromCloses(candles)
		if len(vols) > 0 {
			v := vols[len(vols)-1]
			val = &v
		}
		if cross && len(vols) >= 2 {
			pv := vols[len(vols)-2]
			prevVal = &pv
		}
	}
	return val, prevVal, false
}

// bandValue selects a Bollinger series by name, defaulting to "upper"
// per the evaluator's contract when band is unset or unrecognised.
func bandValue(band string, middle, upper, lower float64) float64 {
	switch band {
	case "lower":
		return lower
	case "middle":
		return middle
	default:
		return upper
	}
}

func closeSeries(candles []Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// volumeSeries extracts the volume series from candles for volume_alert.
func volumeSeries(candles []Candle) []float64 {
	return volumeSeriesFromCloses(candles)
}

func volumeSeriesFromCloses(candles []Candle) []float64 {
	vols := make([]float64, 0, len(candles))
	for _, c := range candles {
		if math.IsNaN(c.Volume) {
			continue
		}
		vols = append(vols, c.Volume)
	}
	return vols
}

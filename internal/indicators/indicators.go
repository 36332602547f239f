// Package indicators implements the pure numeric routines the condition
// evaluator runs over a close series: moving averages, RSI, Bollinger
// bands and MACD. Every function operates on an oldest-to-newest slice
// and returns ok=false ("absent") when the series is too short.
package indicators

import "math"

// SMA returns the arithmetic mean of the last period closes.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	window := values[len(values)-period:]
	var sum float64
	for _, v := range window {
		sum += v
	}
	return sum / float64(period), true
}

// EMA computes the exponential moving average seeded at values[0] and
// recursed across the whole series, matching the recursive definition
// e0=c0; ei = ci*k + ei-1*(1-k), k=2/(period+1).
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	k := 2.0 / (float64(period) + 1)
	ema := values[0]
	for _, v := range values[1:] {
		ema = v*k + ema*(1-k)
	}
	return ema, true
}

// StdDev returns the population standard deviation of the last period
// closes.
func StdDev(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	window := values[len(values)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(period)

	return math.Sqrt(variance), true
}

// Bollinger returns (middle, upper, lower) = (SMA, SMA+mult*stddev, SMA-mult*stddev).
func Bollinger(values []float64, period int, mult float64) (middle, upper, lower float64, ok bool) {
	sma, ok := SMA(values, period)
	if !ok {
		return 0, 0, 0, false
	}
	sd, ok := StdDev(values, period)
	if !ok {
		return 0, 0, 0, false
	}
	return sma, sma + mult*sd, sma - mult*sd, true
}

// RSI computes the relative strength index over the last period deltas.
// When there are no losses in the window, RSI is defined as 100 rather
// than dividing by zero.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}
	var gains, losses float64
	for i := len(values) - period; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if delta >= 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if losses == 0 {
		return 100, true
	}
	rs := gains / losses
	return 100 - (100 / (1 + rs)), true
}

// MACD returns (macd line, signal line, histogram) for the tail of the
// series. It is defined, observably, as the EMA-fast/EMA-slow difference
// recomputed over every growing prefix i=slow..n, with the signal line
// being the EMA of that difference series over `signal` samples; this
// implementation accumulates both EMAs in a single forward pass instead
// of recomputing them from scratch per prefix, which produces identical
// output to the naive O(n^2) definition.
func MACD(values []float64, fast, slow, signal int) (macd, sig, hist float64, ok bool) {
	if fast <= 0 || slow <= 0 || signal <= 0 || len(values) < slow+signal {
		return 0, 0, 0, false
	}

	kFast := 2.0 / (float64(fast) + 1)
	kSlow := 2.0 / (float64(slow) + 1)

	emaFast := values[0]
	emaSlow := values[0]
	diffSeries := make([]float64, 0, len(values)-slow+1)

	for i, v := range values {
		if i == 0 {
			// Seed equals values[0] for both EMAs (i=0 prefix of length 1).
		} else {
			emaFast = v*kFast + emaFast*(1-kFast)
			emaSlow = v*kSlow + emaSlow*(1-kSlow)
		}
		// A prefix of length i+1 is only long enough to seed emaFast once
		// fast<=i+1, and emaSlow once slow<=i+1; the MACD line is only
		// defined once the prefix reaches length slow (matching the
		// source's `for i in range(slow, len(values)+1)`).
		if i+1 >= slow {
			diffSeries = append(diffSeries, emaFast-emaSlow)
		}
	}

	if len(diffSeries) < signal {
		return 0, 0, 0, false
	}

	sigLine, ok := EMA(diffSeries, signal)
	if !ok {
		return 0, 0, 0, false
	}
	macdLine := diffSeries[len(diffSeries)-1]
	return macdLine, sigLine, macdLine - sigLine, true
}

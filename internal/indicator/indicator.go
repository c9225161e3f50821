// Package indicator implements the technical indicators used by both the
// live engine and the backtest simulator. All functions are pure and
// deterministic over an ascending candle series; warm-up indices are
// math.NaN, never zero, so a missing value can not be mistaken for a price.
package indicator

import (
	"math"

	"stratus/internal/market"
)

// Defined reports whether an indicator value is past its warm-up window.
func Defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Last returns the final value of a series, or NaN for an empty series.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// EMA returns the exponential moving average with an SMA seed: values before
// index period-1 are NaN, the value at period-1 is the simple mean of the
// first period inputs, and ema[i] = v[i]*k + ema[i-1]*(1-k), k=2/(period+1).
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	out[period-1] = sum / float64(period)
	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// TrueRange at index i; index 0 falls back to high-low.
func trueRange(candles []market.Candle, i int) float64 {
	hl := candles[i].High - candles[i].Low
	if i == 0 {
		return hl
	}
	prevClose := candles[i-1].Close
	return math.Max(hl, math.Max(math.Abs(candles[i].High-prevClose), math.Abs(candles[i].Low-prevClose)))
}

// ATR returns the Wilder-smoothed average true range. The seed at index
// period is the simple mean of the first period true ranges taken from
// index 1, then atr[i] = (atr[i-1]*(period-1) + tr[i]) / period.
func ATR(candles []market.Candle, period int) []float64 {
	out := nanSeries(len(candles))
	if period <= 0 || len(candles) < period+1 {
		return out
	}
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += trueRange(candles, i)
	}
	out[period] = sum / float64(period)
	for i := period + 1; i < len(candles); i++ {
		out[i] = (out[i-1]*float64(period-1) + trueRange(candles, i)) / float64(period)
	}
	return out
}

// ADX returns the Wilder ADX. Directional movements and true range are
// Wilder-smoothed into +DI/-DI, DX = 100*|+DI - -DI|/(+DI + -DI).
//
// Seed note (deliberate, do not "fix"): the first ADX value is the raw DX
// at the first complete smoothing window rather than a mean over a second
// period of DX readings. Live and backtest share this exact formula, and a
// regression test pins it; changing the seed silently would desynchronize
// historical results.
func ADX(candles []market.Candle, period int) []float64 {
	out := nanSeries(len(candles))
	if period <= 0 || len(candles) < period+1 {
		return out
	}
	n := len(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
		tr[i] = trueRange(candles, i)
	}
	var smPlus, smMinus, smTR float64
	for i := 1; i <= period; i++ {
		smPlus += plusDM[i]
		smMinus += minusDM[i]
		smTR += tr[i]
	}
	dxAt := func(p, m, t float64) float64 {
		if t == 0 {
			return 0
		}
		plusDI := 100 * p / t
		minusDI := 100 * m / t
		sum := plusDI + minusDI
		if sum == 0 {
			return 0
		}
		return 100 * math.Abs(plusDI-minusDI) / sum
	}
	out[period] = dxAt(smPlus, smMinus, smTR)
	for i := period + 1; i < n; i++ {
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		smTR = smTR - smTR/float64(period) + tr[i]
		dx := dxAt(smPlus, smMinus, smTR)
		out[i] = (out[i-1]*float64(period-1) + dx) / float64(period)
	}
	return out
}

// DonchianHigh returns the highest high over the lookback window ending at
// endIdx (inclusive), clamped to the series bounds. NaN when endIdx is out
// of range or lookback is not positive.
func DonchianHigh(candles []market.Candle, endIdx, lookback int) float64 {
	if endIdx < 0 || endIdx >= len(candles) || lookback <= 0 {
		return math.NaN()
	}
	start := endIdx - lookback + 1
	if start < 0 {
		start = 0
	}
	high := candles[start].High
	for i := start + 1; i <= endIdx; i++ {
		if candles[i].High > high {
			high = candles[i].High
		}
	}
	return high
}

// DonchianLow returns the lowest low over the lookback window ending at
// endIdx (inclusive), clamped to the series bounds.
func DonchianLow(candles []market.Candle, endIdx, lookback int) float64 {
	if endIdx < 0 || endIdx >= len(candles) || lookback <= 0 {
		return math.NaN()
	}
	start := endIdx - lookback + 1
	if start < 0 {
		start = 0
	}
	low := candles[start].Low
	for i := start + 1; i <= endIdx; i++ {
		if candles[i].Low < low {
			low = candles[i].Low
		}
	}
	return low
}

// Bollinger returns middle band (SMA), upper and lower bands at mult
// population standard deviations. All three are NaN before period-1.
func Bollinger(values []float64, period int, mult float64) (mid, upper, lower []float64) {
	n := len(values)
	mid, upper, lower = nanSeries(n), nanSeries(n), nanSeries(n)
	if period <= 0 || n < period {
		return mid, upper, lower
	}
	for i := period - 1; i < n; i++ {
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += values[j]
		}
		mean := sum / float64(period)
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		mid[i] = mean
		upper[i] = mean + mult*sd
		lower[i] = mean - mult*sd
	}
	return mid, upper, lower
}

// Stochastic returns %K and %D. Raw %K is the close position inside the
// kPeriod high/low range, smoothed by a `smooth` SMA; %D is a dPeriod SMA
// of %K. Values are NaN until enough history exists.
func Stochastic(candles []market.Candle, kPeriod, dPeriod, smooth int) (k, d []float64) {
	n := len(candles)
	k, d = nanSeries(n), nanSeries(n)
	if kPeriod <= 0 || dPeriod <= 0 || smooth <= 0 || n < kPeriod {
		return k, d
	}
	raw := nanSeries(n)
	for i := kPeriod - 1; i < n; i++ {
		hh := DonchianHigh(candles, i, kPeriod)
		ll := DonchianLow(candles, i, kPeriod)
		if hh == ll {
			raw[i] = 50
			continue
		}
		raw[i] = 100 * (candles[i].Close - ll) / (hh - ll)
	}
	k = smaDefined(raw, smooth)
	d = smaDefined(k, dPeriod)
	return k, d
}

// smaDefined is an SMA that only emits once the full window is defined.
func smaDefined(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		ok := true
		for j := i - period + 1; j <= i; j++ {
			if !Defined(values[j]) {
				ok = false
				break
			}
			sum += values[j]
		}
		if ok {
			out[i] = sum / float64(period)
		}
	}
	return out
}

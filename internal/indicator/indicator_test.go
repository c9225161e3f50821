package indicator

import (
	"math"
	"testing"

	talib "github.com/markcheno/go-talib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratus/internal/market"
)

func syntheticCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	price := 100.0
	for i := range out {
		// deterministic pseudo-walk, no rand so runs are reproducible
		drift := math.Sin(float64(i)*0.7)*1.8 + math.Cos(float64(i)*0.31)*0.9
		open := price
		price += drift
		high := math.Max(open, price) + 0.6
		low := math.Min(open, price) - 0.6
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i+1)*60_000 - 1,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    1000 + float64(i),
		}
	}
	return out
}

func TestEMAWarmupBoundary(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	period := 5
	ema := EMA(values, period)
	require.Len(t, ema, len(values))
	for i := 0; i < period-1; i++ {
		assert.False(t, Defined(ema[i]), "index %d should be warm-up", i)
	}
	for i := period - 1; i < len(values); i++ {
		assert.True(t, Defined(ema[i]), "index %d should be defined", i)
	}
	// seed is the simple mean of the first period values
	assert.InDelta(t, 3.0, ema[period-1], 1e-12)
	k := 2.0 / float64(period+1)
	assert.InDelta(t, 6*k+ema[4]*(1-k), ema[5], 1e-12)
}

func TestEMADeterminism(t *testing.T) {
	closes := market.Closes(syntheticCandles(300))
	a := EMA(closes, 21)
	b := EMA(closes, 21)
	for i := range a {
		if math.IsNaN(a[i]) {
			assert.True(t, math.IsNaN(b[i]))
			continue
		}
		assert.Equal(t, a[i], b[i], "index %d", i)
	}
}

func TestEMAMatchesTALib(t *testing.T) {
	closes := market.Closes(syntheticCandles(200))
	period := 14
	ours := EMA(closes, period)
	ref := talib.Ema(closes, period)
	for i := period - 1; i < len(closes); i++ {
		assert.InDelta(t, ref[i], ours[i], 1e-8, "index %d", i)
	}
}

func TestATRMatchesTALib(t *testing.T) {
	candles := syntheticCandles(200)
	period := 14
	ours := ATR(candles, period)
	ref := talib.Atr(market.Highs(candles), market.Lows(candles), market.Closes(candles), period)
	for i := period; i < len(candles); i++ {
		assert.InDelta(t, ref[i], ours[i], 1e-8, "index %d", i)
	}
}

func TestATRSmallCase(t *testing.T) {
	candles := []market.Candle{
		{High: 12, Low: 10, Close: 11},
		{High: 13, Low: 11, Close: 12}, // tr = max(2, |13-11|, |11-11|) = 2
		{High: 15, Low: 12, Close: 14}, // tr = max(3, 3, 0) = 3
		{High: 14, Low: 12, Close: 13}, // tr = max(2, 0, 2) = 2
	}
	atr := ATR(candles, 2)
	assert.False(t, Defined(atr[0]))
	assert.False(t, Defined(atr[1]))
	assert.InDelta(t, 2.5, atr[2], 1e-12) // mean(2, 3)
	assert.InDelta(t, (2.5+2.0)/2, atr[3], 1e-12)
}

// The ADX seed is the raw DX at the first complete smoothing window, not a
// second Wilder pass over period DX readings. This pins that behavior so it
// can not be "fixed" silently: both the live engine and the simulator depend
// on the same formula.
func TestADXSeedIsRawDX(t *testing.T) {
	candles := syntheticCandles(60)
	period := 14
	adx := ADX(candles, period)

	for i := 0; i < period; i++ {
		assert.False(t, Defined(adx[i]), "index %d should be warm-up", i)
	}
	require.True(t, Defined(adx[period]), "ADX must be defined at the first smoothing window")

	// independent re-derivation of the seed DX
	var smPlus, smMinus, smTR float64
	for i := 1; i <= period; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			smPlus += up
		}
		if down > up && down > 0 {
			smMinus += down
		}
		hl := candles[i].High - candles[i].Low
		tr := math.Max(hl, math.Max(math.Abs(candles[i].High-candles[i-1].Close), math.Abs(candles[i].Low-candles[i-1].Close)))
		smTR += tr
	}
	plusDI := 100 * smPlus / smTR
	minusDI := 100 * smMinus / smTR
	seedDX := 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
	assert.InDelta(t, seedDX, adx[period], 1e-9)
}

func TestADXTrendingMarketReadsHigh(t *testing.T) {
	// strictly rising bars: +DM dominates, ADX should grow well above 20
	candles := make([]market.Candle, 60)
	for i := range candles {
		base := 100 + float64(i)*2
		candles[i] = market.Candle{Open: base, High: base + 1.5, Low: base - 0.5, Close: base + 1}
	}
	adx := ADX(candles, 14)
	assert.Greater(t, Last(adx), 40.0)
}

func TestDonchianClampsToBounds(t *testing.T) {
	candles := syntheticCandles(10)
	full := DonchianHigh(candles, 9, 50)
	max := candles[0].High
	for _, c := range candles {
		if c.High > max {
			max = c.High
		}
	}
	assert.Equal(t, max, full)
	assert.True(t, math.IsNaN(DonchianHigh(candles, 20, 5)))
	assert.True(t, math.IsNaN(DonchianLow(candles, -1, 5)))

	window := DonchianLow(candles, 9, 3)
	min := candles[7].Low
	for _, c := range candles[7:10] {
		if c.Low < min {
			min = c.Low
		}
	}
	assert.Equal(t, min, window)
}

func TestBollingerWarmupAndBands(t *testing.T) {
	closes := market.Closes(syntheticCandles(50))
	mid, upper, lower := Bollinger(closes, 20, 2)
	for i := 0; i < 19; i++ {
		assert.False(t, Defined(mid[i]))
	}
	for i := 19; i < len(closes); i++ {
		require.True(t, Defined(mid[i]))
		assert.Greater(t, upper[i], mid[i])
		assert.Less(t, lower[i], mid[i])
		assert.InDelta(t, mid[i]-lower[i], upper[i]-mid[i], 1e-9)
	}
}

func TestStochasticBounds(t *testing.T) {
	candles := syntheticCandles(80)
	k, d := Stochastic(candles, 14, 3, 3)
	seen := 0
	for i := range k {
		if !Defined(k[i]) {
			continue
		}
		seen++
		assert.GreaterOrEqual(t, k[i], 0.0)
		assert.LessOrEqual(t, k[i], 100.0)
	}
	assert.Greater(t, seen, 0)
	assert.True(t, Defined(Last(d)))
}

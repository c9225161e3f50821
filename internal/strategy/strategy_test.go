package strategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratus/internal/market"
)

func risingBiasCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		base := 100 + float64(i)*2
		out[i] = market.Candle{
			OpenTime:  int64(i) * 3_600_000,
			CloseTime: int64(i+1)*3_600_000 - 1,
			Open:      base, High: base + 1.5, Low: base - 0.5, Close: base + 1,
		}
	}
	return out
}

func fallingBiasCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		base := 300 - float64(i)*2
		out[i] = market.Candle{Open: base, High: base + 0.5, Low: base - 1.5, Close: base - 1}
	}
	return out
}

func rangeBar(high, low, close float64) market.Candle {
	return market.Candle{Open: close, High: high, Low: low, Close: close}
}

// retestEntryCandles builds a tight 98-100 range, a breakout close at 102,
// one drift bar, then a current bar whose wick retests the 100 level and
// closes back above it.
func retestEntryCandles() []market.Candle {
	var out []market.Candle
	for i := 0; i < 36; i++ {
		out = append(out, rangeBar(100, 98, 99))
	}
	out = append(out, market.Candle{Open: 99, High: 102.5, Low: 99, Close: 102})
	out = append(out, market.Candle{Open: 102, High: 102.2, Low: 101, Close: 101.5})
	out = append(out, market.Candle{Open: 101.5, High: 101.6, Low: 99.8, Close: 100.5})
	for i := range out {
		out[i].OpenTime = int64(i) * 3_600_000
		out[i].CloseTime = int64(i+1)*3_600_000 - 1
	}
	return out
}

func testParams() Params {
	return Params{
		EMAFast:          9,
		EMASlow:          21,
		ADXPeriod:        14,
		ADXMin:           15,
		ATRPeriod:        14,
		DonchianLookback: 20,
		RetestWindow:     12,
		ToleranceMult:    0.25,
		ReentryEnabled:   true,
		ReentryEMA:       21,
		ReentryMult:      1.0,
	}
}

func TestBreakoutRetestEmitsLongPlan(t *testing.T) {
	s, err := New("breakout_retest", testParams())
	require.NoError(t, err)

	plan, err := s.Evaluate(context.Background(), EvalInput{
		CycleID:      "cycle-1",
		Symbol:       "BTCUSDT",
		BiasCandles:  risingBiasCandles(80),
		EntryCandles: retestEntryCandles(),
	})
	require.NoError(t, err)
	require.NotNil(t, plan, "retest structure with long bias must produce a plan")
	assert.Equal(t, SideLong, plan.Side)
	assert.Equal(t, ReasonRetest, plan.Reason)
	assert.Equal(t, "cycle-1", plan.CycleID)
	assert.InDelta(t, 100.0, plan.SourceLevel, 1e-9)
	assert.Greater(t, plan.SourceTolerance, 0.0)
}

func TestADXGateVetoesEverything(t *testing.T) {
	p := testParams()
	p.ADXMin = 101 // ADX is bounded by 100, so the gate can never pass
	s, err := New("breakout_retest", p)
	require.NoError(t, err)

	plan, err := s.Evaluate(context.Background(), EvalInput{
		BiasCandles:  risingBiasCandles(80),
		EntryCandles: retestEntryCandles(),
	})
	require.NoError(t, err)
	assert.Nil(t, plan, "bias none must veto even a perfect entry structure")
}

func TestInsufficientHistoryIsNoSignal(t *testing.T) {
	s, err := New("breakout_retest", testParams())
	require.NoError(t, err)

	plan, err := s.Evaluate(context.Background(), EvalInput{
		BiasCandles:  risingBiasCandles(10),
		EntryCandles: retestEntryCandles()[:8],
	})
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestDeriveBiasDirections(t *testing.T) {
	p := testParams().withDefaults()
	bias, adx := DeriveBias(risingBiasCandles(80), p)
	assert.Equal(t, BiasLong, bias)
	assert.Greater(t, adx, p.ADXMin)

	bias, _ = DeriveBias(fallingBiasCandles(80), p)
	assert.Equal(t, BiasShort, bias)

	bias, _ = DeriveBias(risingBiasCandles(5), p)
	assert.Equal(t, BiasNone, bias, "undefined indicators mean no bias")
}

// flat range around 100 with a final dip onto the EMA: re-entry leg, no
// breakout anywhere in the window.
func reentryEntryCandles() []market.Candle {
	var out []market.Candle
	for i := 0; i < 39; i++ {
		out = append(out, rangeBar(101, 99, 100))
	}
	out = append(out, market.Candle{Open: 100, High: 101, Low: 99.5, Close: 100.8})
	for i := range out {
		out[i].OpenTime = int64(i) * 3_600_000
		out[i].CloseTime = int64(i+1)*3_600_000 - 1
	}
	return out
}

func TestReentryTouchEmitsPlan(t *testing.T) {
	s, err := New("breakout_retest", testParams())
	require.NoError(t, err)

	plan, err := s.Evaluate(context.Background(), EvalInput{
		CycleID:      "cycle-2",
		Symbol:       "BTCUSDT",
		BiasCandles:  risingBiasCandles(80),
		EntryCandles: reentryEntryCandles(),
	})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, ReasonReentry, plan.Reason)
	assert.Equal(t, SideLong, plan.Side)
}

func TestReentryCooldownSuppressesSameSide(t *testing.T) {
	p := testParams()
	p.ReentryCooldown = 30 * time.Minute
	s, err := New("breakout_retest", p)
	require.NoError(t, err)

	now := time.Now()
	in := EvalInput{
		BiasCandles:  risingBiasCandles(80),
		EntryCandles: reentryEntryCandles(),
		LastExitSide: SideLong,
		LastExitAt:   now.Add(-5 * time.Minute),
		Now:          now,
	}
	plan, err := s.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, plan, "fresh same-side exit inside cooldown must suppress re-entry")

	in.LastExitAt = now.Add(-2 * time.Hour)
	plan, err = s.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.NotNil(t, plan, "expired cooldown must allow re-entry again")
}

func TestRetestWinsOverReentry(t *testing.T) {
	// generous re-entry tolerance so both legs would match; the plan must
	// still carry the retest reason
	p := testParams()
	p.ReentryMult = 5
	s, err := New("breakout_retest", p)
	require.NoError(t, err)

	plan, err := s.Evaluate(context.Background(), EvalInput{
		BiasCandles:  risingBiasCandles(80),
		EntryCandles: retestEntryCandles(),
	})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, ReasonRetest, plan.Reason)
}

func TestTrendFollowVariant(t *testing.T) {
	s, err := New("trend_follow", testParams())
	require.NoError(t, err)
	assert.Equal(t, "trend_follow", s.Name())

	plan, err := s.Evaluate(context.Background(), EvalInput{
		CycleID:      "cycle-3",
		BiasCandles:  risingBiasCandles(80),
		EntryCandles: reentryEntryCandles(),
	})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, ReasonReentry, plan.Reason)
}

func TestUnknownVariantRejected(t *testing.T) {
	_, err := New("does_not_exist", Params{})
	assert.Error(t, err)
}

func TestLoadPresets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	content := []byte(`presets:
  btc_1h:
    ema_fast: 9
    ema_slow: 26
    adx_min: 18
    donchian_lookback: 24
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	presets, err := LoadPresets(path)
	require.NoError(t, err)
	require.Contains(t, presets, "btc_1h")
	assert.Equal(t, 9, presets["btc_1h"].EMAFast)
	assert.Equal(t, 18.0, presets["btc_1h"].ADXMin)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("presets:\n  x:\n    emafast: 1\n"), 0o644))
	_, err = LoadPresets(bad)
	assert.Error(t, err, "unknown keys must be rejected")
}

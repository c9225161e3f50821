package risk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratus/internal/market"
	"stratus/internal/strategy"
)

func longPlan() *strategy.TradePlan {
	return &strategy.TradePlan{
		CycleID: "c1",
		Symbol:  "BTCUSDT",
		Side:    strategy.SideLong,
		Level:   strategy.LevelStrong,
		Reason:  strategy.ReasonRetest,
	}
}

func shortPlan() *strategy.TradePlan {
	p := longPlan()
	p.Side = strategy.SideShort
	return p
}

func bar(high, low, close float64) market.Candle {
	return market.Candle{Open: close, High: high, Low: low, Close: close}
}

func TestOpenComputesInitialStop(t *testing.T) {
	m := NewManager(Config{StopATR: 1.8})
	pos := m.Open(longPlan(), 100, 1, 100, 2, time.Now(), "key")
	assert.InDelta(t, 96.4, pos.InitialStop, 1e-9)
	assert.Equal(t, 100.0, pos.Trailing.BestPriceSeen)
	assert.False(t, pos.Trailing.Active)
	assert.Equal(t, 0, pos.Reverse.ConsecutiveOpposite)

	short := m.Open(shortPlan(), 100, 1, 100, 2, time.Now(), "key")
	assert.InDelta(t, 103.6, short.InitialStop, 1e-9)
}

// entry=100, ATR=2, stopMultiple=1.8 => stop 96.4; a bar trading down to
// 96.0 must fill at 96.4, not at the bar low.
func TestHardStopFillsAtStopLevel(t *testing.T) {
	m := NewManager(Config{StopATR: 1.8})
	pos := m.Open(longPlan(), 100, 1, 100, 2, time.Now(), "key")

	exit := m.EvaluateBar(pos, bar(100.5, 96.0, 97.0), nil, time.Now())
	require.NotNil(t, exit)
	assert.Equal(t, ReasonStopLoss, exit.Reason)
	assert.InDelta(t, 96.4, exit.Price, 1e-9)
}

func TestStopWinsTiesAgainstTakeProfit(t *testing.T) {
	m := NewManager(Config{StopATR: 1.0, TakeProfitATR: 1.0})
	pos := m.Open(longPlan(), 100, 1, 100, 2, time.Now(), "key")
	// one wide bar crossing both the stop (98) and the target (102)
	exit := m.EvaluateBar(pos, bar(103, 97, 100), nil, time.Now())
	require.NotNil(t, exit)
	assert.Equal(t, ReasonStopLoss, exit.Reason)
	assert.InDelta(t, 98.0, exit.Price, 1e-9)
}

func TestTrailingActivatesAndRatchets(t *testing.T) {
	m := NewManager(Config{StopATR: 5, TrailActivation: 1.0, TrailDistance: 0.5})
	pos := m.Open(longPlan(), 100, 1, 100, 2, time.Now(), "key")

	// not yet at activation distance (2.0)
	require.Nil(t, m.EvaluateBar(pos, bar(101, 100, 100.5), nil, time.Now()))
	assert.False(t, pos.Trailing.Active)

	// excursion reaches 3 > 2: activate, stop = 103 - 1 = 102
	require.Nil(t, m.EvaluateBar(pos, bar(103, 102.2, 102.5), nil, time.Now()))
	require.True(t, pos.Trailing.Active)
	assert.InDelta(t, 102.0, pos.Trailing.CurrentStop, 1e-9)

	// higher best: stop ratchets up
	require.Nil(t, m.EvaluateBar(pos, bar(105, 104.2, 104.5), nil, time.Now()))
	assert.InDelta(t, 104.0, pos.Trailing.CurrentStop, 1e-9)

	// pullback bar that stays above the stop must not lower it
	prevStop := pos.Trailing.CurrentStop
	require.Nil(t, m.EvaluateBar(pos, bar(104.6, 104.2, 104.3), nil, time.Now()))
	assert.Equal(t, prevStop, pos.Trailing.CurrentStop, "trailing stop may never regress")

	// crossing the trailed stop closes at the stop level
	exit := m.EvaluateBar(pos, bar(104.5, 103.8, 103.9), nil, time.Now())
	require.NotNil(t, exit)
	assert.Equal(t, ReasonTrailingStop, exit.Reason)
	assert.InDelta(t, 104.0, exit.Price, 1e-9)
}

func TestTrailingMonotonicInvariantShort(t *testing.T) {
	m := NewManager(Config{StopATR: 10, TrailActivation: 0.5, TrailDistance: 1.5})
	pos := m.Open(shortPlan(), 100, 1, 100, 2, time.Now(), "key")

	lows := []float64{98.5, 97.2, 98.0, 96.1, 97.5, 95.0, 96.4}
	prev := math.Inf(1)
	for _, low := range lows {
		exit := m.EvaluateBar(pos, bar(low+0.8, low, low+0.4), nil, time.Now())
		require.Nil(t, exit)
		if pos.Trailing.Active {
			assert.LessOrEqual(t, pos.Trailing.CurrentStop, prev,
				"short trailing stop must be non-increasing")
			prev = pos.Trailing.CurrentStop
		}
	}
	assert.True(t, pos.Trailing.Active)
}

func TestTimeoutClosesLoserTightensWinner(t *testing.T) {
	m := NewManager(Config{StopATR: 5, TrailActivation: 10, TrailDistance: 2, TimeoutTrail: 0.25, MaxBarsHeld: 2})

	// losing at the deadline: force close at bar close
	loser := m.Open(longPlan(), 100, 1, 100, 2, time.Now(), "key")
	require.Nil(t, m.EvaluateBar(loser, bar(100.5, 99.6, 99.8), nil, time.Now()))
	exit := m.EvaluateBar(loser, bar(100.0, 99.2, 99.5), nil, time.Now())
	require.NotNil(t, exit)
	assert.Equal(t, ReasonTimeout, exit.Reason)
	assert.InDelta(t, 99.5, exit.Price, 1e-9)

	// winning at the deadline: never force-closed, trail tightens instead
	winner := m.Open(longPlan(), 100, 1, 100, 2, time.Now(), "key")
	require.Nil(t, m.EvaluateBar(winner, bar(101.5, 100.0, 101.2), nil, time.Now()))
	exit = m.EvaluateBar(winner, bar(102.0, 101.0, 101.8), nil, time.Now())
	assert.Nil(t, exit, "profitable position must survive its timeout")
	assert.True(t, winner.Trailing.Active)
	// tightened distance 0.25*2 = 0.5 against best 102
	assert.InDelta(t, 101.5, winner.Trailing.CurrentStop, 1e-9)
}

func TestLiveClockTimeout(t *testing.T) {
	m := NewManager(Config{StopATR: 5, MaxHold: time.Hour})
	openedAt := time.Now().Add(-2 * time.Hour)
	pos := m.Open(longPlan(), 100, 1, 100, 2, openedAt, "key")
	exit := m.EvaluateBar(pos, bar(100.2, 99.4, 99.6), nil, time.Now())
	require.NotNil(t, exit)
	assert.Equal(t, ReasonTimeout, exit.Reason)
}

func TestReverseSignalCountingAndReset(t *testing.T) {
	m := NewManager(Config{StopATR: 10, ReverseConfirm: 3})
	pos := m.Open(longPlan(), 100, 1, 100, 2, time.Now(), "key")
	quiet := bar(100.5, 99.5, 100.0)

	require.Nil(t, m.EvaluateBar(pos, quiet, shortPlan(), time.Now()))
	assert.Equal(t, 1, pos.Reverse.ConsecutiveOpposite)
	require.Nil(t, m.EvaluateBar(pos, quiet, shortPlan(), time.Now()))
	assert.Equal(t, 2, pos.Reverse.ConsecutiveOpposite)

	// any non-opposite reading resets to zero, no partial decay
	require.Nil(t, m.EvaluateBar(pos, quiet, nil, time.Now()))
	assert.Equal(t, 0, pos.Reverse.ConsecutiveOpposite)

	require.Nil(t, m.EvaluateBar(pos, quiet, shortPlan(), time.Now()))
	require.Nil(t, m.EvaluateBar(pos, quiet, shortPlan(), time.Now()))
	exit := m.EvaluateBar(pos, quiet, shortPlan(), time.Now())
	require.NotNil(t, exit)
	assert.Equal(t, ReasonReverseSignal, exit.Reason)
	assert.InDelta(t, 100.0, exit.Price, 1e-9)
}

func TestCloseProducesLedgerEntry(t *testing.T) {
	m := NewManager(Config{StopATR: 1.8})
	openedAt := time.Now().Add(-90 * time.Minute)
	pos := m.Open(longPlan(), 100, 2, 200, 2, openedAt, "key")

	closedAt := time.Now()
	trade := m.Close(pos, 96.4, ReasonStopLoss, 0.3, closedAt)
	assert.Equal(t, ReasonStopLoss, trade.Reason)
	assert.InDelta(t, (96.4-100)*2-0.3, trade.PnL, 1e-9)
	assert.Equal(t, "c1", trade.CycleID)
	assert.InDelta(t, 90*60, trade.HoldDuration.Seconds(), 5)

	short := m.Open(shortPlan(), 100, 2, 200, 2, openedAt, "key")
	trade = m.Close(short, 95, ReasonTrailingStop, 0, closedAt)
	assert.InDelta(t, (100-95.0)*2, trade.PnL, 1e-9)
}

func TestPositionSizing(t *testing.T) {
	cfg := SizingConfig{
		RiskPct:             0.01,
		ThrottledRiskPct:    0.005,
		ThrottleAfterLosses: 3,
		MinNotional:         10,
		MaxNotional:         5000,
		MaxLeverage:         3,
		QuantityStep:        0.001,
	}

	// equity 10000, risk 1% = 100, stop distance 2, entry 100:
	// notional = 100/2*100 = 5000 (at the max-notional cap)
	notional, qty := PositionSize(cfg, 10000, 100, 2, 0)
	assert.InDelta(t, 5000, notional, 1e-9)
	assert.InDelta(t, 50.0, qty, 1e-9)

	// loss streak at the threshold halves the risk
	notional, _ = PositionSize(cfg, 10000, 100, 2, 3)
	assert.InDelta(t, 2500, notional, 1e-9)

	// leverage cap binds for small equity
	notional, _ = PositionSize(cfg, 100, 100, 0.1, 0)
	assert.InDelta(t, 300, notional, 1e-9)

	// min notional floor
	notional, _ = PositionSize(cfg, 10000, 100, 10000, 0)
	assert.InDelta(t, 10, notional, 1e-9)

	// invalid inputs produce no order
	notional, qty = PositionSize(cfg, 0, 100, 2, 0)
	assert.Zero(t, notional)
	assert.Zero(t, qty)
}

func TestQuantityStepTruncates(t *testing.T) {
	cfg := SizingConfig{RiskPct: 0.01, MaxLeverage: 10, QuantityStep: 0.01}
	_, qty := PositionSize(cfg, 10000, 333, 5, 0)
	// qty must be an exact multiple of the step
	steps := qty / 0.01
	assert.InDelta(t, math.Round(steps), steps, 1e-9)
}

package strategy

import (
	"context"
	"math"

	"stratus/internal/indicator"
	"stratus/internal/market"
)

// breakoutRetest implements the full two-leg entry: a Donchian
// breakout-then-retest on the entry timeframe, falling back to an EMA
// re-entry touch when enabled. Retest wins the tie.
type breakoutRetest struct {
	params Params
}

func (s *breakoutRetest) Name() string { return "breakout_retest" }

func (s *breakoutRetest) Evaluate(ctx context.Context, in EvalInput) (*TradePlan, error) {
	p := s.params
	bias, adx := DeriveBias(in.BiasCandles, p)
	if bias == BiasNone {
		return nil, nil
	}
	side := Side(bias)

	entry := in.EntryCandles
	atr := indicator.Last(indicator.ATR(entry, p.ATRPeriod))
	if !indicator.Defined(atr) || len(entry) < p.DonchianLookback+2 {
		return nil, nil
	}
	cur := entry[len(entry)-1]

	if level, ok := s.findBreakoutLevel(entry, side); ok {
		tol := p.ToleranceMult * atr
		if retestConfirmed(cur, side, level, tol) {
			return &TradePlan{
				CycleID:         in.CycleID,
				Symbol:          in.Symbol,
				Side:            side,
				Level:           levelFor(adx, p),
				Reason:          ReasonRetest,
				SourceLevel:     level,
				SourceTolerance: tol,
			}, nil
		}
	}

	if p.ReentryEnabled && !s.reentrySuppressed(in, side) {
		ema := indicator.Last(indicator.EMA(market.Closes(entry), p.ReentryEMA))
		if indicator.Defined(ema) {
			tol := p.ReentryMult * atr
			if retestConfirmed(cur, side, ema, tol) {
				return &TradePlan{
					CycleID:         in.CycleID,
					Symbol:          in.Symbol,
					Side:            side,
					Level:           levelFor(adx, p),
					Reason:          ReasonReentry,
					SourceLevel:     ema,
					SourceTolerance: tol,
				}, nil
			}
		}
	}
	return nil, nil
}

// findBreakoutLevel scans backward over the retest window for the most
// recent close beyond the prior-N Donchian level in the bias direction.
// The current (last) bar is never a breakout candidate; it is the retest
// candidate.
func (s *breakoutRetest) findBreakoutLevel(entry []market.Candle, side Side) (float64, bool) {
	p := s.params
	last := len(entry) - 1
	lo := last - p.RetestWindow
	if lo < 1 {
		lo = 1
	}
	for i := last - 1; i >= lo; i-- {
		var level float64
		switch side {
		case SideLong:
			level = indicator.DonchianHigh(entry, i-1, p.DonchianLookback)
			if indicator.Defined(level) && entry[i].Close > level {
				return level, true
			}
		case SideShort:
			level = indicator.DonchianLow(entry, i-1, p.DonchianLookback)
			if indicator.Defined(level) && entry[i].Close < level {
				return level, true
			}
		}
	}
	return math.NaN(), false
}

// retestConfirmed checks the current bar: its wick must come back within
// tolerance of the level and its close must confirm the original direction.
func retestConfirmed(cur market.Candle, side Side, level, tol float64) bool {
	switch side {
	case SideLong:
		touched := cur.Low >= level-tol && cur.Low <= level+tol
		return touched && cur.Close > level
	case SideShort:
		touched := cur.High <= level+tol && cur.High >= level-tol
		return touched && cur.Close < level
	default:
		return false
	}
}

// reentrySuppressed blocks an EMA re-entry right after a same-side exit so
// a stopped-out trade is not immediately re-opened at the same level.
func (s *breakoutRetest) reentrySuppressed(in EvalInput, side Side) bool {
	if s.params.ReentryCooldown <= 0 || in.LastExitSide != side || in.LastExitAt.IsZero() {
		return false
	}
	return in.Now.Sub(in.LastExitAt) < s.params.ReentryCooldown
}

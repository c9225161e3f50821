package strategy

import (
	"context"

	"stratus/internal/indicator"
	"stratus/internal/market"
)

// trendFollow is the re-entry leg on its own: a pullback to the entry
// timeframe EMA in the bias direction. Kept as a separate variant for
// instruments where Donchian retests rarely complete.
type trendFollow struct {
	params Params
}

func (s *trendFollow) Name() string { return "trend_follow" }

func (s *trendFollow) Evaluate(ctx context.Context, in EvalInput) (*TradePlan, error) {
	p := s.params
	bias, adx := DeriveBias(in.BiasCandles, p)
	if bias == BiasNone {
		return nil, nil
	}
	side := Side(bias)

	entry := in.EntryCandles
	atr := indicator.Last(indicator.ATR(entry, p.ATRPeriod))
	ema := indicator.Last(indicator.EMA(market.Closes(entry), p.ReentryEMA))
	if !indicator.Defined(atr) || !indicator.Defined(ema) || len(entry) == 0 {
		return nil, nil
	}
	cur := entry[len(entry)-1]
	tol := p.ReentryMult * atr
	if !retestConfirmed(cur, side, ema, tol) {
		return nil, nil
	}
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

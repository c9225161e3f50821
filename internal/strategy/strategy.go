// Package strategy derives at most one TradePlan per evaluation cycle from
// two candle series: a coarser bias timeframe and a finer entry timeframe.
// Emitting no plan is the normal outcome, not an error.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"stratus/internal/indicator"
	"stratus/internal/market"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return ""
	}
}

// Bias is the higher-timeframe directional filter. BiasNone vetoes entries.
type Bias string

const (
	BiasLong  Bias = "long"
	BiasShort Bias = "short"
	BiasNone  Bias = "none"
)

type Level string

const (
	LevelStrong     Level = "strong"
	LevelVeryStrong Level = "very_strong"
)

const (
	ReasonRetest  = "retest"
	ReasonReentry = "reentry"
)

// TradePlan is the sole handoff from the signal engine to the execution
// gate. Immutable once emitted; replayable via its CycleID.
type TradePlan struct {
	CycleID         string  `json:"cycle_id"`
	Symbol          string  `json:"symbol"`
	Side            Side    `json:"side"`
	Level           Level   `json:"level"`
	Reason          string  `json:"reason"`
	SourceLevel     float64 `json:"source_level"`
	SourceTolerance float64 `json:"source_tolerance"`
}

// EvalInput carries everything an evaluation may look at. Candle slices
// contain only closed bars, ascending.
type EvalInput struct {
	CycleID      string
	Symbol       string
	BiasCandles  []market.Candle
	EntryCandles []market.Candle

	// last completed trade, used to suppress immediate same-side re-entry
	LastExitSide Side
	LastExitAt   time.Time
	Now          time.Time
}

// Strategy is one interchangeable signal variant, selected by config name.
type Strategy interface {
	Name() string

	// Evaluate returns (nil, nil) when no actionable signal exists this
	// cycle. Insufficient history is a no-signal outcome, never an error.
	Evaluate(ctx context.Context, in EvalInput) (*TradePlan, error)
}

// Params is the shared parameter set for the built-in variants.
type Params struct {
	EMAFast    int     `mapstructure:"ema_fast" yaml:"ema_fast"`
	EMASlow    int     `mapstructure:"ema_slow" yaml:"ema_slow"`
	ADXPeriod  int     `mapstructure:"adx_period" yaml:"adx_period"`
	ADXMin     float64 `mapstructure:"adx_min" yaml:"adx_min"`
	ADXStrong  float64 `mapstructure:"adx_strong_delta" yaml:"adx_strong_delta"`
	ATRPeriod  int     `mapstructure:"atr_period" yaml:"atr_period"`

	DonchianLookback int     `mapstructure:"donchian_lookback" yaml:"donchian_lookback"`
	RetestWindow     int     `mapstructure:"retest_window" yaml:"retest_window"`
	ToleranceMult    float64 `mapstructure:"tolerance_mult" yaml:"tolerance_mult"`

	ReentryEnabled  bool          `mapstructure:"reentry_enabled" yaml:"reentry_enabled"`
	ReentryEMA      int           `mapstructure:"reentry_ema" yaml:"reentry_ema"`
	ReentryMult     float64       `mapstructure:"reentry_tolerance_mult" yaml:"reentry_tolerance_mult"`
	ReentryCooldown time.Duration `mapstructure:"reentry_cooldown" yaml:"reentry_cooldown"`
}

func (p Params) withDefaults() Params {
	if p.EMAFast <= 0 {
		p.EMAFast = 21
	}
	if p.EMASlow <= 0 {
		p.EMASlow = 55
	}
	if p.ADXPeriod <= 0 {
		p.ADXPeriod = 14
	}
	if p.ADXMin <= 0 {
		p.ADXMin = 15
	}
	if p.ADXStrong <= 0 {
		p.ADXStrong = 10
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = 14
	}
	if p.DonchianLookback <= 0 {
		p.DonchianLookback = 20
	}
	if p.RetestWindow <= 0 {
		p.RetestWindow = 12
	}
	if p.ToleranceMult <= 0 {
		p.ToleranceMult = 0.25
	}
	if p.ReentryEMA <= 0 {
		p.ReentryEMA = 21
	}
	if p.ReentryMult <= 0 {
		p.ReentryMult = p.ToleranceMult
	}
	return p
}

// DeriveBias computes the higher-timeframe bias: EMA fast vs slow gated by
// a minimum ADX. Any undefined indicator or ADX below the floor yields
// BiasNone. The returned ADX is NaN when undefined.
func DeriveBias(candles []market.Candle, p Params) (Bias, float64) {
	closes := market.Closes(candles)
	fast := indicator.Last(indicator.EMA(closes, p.EMAFast))
	slow := indicator.Last(indicator.EMA(closes, p.EMASlow))
	adx := indicator.Last(indicator.ADX(candles, p.ADXPeriod))
	if !indicator.Defined(fast) || !indicator.Defined(slow) || !indicator.Defined(adx) {
		return BiasNone, adx
	}
	if adx < p.ADXMin {
		return BiasNone, adx
	}
	switch {
	case fast > slow:
		return BiasLong, adx
	case fast < slow:
		return BiasShort, adx
	default:
		return BiasNone, adx
	}
}

func levelFor(adx float64, p Params) Level {
	if adx >= p.ADXMin+p.ADXStrong {
		return LevelVeryStrong
	}
	return LevelStrong
}

// Factory builds a strategy variant by registry name.
type Factory func(p Params) Strategy

var registry = map[string]Factory{
	"breakout_retest": func(p Params) Strategy { return &breakoutRetest{params: p.withDefaults()} },
	"trend_follow":    func(p Params) Strategy { return &trendFollow{params: p.withDefaults()} },
}

// New returns the named variant or an error listing what exists.
func New(name string, p Params) (Strategy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	factory, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (known: %s)", name, strings.Join(Known(), ", "))
	}
	return factory(p), nil
}

// Known returns the registered variant names, sorted.
func Known() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

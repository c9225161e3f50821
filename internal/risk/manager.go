package risk

import (
	"time"

	"stratus/internal/market"
	"stratus/internal/strategy"
)

// Config holds the exit-side parameters. Distances are ATR multiples,
// resolved into price distances against the ATR captured at entry.
type Config struct {
	StopATR         float64       `mapstructure:"stop_atr" yaml:"stop_atr"`
	TrailActivation float64       `mapstructure:"trail_activation_atr" yaml:"trail_activation_atr"`
	TrailDistance   float64       `mapstructure:"trail_distance_atr" yaml:"trail_distance_atr"`
	TimeoutTrail    float64       `mapstructure:"timeout_trail_atr" yaml:"timeout_trail_atr"`
	TakeProfitATR   float64       `mapstructure:"take_profit_atr" yaml:"take_profit_atr"` // 0 disables
	MaxBarsHeld     int           `mapstructure:"max_bars_held" yaml:"max_bars_held"`     // backtest clock
	MaxHold         time.Duration `mapstructure:"max_hold" yaml:"max_hold"`               // live clock
	ReverseConfirm  int           `mapstructure:"reverse_confirmations" yaml:"reverse_confirmations"`
}

func (c Config) withDefaults() Config {
	if c.StopATR <= 0 {
		c.StopATR = 1.8
	}
	if c.TrailActivation <= 0 {
		c.TrailActivation = 1.5
	}
	if c.TrailDistance <= 0 {
		c.TrailDistance = 1.0
	}
	if c.TimeoutTrail <= 0 {
		c.TimeoutTrail = 0.5
	}
	if c.ReverseConfirm <= 0 {
		c.ReverseConfirm = 2
	}
	return c
}

// Exit is the state machine's verdict for one evaluation: nil means keep
// holding.
type Exit struct {
	Reason CloseReason
	Price  float64
}

type Manager struct {
	cfg Config
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults()}
}

// StopDistance resolves the configured stop multiple into a price distance
// for the given ATR. Sizing uses it before a position exists.
func (m *Manager) StopDistance(atr float64) float64 {
	return m.cfg.StopATR * atr
}

// Open builds the position record for an approved plan. The initial stop
// sits StopATR ATRs against the entry; trailing starts inactive with the
// entry as best price.
func (m *Manager) Open(plan *strategy.TradePlan, entry, quantity, notional, atr float64, openedAt time.Time, idemKey string) *Position {
	dir := 1.0
	if plan.Side == strategy.SideShort {
		dir = -1
	}
	pos := &Position{
		Symbol:      plan.Symbol,
		Side:        plan.Side,
		EntryPrice:  entry,
		Quantity:    quantity,
		Notional:    notional,
		OpenedAt:    openedAt,
		InitialStop: entry - dir*m.cfg.StopATR*atr,
		Trailing: TrailingState{
			ActivationDist: m.cfg.TrailActivation * atr,
			TrailDist:      m.cfg.TrailDistance * atr,
			BestPriceSeen:  entry,
		},
		Meta: PositionMeta{
			CycleID:        plan.CycleID,
			IdempotencyKey: idemKey,
			ATRAtEntry:     atr,
		},
	}
	if m.cfg.TakeProfitATR > 0 {
		pos.TakeProfit = entry + dir*m.cfg.TakeProfitATR*atr
	}
	return pos
}

// EvaluateBar runs one evaluation against a closed bar, in the fixed order:
// best-price update, trailing activation and ratchet, hard stop (stop wins
// ties), trailing stop, take-profit, timeout, reverse signal. The signal
// argument is this cycle's engine output (nil for none). Mutates pos;
// returns a non-nil Exit when the position must close.
func (m *Manager) EvaluateBar(pos *Position, bar market.Candle, signal *strategy.TradePlan, now time.Time) *Exit {
	pos.BarsHeld++
	m.updateBestPrice(pos, bar)
	m.updateTrailing(pos)

	if exit := m.checkStops(pos, bar); exit != nil {
		return exit
	}
	if exit := m.checkTimeout(pos, bar, now); exit != nil {
		return exit
	}
	return m.checkReverseSignal(pos, bar, signal)
}

func (m *Manager) updateBestPrice(pos *Position, bar market.Candle) {
	if pos.Side == strategy.SideLong {
		if bar.High > pos.Trailing.BestPriceSeen {
			pos.Trailing.BestPriceSeen = bar.High
		}
		return
	}
	if bar.Low < pos.Trailing.BestPriceSeen {
		pos.Trailing.BestPriceSeen = bar.Low
	}
}

// updateTrailing activates the trail once favorable excursion reaches the
// activation distance, then ratchets the stop monotonically: a candidate
// stop never replaces a more favorable existing one.
func (m *Manager) updateTrailing(pos *Position) {
	t := &pos.Trailing
	if !t.Active {
		excursion := (t.BestPriceSeen - pos.EntryPrice) * pos.directionSign()
		if excursion < t.ActivationDist {
			return
		}
		t.Active = true
	}
	var candidate float64
	if pos.Side == strategy.SideLong {
		candidate = t.BestPriceSeen - t.TrailDist
		if t.CurrentStop == 0 || decimalGT(candidate, t.CurrentStop) {
			t.CurrentStop = candidate
		}
		return
	}
	candidate = t.BestPriceSeen + t.TrailDist
	if t.CurrentStop == 0 || decimalLT(candidate, t.CurrentStop) {
		t.CurrentStop = candidate
	}
}

// checkStops applies the conservative intrabar policy: when both the hard
// stop and the trailing stop (or take-profit) could have filled on the same
// bar, the hard stop wins. Fills happen at the stop level, not the bar
// extreme.
func (m *Manager) checkStops(pos *Position, bar market.Candle) *Exit {
	long := pos.Side == strategy.SideLong
	crossed := func(level float64) bool {
		if level <= 0 {
			return false
		}
		if long {
			return bar.Low <= level
		}
		return bar.High >= level
	}
	if crossed(pos.InitialStop) {
		return &Exit{Reason: ReasonStopLoss, Price: pos.InitialStop}
	}
	if pos.Trailing.Active && crossed(pos.Trailing.CurrentStop) {
		return &Exit{Reason: ReasonTrailingStop, Price: pos.Trailing.CurrentStop}
	}
	if pos.TakeProfit > 0 {
		hit := bar.High >= pos.TakeProfit
		if !long {
			hit = bar.Low <= pos.TakeProfit
		}
		if hit {
			return &Exit{Reason: ReasonTakeProfit, Price: pos.TakeProfit}
		}
	}
	return nil
}

// checkTimeout force-closes a losing position at its deadline. A profitable
// one is never force-closed: its trail is tightened to the timeout distance
// instead and the position keeps running (cut losers on schedule, let
// winners run).
func (m *Manager) checkTimeout(pos *Position, bar market.Candle, now time.Time) *Exit {
	timedOut := false
	if m.cfg.MaxBarsHeld > 0 && pos.BarsHeld >= m.cfg.MaxBarsHeld {
		timedOut = true
	}
	if m.cfg.MaxHold > 0 && !pos.OpenedAt.IsZero() && now.Sub(pos.OpenedAt) >= m.cfg.MaxHold {
		timedOut = true
	}
	if !timedOut {
		return nil
	}
	if pos.UnrealizedPnL(bar.Close) > 0 {
		m.tightenTrail(pos)
		return nil
	}
	return &Exit{Reason: ReasonTimeout, Price: bar.Close}
}

func (m *Manager) tightenTrail(pos *Position) {
	t := &pos.Trailing
	tightened := m.cfg.TimeoutTrail * pos.Meta.ATRAtEntry
	if tightened < t.TrailDist {
		t.TrailDist = tightened
	}
	t.Active = true
	if pos.Side == strategy.SideLong {
		candidate := t.BestPriceSeen - t.TrailDist
		if t.CurrentStop == 0 || decimalGT(candidate, t.CurrentStop) {
			t.CurrentStop = candidate
		}
		return
	}
	candidate := t.BestPriceSeen + t.TrailDist
	if t.CurrentStop == 0 || decimalLT(candidate, t.CurrentStop) {
		t.CurrentStop = candidate
	}
}

func (m *Manager) checkReverseSignal(pos *Position, bar market.Candle, signal *strategy.TradePlan) *Exit {
	if signal == nil || signal.Side != pos.Side.Opposite() {
		pos.Reverse.ConsecutiveOpposite = 0
		pos.Reverse.LastOppositeSide = ""
		return nil
	}
	pos.Reverse.ConsecutiveOpposite++
	pos.Reverse.LastOppositeSide = signal.Side
	if pos.Reverse.ConsecutiveOpposite >= m.cfg.ReverseConfirm {
		return &Exit{Reason: ReasonReverseSignal, Price: bar.Close}
	}
	return nil
}

// Close turns a verdict into the terminal ledger entry for the position.
// The caller clears its Position reference afterwards; a close is final.
func (m *Manager) Close(pos *Position, exitPrice float64, reason CloseReason, fees float64, closedAt time.Time) ClosedTrade {
	pnl := (exitPrice - pos.EntryPrice) * pos.Quantity * pos.directionSign()
	return ClosedTrade{
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		Reason:       reason,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    exitPrice,
		Quantity:     pos.Quantity,
		Notional:     pos.Notional,
		PnL:          pnl - fees,
		Fees:         fees,
		OpenedAt:     pos.OpenedAt,
		ClosedAt:     closedAt,
		HoldDuration: closedAt.Sub(pos.OpenedAt),
		CycleID:      pos.Meta.CycleID,
	}
}

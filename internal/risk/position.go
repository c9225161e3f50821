// Package risk owns the lifecycle of the single open position: the initial
// ATR stop, the trailing ratchet, timeout handling and the reverse-signal
// exit. The same state machine runs live and inside the backtest simulator.
package risk

import (
	"time"

	"stratus/internal/strategy"
)

type CloseReason string

const (
	ReasonStopLoss      CloseReason = "stop_loss"
	ReasonTrailingStop  CloseReason = "trailing_stop"
	ReasonTakeProfit    CloseReason = "take_profit"
	ReasonTimeout       CloseReason = "timeout"
	ReasonReverseSignal CloseReason = "reverse_signal"
	ReasonReconciled    CloseReason = "exchange_reconciled"
	ReasonEndOfData     CloseReason = "end_of_data"
	ReasonManual        CloseReason = "manual"
)

// TrailingState is mutated on every evaluation while the position is open.
// Once Active, CurrentStop only ever moves in the position's favor.
type TrailingState struct {
	ActivationDist float64 `json:"activation_dist"` // price distance from entry
	TrailDist      float64 `json:"trail_dist"`      // price distance from best
	BestPriceSeen  float64 `json:"best_price_seen"`
	CurrentStop    float64 `json:"current_stop"` // 0 until first ratchet
	Active         bool    `json:"active"`
}

// ReverseSignalState counts consecutive opposite signals; any non-opposite
// reading resets it to zero.
type ReverseSignalState struct {
	ConsecutiveOpposite int           `json:"consecutive_opposite"`
	LastOppositeSide    strategy.Side `json:"last_opposite_side,omitempty"`
}

// PositionMeta carries audit fields set at open time.
type PositionMeta struct {
	CycleID        string  `json:"cycle_id"`
	IdempotencyKey string  `json:"idempotency_key"`
	ATRAtEntry     float64 `json:"atr_at_entry"`
}

// Position is the single live instance; the guard, not this package,
// rejects opening while one exists.
type Position struct {
	Symbol      string             `json:"symbol"`
	Side        strategy.Side      `json:"side"`
	EntryPrice  float64            `json:"entry_price"`
	Quantity    float64            `json:"quantity"`
	Notional    float64            `json:"notional"`
	OpenedAt    time.Time          `json:"opened_at"`
	InitialStop float64            `json:"initial_stop"`
	TakeProfit  float64            `json:"take_profit,omitempty"` // 0 = disabled
	Trailing    TrailingState      `json:"trailing"`
	Reverse     ReverseSignalState `json:"reverse"`
	BarsHeld    int                `json:"bars_held"`
	Meta        PositionMeta       `json:"meta"`
}

func (p *Position) directionSign() float64 {
	if p.Side == strategy.SideShort {
		return -1
	}
	return 1
}

// UnrealizedPnL at the given mark price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity * p.directionSign()
}

// ClosedTrade is one trade-ledger entry; every close path produces exactly
// one.
type ClosedTrade struct {
	Symbol       string        `json:"symbol"`
	Side         strategy.Side `json:"side"`
	Reason       CloseReason   `json:"reason"`
	EntryPrice   float64       `json:"entry_price"`
	ExitPrice    float64       `json:"exit_price"`
	Quantity     float64       `json:"quantity"`
	Notional     float64       `json:"notional"`
	PnL          float64       `json:"pnl"`
	Fees         float64       `json:"fees"`
	OpenedAt     time.Time     `json:"opened_at"`
	ClosedAt     time.Time     `json:"closed_at"`
	HoldDuration time.Duration `json:"hold_duration"`
	CycleID      string        `json:"cycle_id"`
}

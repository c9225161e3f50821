// Package reconcile checks the locally tracked position against the
// exchange's trade history. The exchange is the source of truth: if it
// reports the position was closed, the local state is corrected to match,
// never the other way around.
package reconcile

import (
	"context"
	"fmt"

	"stratus/internal/gateway/exchange"
	"stratus/internal/logger"
	"stratus/internal/risk"
	"stratus/internal/strategy"
)

// Result of a reconciliation pass. Trade is set only when Closed is true.
type Result struct {
	Closed bool
	Trade  *risk.ClosedTrade
}

type Reconciler struct {
	ex exchange.Exchange
}

func New(ex exchange.Exchange) *Reconciler {
	return &Reconciler{ex: ex}
}

// Check looks for a closing fill since the position was opened. The first
// one found wins unconditionally: its fill price and timestamp become the
// exit, its reported profit (when present) becomes the PnL.
func (r *Reconciler) Check(ctx context.Context, pos *risk.Position) (*Result, error) {
	if pos == nil {
		return &Result{}, nil
	}
	trades, err := r.ex.RecentTrades(ctx, pos.Symbol, pos.OpenedAt)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", pos.Symbol, err)
	}
	closing := closeSide(pos.Side)
	for _, t := range trades {
		if t.Timestamp.Before(pos.OpenedAt) {
			continue
		}
		if !t.IsClose || t.Side != closing {
			continue
		}
		logger.Warnf("[reconcile] %s position closed on exchange at %v (price=%v order=%s), adopting",
			pos.Symbol, t.Timestamp, t.Price, t.OrderID)
		return &Result{Closed: true, Trade: r.adopt(pos, t)}, nil
	}
	return &Result{}, nil
}

func (r *Reconciler) adopt(pos *risk.Position, t exchange.Trade) *risk.ClosedTrade {
	pnl := t.RealizedPnL
	if pnl == 0 {
		sign := 1.0
		if pos.Side == strategy.SideShort {
			sign = -1
		}
		pnl = (t.Price - pos.EntryPrice) * pos.Quantity * sign
	}
	return &risk.ClosedTrade{
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		Reason:       risk.ReasonReconciled,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    t.Price,
		Quantity:     pos.Quantity,
		Notional:     pos.Notional,
		PnL:          pnl,
		OpenedAt:     pos.OpenedAt,
		ClosedAt:     t.Timestamp,
		HoldDuration: t.Timestamp.Sub(pos.OpenedAt),
		CycleID:      pos.Meta.CycleID,
	}
}

// A long closes with a sell, a short with a buy.
func closeSide(side strategy.Side) string {
	if side == strategy.SideShort {
		return "buy"
	}
	return "sell"
}

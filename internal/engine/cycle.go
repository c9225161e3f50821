package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stratus/internal/gateway/exchange"
	"stratus/internal/guard"
	"stratus/internal/indicator"
	"stratus/internal/logger"
	"stratus/internal/market"
	"stratus/internal/risk"
	"stratus/internal/scheduler"
	"stratus/internal/store/model"
	"stratus/internal/strategy"

	"github.com/google/uuid"
)

// Cycle outcomes recorded in the cycle log.
const (
	outcomeNoSignal    = "no_signal"
	outcomeOpened      = "opened"
	outcomeClosed      = "closed"
	outcomeReconciled  = "reconciled"
	outcomeBlocked     = "blocked"
	outcomeSkipped     = "skipped"
	outcomeHalted      = "halted"
	outcomeBreakerOpen = "breaker_open"
	outcomeError       = "error"
	outcomeHolding     = "holding"
)

// RunCycle executes one full decision cycle. It never returns an error:
// failures are counted by the circuit breaker and recorded in the cycle
// log, then the engine waits for the next bar.
func (e *Engine) RunCycle(parent context.Context) {
	now := time.Now()
	cycleID := uuid.NewString()

	if !e.breaker.Allow() {
		logger.Warnf("[engine] %s breaker open, skipping cycle %s", e.cfg.Symbol, cycleID)
		e.logCycle(cycleID, outcomeBreakerOpen, "", nil, now)
		return
	}

	ctx, cancel := context.WithTimeout(parent, e.cfg.CycleTimeout)
	defer cancel()

	outcome, detail, payload, err := e.runCycle(ctx, cycleID, now)
	if err != nil {
		e.breaker.RecordFailure()
		logger.Errorf("[engine] %s cycle %s failed: %v", e.cfg.Symbol, cycleID, err)
		outcome = outcomeError
		if detail == "" {
			detail = err.Error()
		}
	} else {
		e.breaker.RecordSuccess()
	}
	e.logCycle(cycleID, outcome, detail, payload, now)
}

func (e *Engine) runCycle(ctx context.Context, cycleID string, now time.Time) (outcome, detail string, payload map[string]any, err error) {
	payload = map[string]any{}

	day, err := e.ensureDay(ctx, now)
	if err != nil {
		return "", "", payload, err
	}

	biasCandles, entryCandles, err := e.fetchCandles(ctx, now)
	if err != nil {
		return "", "", payload, err
	}
	if len(entryCandles) == 0 {
		return "", "", payload, fmt.Errorf("no closed entry candles for %s", e.cfg.Symbol)
	}
	lastBar := entryCandles[len(entryCandles)-1]

	payload["last_close"] = lastBar.Close
	payload["bars"] = map[string]int{"bias": len(biasCandles), "entry": len(entryCandles)}

	plan, err := e.deps.Strategy.Evaluate(ctx, strategy.EvalInput{
		CycleID:      cycleID,
		Symbol:       e.cfg.Symbol,
		BiasCandles:  biasCandles,
		EntryCandles: entryCandles,
		LastExitSide: day.LastExitSide,
		LastExitAt:   day.LastExitAt,
		Now:          now,
	})
	if err != nil {
		return "", "", payload, fmt.Errorf("evaluate strategy: %w", err)
	}
	if plan != nil {
		payload["plan"] = plan
	}

	e.mu.Lock()
	pos := e.pos
	e.mu.Unlock()

	if pos != nil {
		return e.managePosition(ctx, pos, day, lastBar, plan, now, payload)
	}

	if plan == nil {
		return outcomeNoSignal, "", payload, nil
	}
	return e.tryOpen(ctx, plan, day, entryCandles, lastBar, now, payload)
}

func (e *Engine) managePosition(ctx context.Context, pos *risk.Position, day *guard.DayState, lastBar market.Candle, plan *strategy.TradePlan, now time.Time, payload map[string]any) (string, string, map[string]any, error) {
	// Exchange truth first: a stop may have been hit manually or the
	// position closed out-of-band between cycles.
	res, err := e.deps.Reconciler.Check(ctx, pos)
	if err != nil {
		return "", "", payload, err
	}
	if res.Closed {
		if err := e.recordClose(ctx, *res.Trade, day); err != nil {
			return "", "", payload, err
		}
		payload["trade"] = res.Trade
		e.notifyf("position %s %s closed on exchange at %.4f (pnl %.4f)",
			pos.Symbol, pos.Side, res.Trade.ExitPrice, res.Trade.PnL)
		return outcomeReconciled, string(res.Trade.Reason), payload, nil
	}

	exit := e.deps.Risk.EvaluateBar(pos, lastBar, plan, now)
	if exit == nil {
		// Persist the mutated trailing/reverse state before sleeping.
		if err := e.deps.Store.Positions().Save(ctx, pos); err != nil {
			return "", "", payload, fmt.Errorf("persist position state: %w", err)
		}
		return outcomeHolding, "", payload, nil
	}
	payload["exit"] = exit

	trade, err := e.executeClose(ctx, pos, exit, now)
	if err != nil {
		return "", "", payload, err
	}
	if err := e.recordClose(ctx, *trade, day); err != nil {
		// The close order filled; losing the bookkeeping here leaves local
		// state claiming a position the exchange no longer has.
		e.halt(fmt.Sprintf("close filled but persistence failed: %v", err))
		return "", "", payload, err
	}
	payload["trade"] = trade
	e.notifyf("closed %s %s: %s at %.4f (pnl %.4f)",
		trade.Symbol, trade.Side, trade.Reason, trade.ExitPrice, trade.PnL)
	return outcomeClosed, string(exit.Reason), payload, nil
}

func (e *Engine) tryOpen(ctx context.Context, plan *strategy.TradePlan, day *guard.DayState, entryCandles []market.Candle, lastBar market.Candle, now time.Time, payload map[string]any) (string, string, map[string]any, error) {
	e.mu.Lock()
	halted, haltReason := e.halted, e.haltReason
	e.mu.Unlock()
	if halted {
		return outcomeHalted, haltReason, payload, nil
	}

	verdict := e.deps.Guard.Check(plan, false, day, now)
	payload["verdict"] = verdict
	if !verdict.Allowed {
		logger.Infof("[engine] %s plan blocked: %s %s", e.cfg.Symbol, verdict.Reason, verdict.Detail)
		return outcomeBlocked, string(verdict.Reason), payload, nil
	}

	atrSeries := indicator.ATR(entryCandles, e.cfg.ATRPeriod)
	atr := indicator.Last(atrSeries)
	if !indicator.Defined(atr) || atr <= 0 {
		return outcomeSkipped, "atr_undefined", payload, nil
	}

	var equity float64
	err := e.withRetry(ctx, "fetch balance", func() error {
		var berr error
		equity, berr = e.deps.Exchange.Balance(ctx)
		return berr
	})
	if err != nil {
		return "", "", payload, err
	}

	entryPrice := lastBar.Close
	stopDistance := e.deps.Risk.StopDistance(atr)
	notional, quantity := risk.PositionSize(e.deps.Sizing, equity, entryPrice, stopDistance, day.LossStreak)
	if quantity <= 0 {
		return outcomeSkipped, "size_zero", payload, nil
	}

	var result *exchange.OrderResult
	err = e.withRetry(ctx, "place open order", func() error {
		var oerr error
		result, oerr = e.deps.Exchange.PlaceMarketOrder(ctx, exchange.OrderRequest{
			Symbol:   plan.Symbol,
			Side:     openSide(plan.Side),
			Quantity: quantity,
		})
		return oerr
	})
	if err != nil {
		return "", "", payload, fmt.Errorf("open order: %w", err)
	}

	fill := result.AvgFillPrice
	if fill <= 0 {
		fill = entryPrice
	}
	filledQty := result.ExecutedQty
	if filledQty <= 0 {
		filledQty = quantity
	}

	pos := e.deps.Risk.Open(plan, fill, filledQty, notional, atr, now, verdict.Key)
	day.RecordOpen(verdict.Key, now)

	e.mu.Lock()
	e.pos = pos
	e.mu.Unlock()

	if err := e.deps.Store.Positions().Save(ctx, pos); err != nil {
		// Order filled but the local record is gone on restart: stop
		// opening anything else until an operator sorts it out.
		e.halt(fmt.Sprintf("open filled (order %s) but persistence failed: %v", result.OrderID, err))
		return "", "", payload, err
	}
	if err := e.deps.Store.DayStates().Save(ctx, e.cfg.Symbol, day); err != nil {
		e.halt(fmt.Sprintf("open filled but day-state persistence failed: %v", err))
		return "", "", payload, err
	}

	payload["position"] = pos
	e.notifyf("opened %s %s (%s/%s) qty %.6f at %.4f, stop %.4f",
		pos.Symbol, pos.Side, plan.Reason, plan.Level, pos.Quantity, pos.EntryPrice, pos.InitialStop)
	return outcomeOpened, string(plan.Reason), payload, nil
}

// executeClose places the reduce-only close order. "No position to close"
// from the exchange confirms the position is already flat and the exit is
// booked at the computed price.
func (e *Engine) executeClose(ctx context.Context, pos *risk.Position, exit *risk.Exit, now time.Time) (*risk.ClosedTrade, error) {
	fill := exit.Price
	err := e.withRetry(ctx, "place close order", func() error {
		result, oerr := e.deps.Exchange.PlaceMarketOrder(ctx, exchange.OrderRequest{
			Symbol:     pos.Symbol,
			Side:       openSide(pos.Side.Opposite()),
			Quantity:   pos.Quantity,
			ReduceOnly: true,
		})
		if errors.Is(oerr, exchange.ErrNoPositionToClose) {
			logger.Warnf("[engine] %s close found no position on exchange, treating as already closed", pos.Symbol)
			return nil
		}
		if oerr != nil {
			return oerr
		}
		if result.AvgFillPrice > 0 {
			fill = result.AvgFillPrice
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("close order: %w", err)
	}
	fees := e.cfg.FeeRate * (pos.Notional + fill*pos.Quantity)
	trade := e.deps.Risk.Close(pos, fill, exit.Reason, fees, now)
	return &trade, nil
}

// recordClose books a finished trade: ledger row, day accounting, position
// row cleared, in-memory position dropped.
func (e *Engine) recordClose(ctx context.Context, trade risk.ClosedTrade, day *guard.DayState) error {
	if err := e.deps.Store.Trades().Insert(ctx, &trade); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	day.RecordClose(trade.PnL, trade.Side, trade.ClosedAt)
	if err := e.deps.Store.DayStates().Save(ctx, e.cfg.Symbol, day); err != nil {
		return fmt.Errorf("persist day state: %w", err)
	}
	if err := e.deps.Store.Positions().Clear(ctx, e.cfg.Symbol); err != nil {
		return fmt.Errorf("clear position: %w", err)
	}
	e.mu.Lock()
	e.pos = nil
	e.mu.Unlock()
	return nil
}

func (e *Engine) fetchCandles(ctx context.Context, now time.Time) (bias, entry []market.Candle, err error) {
	err = e.withRetry(ctx, "fetch bias candles", func() error {
		var ferr error
		bias, ferr = e.deps.Source.FetchHistory(ctx, e.cfg.Symbol, e.cfg.BiasInterval, e.cfg.BiasLimit)
		return ferr
	})
	if err != nil {
		return nil, nil, err
	}
	err = e.withRetry(ctx, "fetch entry candles", func() error {
		var ferr error
		entry, ferr = e.deps.Source.FetchHistory(ctx, e.cfg.Symbol, e.cfg.EntryInterval, e.cfg.EntryLimit)
		return ferr
	})
	if err != nil {
		return nil, nil, err
	}
	return scheduler.DropUnclosed(bias, now), scheduler.DropUnclosed(entry, now), nil
}

func (e *Engine) ensureDay(ctx context.Context, now time.Time) (*guard.DayState, error) {
	e.mu.Lock()
	day := e.day
	e.mu.Unlock()

	changed := false
	if day == nil {
		day = guard.NewDayState(now, e.deps.Guard.Location())
		changed = true
	} else if day.Rollover(now, e.deps.Guard.Location()) {
		logger.Infof("[engine] %s day rolled over to %s", e.cfg.Symbol, day.Date)
		changed = true
	}
	if changed {
		if err := e.deps.Store.DayStates().Save(ctx, e.cfg.Symbol, day); err != nil {
			return nil, fmt.Errorf("persist day state: %w", err)
		}
	}
	e.mu.Lock()
	e.day = day
	e.mu.Unlock()
	return day, nil
}

func (e *Engine) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		logger.Warnf("[engine] %s attempt %d/%d failed: %v", op, attempt, e.cfg.RetryAttempts, lastErr)
		if attempt == e.cfg.RetryAttempts {
			break
		}
		timer := time.NewTimer(time.Duration(attempt) * e.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (e *Engine) halt(reason string) {
	e.mu.Lock()
	e.halted = true
	e.haltReason = reason
	e.mu.Unlock()
	logger.Errorf("[engine] %s HALTED: %s", e.cfg.Symbol, reason)
	// Best effort with a fresh context; the cycle context may already be
	// dead and the flag must still land on disk.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.deps.Store.EngineState().SetHalted(ctx, e.cfg.Symbol, reason, time.Now()); err != nil {
		logger.Errorf("[engine] persisting halted flag failed: %v", err)
	}
	e.notifyf("HALTED %s: %s", e.cfg.Symbol, reason)
}

func (e *Engine) logCycle(cycleID, outcome, detail string, payload map[string]any, at time.Time) {
	var raw []byte
	if len(payload) > 0 {
		raw, _ = json.Marshal(payload)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := e.deps.Store.CycleLogs().Insert(ctx, &model.CycleLogModel{
		CycleID:     cycleID,
		Symbol:      e.cfg.Symbol,
		Outcome:     outcome,
		Detail:      detail,
		PayloadJSON: raw,
		AtUnix:      at.Unix(),
	})
	if err != nil {
		logger.Errorf("[engine] cycle log insert failed: %v", err)
	}
}

func (e *Engine) notifyf(format string, args ...any) {
	if err := e.deps.Notifier.SendText(fmt.Sprintf(format, args...)); err != nil {
		logger.Warnf("[engine] notify failed: %v", err)
	}
}

func openSide(side strategy.Side) string {
	if side == strategy.SideShort {
		return "sell"
	}
	return "buy"
}

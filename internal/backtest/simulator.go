package backtest

import (
	"context"
	"fmt"
	"time"

	"stratus/internal/guard"
	"stratus/internal/indicator"
	"stratus/internal/market"
	"stratus/internal/risk"
	"stratus/internal/strategy"
)

// allowAllNews stands in for the live news gate: historical replays have no
// verdict feed.
type allowAllNews struct{}

func (allowAllNews) Blocked(strategy.Side) (bool, []string) { return false, nil }

// Result of one simulation.
type Result struct {
	Config    RunConfig          `json:"config"`
	Stats     RunStats           `json:"stats"`
	Trades    []risk.ClosedTrade `json:"trades"`
	Snapshots []Snapshot         `json:"snapshots"`
}

// Simulate replays entry-timeframe candles bar by bar through the live
// decision stack. biasCandles are sliced with a cursor so the strategy only
// ever sees higher-timeframe bars that had closed by the current entry bar.
// Deterministic: same inputs, same result.
func Simulate(ctx context.Context, cfg RunConfig, biasCandles, entryCandles []market.Candle) (*Result, error) {
	cfg = cfg.withDefaults()
	if len(entryCandles) <= cfg.WarmupBars {
		return nil, fmt.Errorf("need more than %d entry candles, got %d", cfg.WarmupBars, len(entryCandles))
	}

	strat, err := strategy.New(cfg.Strategy, cfg.StrategyParams)
	if err != nil {
		return nil, err
	}
	riskMgr := risk.NewManager(cfg.Risk)
	gate, err := guard.New(cfg.Guard, allowAllNews{})
	if err != nil {
		return nil, err
	}

	atrPeriod := cfg.StrategyParams.ATRPeriod
	if atrPeriod <= 0 {
		atrPeriod = 14
	}

	res := &Result{Config: cfg}
	balance := cfg.InitialBalance
	peak := balance
	var totalFees float64
	var pos *risk.Position
	var day *guard.DayState
	biasEnd := 0

	closePosition := func(pos *risk.Position, exitPrice float64, reason risk.CloseReason, at time.Time) {
		fill := applySlippage(exitPrice, pos.Side, false, cfg.SlippagePct)
		fees := cfg.FeeRate * (pos.Notional + fill*pos.Quantity)
		trade := riskMgr.Close(pos, fill, reason, fees, at)
		balance += trade.PnL
		totalFees += trade.Fees
		day.RecordClose(trade.PnL, trade.Side, at)
		res.Trades = append(res.Trades, trade)
	}

	for i := cfg.WarmupBars; i < len(entryCandles); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar := entryCandles[i]
		barTime := time.UnixMilli(bar.CloseTime)

		for biasEnd < len(biasCandles) && biasCandles[biasEnd].CloseTime <= bar.CloseTime {
			biasEnd++
		}
		entrySlice := entryCandles[:i+1]

		if day == nil {
			day = guard.NewDayState(barTime, gate.Location())
		} else {
			day.Rollover(barTime, gate.Location())
		}

		cycleID := fmt.Sprintf("bar-%d", bar.OpenTime)
		plan, err := strat.Evaluate(ctx, strategy.EvalInput{
			CycleID:      cycleID,
			Symbol:       cfg.Symbol,
			BiasCandles:  biasCandles[:biasEnd],
			EntryCandles: entrySlice,
			LastExitSide: day.LastExitSide,
			LastExitAt:   day.LastExitAt,
			Now:          barTime,
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate bar %d: %w", i, err)
		}

		if pos != nil {
			if exit := riskMgr.EvaluateBar(pos, bar, plan, barTime); exit != nil {
				closePosition(pos, exit.Price, exit.Reason, barTime)
				pos = nil
			}
		} else if plan != nil {
			verdict := gate.Check(plan, false, day, barTime)
			if verdict.Allowed {
				atr := indicator.Last(indicator.ATR(entrySlice, atrPeriod))
				if indicator.Defined(atr) && atr > 0 {
					fill := applySlippage(bar.Close, plan.Side, true, cfg.SlippagePct)
					notional, qty := risk.PositionSize(cfg.Sizing, balance, fill, riskMgr.StopDistance(atr), day.LossStreak)
					if qty > 0 {
						pos = riskMgr.Open(plan, fill, qty, notional, atr, barTime, verdict.Key)
						day.RecordOpen(verdict.Key, barTime)
					}
				}
			}
		}

		equity := balance
		if pos != nil {
			equity += pos.UnrealizedPnL(bar.Close)
		}
		if equity > peak {
			peak = equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - equity) / peak
		}
		res.Snapshots = append(res.Snapshots, Snapshot{
			TS:       bar.CloseTime,
			Equity:   equity,
			Balance:  balance,
			Peak:     peak,
			Drawdown: dd,
		})
	}

	// Open tail position is closed at the final bar, reason end_of_data.
	if pos != nil {
		last := entryCandles[len(entryCandles)-1]
		closePosition(pos, last.Close, risk.ReasonEndOfData, time.UnixMilli(last.CloseTime))
		pos = nil
	}

	res.Stats = summarize(cfg, res, balance, peak, totalFees)
	return res, nil
}

// applySlippage moves the fill against the position: buys fill higher,
// sells lower. Entries buy for longs, exits buy for shorts.
func applySlippage(price float64, side strategy.Side, entry bool, slipPct float64) float64 {
	if slipPct <= 0 {
		return price
	}
	buying := (side == strategy.SideLong) == entry
	if buying {
		return price * (1 + slipPct)
	}
	return price * (1 - slipPct)
}

func summarize(cfg RunConfig, res *Result, balance, peak, totalFees float64) RunStats {
	stats := RunStats{
		FinalBalance: balance,
		Profit:       balance - cfg.InitialBalance,
		Trades:       len(res.Trades),
		TotalFees:    totalFees,
		EquityPeak:   peak,
		CloseReasons: map[string]int{},
		FinishedAt:   time.Now(),
	}
	if cfg.InitialBalance > 0 {
		stats.ReturnPct = stats.Profit / cfg.InitialBalance * 100
	}
	var holdMinutes float64
	for _, tr := range res.Trades {
		if tr.PnL > 0 {
			stats.Wins++
		} else {
			stats.Losses++
		}
		stats.Expectancy += tr.PnL
		holdMinutes += tr.HoldDuration.Minutes()
		stats.CloseReasons[string(tr.Reason)]++
	}
	if stats.Trades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Trades)
		stats.Expectancy /= float64(stats.Trades)
		stats.AvgHoldingMin = holdMinutes / float64(stats.Trades)
	}
	for _, snap := range res.Snapshots {
		if snap.Drawdown*100 > stats.MaxDrawdownPct {
			stats.MaxDrawdownPct = snap.Drawdown * 100
		}
	}
	return stats
}

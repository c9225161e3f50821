// Package backtest replays historical candles through the exact live
// decision stack: strategy evaluation, the risk state machine and the
// execution gate. A backtest that disagrees with live behavior is a bug in
// the backtest.
package backtest

import (
	"encoding/json"
	"time"

	"stratus/internal/guard"
	"stratus/internal/risk"
	"stratus/internal/strategy"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig is the parameter snapshot for one simulation, stored with the
// run so it can be replayed.
type RunConfig struct {
	Symbol         string            `json:"symbol" mapstructure:"symbol"`
	StartTS        int64             `json:"start_ts" mapstructure:"start_ts"`
	EndTS          int64             `json:"end_ts" mapstructure:"end_ts"`
	BiasTimeframe  string            `json:"bias_timeframe" mapstructure:"bias_timeframe"`
	EntryTimeframe string            `json:"entry_timeframe" mapstructure:"entry_timeframe"`
	InitialBalance float64           `json:"initial_balance" mapstructure:"initial_balance"`
	FeeRate        float64           `json:"fee_rate" mapstructure:"fee_rate"`
	SlippagePct    float64           `json:"slippage_pct" mapstructure:"slippage_pct"`
	WarmupBars     int               `json:"warmup_bars" mapstructure:"warmup_bars"`
	Strategy       string            `json:"strategy" mapstructure:"strategy"`
	StrategyParams strategy.Params   `json:"strategy_params" mapstructure:"strategy_params"`
	Risk           risk.Config       `json:"risk" mapstructure:"risk"`
	Sizing         risk.SizingConfig `json:"sizing" mapstructure:"sizing"`
	Guard          guard.Config      `json:"guard" mapstructure:"guard"`
	Notes          string            `json:"notes,omitempty" mapstructure:"notes"`
}

func (c RunConfig) withDefaults() RunConfig {
	if c.BiasTimeframe == "" {
		c.BiasTimeframe = "4h"
	}
	if c.EntryTimeframe == "" {
		c.EntryTimeframe = "1h"
	}
	if c.InitialBalance <= 0 {
		c.InitialBalance = 10000
	}
	if c.WarmupBars <= 0 {
		c.WarmupBars = 60
	}
	if c.Strategy == "" {
		c.Strategy = "breakout_retest"
	}
	return c
}

// RunStats aggregates the outcome of a finished simulation.
type RunStats struct {
	FinalBalance   float64   `json:"final_balance"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	Trades         int       `json:"trades"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	WinRate        float64   `json:"win_rate"`
	Expectancy     float64   `json:"expectancy"`
	TotalFees      float64   `json:"total_fees"`
	EquityPeak     float64   `json:"equity_peak"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	AvgHoldingMin  float64   `json:"avg_holding_minutes"`
	CloseReasons   map[string]int `json:"close_reasons,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run is one simulation task as stored and served over HTTP.
type Run struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Config      RunConfig `json:"config"`
	Stats       RunStats  `json:"stats"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

func (r Run) MarshalStats() ([]byte, error)  { return json.Marshal(r.Stats) }
func (r Run) MarshalConfig() ([]byte, error) { return json.Marshal(r.Config) }

// Snapshot is one equity-curve point, taken after every executed bar.
type Snapshot struct {
	RunID    string  `json:"run_id"`
	TS       int64   `json:"ts"`
	Equity   float64 `json:"equity"`
	Balance  float64 `json:"balance"`
	Peak     float64 `json:"peak"`
	Drawdown float64 `json:"drawdown"`
}

// RunRequest is the HTTP submission shape.
type RunRequest struct {
	Symbol         string  `json:"symbol" binding:"required"`
	StartTS        int64   `json:"start_ts" binding:"required"`
	EndTS          int64   `json:"end_ts" binding:"required"`
	BiasTimeframe  string  `json:"bias_timeframe"`
	EntryTimeframe string  `json:"entry_timeframe"`
	InitialBalance float64 `json:"initial_balance"`
	FeeRate        float64 `json:"fee_rate"`
	SlippagePct    float64 `json:"slippage_pct"`
	Strategy       string  `json:"strategy"`
}

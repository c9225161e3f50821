package model

import (
	"gorm.io/datatypes"
)

// PositionModel is the open-position snapshot, one row per symbol. The
// full risk state lives in StateJSON so schema changes in the state
// machine never need a migration.
type PositionModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;uniqueIndex"`
	StateJSON     datatypes.JSON `gorm:"column:state_json;type:TEXT"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "open_positions" }

// DayStateModel is the per-symbol daily accounting window.
type DayStateModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;uniqueIndex"`
	Date          string         `gorm:"column:date"`
	StateJSON     datatypes.JSON `gorm:"column:state_json;type:TEXT"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (DayStateModel) TableName() string { return "day_states" }

// TradeModel is one closed-trade ledger row. Append only.
type TradeModel struct {
	ID           int64   `gorm:"column:id;primaryKey"`
	Symbol       string  `gorm:"column:symbol;index"`
	Side         string  `gorm:"column:side"`
	Reason       string  `gorm:"column:reason"`
	EntryPrice   float64 `gorm:"column:entry_price"`
	ExitPrice    float64 `gorm:"column:exit_price"`
	Quantity     float64 `gorm:"column:quantity"`
	Notional     float64 `gorm:"column:notional"`
	PnL          float64 `gorm:"column:pnl"`
	Fees         float64 `gorm:"column:fees"`
	OpenedAtUnix int64   `gorm:"column:opened_at"`
	ClosedAtUnix int64   `gorm:"column:closed_at;index"`
	HoldSeconds  int64   `gorm:"column:hold_seconds"`
	CycleID      string  `gorm:"column:cycle_id"`
}

func (TradeModel) TableName() string { return "trades" }

// CycleLogModel is one decision-cycle audit row. PayloadJSON carries the
// inputs and outcome of the cycle for later inspection.
type CycleLogModel struct {
	ID          int64          `gorm:"column:id;primaryKey"`
	CycleID     string         `gorm:"column:cycle_id;index"`
	Symbol      string         `gorm:"column:symbol;index"`
	Outcome     string         `gorm:"column:outcome"`
	Detail      string         `gorm:"column:detail"`
	PayloadJSON datatypes.JSON `gorm:"column:payload_json;type:TEXT"`
	AtUnix      int64          `gorm:"column:at;index"`
}

func (CycleLogModel) TableName() string { return "cycle_logs" }

// EngineStateModel holds durable engine flags, one row per symbol.
type EngineStateModel struct {
	ID           int64  `gorm:"column:id;primaryKey"`
	Symbol       string `gorm:"column:symbol;uniqueIndex"`
	Halted       bool   `gorm:"column:halted"`
	HaltReason   string `gorm:"column:halt_reason"`
	HaltedAtUnix int64  `gorm:"column:halted_at"`
}

func (EngineStateModel) TableName() string { return "engine_states" }

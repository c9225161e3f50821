// Package store defines the persistence boundary. Everything the engine
// mutates is written back through these interfaces immediately after the
// mutation, so a restart resumes from the last consistent state.
package store

import (
	"context"
	"time"

	"stratus/internal/guard"
	"stratus/internal/risk"
	"stratus/internal/store/model"
)

// PositionRepository holds at most one open position per symbol.
type PositionRepository interface {
	// Save upserts the open position snapshot for its symbol.
	Save(ctx context.Context, pos *risk.Position) error
	// Load returns nil, nil when no position is open.
	Load(ctx context.Context, symbol string) (*risk.Position, error)
	// Clear removes the open position after it closed.
	Clear(ctx context.Context, symbol string) error
}

// DayStateRepository persists the per-symbol daily accounting window.
type DayStateRepository interface {
	Save(ctx context.Context, symbol string, day *guard.DayState) error
	// Load returns nil, nil when no state was ever written.
	Load(ctx context.Context, symbol string) (*guard.DayState, error)
}

// TradeRepository is the append-only closed-trade ledger.
type TradeRepository interface {
	Insert(ctx context.Context, trade *risk.ClosedTrade) error
	ListRecent(ctx context.Context, symbol string, limit int) ([]model.TradeModel, error)
}

// CycleLogRepository records one row per decision cycle.
type CycleLogRepository interface {
	Insert(ctx context.Context, entry *model.CycleLogModel) error
	ListRecent(ctx context.Context, symbol string, limit int) ([]model.CycleLogModel, error)
}

// EngineStateRepository holds the persistent halted flag. Once set it
// survives restarts until an operator clears it.
type EngineStateRepository interface {
	SetHalted(ctx context.Context, symbol, reason string, at time.Time) error
	ClearHalted(ctx context.Context, symbol string) error
	Halted(ctx context.Context, symbol string) (bool, string, error)
}

type Store interface {
	Positions() PositionRepository
	DayStates() DayStateRepository
	Trades() TradeRepository
	CycleLogs() CycleLogRepository
	EngineState() EngineStateRepository
	Close() error
}

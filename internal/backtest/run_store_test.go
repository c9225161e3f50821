package backtest

import (
	"context"
	"testing"
	"time"

	"stratus/internal/risk"
	"stratus/internal/strategy"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestResultStore(t *testing.T) *ResultStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	store, err := NewResultStoreFromDB(db)
	require.NoError(t, err)
	return store
}

func TestResultStoreRunLifecycle(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	run := Run{
		ID:        "run-1",
		Symbol:    "BTCUSDT",
		Status:    RunStatusPending,
		Config:    simTestConfig(),
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.InsertRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, RunStatusPending, got.Status)
	require.Equal(t, "BTCUSDT", got.Symbol)
	require.Equal(t, "breakout_retest", got.Config.Strategy)

	require.NoError(t, store.UpdateRunStatus(ctx, "run-1", RunStatusRunning, ""))
	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, RunStatusRunning, got.Status)

	stats := RunStats{FinalBalance: 10100, Profit: 100, ReturnPct: 1, Trades: 3}
	require.NoError(t, store.FinishRun(ctx, "run-1", RunStatusDone, "", stats))
	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, RunStatusDone, got.Status)
	require.Equal(t, 3, got.Stats.Trades)
	require.InDelta(t, 100.0, got.Stats.Profit, 1e-9)
	require.False(t, got.CompletedAt.IsZero())
}

func TestResultStoreFailedRunKeepsMessage(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertRun(ctx, Run{ID: "run-2", Symbol: "ETHUSDT", Status: RunStatusPending, CreatedAt: time.Now()}))
	require.NoError(t, store.FinishRun(ctx, "run-2", RunStatusFailed, "no candles cached", RunStats{}))

	got, err := store.GetRun(ctx, "run-2")
	require.NoError(t, err)
	require.Equal(t, RunStatusFailed, got.Status)
	require.Equal(t, "no candles cached", got.Message)
}

func TestResultStoreTradesAndSnapshots(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertRun(ctx, Run{ID: "run-3", Symbol: "BTCUSDT", Status: RunStatusDone, CreatedAt: time.Now()}))

	trades := []risk.ClosedTrade{
		{Symbol: "BTCUSDT", Side: strategy.SideLong, Reason: risk.ReasonTakeProfit, EntryPrice: 100, ExitPrice: 105, PnL: 50},
		{Symbol: "BTCUSDT", Side: strategy.SideShort, Reason: risk.ReasonStopLoss, EntryPrice: 104, ExitPrice: 106, PnL: -20},
	}
	require.NoError(t, store.InsertTrades(ctx, "run-3", trades))

	snaps := []Snapshot{
		{TS: simBaseTS, Equity: 10000, Balance: 10000, Peak: 10000},
		{TS: simBaseTS + 3600_000, Equity: 10050, Balance: 10000, Peak: 10050},
	}
	require.NoError(t, store.InsertSnapshots(ctx, "run-3", snaps))

	gotTrades, err := store.ListTrades(ctx, "run-3", 10)
	require.NoError(t, err)
	require.Len(t, gotTrades, 2)
	require.Equal(t, risk.ReasonTakeProfit, gotTrades[0].Reason)
	require.InDelta(t, -20.0, gotTrades[1].PnL, 1e-9)

	gotSnaps, err := store.ListSnapshots(ctx, "run-3", 10)
	require.NoError(t, err)
	require.Len(t, gotSnaps, 2)
	require.InDelta(t, 10050.0, gotSnaps[1].Equity, 1e-9)
}

func TestResultStoreListRuns(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.InsertRun(ctx, Run{ID: id, Symbol: "BTCUSDT", Status: RunStatusPending, CreatedAt: time.Now()}))
	}
	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	_, err = store.GetRun(ctx, "missing")
	require.Error(t, err)
}

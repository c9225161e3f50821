package report

import (
	"bytes"
	"testing"

	"stratus/internal/backtest"
	"stratus/internal/risk"
	"stratus/internal/strategy"

	"github.com/stretchr/testify/require"
)

func testRun() backtest.Run {
	return backtest.Run{
		ID:     "run-1",
		Symbol: "btcusdt",
		Status: backtest.RunStatusDone,
		Config: backtest.RunConfig{BiasTimeframe: "4h", EntryTimeframe: "1h", InitialBalance: 10000},
		Stats:  backtest.RunStats{ReturnPct: 3.5, Trades: 2, WinRate: 0.5, MaxDrawdownPct: 1.2},
	}
}

func testSnapshots() []backtest.Snapshot {
	return []backtest.Snapshot{
		{TS: 1700000000000, Equity: 10000, Balance: 10000, Peak: 10000},
		{TS: 1700003600000, Equity: 10200, Balance: 10000, Peak: 10200, Drawdown: 0},
		{TS: 1700007200000, Equity: 10100, Balance: 10350, Peak: 10200, Drawdown: 0.0098},
	}
}

func TestRenderProducesHTML(t *testing.T) {
	trades := []risk.ClosedTrade{
		{Side: strategy.SideLong, Reason: risk.ReasonTakeProfit, PnL: 350},
		{Side: strategy.SideShort, Reason: risk.ReasonStopLoss, PnL: -120},
	}

	var buf bytes.Buffer
	err := Render(&buf, testRun(), trades, testSnapshots())
	require.NoError(t, err)

	html := buf.String()
	require.Contains(t, html, "BTCUSDT")
	require.Contains(t, html, "echarts")
	require.Contains(t, html, "Drawdown")
	require.Contains(t, html, "Trade PnL")
}

func TestRenderWithoutTrades(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, testRun(), nil, testSnapshots())
	require.NoError(t, err)
	require.NotContains(t, buf.String(), "Trade PnL")
}

func TestRenderRequiresSnapshots(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, testRun(), nil, nil)
	require.Error(t, err)
}

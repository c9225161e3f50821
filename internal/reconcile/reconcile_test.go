package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"stratus/internal/gateway/exchange"
	"stratus/internal/risk"
	"stratus/internal/strategy"

	"github.com/stretchr/testify/require"
)

type stubExchange struct {
	trades []exchange.Trade
	err    error
}

func (s *stubExchange) Name() string { return "stub" }

func (s *stubExchange) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubExchange) RecentTrades(ctx context.Context, symbol string, since time.Time) ([]exchange.Trade, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.trades, nil
}

func (s *stubExchange) Balance(ctx context.Context) (float64, error) { return 0, nil }

func openLong(t *testing.T) *risk.Position {
	t.Helper()
	return &risk.Position{
		Symbol:     "ETHUSDT",
		Side:       strategy.SideLong,
		EntryPrice: 100,
		Quantity:   2,
		Notional:   200,
		OpenedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Meta:       risk.PositionMeta{CycleID: "cycle-1"},
	}
}

func TestCheckAdoptsExchangeClose(t *testing.T) {
	pos := openLong(t)
	closedAt := pos.OpenedAt.Add(45 * time.Minute)
	ex := &stubExchange{trades: []exchange.Trade{
		{Timestamp: pos.OpenedAt, Price: 100, Quantity: 2, Side: "buy"},
		{Timestamp: closedAt, Price: 104, Quantity: 2, Side: "sell", IsClose: true, RealizedPnL: 8, OrderID: "900"},
	}}

	res, err := New(ex).Check(context.Background(), pos)
	require.NoError(t, err)
	require.True(t, res.Closed)
	require.NotNil(t, res.Trade)
	require.Equal(t, risk.ReasonReconciled, res.Trade.Reason)
	require.Equal(t, 104.0, res.Trade.ExitPrice)
	require.Equal(t, 8.0, res.Trade.PnL)
	require.Equal(t, closedAt, res.Trade.ClosedAt)
	require.Equal(t, 45*time.Minute, res.Trade.HoldDuration)
	require.Equal(t, "cycle-1", res.Trade.CycleID)
}

func TestCheckComputesPnLWhenExchangeOmitsIt(t *testing.T) {
	pos := openLong(t)
	ex := &stubExchange{trades: []exchange.Trade{
		{Timestamp: pos.OpenedAt.Add(time.Hour), Price: 97, Quantity: 2, Side: "sell", IsClose: true},
	}}

	res, err := New(ex).Check(context.Background(), pos)
	require.NoError(t, err)
	require.True(t, res.Closed)
	require.InDelta(t, -6.0, res.Trade.PnL, 1e-9)
}

func TestCheckIgnoresOpeningAndPriorFills(t *testing.T) {
	pos := openLong(t)
	ex := &stubExchange{trades: []exchange.Trade{
		// Closing fill from a previous position, before this open.
		{Timestamp: pos.OpenedAt.Add(-time.Hour), Price: 95, Quantity: 1, Side: "sell", IsClose: true, RealizedPnL: -3},
		// Our own opening fill.
		{Timestamp: pos.OpenedAt, Price: 100, Quantity: 2, Side: "buy"},
		// Same-direction add, not a close.
		{Timestamp: pos.OpenedAt.Add(time.Minute), Price: 101, Quantity: 1, Side: "buy"},
	}}

	res, err := New(ex).Check(context.Background(), pos)
	require.NoError(t, err)
	require.False(t, res.Closed)
	require.Nil(t, res.Trade)
}

func TestCheckShortClosesWithBuy(t *testing.T) {
	pos := openLong(t)
	pos.Side = strategy.SideShort
	ex := &stubExchange{trades: []exchange.Trade{
		{Timestamp: pos.OpenedAt.Add(time.Minute), Price: 98, Quantity: 2, Side: "buy", IsClose: true, RealizedPnL: 4},
	}}

	res, err := New(ex).Check(context.Background(), pos)
	require.NoError(t, err)
	require.True(t, res.Closed)
	require.Equal(t, 4.0, res.Trade.PnL)
}

func TestCheckFirstClosingFillWins(t *testing.T) {
	pos := openLong(t)
	ex := &stubExchange{trades: []exchange.Trade{
		{Timestamp: pos.OpenedAt.Add(10 * time.Minute), Price: 103, Quantity: 2, Side: "sell", IsClose: true, RealizedPnL: 6},
		{Timestamp: pos.OpenedAt.Add(20 * time.Minute), Price: 105, Quantity: 2, Side: "sell", IsClose: true, RealizedPnL: 10},
	}}

	res, err := New(ex).Check(context.Background(), pos)
	require.NoError(t, err)
	require.True(t, res.Closed)
	require.Equal(t, 103.0, res.Trade.ExitPrice)
}

func TestCheckPropagatesFetchError(t *testing.T) {
	pos := openLong(t)
	ex := &stubExchange{err: errors.New("timeout")}

	res, err := New(ex).Check(context.Background(), pos)
	require.Error(t, err)
	require.Nil(t, res)
}

func TestCheckNilPositionIsNoop(t *testing.T) {
	res, err := New(&stubExchange{}).Check(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, res.Closed)
}

// Package exchange defines the trading-side boundary. Transport details
// live in the adapters; the core only sees these shapes.
package exchange

import (
	"context"
	"errors"
	"time"
)

// ErrNoPositionToClose is returned when a close is attempted but the
// exchange holds nothing. Callers treat it as confirmation the position is
// already flat, not as a failure.
var ErrNoPositionToClose = errors.New("no position to close")

// Trade is one fill from the account trade history. RealizedPnL is only
// meaningful on reducing fills; IsClose marks those.
type Trade struct {
	Timestamp   time.Time `json:"timestamp"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Side        string    `json:"side"` // buy/sell
	IsClose     bool      `json:"is_close"`
	RealizedPnL float64   `json:"realized_pnl"`
	OrderID     string    `json:"order_id"`
}

type OrderRequest struct {
	Symbol     string
	Side       string // buy/sell
	Quantity   float64
	ReduceOnly bool
}

type OrderResult struct {
	OrderID      string
	AvgFillPrice float64
	ExecutedQty  float64
}

// Exchange is the order/account side of the boundary. All calls block;
// retries and breakers are the caller's concern.
type Exchange interface {
	Name() string

	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// RecentTrades returns fills for the symbol since the given time,
	// ascending.
	RecentTrades(ctx context.Context, symbol string, since time.Time) ([]Trade, error)

	// Balance returns the account equity in the quote currency.
	Balance(ctx context.Context) (float64, error)
}

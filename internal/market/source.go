package market

import "context"

// Source provides historical candles and the latest traded price for a
// single instrument. Implementations must return candles ascending by
// open time with only closed bars included.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	LastPrice(ctx context.Context, symbol string) (float64, error)

	Close() error
}

package backtest

import (
	"context"
	"testing"
	"time"

	"stratus/internal/market"

	"github.com/stretchr/testify/require"
)

func hourlyCandles(startMs int64, n int, price float64) []market.Candle {
	step := time.Hour.Milliseconds()
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			OpenTime:  startMs + int64(i)*step,
			CloseTime: startMs + int64(i+1)*step - 1,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    10,
		}
	}
	return out
}

func TestStoreInsertAndRange(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	candles := hourlyCandles(simBaseTS, 10, 100)

	n, err := store.InsertCandles(ctx, "btcusdt", "1h", candles)
	require.NoError(t, err)
	require.Equal(t, 10, n)

	got, err := store.RangeCandles(ctx, "BTCUSDT", "1h", candles[2].OpenTime, candles[5].OpenTime)
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, candles[2].OpenTime, got[0].OpenTime)
	require.Equal(t, candles[5].OpenTime, got[3].OpenTime)
	require.InDelta(t, 100.0, got[0].Close, 1e-9)
}

func TestStoreUpsertDeduplicates(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	candles := hourlyCandles(simBaseTS, 5, 100)
	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", candles)
	require.NoError(t, err)

	// re-insert with revised closes, same open times
	for i := range candles {
		candles[i].Close = 200
	}
	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", candles)
	require.NoError(t, err)

	count, err := store.CountRange(ctx, "BTCUSDT", "1h", candles[0].OpenTime, candles[4].OpenTime)
	require.NoError(t, err)
	require.Equal(t, int64(5), count)

	got, err := store.RangeCandles(ctx, "BTCUSDT", "1h", candles[0].OpenTime, candles[4].OpenTime)
	require.NoError(t, err)
	require.InDelta(t, 200.0, got[0].Close, 1e-9)
}

func TestStoreManifest(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	candles := hourlyCandles(simBaseTS, 8, 100)
	_, err = store.InsertCandles(ctx, "ETHUSDT", "1h", candles)
	require.NoError(t, err)

	m, err := store.Manifest(ctx, "ETHUSDT", "1h")
	require.NoError(t, err)
	require.Equal(t, "ETHUSDT", m.Symbol)
	require.Equal(t, "1h", m.Timeframe)
	require.Equal(t, int64(8), m.Rows)
	require.Equal(t, candles[0].OpenTime, m.MinTime)
	require.Equal(t, candles[7].OpenTime, m.MaxTime)
}

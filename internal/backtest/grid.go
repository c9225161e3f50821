package backtest

import (
	"context"
	"fmt"
	"runtime"

	"stratus/internal/market"
	"stratus/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// GridSpec sweeps strategy parameter variants over one shared candle range.
type GridSpec struct {
	Base     RunConfig
	Variants []strategy.Params
	// Parallelism caps concurrent simulations, 0 = NumCPU.
	Parallelism int
}

// GridResult pairs a variant with its simulation outcome.
type GridResult struct {
	Index  int             `json:"index"`
	Params strategy.Params `json:"params"`
	Stats  RunStats        `json:"stats"`
}

// RunGrid simulates every variant concurrently. Each simulation gets its own
// config copy; candle slices are shared read-only.
func RunGrid(ctx context.Context, spec GridSpec, biasCandles, entryCandles []market.Candle) ([]GridResult, error) {
	if len(spec.Variants) == 0 {
		return nil, fmt.Errorf("grid has no variants")
	}
	limit := spec.Parallelism
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	results := make([]GridResult, len(spec.Variants))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, params := range spec.Variants {
		i, params := i, params
		g.Go(func() error {
			cfg := spec.Base
			cfg.StrategyParams = params
			res, err := Simulate(ctx, cfg, biasCandles, entryCandles)
			if err != nil {
				return fmt.Errorf("variant %d: %w", i, err)
			}
			results[i] = GridResult{Index: i, Params: params, Stats: res.Stats}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BestByReturn picks the variant with the highest return, requiring at least
// minTrades fills so a no-trade variant cannot win on a flat equity curve.
func BestByReturn(results []GridResult, minTrades int) (GridResult, bool) {
	best := GridResult{}
	found := false
	for _, r := range results {
		if r.Stats.Trades < minTrades {
			continue
		}
		if !found || r.Stats.ReturnPct > best.Stats.ReturnPct {
			best = r
			found = true
		}
	}
	return best, found
}

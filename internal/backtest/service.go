package backtest

import (
	"context"
	"fmt"
	"time"

	"stratus/internal/logger"
	"stratus/internal/market"

	"github.com/google/uuid"
)

type ServiceConfig struct {
	DataRoot    string
	ResultsPath string
	Source      CandleSource
	// Defaults merged under every RunRequest.
	BaseRun RunConfig
}

// Service owns the candle cache, the result store and run execution.
// Runs execute asynchronously; status is tracked in the result store.
type Service struct {
	store   *Store
	results *ResultStore
	source  CandleSource
	base    RunConfig
}

func NewService(cfg ServiceConfig) (*Service, error) {
	store, err := NewStore(cfg.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("open candle cache: %w", err)
	}
	results, err := NewResultStore(cfg.ResultsPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open result store: %w", err)
	}
	source := cfg.Source
	if source == nil {
		source = NewBinanceSource("")
	}
	return &Service{
		store:   store,
		results: results,
		source:  source,
		base:    cfg.BaseRun,
	}, nil
}

func (s *Service) Close() error {
	err := s.store.Close()
	if rerr := s.results.Close(); err == nil {
		err = rerr
	}
	return err
}

func (s *Service) Results() *ResultStore { return s.results }
func (s *Service) Candles() *Store      { return s.store }

// StartRun validates the request, records a pending run and launches it in
// the background.
func (s *Service) StartRun(req RunRequest) (Run, error) {
	cfg := s.base
	cfg.Symbol = req.Symbol
	cfg.StartTS = req.StartTS
	cfg.EndTS = req.EndTS
	if req.BiasTimeframe != "" {
		cfg.BiasTimeframe = req.BiasTimeframe
	}
	if req.EntryTimeframe != "" {
		cfg.EntryTimeframe = req.EntryTimeframe
	}
	if req.InitialBalance > 0 {
		cfg.InitialBalance = req.InitialBalance
	}
	if req.FeeRate > 0 {
		cfg.FeeRate = req.FeeRate
	}
	if req.SlippagePct > 0 {
		cfg.SlippagePct = req.SlippagePct
	}
	if req.Strategy != "" {
		cfg.Strategy = req.Strategy
	}
	cfg = cfg.withDefaults()

	if cfg.Symbol == "" || cfg.StartTS <= 0 || cfg.EndTS <= cfg.StartTS {
		return Run{}, fmt.Errorf("invalid run request: symbol/start/end")
	}
	if _, err := ParseTimeframe(cfg.BiasTimeframe); err != nil {
		return Run{}, err
	}
	if _, err := ParseTimeframe(cfg.EntryTimeframe); err != nil {
		return Run{}, err
	}

	run := Run{
		ID:        uuid.NewString(),
		Symbol:    cfg.Symbol,
		Status:    RunStatusPending,
		Config:    cfg,
		CreatedAt: time.Now(),
	}
	if err := s.results.InsertRun(context.Background(), run); err != nil {
		return Run{}, err
	}
	go s.execute(run)
	return run, nil
}

func (s *Service) execute(run Run) {
	ctx := context.Background()
	if err := s.results.UpdateRunStatus(ctx, run.ID, RunStatusRunning, ""); err != nil {
		logger.Errorf("[backtest] run %s status update failed: %v", run.ID, err)
	}
	stats, err := s.runOnce(ctx, run)
	if err != nil {
		logger.Errorf("[backtest] run %s failed: %v", run.ID, err)
		if ferr := s.results.FinishRun(ctx, run.ID, RunStatusFailed, err.Error(), RunStats{}); ferr != nil {
			logger.Errorf("[backtest] run %s finish update failed: %v", run.ID, ferr)
		}
		return
	}
	if err := s.results.FinishRun(ctx, run.ID, RunStatusDone, "", stats); err != nil {
		logger.Errorf("[backtest] run %s finish update failed: %v", run.ID, err)
	}
	logger.Infof("[backtest] run %s done: trades=%d return=%.2f%% maxDD=%.2f%%",
		run.ID, stats.Trades, stats.ReturnPct, stats.MaxDrawdownPct)
}

func (s *Service) runOnce(ctx context.Context, run Run) (RunStats, error) {
	cfg := run.Config
	bias, entry, err := s.LoadCandles(ctx, cfg)
	if err != nil {
		return RunStats{}, err
	}
	result, err := Simulate(ctx, cfg, bias, entry)
	if err != nil {
		return RunStats{}, err
	}
	if err := s.results.InsertTrades(ctx, run.ID, result.Trades); err != nil {
		return RunStats{}, fmt.Errorf("persist trades: %w", err)
	}
	if err := s.results.InsertSnapshots(ctx, run.ID, result.Snapshots); err != nil {
		return RunStats{}, fmt.Errorf("persist snapshots: %w", err)
	}
	return result.Stats, nil
}

// LoadCandles returns the bias and entry series for a run config, filling
// cache gaps from the remote source. Both series are padded backwards so
// indicators are warm by StartTS.
func (s *Service) LoadCandles(ctx context.Context, cfg RunConfig) (bias, entry []market.Candle, err error) {
	cfg = cfg.withDefaults()
	biasTF, err := ParseTimeframe(cfg.BiasTimeframe)
	if err != nil {
		return nil, nil, err
	}
	entryTF, err := ParseTimeframe(cfg.EntryTimeframe)
	if err != nil {
		return nil, nil, err
	}

	pad := int64(cfg.WarmupBars) + 10
	biasStart, biasEnd := biasTF.AlignRange(cfg.StartTS-pad*biasTF.durationMillis(), cfg.EndTS)
	entryStart, entryEnd := entryTF.AlignRange(cfg.StartTS-pad*entryTF.durationMillis(), cfg.EndTS)

	if err := s.ensureRange(ctx, cfg.Symbol, biasTF, biasStart, biasEnd); err != nil {
		return nil, nil, err
	}
	if err := s.ensureRange(ctx, cfg.Symbol, entryTF, entryStart, entryEnd); err != nil {
		return nil, nil, err
	}

	bias, err = s.store.RangeCandles(ctx, cfg.Symbol, biasTF.Key, biasStart, biasEnd)
	if err != nil {
		return nil, nil, err
	}
	entry, err = s.store.RangeCandles(ctx, cfg.Symbol, entryTF.Key, entryStart, entryEnd)
	if err != nil {
		return nil, nil, err
	}
	return bias, entry, nil
}

// ensureRange pages missing klines from the source into the cache. Gaps in
// exchange history (delistings, outages) are tolerated: the loop stops when
// the source returns nothing new.
func (s *Service) ensureRange(ctx context.Context, symbol string, tf Timeframe, start, end int64) error {
	have, err := s.store.CountRange(ctx, symbol, tf.Key, start, end)
	if err != nil {
		return err
	}
	want := tf.ExpectedCandles(start, end)
	if have >= want {
		return nil
	}
	logger.Infof("[backtest] %s %s cache has %d/%d bars, fetching from %s",
		symbol, tf.Key, have, want, s.source.Name())

	cursor := start
	for cursor <= end {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := s.source.Fetch(ctx, FetchRequest{
			Symbol:   symbol,
			Interval: tf.SourceInterval,
			Start:    cursor,
			End:      end,
			Limit:    1000,
		})
		if err != nil {
			return fmt.Errorf("fetch %s %s: %w", symbol, tf.Key, err)
		}
		if len(batch) == 0 {
			break
		}
		if _, err := s.store.InsertCandles(ctx, symbol, tf.Key, batch); err != nil {
			return fmt.Errorf("cache %s %s: %w", symbol, tf.Key, err)
		}
		next := batch[len(batch)-1].OpenTime + tf.durationMillis()
		if next <= cursor {
			break
		}
		cursor = next
	}
	return nil
}

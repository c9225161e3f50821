// Package app assembles the process from configuration: stores, exchange
// gateways, the live engine, the backtest service and the HTTP API.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"stratus/internal/backtest"
	"stratus/internal/config"
	"stratus/internal/engine"
	"stratus/internal/logger"
	"stratus/internal/newsgate"
	"stratus/internal/scheduler"
	"stratus/internal/store"
	transporthttp "stratus/internal/transport/http"
)

type App struct {
	cfg *config.Config

	eng      *engine.Engine
	store    store.Store
	news     *newsgate.FileGate
	backtest *backtest.Service
	http     *transporthttp.Server
}

func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.Log.Level)

	a := &App{cfg: cfg}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Run starts the configured services and blocks until ctx is cancelled or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	if a.eng != nil {
		if err := a.eng.Resume(ctx); err != nil {
			return fmt.Errorf("resume engine state: %w", err)
		}
		st := a.eng.Status()
		if st.Position != nil {
			logger.Infof("[app] resumed open %s position on %s, entry %.4f",
				st.Position.Side, st.Position.Symbol, st.Position.EntryPrice)
		}
		if st.Halted {
			logger.Warnf("[app] engine is halted: %s (clear via the API to resume trading)", st.HaltReason)
		}

		sched := scheduler.NewAlignedScheduler(ctx, a.cfg.Scheduler.Interval, a.cfg.Scheduler.Offset)
		sched.RunImmediately = a.cfg.Scheduler.RunImmediately
		group.Go(func() error {
			sched.Start(func() { a.eng.RunCycle(ctx) })
			return nil
		})
	}

	err := group.Wait()
	a.Close()
	return err
}

// Close releases resources. Safe to call more than once.
func (a *App) Close() {
	if a.news != nil {
		_ = a.news.Close()
		a.news = nil
	}
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
	if a.backtest != nil {
		_ = a.backtest.Close()
		a.backtest = nil
	}
}

// Engine exposes the live engine for test harnesses.
func (a *App) Engine() *engine.Engine { return a.eng }

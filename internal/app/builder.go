package app

import (
	"fmt"
	"time"

	"stratus/internal/backtest"
	"stratus/internal/config"
	"stratus/internal/engine"
	"stratus/internal/gateway/binance"
	"stratus/internal/gateway/notifier"
	"stratus/internal/guard"
	"stratus/internal/logger"
	"stratus/internal/newsgate"
	"stratus/internal/risk"
	"stratus/internal/scheduler"
	"stratus/internal/store/sqlite"
	"stratus/internal/strategy"
	transporthttp "stratus/internal/transport/http"
)

// allowAllNews serves when no verdict file is configured.
type allowAllNews struct{}

func (allowAllNews) Blocked(strategy.Side) (bool, []string) { return false, nil }

func (a *App) build() error {
	cfg := a.cfg

	if cfg.Mode == config.ModeBacktest || cfg.Mode == config.ModeBoth || cfg.Backtest.Enabled {
		svc, err := backtest.NewService(backtest.ServiceConfig{
			DataRoot:    cfg.Backtest.DataRoot,
			ResultsPath: cfg.Backtest.ResultsPath,
			Source:      backtest.NewBinanceSource(cfg.Binance.RESTBaseURL),
			BaseRun:     cfg.Backtest.Defaults,
		})
		if err != nil {
			return fmt.Errorf("build backtest service: %w", err)
		}
		a.backtest = svc
	}

	if cfg.Mode == config.ModeLive || cfg.Mode == config.ModeBoth {
		if err := a.buildLive(); err != nil {
			return err
		}
	}

	httpSrv, err := transporthttp.NewServer(cfg.HTTP, a.eng, a.backtest)
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}
	a.http = httpSrv
	return nil
}

func (a *App) buildLive() error {
	cfg := a.cfg

	st, err := sqlite.NewSqliteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	a.store = st

	binCfg := binance.Config{
		APIKey:       cfg.Binance.APIKey,
		APISecret:    cfg.Binance.APISecret,
		RESTBaseURL:  cfg.Binance.RESTBaseURL,
		HTTPTimeout:  cfg.Binance.HTTPTimeout,
		ProxyEnabled: cfg.Binance.ProxyEnabled,
		RESTProxyURL: cfg.Binance.RESTProxyURL,
	}
	source, err := binance.NewSource(binCfg)
	if err != nil {
		return fmt.Errorf("build market source: %w", err)
	}
	trader, err := binance.NewTrader(binCfg)
	if err != nil {
		return fmt.Errorf("build trader: %w", err)
	}

	var news guard.NewsGate = allowAllNews{}
	if cfg.News.Path != "" {
		gate, err := newsgate.NewFileGate(cfg.News)
		if err != nil {
			return fmt.Errorf("build news gate: %w", err)
		}
		a.news = gate
		news = gate
	}

	params, err := resolveStrategyParams(cfg.Strategy)
	if err != nil {
		return err
	}
	strat, err := strategy.New(cfg.Strategy.Name, params)
	if err != nil {
		return err
	}
	gd, err := guard.New(cfg.Guard, news)
	if err != nil {
		return fmt.Errorf("build execution guard: %w", err)
	}

	var notif notifier.TextNotifier = notifier.Noop{}
	if cfg.Telegram.Enabled {
		notif = notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}

	engCfg := cfg.Engine
	if a.cfg.Scheduler.Interval <= 0 {
		if d, ok := scheduler.ParseIntervalDuration(engCfg.EntryInterval); ok {
			a.cfg.Scheduler.Interval = d
		} else {
			a.cfg.Scheduler.Interval = time.Hour
		}
	}

	eng, err := engine.New(engCfg, engine.Deps{
		Strategy: strat,
		Risk:     risk.NewManager(cfg.Risk),
		Sizing:   cfg.Sizing,
		Guard:    gd,
		Source:   source,
		Exchange: trader,
		Store:    st,
		Notifier: notif,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	a.eng = eng
	logger.Infof("[app] live engine ready: %s %s/%s strategy=%s",
		engCfg.Symbol, engCfg.BiasInterval, engCfg.EntryInterval, cfg.Strategy.Name)
	return nil
}

// resolveStrategyParams returns the preset parameters when a preset is
// named, with inline params used as-is otherwise.
func resolveStrategyParams(sc config.StrategyConfig) (strategy.Params, error) {
	if sc.PresetFile == "" {
		return sc.Params, nil
	}
	presets, err := strategy.LoadPresets(sc.PresetFile)
	if err != nil {
		return strategy.Params{}, fmt.Errorf("load strategy presets: %w", err)
	}
	if sc.Preset == "" {
		return sc.Params, nil
	}
	params, ok := presets[sc.Preset]
	if !ok {
		return strategy.Params{}, fmt.Errorf("preset %q not found in %s", sc.Preset, sc.PresetFile)
	}
	return params, nil
}

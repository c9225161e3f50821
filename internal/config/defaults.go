package config

import "time"

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeLive
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = time.Hour
	}
	if c.Scheduler.Offset < 0 {
		c.Scheduler.Offset = 0
	}
	if c.Strategy.Name == "" {
		c.Strategy.Name = "breakout_retest"
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/stratus.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9985"
	}
	if c.Backtest.DataRoot == "" {
		c.Backtest.DataRoot = "data/candles"
	}
	if c.Backtest.ResultsPath == "" {
		c.Backtest.ResultsPath = "data/backtests.db"
	}
	// component-level zero values are resolved by each package's own
	// defaults when the object is constructed
}

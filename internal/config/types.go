// Package config loads the YAML configuration tree, with include-file
// merging, defaults and validation.
package config

import (
	"time"

	"stratus/internal/backtest"
	"stratus/internal/engine"
	"stratus/internal/guard"
	"stratus/internal/newsgate"
	"stratus/internal/risk"
	"stratus/internal/strategy"
	transporthttp "stratus/internal/transport/http"
)

// Mode selects which subsystems the process starts.
const (
	ModeLive     = "live"
	ModeBacktest = "backtest"
	ModeBoth     = "both"
)

type Config struct {
	Mode string    `mapstructure:"mode"`
	Log  LogConfig `mapstructure:"log"`

	Binance   BinanceConfig   `mapstructure:"binance"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Engine    engine.Config   `mapstructure:"engine"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	Strategy StrategyConfig    `mapstructure:"strategy"`
	Risk     risk.Config       `mapstructure:"risk"`
	Sizing   risk.SizingConfig `mapstructure:"sizing"`
	Guard    guard.Config      `mapstructure:"guard"`
	News     newsgate.Config   `mapstructure:"news"`

	Store    StoreConfig          `mapstructure:"store"`
	HTTP     transporthttp.Config `mapstructure:"http"`
	Backtest BacktestConfig       `mapstructure:"backtest"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type BinanceConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	RESTBaseURL  string        `mapstructure:"rest_base_url"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	ProxyEnabled bool          `mapstructure:"proxy_enabled"`
	RESTProxyURL string        `mapstructure:"rest_proxy_url"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type SchedulerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	Offset         time.Duration `mapstructure:"offset"`
	RunImmediately bool          `mapstructure:"run_immediately"`
}

type StrategyConfig struct {
	Name       string          `mapstructure:"name"`
	PresetFile string          `mapstructure:"preset_file"`
	Preset     string          `mapstructure:"preset"`
	Params     strategy.Params `mapstructure:"params"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type BacktestConfig struct {
	Enabled     bool               `mapstructure:"enabled"`
	DataRoot    string             `mapstructure:"data_root"`
	ResultsPath string             `mapstructure:"results_path"`
	Defaults    backtest.RunConfig `mapstructure:"defaults"`
}

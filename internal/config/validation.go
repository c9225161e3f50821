package config

import (
	"fmt"
	"strings"

	"stratus/internal/strategy"
)

func validate(c *Config) error {
	switch c.Mode {
	case ModeLive, ModeBacktest, ModeBoth:
	default:
		return fmt.Errorf("mode must be one of %s, %s, %s", ModeLive, ModeBacktest, ModeBoth)
	}

	if known := strategy.Known(); !contains(known, strings.ToLower(c.Strategy.Name)) {
		return fmt.Errorf("unknown strategy %q (known: %s)", c.Strategy.Name, strings.Join(known, ", "))
	}
	if c.Strategy.Preset != "" && c.Strategy.PresetFile == "" {
		return fmt.Errorf("strategy.preset %q set without strategy.preset_file", c.Strategy.Preset)
	}

	if liveMode(c.Mode) {
		if c.Engine.Symbol == "" {
			return fmt.Errorf("engine.symbol is required in %s mode", c.Mode)
		}
		if c.Binance.APIKey == "" || c.Binance.APISecret == "" {
			return fmt.Errorf("binance.api_key and binance.api_secret are required in %s mode", c.Mode)
		}
		if c.Engine.FeeRate < 0 {
			return fmt.Errorf("engine.fee_rate cannot be negative")
		}
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id are required when telegram is enabled")
	}
	return nil
}

func liveMode(mode string) bool {
	return mode == ModeLive || mode == ModeBoth
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

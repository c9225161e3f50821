package risk

// SizingConfig drives risk-based position sizing. Risk only ever scales
// down: after ThrottleAfterLosses consecutive losses the throttled
// percentage replaces the base one until a winner resets the streak.
type SizingConfig struct {
	RiskPct             float64 `mapstructure:"risk_pct" yaml:"risk_pct"`
	ThrottledRiskPct    float64 `mapstructure:"throttled_risk_pct" yaml:"throttled_risk_pct"`
	ThrottleAfterLosses int     `mapstructure:"throttle_after_losses" yaml:"throttle_after_losses"`
	MinNotional         float64 `mapstructure:"min_notional" yaml:"min_notional"`
	MaxNotional         float64 `mapstructure:"max_notional" yaml:"max_notional"`
	MaxLeverage         float64 `mapstructure:"max_leverage" yaml:"max_leverage"`
	QuantityStep        float64 `mapstructure:"quantity_step" yaml:"quantity_step"`
}

func (c SizingConfig) withDefaults() SizingConfig {
	if c.RiskPct <= 0 {
		c.RiskPct = 0.01
	}
	if c.ThrottledRiskPct <= 0 || c.ThrottledRiskPct > c.RiskPct {
		c.ThrottledRiskPct = c.RiskPct / 2
	}
	if c.ThrottleAfterLosses <= 0 {
		c.ThrottleAfterLosses = 3
	}
	if c.MaxLeverage <= 0 {
		c.MaxLeverage = 3
	}
	return c
}

// EffectiveRiskPct returns the risk percentage for the current loss streak.
func (c SizingConfig) EffectiveRiskPct(lossStreak int) float64 {
	cfg := c.withDefaults()
	if lossStreak >= cfg.ThrottleAfterLosses {
		return cfg.ThrottledRiskPct
	}
	return cfg.RiskPct
}

// PositionSize computes notional and quantity for an entry with the given
// stop distance:
//
//	notional = min(max(riskBudget/stopDistance * entry, minNotional),
//	               maxNotional, equity*maxLeverage)
//
// riskBudget = equity * effectiveRiskPct. Quantity is truncated to the
// exchange step. Returns zeros when the inputs can not produce a valid
// order.
func PositionSize(c SizingConfig, equity, entryPrice, stopDistance float64, lossStreak int) (notional, quantity float64) {
	cfg := c.withDefaults()
	if equity <= 0 || entryPrice <= 0 || stopDistance <= 0 {
		return 0, 0
	}
	riskBudget := equity * cfg.EffectiveRiskPct(lossStreak)
	notional = riskBudget / stopDistance * entryPrice
	if notional < cfg.MinNotional {
		notional = cfg.MinNotional
	}
	if cfg.MaxNotional > 0 && notional > cfg.MaxNotional {
		notional = cfg.MaxNotional
	}
	if cap := equity * cfg.MaxLeverage; notional > cap {
		notional = cap
	}
	if notional <= 0 {
		return 0, 0
	}
	quantity = roundDownToStep(notional/entryPrice, cfg.QuantityStep)
	if quantity <= 0 {
		return 0, 0
	}
	return notional, quantity
}

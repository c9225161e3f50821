// Package guard decides whether a signal is allowed to become a real order.
// Every rejection carries a distinct reason code and completes the cycle as
// a skip, never as an error.
package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"stratus/internal/strategy"
)

type ReasonCode string

const (
	ReasonPositionOpen    ReasonCode = "position_open"
	ReasonDailyLossCap    ReasonCode = "daily_loss_cap"
	ReasonDailyTradeCap   ReasonCode = "daily_trade_cap"
	ReasonReentryInterval ReasonCode = "reentry_interval"
	ReasonNewsBlocked     ReasonCode = "news_blocked"
	ReasonDuplicateCycle  ReasonCode = "duplicate_cycle"
)

// NewsGate is the external allow/block verdict per side. The guard only
// reads the boolean shape; classification happens elsewhere.
type NewsGate interface {
	Blocked(side strategy.Side) (bool, []string)
}

type Config struct {
	DailyLossCap    float64       `mapstructure:"daily_loss_cap" yaml:"daily_loss_cap"`
	MaxTradesPerDay int           `mapstructure:"max_trades_per_day" yaml:"max_trades_per_day"`
	MinInterval     time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	Timezone        string        `mapstructure:"timezone" yaml:"timezone"` // exchange-local day boundary
}

// DayState is the per-calendar-day account state, reset when the observed
// local day changes. LossStreak survives the rollover: a losing run does
// not stop being a losing run at midnight.
type DayState struct {
	Date              string          `json:"date"` // 2006-01-02, local tz
	TradesOpenedToday int             `json:"trades_opened_today"`
	RealizedPnLToday  float64         `json:"realized_pnl_today"`
	LastTradeAt       time.Time       `json:"last_trade_at"`
	LastExitAt        time.Time       `json:"last_exit_at"`
	LastExitSide      strategy.Side   `json:"last_exit_side,omitempty"`
	LossStreak        int             `json:"loss_streak"`
	UsedKeys          map[string]bool `json:"used_keys"`
}

func NewDayState(now time.Time, loc *time.Location) *DayState {
	return &DayState{
		Date:     now.In(loc).Format("2006-01-02"),
		UsedKeys: make(map[string]bool),
	}
}

// Rollover resets the day counters when the local calendar day changed.
// Returns true when a reset happened.
func (d *DayState) Rollover(now time.Time, loc *time.Location) bool {
	date := now.In(loc).Format("2006-01-02")
	if date == d.Date {
		return false
	}
	d.Date = date
	d.TradesOpenedToday = 0
	d.RealizedPnLToday = 0
	d.UsedKeys = make(map[string]bool)
	return true
}

// RecordOpen registers a successful open: exactly one increment per open.
func (d *DayState) RecordOpen(key string, now time.Time) {
	d.TradesOpenedToday++
	d.LastTradeAt = now
	if d.UsedKeys == nil {
		d.UsedKeys = make(map[string]bool)
	}
	d.UsedKeys[key] = true
}

// RecordClose folds a closed trade into the day counters and the loss
// streak.
func (d *DayState) RecordClose(pnl float64, side strategy.Side, now time.Time) {
	d.RealizedPnLToday += pnl
	d.LastTradeAt = now
	d.LastExitAt = now
	d.LastExitSide = side
	if pnl < 0 {
		d.LossStreak++
	} else {
		d.LossStreak = 0
	}
}

// IdempotencyKey derives the deterministic dedup key for a plan. The same
// cycle resubmitted produces the same key and therefore at most one open.
func IdempotencyKey(cycleID string, side strategy.Side, level strategy.Level, symbol string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", cycleID, side, level, symbol)))
	return hex.EncodeToString(sum[:])
}

// Verdict is the gate outcome. A rejection is a normal skip, not an error.
type Verdict struct {
	Allowed bool
	Reason  ReasonCode
	Detail  string
	Key     string
}

type Guard struct {
	cfg  Config
	news NewsGate
	loc  *time.Location
}

func New(cfg Config, news NewsGate) (*Guard, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading guard timezone %q: %w", cfg.Timezone, err)
		}
	}
	return &Guard{cfg: cfg, news: news, loc: loc}, nil
}

func (g *Guard) Location() *time.Location { return g.loc }

// Check runs the six gate conditions in order, short-circuiting on the
// first failure.
func (g *Guard) Check(plan *strategy.TradePlan, positionOpen bool, day *DayState, now time.Time) Verdict {
	key := IdempotencyKey(plan.CycleID, plan.Side, plan.Level, plan.Symbol)
	day.Rollover(now, g.loc)

	if positionOpen {
		return Verdict{Reason: ReasonPositionOpen, Key: key}
	}
	if g.cfg.DailyLossCap > 0 && day.RealizedPnLToday <= -g.cfg.DailyLossCap {
		return Verdict{
			Reason: ReasonDailyLossCap,
			Detail: fmt.Sprintf("realized %.2f breaches cap %.2f", day.RealizedPnLToday, g.cfg.DailyLossCap),
			Key:    key,
		}
	}
	if g.cfg.MaxTradesPerDay > 0 && day.TradesOpenedToday >= g.cfg.MaxTradesPerDay {
		return Verdict{Reason: ReasonDailyTradeCap, Key: key}
	}
	if g.cfg.MinInterval > 0 && !day.LastTradeAt.IsZero() && now.Sub(day.LastTradeAt) < g.cfg.MinInterval {
		return Verdict{Reason: ReasonReentryInterval, Key: key}
	}
	if g.news != nil {
		if blocked, reasons := g.news.Blocked(plan.Side); blocked {
			detail := ""
			if len(reasons) > 0 {
				detail = reasons[0]
			}
			return Verdict{Reason: ReasonNewsBlocked, Detail: detail, Key: key}
		}
	}
	if day.UsedKeys[key] {
		return Verdict{Reason: ReasonDuplicateCycle, Key: key}
	}
	return Verdict{Allowed: true, Key: key}
}

// Package engine runs the live decision loop: one single-threaded cycle per
// closed bar, fetching candles, evaluating the strategy, reconciling against
// the exchange, driving the risk state machine and opening approved entries.
// Every mutation is persisted before the cycle ends; a restart resumes from
// stored state.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stratus/internal/gateway/exchange"
	"stratus/internal/gateway/notifier"
	"stratus/internal/guard"
	"stratus/internal/market"
	"stratus/internal/pkg/circuit"
	"stratus/internal/reconcile"
	"stratus/internal/risk"
	"stratus/internal/store"
	"stratus/internal/strategy"
)

type Config struct {
	Symbol        string        `mapstructure:"symbol" yaml:"symbol"`
	BiasInterval  string        `mapstructure:"bias_interval" yaml:"bias_interval"`
	EntryInterval string        `mapstructure:"entry_interval" yaml:"entry_interval"`
	BiasLimit     int           `mapstructure:"bias_limit" yaml:"bias_limit"`
	EntryLimit    int           `mapstructure:"entry_limit" yaml:"entry_limit"`
	ATRPeriod     int           `mapstructure:"atr_period" yaml:"atr_period"`
	FeeRate       float64       `mapstructure:"fee_rate" yaml:"fee_rate"`
	CycleTimeout  time.Duration `mapstructure:"cycle_timeout" yaml:"cycle_timeout"`

	RetryAttempts    int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	BreakerThreshold int           `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
}

func (c Config) withDefaults() Config {
	if c.BiasInterval == "" {
		c.BiasInterval = "4h"
	}
	if c.EntryInterval == "" {
		c.EntryInterval = "1h"
	}
	if c.BiasLimit <= 0 {
		c.BiasLimit = 200
	}
	if c.EntryLimit <= 0 {
		c.EntryLimit = 200
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 45 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 5 * time.Minute
	}
	return c
}

type Deps struct {
	Strategy   strategy.Strategy
	Risk       *risk.Manager
	Sizing     risk.SizingConfig
	Guard      *guard.Guard
	Source     market.Source
	Exchange   exchange.Exchange
	Reconciler *reconcile.Reconciler
	Store      store.Store
	Notifier   notifier.TextNotifier
}

type Engine struct {
	cfg     Config
	deps    Deps
	breaker *circuit.CircuitBreaker

	mu         sync.Mutex
	pos        *risk.Position
	day        *guard.DayState
	halted     bool
	haltReason string
}

func New(cfg Config, deps Deps) (*Engine, error) {
	final := cfg.withDefaults()
	if final.Symbol == "" {
		return nil, fmt.Errorf("engine requires a symbol")
	}
	if deps.Strategy == nil || deps.Risk == nil || deps.Guard == nil ||
		deps.Source == nil || deps.Exchange == nil || deps.Store == nil {
		return nil, fmt.Errorf("engine missing required dependency")
	}
	if deps.Reconciler == nil {
		deps.Reconciler = reconcile.New(deps.Exchange)
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Noop{}
	}
	return &Engine{
		cfg:     final,
		deps:    deps,
		breaker: circuit.NewCircuitBreaker("engine:"+final.Symbol, final.BreakerThreshold, final.BreakerCooldown),
	}, nil
}

// Resume loads the persisted position, day state and halted flag so the
// engine picks up where the previous process left off.
func (e *Engine) Resume(ctx context.Context) error {
	pos, err := e.deps.Store.Positions().Load(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("resume position: %w", err)
	}
	day, err := e.deps.Store.DayStates().Load(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("resume day state: %w", err)
	}
	halted, reason, err := e.deps.Store.EngineState().Halted(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("resume halted flag: %w", err)
	}
	e.mu.Lock()
	e.pos = pos
	e.day = day
	e.halted = halted
	e.haltReason = reason
	e.mu.Unlock()
	return nil
}

// Status is a read-only snapshot for the HTTP layer.
type Status struct {
	Symbol       string           `json:"symbol"`
	Position     *risk.Position   `json:"position,omitempty"`
	Day          *guard.DayState  `json:"day,omitempty"`
	Halted       bool             `json:"halted"`
	HaltReason   string           `json:"halt_reason,omitempty"`
	BreakerState string           `json:"breaker_state"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Symbol:       e.cfg.Symbol,
		Halted:       e.halted,
		HaltReason:   e.haltReason,
		BreakerState: e.breaker.State().String(),
	}
	if e.pos != nil {
		cp := *e.pos
		st.Position = &cp
	}
	if e.day != nil {
		cp := *e.day
		st.Day = &cp
	}
	return st
}

// ClearHalt re-arms automated opens after an operator resolved the cause.
func (e *Engine) ClearHalt(ctx context.Context) error {
	if err := e.deps.Store.EngineState().ClearHalted(ctx, e.cfg.Symbol); err != nil {
		return err
	}
	e.mu.Lock()
	e.halted = false
	e.haltReason = ""
	e.mu.Unlock()
	return nil
}

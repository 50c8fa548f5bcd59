// Package risk enforces the hard-rule pre-trade checks that protect capital
// from model errors: daily loss stop, drawdown circuit breaker, dynamic
// position-size cap and turbulence/news blackouts.
package risk

import (
	"time"

	"github.com/rs/zerolog"

	"evotrader/internal/config"
	"evotrader/internal/errors"
	"evotrader/internal/models"
)

// TurbulenceSource reports whether the market is currently turbulent.
// Implementations fail OPEN: an error means "no data", which is treated as
// safe so an outage cannot freeze trading.
type TurbulenceSource interface {
	Turbulent(at time.Time) (bool, error)
}

// NewsSource reports whether a scheduled high-impact news window covers the
// given time. Like TurbulenceSource, it fails open.
type NewsSource interface {
	HighImpactWindow(at time.Time, window time.Duration) (bool, string, error)
}

// Status is the governor's externally visible state.
type Status struct {
	CircuitBreaker bool    `json:"circuit_breaker"`
	DailyStop      bool    `json:"daily_stop"`
	Balance        float64 `json:"balance"`
}

// Governor tracks session risk state. One instance per trading session;
// instances are not safe for concurrent use and are not meant to be shared.
type Governor struct {
	cfg    config.RiskConfig
	logger zerolog.Logger

	turbulence TurbulenceSource
	news       NewsSource

	currentDate       time.Time // calendar day, truncated
	dailyStartBalance float64
	currentBalance    float64
	peakBalance       float64
	initialized       bool

	circuitBreakerActive bool
	dailyStopTriggered   bool
	turbulenceFlag       bool
}

// NewGovernor creates a governor with validated configuration.
func NewGovernor(cfg config.RiskConfig, logger zerolog.Logger) (*Governor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Governor{
		cfg:    cfg,
		logger: logger.With().Str("component", "risk").Logger(),
	}, nil
}

// SetTurbulenceSource installs a pluggable turbulence predicate.
func (g *Governor) SetTurbulenceSource(src TurbulenceSource) {
	g.turbulence = src
}

// SetNewsSource installs a pluggable high-impact news predicate.
func (g *Governor) SetNewsSource(src NewsSource) {
	g.news = src
}

// UpdateMetrics folds the latest equity into session tracking. Must be
// called once per step before the next CheckOrder. A new calendar day
// resets the daily baseline and the daily stop flag; the circuit breaker
// is never cleared within a session.
func (g *Governor) UpdateMetrics(equity float64, at time.Time) {
	day := at.Truncate(24 * time.Hour)

	if !g.initialized {
		g.initialized = true
		g.currentDate = day
		g.dailyStartBalance = equity
		g.peakBalance = equity
	}

	if !day.Equal(g.currentDate) {
		g.currentDate = day
		g.dailyStartBalance = equity
		g.dailyStopTriggered = false
		g.logger.Info().Float64("start_balance", equity).Msg("new day, daily risk metrics reset")
	}

	g.currentBalance = equity
	if equity > g.peakBalance {
		g.peakBalance = equity
	}

	// Circuit breaker: total drawdown from the high-water mark.
	var drawdownPct float64
	if g.peakBalance > 0 {
		drawdownPct = (g.peakBalance - equity) / g.peakBalance
	}
	if drawdownPct >= g.cfg.MaxDrawdownPct && !g.circuitBreakerActive {
		g.circuitBreakerActive = true
		g.logger.Error().
			Float64("drawdown_pct", drawdownPct).
			Float64("limit", g.cfg.MaxDrawdownPct).
			Msg("circuit breaker triggered, trading halted for session")
	}

	// Daily loss stop.
	if g.dailyStartBalance > 0 {
		dailyLossPct := (g.dailyStartBalance - equity) / g.dailyStartBalance
		if dailyLossPct >= g.cfg.DailyLossPct && !g.dailyStopTriggered {
			g.dailyStopTriggered = true
			g.logger.Warn().
				Float64("loss_pct", dailyLossPct).
				Float64("limit", g.cfg.DailyLossPct).
				Msg("daily loss limit reached")
		}
	}
}

// ObserveTurbulence latches the turbulence flag when a reading exceeds the
// configured limit and clears it once readings fall back under.
func (g *Governor) ObserveTurbulence(value float64) {
	turbulent := value > g.cfg.TurbulenceLimit
	if turbulent && !g.turbulenceFlag {
		g.logger.Warn().Float64("value", value).Float64("limit", g.cfg.TurbulenceLimit).Msg("turbulence flag raised")
	}
	g.turbulenceFlag = turbulent
}

// AllowedVolume returns the current per-order volume cap in lots.
func (g *Governor) AllowedVolume() float64 {
	if !g.cfg.DynamicLotSizing {
		return g.cfg.MaxLots
	}
	allowed := g.currentBalance / g.cfg.ReferenceEquity * g.cfg.LotsPerReference
	if allowed < 0.01 {
		allowed = 0.01
	}
	return allowed
}

// CheckOrder validates an order against the hard rules. Rejections are
// normal control flow, not errors, and have no side effects.
func (g *Governor) CheckOrder(instrument string, volume float64, side models.OrderSide, at time.Time) bool {
	ok, _ := g.Verdict(instrument, volume, side, at)
	return ok
}

// Verdict evaluates an order against the hard rules and, on rejection,
// reports which rule fired. Rules are evaluated in precedence order; the
// first match rejects. No side effects either way.
func (g *Governor) Verdict(instrument string, volume float64, side models.OrderSide, at time.Time) (bool, *errors.RiskError) {
	if g.circuitBreakerActive {
		g.logger.Debug().Str("instrument", instrument).Msg("order blocked: circuit breaker active")
		drawdown := 0.0
		if g.peakBalance > 0 {
			drawdown = (g.peakBalance - g.currentBalance) / g.peakBalance
		}
		return false, errors.NewRiskError("circuit_breaker", drawdown, g.cfg.MaxDrawdownPct, "session drawdown limit breached")
	}

	if g.dailyStopTriggered {
		g.logger.Debug().Str("instrument", instrument).Msg("order blocked: daily loss limit reached")
		dailyLoss := 0.0
		if g.dailyStartBalance > 0 {
			dailyLoss = (g.dailyStartBalance - g.currentBalance) / g.dailyStartBalance
		}
		return false, errors.NewRiskError("daily_stop", dailyLoss, g.cfg.DailyLossPct, "daily loss limit reached")
	}

	if g.turbulent(at) {
		g.logger.Debug().Str("instrument", instrument).Msg("order blocked: market turbulence")
		return false, errors.NewRiskError("turbulence", 0, g.cfg.TurbulenceLimit, "market turbulence active")
	}

	if allowed := g.AllowedVolume(); volume > allowed {
		g.logger.Debug().
			Str("instrument", instrument).
			Float64("volume", volume).
			Float64("allowed", allowed).
			Msg("order blocked: volume exceeds cap")
		return false, errors.NewRiskError("volume_cap", volume, allowed, "order volume exceeds cap")
	}

	if g.news != nil {
		window := time.Duration(g.cfg.NewsWindowMinutes) * time.Minute
		inWindow, event, err := g.news.HighImpactWindow(at, window)
		if err == nil && inWindow {
			g.logger.Debug().Str("instrument", instrument).Str("event", event).Msg("order blocked: high impact news window")
			return false, errors.NewRiskError("news_window", 0, float64(g.cfg.NewsWindowMinutes), "high impact news window: "+event)
		}
	}

	return true, nil
}

func (g *Governor) turbulent(at time.Time) bool {
	if g.turbulenceFlag {
		return true
	}
	if g.turbulence != nil {
		turbulent, err := g.turbulence.Turbulent(at)
		if err == nil && turbulent {
			return true
		}
	}
	return false
}

// Status returns the governor's externally visible state.
func (g *Governor) Status() Status {
	return Status{
		CircuitBreaker: g.circuitBreakerActive,
		DailyStop:      g.dailyStopTriggered,
		Balance:        g.currentBalance,
	}
}

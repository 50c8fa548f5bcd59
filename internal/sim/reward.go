package sim

import (
	"math"

	"evotrader/internal/stats"
)

// Reward term weights. The composite shape was tuned against a trained
// policy; it must be reproduced exactly, not rederived.
const (
	weightLogReturn     = 0.5
	weightSharpe        = 0.3
	weightTradePenalty  = 0.1
	weightDrawdown      = 0.1
	weightHoldingBonus  = 0.1
	weightRiskViolation = 1.0

	tradePenaltyValue  = -0.01
	holdingBonusValue  = 0.05
	riskViolationValue = -0.1
	diversifyBonus     = 0.005

	minSharpeHistory = 10
)

// RewardBreakdown exposes each weighted term of the composite step reward.
type RewardBreakdown struct {
	LogReturn     float64
	Sharpe        float64
	TradePenalty  float64
	Drawdown      float64
	HoldingBonus  float64
	RiskViolation float64
	Diversify     float64
	Total         float64
}

// computeReward evaluates the six-term composite reward for the step that
// moved equity from prevEquity to s.equity at currentPrice.
func (s *Simulator) computeReward(prevEquity, currentPrice float64, tradeExecuted, riskBlocked bool) RewardBreakdown {
	var b RewardBreakdown

	// (a) Log return of equity.
	if prevEquity > 0 && s.equity > 0 {
		b.LogReturn = weightLogReturn * math.Log(s.equity/prevEquity)
	}

	// (b) Differential-Sharpe term against the rolling return window. The
	// window holds returns from prior steps only; below the minimum history
	// the term is neutral, as is a degenerate standard deviation.
	if s.returns.Len() >= minSharpeHistory && prevEquity > 0 {
		std := s.returns.StdDev()
		if std > stats.Epsilon {
			ret := s.equity/prevEquity - 1
			b.Sharpe = weightSharpe * (ret - s.returns.Mean()) / std
		}
	}

	// (c) Transaction cost shaping.
	if tradeExecuted {
		b.TradePenalty = weightTradePenalty * tradePenaltyValue
	}

	// (d) Tiered drawdown penalty measured against initial capital.
	b.Drawdown = weightDrawdown * drawdownPenalty((s.equity-s.cfg.InitialBalance)/s.cfg.InitialBalance)

	// (e) Holding a profitable long earns a small carry bonus.
	if s.position > 0 && currentPrice > s.avgEntryPrice {
		b.HoldingBonus = weightHoldingBonus * holdingBonusValue
	}

	// (f) Hard risk-violation penalty, applied undiminished.
	if riskBlocked {
		b.RiskViolation = weightRiskViolation * riskViolationValue
	}

	// Diversification heuristic: reward balanced cash/position books.
	posValue := s.position * currentPrice
	if s.balance > 0 && posValue > 0 && math.Abs(s.balance-posValue) < 0.1*s.equity {
		b.Diversify = diversifyBonus
	}

	b.Total = b.LogReturn + b.Sharpe + b.TradePenalty + b.Drawdown + b.HoldingBonus + b.RiskViolation + b.Diversify
	return b
}

// drawdownPenalty maps a fractional drawdown from initial capital to its
// penalty tier.
func drawdownPenalty(dd float64) float64 {
	switch {
	case dd > -0.05:
		return 0
	case dd > -0.10:
		return -0.05
	case dd > -0.15:
		return -0.2
	default:
		return -0.5
	}
}

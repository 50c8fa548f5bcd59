// Package sim implements the deterministic market-simulation state machine.
//
// A Simulator owns the account state (balance, position, equity) and mutates
// it only inside Step. Equity is always recomputed from balance, position
// and the current price, never stored independently. Rejected orders are a
// normal control-flow outcome, not errors; the only errors Step can return
// are fatal invariant violations.
package sim

import (
	"math/rand"

	"github.com/rs/zerolog"

	"evotrader/internal/config"
	"evotrader/internal/data"
	"evotrader/internal/errors"
	"evotrader/internal/models"
	"evotrader/internal/risk"
	"evotrader/internal/stats"
)

const bustPenalty = -10.0

// StepInfo carries per-step diagnostics alongside the reward.
type StepInfo struct {
	Step        int
	Equity      float64
	Balance     float64
	Position    float64
	PnL         float64 // realized, nonzero only on the SELL step
	HoldingTime int     // steps the closed position was held, on SELL
	RiskBlocked bool
	LastTrade   *models.TradeRecord
	Reward      RewardBreakdown
}

// StepResult is the outcome of one simulated step.
type StepResult struct {
	Observation models.Observation
	Reward      float64
	Done        bool
	Info        StepInfo
}

// Simulator is the market-simulation state machine. Instances own all of
// their mutable state; run one per goroutine, no locking required.
type Simulator struct {
	cfg      config.SimConfig
	frame    *data.FeatureFrame
	governor *risk.Governor
	logger   zerolog.Logger
	rng      *rand.Rand

	step     int // index into frame
	start    int
	end      int // last valid index of this episode
	balance  float64
	position float64
	equity   float64
	peak     float64

	avgEntryPrice   float64
	stepsInPosition int
	returns         *stats.RollingWindow
	trades          []models.TradeRecord
	done            bool
	started         bool
}

// NewSimulator validates configuration and binds the simulator to a feature
// frame and a risk governor. The frame's required columns were already
// checked at frame construction, so a simulator can never discover a
// missing feature at step time.
func NewSimulator(cfg config.SimConfig, frame *data.FeatureFrame, governor *risk.Governor, logger zerolog.Logger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, errors.NewConfigError("sim.frame", nil, "feature frame is required")
	}
	if governor == nil {
		return nil, errors.NewConfigError("sim.governor", nil, "risk governor is required")
	}
	if frame.Len() < 2 {
		return nil, errors.NewConfigError("sim.frame", frame.Len(), "need at least two bars")
	}
	return &Simulator{
		cfg:      cfg,
		frame:    frame,
		governor: governor,
		logger:   logger.With().Str("component", "sim").Logger(),
	}, nil
}

// Reset starts a new episode and returns the initial observation. Initial
// capital is split 50/50 between cash and an opening position at the first
// bar's close; this is a deliberate, reproducible initialization, not a
// flat start. The seed makes any stochastic choice (episode start offset)
// exactly reproducible.
func (s *Simulator) Reset(seed int64) models.Observation {
	s.rng = rand.New(rand.NewSource(seed))

	start := 0
	if s.cfg.MaxSteps > 0 && s.frame.Len() > s.cfg.MaxSteps+1 {
		start = s.rng.Intn(s.frame.Len() - s.cfg.MaxSteps - 1)
	}
	return s.resetAt(start)
}

// ResetAt starts a new episode at a caller-chosen bar offset, clamped so a
// full episode fits inside the frame. Curriculum-driven callers use this to
// place episodes on segments matching the active difficulty level.
func (s *Simulator) ResetAt(seed int64, start int) models.Observation {
	s.rng = rand.New(rand.NewSource(seed))

	maxStart := 0
	if s.cfg.MaxSteps > 0 && s.frame.Len() > s.cfg.MaxSteps+1 {
		maxStart = s.frame.Len() - s.cfg.MaxSteps - 1
	}
	if start < 0 {
		start = 0
	}
	if start > maxStart {
		start = maxStart
	}
	return s.resetAt(start)
}

func (s *Simulator) resetAt(start int) models.Observation {
	s.start = start
	s.end = s.frame.Len() - 1
	if s.cfg.MaxSteps > 0 && s.start+s.cfg.MaxSteps < s.end {
		s.end = s.start + s.cfg.MaxSteps
	}
	s.step = s.start

	firstPrice := s.frame.Close(s.start)
	half := s.cfg.InitialBalance / 2
	s.balance = half
	s.position = half / firstPrice
	s.avgEntryPrice = firstPrice
	s.equity = s.cfg.InitialBalance
	s.peak = s.cfg.InitialBalance
	s.stepsInPosition = 0
	s.returns = stats.NewRollingWindow(s.cfg.ReturnWindow)
	s.trades = nil
	s.done = false
	s.started = true

	// Prime the governor so the first CheckOrder sees current equity.
	s.governor.UpdateMetrics(s.equity, s.frame.Timestamp(s.start))

	return s.observe()
}

// Step applies one action. Policy violations (a blocked buy) show up as a
// reward penalty; the returned error is non-nil only for fatal invariant
// violations, after which the episode is unusable.
func (s *Simulator) Step(action models.Action) (StepResult, error) {
	if !s.started {
		return StepResult{}, errors.NewInvariantError("sim", "Step called before Reset")
	}
	if s.done {
		return StepResult{}, errors.ErrEpisodeDone
	}
	if !action.Valid() {
		return StepResult{}, errors.ErrInvalidAction
	}

	price := s.frame.Close(s.step)
	prevEquity := s.equity

	info := StepInfo{}
	tradeExecuted := false
	riskBlocked := false

	switch action {
	case models.Buy:
		// Exposure gate: flat no-op like an empty wallet; only a governor
		// rejection earns the violation penalty.
		if s.balance > 0 && s.position*price < s.cfg.MaxExposureMult*s.cfg.InitialBalance {
			invest := s.balance * 0.99
			fee := invest * s.cfg.FeeRate
			units := (invest - fee) / price
			volumeLots := units / s.cfg.UnitsPerLot

			if s.governor.CheckOrder(s.cfg.Instrument, volumeLots, models.SideBuy, s.frame.Timestamp(s.step)) {
				newPosition := s.position + units
				s.avgEntryPrice = (s.avgEntryPrice*s.position + price*units) / newPosition
				s.position = newPosition
				s.balance -= invest
				tradeExecuted = true

				trade := models.TradeRecord{
					Step:   s.step,
					Action: models.Buy,
					Price:  price,
					Units:  units,
					Fee:    fee,
				}
				s.trades = append(s.trades, trade)
				info.LastTrade = &trade
			} else {
				riskBlocked = true
			}
		}

	case models.Sell:
		if s.position > 0 {
			revenue := s.position * price
			fee := revenue * s.cfg.FeeRate
			realized := revenue - fee - s.avgEntryPrice*s.position
			s.balance += revenue - fee
			tradeExecuted = true

			trade := models.TradeRecord{
				Step:   s.step,
				Action: models.Sell,
				Price:  price,
				Units:  s.position,
				Fee:    fee,
				PnL:    realized,
			}
			s.trades = append(s.trades, trade)
			info.LastTrade = &trade
			info.PnL = realized
			info.HoldingTime = s.stepsInPosition

			s.position = 0
			s.avgEntryPrice = 0
		}
	}

	// Advance to the next bar and recompute equity from first principles.
	s.step++
	priceIdx := s.step
	if priceIdx > s.end {
		priceIdx = s.end
	}
	currentPrice := s.frame.Close(priceIdx)
	s.equity = s.balance + s.position*currentPrice
	if s.equity > s.peak {
		s.peak = s.equity
	}

	if !stats.IsFinite(s.balance) || !stats.IsFinite(s.position) || !stats.IsFinite(s.equity) {
		s.done = true
		return StepResult{}, errors.NewInvariantError("sim", "non-finite value reached account state")
	}

	s.governor.UpdateMetrics(s.equity, s.frame.Timestamp(priceIdx))

	breakdown := s.computeReward(prevEquity, currentPrice, tradeExecuted, riskBlocked)
	reward := breakdown.Total

	// Record this step's realized return for the rolling Sharpe estimate.
	if prevEquity > 0 {
		s.returns.Push(s.equity/prevEquity - 1)
	}

	// Position timer: pyramiding must not reset it; only a full close does.
	if s.position > 0 {
		s.stepsInPosition++
	} else {
		s.stepsInPosition = 0
	}

	done := s.step >= s.end
	if s.equity <= 0 {
		done = true
		reward = bustPenalty
		breakdown = RewardBreakdown{Total: bustPenalty}
		s.logger.Warn().Float64("equity", s.equity).Msg("account bust, episode terminated")
	}
	s.done = done

	info.Step = s.step
	info.Equity = s.equity
	info.Balance = s.balance
	info.Position = s.position
	info.RiskBlocked = riskBlocked
	info.Reward = breakdown

	return StepResult{
		Observation: s.observe(),
		Reward:      reward,
		Done:        done,
		Info:        info,
	}, nil
}

// observe builds the feature vector extended with account state.
func (s *Simulator) observe() models.Observation {
	idx := s.step
	if idx > s.end {
		idx = s.end
	}
	obs := make(models.Observation, s.frame.NumFeatures()+2)
	s.frame.CopyRow(idx, obs[:s.frame.NumFeatures()])
	obs[s.frame.NumFeatures()] = s.balance
	obs[s.frame.NumFeatures()+1] = s.position
	return obs
}

// EpisodeLength returns the configured steps per episode, or the frame
// length when episodes are uncapped.
func (s *Simulator) EpisodeLength() int {
	if s.cfg.MaxSteps > 0 {
		return s.cfg.MaxSteps
	}
	return s.frame.Len()
}

// ObservationSize returns the fixed observation dimensionality.
func (s *Simulator) ObservationSize() int {
	return s.frame.NumFeatures() + 2
}

// Equity returns the current account equity.
func (s *Simulator) Equity() float64 {
	return s.equity
}

// Balance returns the current cash balance.
func (s *Simulator) Balance() float64 {
	return s.balance
}

// Position returns the current position in units.
func (s *Simulator) Position() float64 {
	return s.position
}

// StepsInPosition returns the current holding timer.
func (s *Simulator) StepsInPosition() int {
	return s.stepsInPosition
}

// Trades returns a copy of the episode's executed trades. Records already
// handed out stay valid across the next Reset.
func (s *Simulator) Trades() []models.TradeRecord {
	out := make([]models.TradeRecord, len(s.trades))
	copy(out, s.trades)
	return out
}

// CurrentPrice returns the close at the simulator's current bar.
func (s *Simulator) CurrentPrice() float64 {
	return s.frame.Close(s.priceIndex())
}

// CurrentHigh returns the high at the simulator's current bar.
func (s *Simulator) CurrentHigh() float64 {
	return s.frame.High(s.priceIndex())
}

// CurrentLow returns the low at the simulator's current bar.
func (s *Simulator) CurrentLow() float64 {
	return s.frame.Low(s.priceIndex())
}

func (s *Simulator) priceIndex() int {
	idx := s.step
	if idx > s.end {
		idx = s.end
	}
	return idx
}

// Outcome summarizes the finished episode for the curriculum manager.
func (s *Simulator) Outcome() models.EpisodeOutcome {
	wins := 0
	trades := 0
	for _, t := range s.trades {
		if t.Action == models.Sell {
			trades++
			if t.PnL > 0 {
				wins++
			}
		}
	}
	winRate := 0.0
	if trades > 0 {
		winRate = float64(wins) / float64(trades)
	}
	totalReturn := 0.0
	if s.cfg.InitialBalance > 0 {
		totalReturn = (s.equity - s.cfg.InitialBalance) / s.cfg.InitialBalance
	}
	return models.EpisodeOutcome{
		TotalReturn: totalReturn,
		WinRate:     winRate,
		NumTrades:   len(s.trades),
	}
}

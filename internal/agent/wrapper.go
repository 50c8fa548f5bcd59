package agent

import (
	"time"

	"github.com/google/uuid"

	"evotrader/internal/config"
	"evotrader/internal/curiosity"
	"evotrader/internal/errors"
	"evotrader/internal/experience"
	"evotrader/internal/models"
	"evotrader/internal/regime"
	"evotrader/internal/sim"
)

// RewardWrapper wraps a simulator for training loops that drive it directly
// rather than through an Agent: it intercepts Step, scores the transition
// with the curiosity engine, substitutes the blended training reward for
// the raw extrinsic one and records the experience.
type RewardWrapper struct {
	sim     *sim.Simulator
	engine  *curiosity.Engine
	store   *experience.Store // optional; nil skips recording
	blender *RewardBlender

	episodeID string
	lastObs   models.Observation
	inEpisode bool
}

// NewRewardWrapper builds a wrapper around the simulator. store may be nil
// when the caller keeps its own transition buffer.
func NewRewardWrapper(cfg config.AgentConfig, simulator *sim.Simulator, engine *curiosity.Engine, store *experience.Store) (*RewardWrapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if simulator == nil || engine == nil {
		return nil, errors.NewConfigError("wrapper", nil, "simulator and curiosity engine are required")
	}
	return &RewardWrapper{
		sim:     simulator,
		engine:  engine,
		store:   store,
		blender: NewRewardBlender(cfg.ExtrinsicWeight, cfg.IntrinsicWeight),
	}, nil
}

// Reset starts a new episode on the wrapped simulator and returns the
// initial observation.
func (w *RewardWrapper) Reset(seed int64) models.Observation {
	w.episodeID = uuid.NewString()
	w.lastObs = w.sim.Reset(seed)
	w.inEpisode = true
	w.blender.Reset()
	return w.lastObs.Clone()
}

// Step forwards the action to the simulator. The returned result carries
// the blended reward; the raw extrinsic breakdown stays in Info.Reward.
func (w *RewardWrapper) Step(action models.Action) (sim.StepResult, curiosity.IntrinsicReward, error) {
	if !w.inEpisode {
		return sim.StepResult{}, curiosity.IntrinsicReward{}, errors.NewInvariantError("wrapper", "Step called outside an episode")
	}

	obs := w.lastObs
	res, err := w.sim.Step(action)
	if err != nil {
		return sim.StepResult{}, curiosity.IntrinsicReward{}, err
	}
	intrinsic, err := w.engine.Score(obs, action, res.Observation, res.Reward)
	if err != nil {
		return sim.StepResult{}, curiosity.IntrinsicReward{}, err
	}
	blended := w.blender.Blend(res.Reward, intrinsic.Total)

	if w.store != nil {
		if _, err := w.store.Add(experience.Transition{
			Timestamp:       time.Now(),
			Observation:     obs,
			Action:          action,
			Reward:          blended,
			NextObservation: res.Observation,
			PnL:             res.Info.PnL,
			HoldingTime:     res.Info.HoldingTime,
			MarketRegime:    regime.Unknown.String(),
			EpisodeID:       w.episodeID,
		}); err != nil {
			return sim.StepResult{}, curiosity.IntrinsicReward{}, err
		}
	}

	w.lastObs = res.Observation
	if res.Done {
		w.inEpisode = false
	}
	res.Reward = blended
	return res, intrinsic, nil
}

// Summary reports the episode's accumulated rewards.
func (w *RewardWrapper) Summary() RewardSummary {
	return w.blender.Summary()
}

// RewardBlender linearly combines extrinsic and intrinsic reward and
// accumulates per-episode totals.
type RewardBlender struct {
	extrinsicWeight float64
	intrinsicWeight float64

	extrinsicTotal float64
	intrinsicTotal float64
	blendedTotal   float64
	steps          int
}

// NewRewardBlender builds a blender with fixed weights.
func NewRewardBlender(extrinsicWeight, intrinsicWeight float64) *RewardBlender {
	return &RewardBlender{
		extrinsicWeight: extrinsicWeight,
		intrinsicWeight: intrinsicWeight,
	}
}

// Blend returns the training reward for one step and folds both inputs
// into the episode totals.
func (b *RewardBlender) Blend(extrinsic, intrinsic float64) float64 {
	blended := b.extrinsicWeight*extrinsic + b.intrinsicWeight*intrinsic
	b.extrinsicTotal += extrinsic
	b.intrinsicTotal += intrinsic
	b.blendedTotal += blended
	b.steps++
	return blended
}

// Reset clears the episode accumulators; weights are untouched.
func (b *RewardBlender) Reset() {
	b.extrinsicTotal = 0
	b.intrinsicTotal = 0
	b.blendedTotal = 0
	b.steps = 0
}

// RewardSummary reports the episode's accumulated rewards.
type RewardSummary struct {
	Extrinsic float64 `json:"extrinsic"`
	Intrinsic float64 `json:"intrinsic"`
	Blended   float64 `json:"blended"`
	MeanStep  float64 `json:"mean_step"`
}

// Summary returns the accumulated totals for the current episode.
func (b *RewardBlender) Summary() RewardSummary {
	s := RewardSummary{
		Extrinsic: b.extrinsicTotal,
		Intrinsic: b.intrinsicTotal,
		Blended:   b.blendedTotal,
	}
	if b.steps > 0 {
		s.MeanStep = b.blendedTotal / float64(b.steps)
	}
	return s
}

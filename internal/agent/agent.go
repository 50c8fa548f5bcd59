// Package agent orchestrates simulation steps: policy action selection,
// curiosity-driven exploration, reward blending and experience capture.
package agent

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"evotrader/internal/config"
	"evotrader/internal/curiosity"
	"evotrader/internal/curriculum"
	"evotrader/internal/data"
	"evotrader/internal/errors"
	"evotrader/internal/experience"
	"evotrader/internal/models"
	"evotrader/internal/regime"
	"evotrader/internal/sim"
)

// Policy produces an action for an observation. Implementations are
// external; the core never assumes how the action was produced.
type Policy interface {
	Predict(obs []float64, deterministic bool) (models.Action, float64, error)
}

// Agent composes the simulator, risk-vetted execution, curiosity scoring,
// experience capture and curriculum reporting into one step loop.
type Agent struct {
	cfg config.AgentConfig
	log zerolog.Logger
	rng *rand.Rand

	sim        *sim.Simulator
	engine     *curiosity.Engine
	store      *experience.Store
	curriculum *curriculum.Manager
	detector   *regime.Detector
	policy     Policy
	blender    *RewardBlender
	frame      *data.FeatureFrame // optional; enables level-banded segments

	episodeID string
	lastObs   models.Observation
	inEpisode bool
	steps     int
	explored  int
	actions   [3]int
}

// NewAgent wires the components together. policy may be nil; a random
// fallback is used until one is attached.
func NewAgent(
	cfg config.AgentConfig,
	simulator *sim.Simulator,
	engine *curiosity.Engine,
	store *experience.Store,
	manager *curriculum.Manager,
	detector *regime.Detector,
	rng *rand.Rand,
	log zerolog.Logger,
) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if simulator == nil || engine == nil || store == nil || manager == nil || detector == nil {
		return nil, errors.NewConfigError("agent", nil, "all components are required")
	}
	if rng == nil {
		return nil, errors.NewConfigError("agent.rng", nil, "random source is required")
	}
	return &Agent{
		cfg:        cfg,
		log:        log,
		rng:        rng,
		sim:        simulator,
		engine:     engine,
		store:      store,
		curriculum: manager,
		detector:   detector,
		blender:    NewRewardBlender(cfg.ExtrinsicWeight, cfg.IntrinsicWeight),
	}, nil
}

// AttachPolicy sets the external policy. Passing nil reverts to the
// random fallback.
func (a *Agent) AttachPolicy(p Policy) {
	a.policy = p
}

// UseCurriculumSegments enables level-banded episode placement: each
// BeginEpisode asks the difficulty scaler for a segment of the frame that
// suits the active curriculum level instead of a uniformly random start.
func (a *Agent) UseCurriculumSegments(frame *data.FeatureFrame) {
	a.frame = frame
}

// BeginEpisode resets the simulator with the given seed and starts a new
// episode. Returns the initial observation.
func (a *Agent) BeginEpisode(seed int64) models.Observation {
	a.episodeID = uuid.NewString()
	if a.frame != nil {
		rng := rand.New(rand.NewSource(seed))
		start, profile := curriculum.SelectSegment(a.frame, a.curriculum.Level(), a.sim.EpisodeLength(), rng)
		a.lastObs = a.sim.ResetAt(seed, start)
		a.log.Debug().
			Int("start", start).
			Float64("difficulty", profile.Difficulty).
			Str("level", a.curriculum.Level().String()).
			Msg("episode segment selected")
	} else {
		a.lastObs = a.sim.Reset(seed)
	}
	a.inEpisode = true
	a.steps = 0
	a.explored = 0
	a.actions = [3]int{}
	a.blender.Reset()
	a.detector.Reset()
	a.log.Info().
		Str("episode", a.episodeID).
		Int64("seed", seed).
		Msg("episode started")
	return a.lastObs.Clone()
}

// StepOutcome reports one orchestrated step.
type StepOutcome struct {
	Action      models.Action
	Explored    bool
	Observation models.Observation
	Extrinsic   float64
	Intrinsic   curiosity.IntrinsicReward
	Blended     float64
	Regime      regime.Regime
	Done        bool
	Info        sim.StepInfo
}

// Step selects an action (policy or random fallback, possibly overridden
// by curiosity-scaled exploration), executes it, scores the transition,
// blends the rewards and records the experience tagged with the current
// regime.
func (a *Agent) Step() (StepOutcome, error) {
	if !a.inEpisode {
		return StepOutcome{}, errors.NewInvariantError("agent", "Step called outside an episode")
	}

	obs := a.lastObs
	action, confidence, explored, err := a.selectAction(obs)
	if err != nil {
		return StepOutcome{}, err
	}

	res, err := a.sim.Step(action)
	if err != nil {
		return StepOutcome{}, err
	}

	intrinsic, err := a.engine.Score(obs, action, res.Observation, res.Reward)
	if err != nil {
		return StepOutcome{}, err
	}
	blended := a.blender.Blend(res.Reward, intrinsic.Total)

	currentRegime, _ := a.detector.Update(a.sim.CurrentPrice(), a.sim.CurrentHigh(), a.sim.CurrentLow())

	if _, err := a.store.Add(experience.Transition{
		Timestamp:       time.Now(),
		Observation:     obs,
		Action:          action,
		Reward:          blended,
		NextObservation: res.Observation,
		PnL:             res.Info.PnL,
		HoldingTime:     res.Info.HoldingTime,
		MarketRegime:    currentRegime.String(),
		Confidence:      confidence,
		EpisodeID:       a.episodeID,
		LessonTags:      lessonTags(action, res.Info, currentRegime),
	}); err != nil {
		return StepOutcome{}, err
	}

	a.lastObs = res.Observation
	a.steps++
	a.actions[int(action)]++
	if explored {
		a.explored++
	}
	if res.Done {
		a.inEpisode = false
	}

	return StepOutcome{
		Action:      action,
		Explored:    explored,
		Observation: res.Observation,
		Extrinsic:   res.Reward,
		Intrinsic:   intrinsic,
		Blended:     blended,
		Regime:      currentRegime,
		Done:        res.Done,
		Info:        res.Info,
	}, nil
}

// selectAction asks the policy (or the random fallback) for an action,
// then overrides it with a random one with probability proportional to
// the engine's curiosity score.
func (a *Agent) selectAction(obs models.Observation) (models.Action, float64, bool, error) {
	action := models.Action(a.rng.Intn(3))
	confidence := 0.0
	if a.policy != nil {
		var err error
		action, confidence, err = a.policy.Predict(obs, false)
		if err != nil {
			return 0, 0, false, errors.Wrap(err, "policy prediction failed")
		}
		if !action.Valid() {
			return 0, 0, false, errors.Wrapf(errors.ErrInvalidAction, "policy returned %d", int(action))
		}
	}

	exploreProb := a.cfg.CuriosityWeight * a.engine.CuriosityScore()
	if a.rng.Float64() < exploreProb {
		return models.Action(a.rng.Intn(3)), 0, true, nil
	}
	return action, confidence, false, nil
}

// lessonTags derives free-form tags describing what the step teaches.
func lessonTags(action models.Action, info sim.StepInfo, r regime.Regime) []string {
	var tags []string
	if info.RiskBlocked {
		tags = append(tags, "risk_blocked")
	}
	if action == models.Sell && info.LastTrade != nil {
		switch {
		case info.PnL > 0 && info.HoldingTime <= 5:
			tags = append(tags, "quick_profit", "profitable_in_"+r.String())
		case info.PnL > 0:
			tags = append(tags, "profitable_in_"+r.String())
		case info.PnL < 0:
			tags = append(tags, "loss_in_"+r.String())
		}
	}
	return tags
}

// EpisodeReport summarizes one completed episode.
type EpisodeReport struct {
	EpisodeID  string                `json:"episode_id"`
	Steps      int                   `json:"steps"`
	Explored   int                   `json:"explored_steps"`
	Actions    map[string]int        `json:"actions"`
	Outcome    models.EpisodeOutcome `json:"outcome"`
	Rewards    RewardSummary         `json:"rewards"`
	Trades     []models.TradeRecord  `json:"trades"`
	Curriculum curriculum.Transition `json:"curriculum"`
	Regime     regime.DetectorStats  `json:"regime"`
	Curiosity  curiosity.Stats       `json:"curiosity"`
}

// EndEpisode reports the finished episode to the curriculum manager and
// returns a summary. Persistence is left to Flush so callers control
// checkpoint frequency.
func (a *Agent) EndEpisode() (EpisodeReport, error) {
	outcome := a.sim.Outcome()
	transition, err := a.curriculum.RecordEpisode(outcome)
	if err != nil {
		return EpisodeReport{}, err
	}
	a.inEpisode = false

	actions := make(map[string]int, 3)
	for i, n := range a.actions {
		actions[models.Action(i).String()] = n
	}
	report := EpisodeReport{
		EpisodeID:  a.episodeID,
		Steps:      a.steps,
		Explored:   a.explored,
		Actions:    actions,
		Outcome:    outcome,
		Rewards:    a.blender.Summary(),
		Trades:     a.sim.Trades(),
		Curriculum: transition,
		Regime:     a.detector.Stats(),
		Curiosity:  a.engine.Stats(),
	}
	a.log.Info().
		Str("episode", a.episodeID).
		Int("steps", a.steps).
		Float64("return", outcome.TotalReturn).
		Float64("win_rate", outcome.WinRate).
		Str("level", transition.Level.String()).
		Msg("episode finished")
	return report, nil
}

// RunEpisode drives a full episode from reset to completion.
func (a *Agent) RunEpisode(seed int64) (EpisodeReport, error) {
	a.BeginEpisode(seed)
	for {
		out, err := a.Step()
		if err != nil {
			return EpisodeReport{}, err
		}
		if out.Done {
			break
		}
	}
	return a.EndEpisode()
}

// Flush persists the experience store, curriculum state and curiosity
// tables to their configured paths. Blocking; never called inside Step.
func (a *Agent) Flush(storePath, curriculumPath, curiosityPath string) error {
	if err := a.store.Save(storePath); err != nil {
		return err
	}
	if err := a.curriculum.Save(curriculumPath); err != nil {
		return err
	}
	return a.engine.Save(curiosityPath)
}

// Restore loads previously persisted state. Missing files are not an
// error; each component simply starts fresh.
func (a *Agent) Restore(storePath, curriculumPath, curiosityPath string) error {
	if err := a.store.Load(storePath); err != nil && !errors.Is(err, errors.ErrNoPriorState) {
		return err
	}
	if err := a.curriculum.Load(curriculumPath); err != nil && !errors.Is(err, errors.ErrNoPriorState) {
		return err
	}
	if err := a.engine.Load(curiosityPath); err != nil && !errors.Is(err, errors.ErrNoPriorState) {
		return err
	}
	return nil
}

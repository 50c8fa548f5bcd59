// Package curiosity implements the intrinsic-motivation engine: count-based
// state novelty, online prediction error from a linear forward model, and
// profitable-pattern discovery bonuses.
package curiosity

import (
	"fmt"
	"math"
	"math/rand"

	"evotrader/internal/config"
	"evotrader/internal/errors"
	"evotrader/internal/models"
)

// patternRewardThreshold is the minimum extrinsic reward for a transition
// to count as a discovered profitable pattern.
const patternRewardThreshold = 0.01

// discoveryOccurrences is how many times a pattern key earns its bonus.
const discoveryOccurrences = 3

// IntrinsicReward holds the weighted components of one scored transition.
type IntrinsicReward struct {
	Novelty         float64 `json:"novelty_bonus"`
	PredictionError float64 `json:"prediction_error"`
	PatternBonus    float64 `json:"pattern_discovery"`
	Total           float64 `json:"total"`
}

// patternKey identifies a (discretized state, action) pair.
type patternKey struct {
	StateHash uint64
	Action    models.Action
}

// patternStats accumulates per-pattern outcomes. The table grows
// monotonically; it never evicts.
type patternStats struct {
	Count       int     `json:"count"`
	TotalReward float64 `json:"total_reward"`
	AvgReward   float64 `json:"avg_reward"`
}

// Stats is the engine's observable state.
type Stats struct {
	TotalIntrinsicReward float64 `json:"total_intrinsic_reward"`
	AvgNovelty           float64 `json:"avg_novelty"`
	UniqueStates         int     `json:"unique_states"`
	PatternsFound        int     `json:"patterns_found"`
	CuriosityScore       float64 `json:"curiosity_score"`
	MemoryUsage          float64 `json:"memory_usage"`
}

// Engine scores transitions for intrinsic reward. Not safe for concurrent
// use; each simulation instance owns its own engine.
type Engine struct {
	cfg     config.CuriosityConfig
	encoder stateEncoder
	rng     *rand.Rand

	counts    map[uint64]int
	totalSeen int

	patterns map[patternKey]*patternStats

	// Linear forward model, lazily sized on the first Score call and never
	// resized afterward.
	weights [][]float64
	inDim   int
	outDim  int

	totalIntrinsic float64
	avgNovelty     float64
}

// NewEngine creates an engine with validated configuration and an explicit
// seeded generator for weight initialization.
func NewEngine(cfg config.CuriosityConfig, rng *rand.Rand) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.NewConfigError("curiosity.rng", nil, "random source is required")
	}
	return &Engine{
		cfg:      cfg,
		encoder:  stateEncoder{bins: cfg.DiscretizationBin},
		rng:      rng,
		counts:   make(map[uint64]int),
		patterns: make(map[patternKey]*patternStats),
	}, nil
}

// Score computes the intrinsic reward for one transition and performs the
// engine's online updates (visit counting, forward-model SGD step). A
// dimension change after the first call is a programming error.
func (e *Engine) Score(state []float64, action models.Action, next []float64, extrinsic float64) (IntrinsicReward, error) {
	if len(state) == 0 || len(state) != len(next) {
		return IntrinsicReward{}, errors.NewInvariantError("curiosity",
			fmt.Sprintf("state/next dimension mismatch: %d vs %d", len(state), len(next)))
	}

	novelty := e.scoreNovelty(next)

	predErr, err := e.scorePrediction(state, action, next)
	if err != nil {
		return IntrinsicReward{}, err
	}

	pattern := e.scorePattern(state, action, extrinsic)

	reward := IntrinsicReward{
		Novelty:         novelty * e.cfg.NoveltyWeight,
		PredictionError: predErr * e.cfg.PredictionWeight,
		PatternBonus:    pattern * e.cfg.PatternWeight,
	}
	reward.Total = reward.Novelty + reward.PredictionError + reward.PatternBonus

	e.totalIntrinsic += reward.Total
	e.updateModel(state, action, next)

	return reward, nil
}

// scoreNovelty returns the inverse-count bonus for the discretized state
// and then increments its visit count, evicting the globally least-visited
// entry when the table is full.
func (e *Engine) scoreNovelty(obs []float64) float64 {
	key := e.encoder.encode(obs)
	count, exists := e.counts[key]

	if !exists && len(e.counts) >= e.cfg.MemorySize {
		e.evictLeastVisited()
	}
	e.counts[key] = count + 1
	e.totalSeen++

	novelty := 1.0 / math.Sqrt(float64(count)+1)
	e.avgNovelty = e.avgNovelty*0.99 + novelty*0.01

	if novelty <= e.cfg.NoveltyThreshold {
		return 0
	}
	return novelty
}

// evictLeastVisited removes the entry with the lowest visit count, breaking
// ties by the smallest hash key so eviction is deterministic.
func (e *Engine) evictLeastVisited() {
	var victim uint64
	minCount := math.MaxInt
	first := true
	for key, count := range e.counts {
		if count < minCount || (count == minCount && (first || key < victim)) {
			victim = key
			minCount = count
			first = false
		}
	}
	if !first {
		delete(e.counts, victim)
	}
}

// scorePrediction runs the linear forward model and returns tanh-bounded
// mean squared error.
func (e *Engine) scorePrediction(state []float64, action models.Action, next []float64) (float64, error) {
	if e.weights == nil {
		e.initModel(len(state))
	}
	if len(state)+1 != e.inDim {
		return 0, errors.NewInvariantError("curiosity",
			fmt.Sprintf("observation dimension changed: model expects %d, got %d", e.inDim-1, len(state)))
	}

	pred := e.predict(state, action)
	var mse float64
	for i := range pred {
		d := pred[i] - next[i]
		mse += d * d
	}
	mse /= float64(len(pred))

	return math.Tanh(mse), nil
}

func (e *Engine) initModel(stateDim int) {
	e.inDim = stateDim + 1
	e.outDim = stateDim
	e.weights = make([][]float64, e.outDim)
	for i := range e.weights {
		row := make([]float64, e.inDim)
		for j := range row {
			row[j] = e.rng.NormFloat64() * 0.01
		}
		e.weights[i] = row
	}
}

func (e *Engine) predict(state []float64, action models.Action) []float64 {
	out := make([]float64, e.outDim)
	for i, row := range e.weights {
		var sum float64
		for j, v := range state {
			sum += row[j] * v
		}
		sum += row[e.inDim-1] * float64(action)
		out[i] = sum
	}
	return out
}

// updateModel applies one gradient-descent step on the squared prediction
// error.
func (e *Engine) updateModel(state []float64, action models.Action, next []float64) {
	if e.weights == nil || len(state)+1 != e.inDim {
		return
	}
	pred := e.predict(state, action)
	lr := e.cfg.PredictionLR
	for i := range e.weights {
		errTerm := pred[i] - next[i]
		row := e.weights[i]
		for j, v := range state {
			row[j] -= lr * errTerm * v
		}
		row[e.inDim-1] -= lr * errTerm * float64(action)
	}
}

// scorePattern tracks profitable (state, action) pairs and pays the
// discovery bonus for a key's first few occurrences only.
func (e *Engine) scorePattern(state []float64, action models.Action, extrinsic float64) float64 {
	if extrinsic <= patternRewardThreshold {
		return 0
	}

	key := patternKey{StateHash: e.encoder.encode(state), Action: action}
	p, ok := e.patterns[key]
	if !ok {
		p = &patternStats{}
		e.patterns[key] = p
	}
	p.Count++
	p.TotalReward += extrinsic
	p.AvgReward = p.TotalReward / float64(p.Count)

	if p.Count <= discoveryOccurrences {
		return 0.5 * extrinsic
	}
	return 0
}

// CuriosityScore returns the exploration ratio in [0,1]: unique states over
// total states seen, capped by the table capacity. High means the engine is
// still finding new territory.
func (e *Engine) CuriosityScore() float64 {
	if e.totalSeen == 0 {
		return 0
	}
	denom := e.totalSeen
	if denom > e.cfg.MemorySize {
		denom = e.cfg.MemorySize
	}
	ratio := float64(len(e.counts)) / float64(denom)
	if ratio > 1 {
		return 1
	}
	return ratio
}

// Stats returns the engine's observable counters.
func (e *Engine) Stats() Stats {
	return Stats{
		TotalIntrinsicReward: e.totalIntrinsic,
		AvgNovelty:           e.avgNovelty,
		UniqueStates:         len(e.counts),
		PatternsFound:        len(e.patterns),
		CuriosityScore:       e.CuriosityScore(),
		MemoryUsage:          float64(len(e.counts)) / float64(e.cfg.MemorySize),
	}
}

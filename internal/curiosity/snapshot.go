package curiosity

import (
	"fmt"
	"strconv"

	"evotrader/internal/checkpoint"
	"evotrader/internal/errors"
	"evotrader/internal/models"
)

// snapshot is the serialized form of an Engine. Hash keys are stored as
// decimal strings because JSON object keys are strings.
type snapshot struct {
	Version        string                   `json:"version"`
	Counts         map[string]int           `json:"state_counts"`
	TotalSeen      int                      `json:"total_states_seen"`
	Patterns       map[string]*patternStats `json:"discovered_patterns"`
	Weights        [][]float64              `json:"prediction_weights,omitempty"`
	InDim          int                      `json:"input_dim"`
	TotalIntrinsic float64                  `json:"total_intrinsic_reward"`
	AvgNovelty     float64                  `json:"avg_novelty"`
}

func patternKeyString(k patternKey) string {
	return fmt.Sprintf("%d_%d", k.StateHash, int(k.Action))
}

func parsePatternKey(s string) (patternKey, error) {
	var hash uint64
	var action int
	if _, err := fmt.Sscanf(s, "%d_%d", &hash, &action); err != nil {
		return patternKey{}, err
	}
	return patternKey{StateHash: hash, Action: models.Action(action)}, nil
}

// Save writes the engine state to path atomically.
func (e *Engine) Save(path string) error {
	snap := snapshot{
		Version:        "1.0",
		Counts:         make(map[string]int, len(e.counts)),
		TotalSeen:      e.totalSeen,
		Patterns:       make(map[string]*patternStats, len(e.patterns)),
		Weights:        e.weights,
		InDim:          e.inDim,
		TotalIntrinsic: e.totalIntrinsic,
		AvgNovelty:     e.avgNovelty,
	}
	for key, count := range e.counts {
		snap.Counts[strconv.FormatUint(key, 10)] = count
	}
	for key, p := range e.patterns {
		snap.Patterns[patternKeyString(key)] = p
	}
	return checkpoint.WriteJSON(path, snap)
}

// Load restores engine state from path. errors.ErrNoPriorState means no
// checkpoint exists and the engine is left untouched.
func (e *Engine) Load(path string) error {
	var snap snapshot
	if err := checkpoint.ReadJSON(path, &snap); err != nil {
		return err
	}

	counts := make(map[uint64]int, len(snap.Counts))
	for keyStr, count := range snap.Counts {
		key, err := strconv.ParseUint(keyStr, 10, 64)
		if err != nil {
			return errors.NewPersistenceError("load", path, err)
		}
		counts[key] = count
	}

	patterns := make(map[patternKey]*patternStats, len(snap.Patterns))
	for keyStr, p := range snap.Patterns {
		key, err := parsePatternKey(keyStr)
		if err != nil {
			return errors.NewPersistenceError("load", path, err)
		}
		patterns[key] = p
	}

	e.counts = counts
	e.totalSeen = snap.TotalSeen
	e.patterns = patterns
	e.totalIntrinsic = snap.TotalIntrinsic
	e.avgNovelty = snap.AvgNovelty
	if snap.Weights != nil {
		e.weights = snap.Weights
		e.inDim = snap.InDim
		e.outDim = len(snap.Weights)
	}
	return nil
}

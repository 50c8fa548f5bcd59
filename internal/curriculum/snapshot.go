package curriculum

import (
	"evotrader/internal/checkpoint"
	"evotrader/internal/stats"
)

type levelSnapshot struct {
	Episodes            int       `json:"episodes"`
	Wins                int       `json:"wins"`
	CumulativeReturn    float64   `json:"cumulative_return"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Returns             []float64 `json:"returns"`
}

type snapshot struct {
	Level         Level                   `json:"level"`
	TotalEpisodes int                     `json:"total_episodes"`
	ByLevel       map[Level]levelSnapshot `json:"by_level"`
	History       []historyEntry          `json:"history"`
}

// Save writes the full curriculum state to path atomically.
func (m *Manager) Save(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := snapshot{
		Level:         m.level,
		TotalEpisodes: m.totalEpisodes,
		ByLevel:       make(map[Level]levelSnapshot, len(m.byLevel)),
		History:       m.history,
	}
	for l, ls := range m.byLevel {
		snap.ByLevel[l] = levelSnapshot{
			Episodes:            ls.Episodes,
			Wins:                ls.Wins,
			CumulativeReturn:    ls.CumulativeReturn,
			ConsecutiveFailures: ls.ConsecutiveFailures,
			Returns:             ls.returns.Values(),
		}
	}
	return checkpoint.WriteJSON(path, snap)
}

// Load restores a previously saved curriculum state, including the active
// level, per-level counters and the transition history. A missing file
// returns errors.ErrNoPriorState.
func (m *Manager) Load(path string) error {
	var snap snapshot
	if err := checkpoint.ReadJSON(path, &snap); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.level = snap.Level
	m.totalEpisodes = snap.TotalEpisodes
	m.history = snap.History
	for _, l := range []Level{Easy, Medium, Hard, Expert} {
		ls := newLevelStats()
		if saved, ok := snap.ByLevel[l]; ok {
			ls.Episodes = saved.Episodes
			ls.Wins = saved.Wins
			ls.CumulativeReturn = saved.CumulativeReturn
			ls.ConsecutiveFailures = saved.ConsecutiveFailures
			ls.returns = stats.NewRollingWindow(returnsWindow)
			for _, r := range saved.Returns {
				ls.returns.Push(r)
			}
		}
		m.byLevel[l] = ls
	}
	m.log.Info().
		Str("level", m.level.String()).
		Int("episodes", m.totalEpisodes).
		Str("path", path).
		Msg("curriculum state restored")
	return nil
}

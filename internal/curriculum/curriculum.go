// Package curriculum tracks performance per difficulty tier and moves the
// active tier up or down at episode boundaries.
package curriculum

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"evotrader/internal/config"
	"evotrader/internal/errors"
	"evotrader/internal/models"
	"evotrader/internal/stats"
)

// Level is an ordered difficulty tier.
type Level int

const (
	Easy Level = iota
	Medium
	Hard
	Expert
)

// String returns the display name of the level.
func (l Level) String() string {
	switch l {
	case Easy:
		return "EASY"
	case Medium:
		return "MEDIUM"
	case Hard:
		return "HARD"
	case Expert:
		return "EXPERT"
	default:
		return "UNKNOWN"
	}
}

const (
	// returnsWindow is how many trailing episode returns feed the Sharpe
	// estimate.
	returnsWindow = 30
	// minSharpeSamples is the minimum history before the Sharpe estimate is
	// meaningful; below it the estimate reads as 0.
	minSharpeSamples = 10
	// regressionStreak is how many consecutive non-winning episodes trigger
	// a level regression.
	regressionStreak = 5
)

// levelStats accumulates performance at one level. Stats persist across
// level transitions, so revisiting a level continues its history.
type levelStats struct {
	Episodes            int
	Wins                int
	CumulativeReturn    float64
	ConsecutiveFailures int
	returns             *stats.RollingWindow
}

func newLevelStats() *levelStats {
	return &levelStats{returns: stats.NewRollingWindow(returnsWindow)}
}

func (s *levelStats) winRate() float64 {
	if s.Episodes == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Episodes)
}

// sharpe estimates risk-adjusted performance over the trailing returns.
// Too little history reads as 0 rather than an unstable extreme.
func (s *levelStats) sharpe() float64 {
	if s.returns.Len() < minSharpeSamples {
		return 0
	}
	vals := s.returns.Values()
	sd := stats.StdDev(vals)
	if sd < stats.Epsilon {
		return 0
	}
	return stats.Mean(vals) / sd
}

// Transition reports the outcome of recording one episode.
type Transition struct {
	Advanced  bool  `json:"advanced"`
	Regressed bool  `json:"regressed"`
	Level     Level `json:"level"`
}

// historyEntry records one level change.
type historyEntry struct {
	Timestamp time.Time `json:"timestamp"`
	From      Level     `json:"from"`
	To        Level     `json:"to"`
	Reason    string    `json:"reason"`
	Episode   int       `json:"episode"`
}

// Manager owns the active difficulty level. It may be shared across
// simulator instances; mutating operations are guarded by a mutex.
type Manager struct {
	mu            sync.Mutex
	cfg           config.CurriculumConfig
	log           zerolog.Logger
	level         Level
	byLevel       map[Level]*levelStats
	history       []historyEntry
	totalEpisodes int
}

// NewManager builds a manager starting at the easiest level.
func NewManager(cfg config.CurriculumConfig, log zerolog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg: cfg,
		log: log,
		byLevel: map[Level]*levelStats{
			Easy:   newLevelStats(),
			Medium: newLevelStats(),
			Hard:   newLevelStats(),
			Expert: newLevelStats(),
		},
	}
	return m, nil
}

// Level returns the active difficulty level.
func (m *Manager) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *Manager) thresholds(l Level) config.LevelConfig {
	switch l {
	case Medium:
		return m.cfg.Medium
	case Hard:
		return m.cfg.Hard
	case Expert:
		return m.cfg.Expert
	default:
		return m.cfg.Easy
	}
}

// RecordEpisode folds one finished episode into the active level's stats
// and decides whether the level moves. Advancement requires episode count,
// win rate and trailing Sharpe to clear the active level's thresholds at
// the same time, and moves exactly one level up. Regression fires after a
// streak of non-winning episodes, never below the bottom level.
func (m *Manager) RecordEpisode(outcome models.EpisodeOutcome) (Transition, error) {
	if !stats.IsFinite(outcome.TotalReturn) || !stats.IsFinite(outcome.WinRate) {
		return Transition{}, errors.NewInvariantError("curriculum", "episode outcome contains non-finite values")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalEpisodes++
	ls := m.byLevel[m.level]
	ls.Episodes++
	ls.CumulativeReturn += outcome.TotalReturn
	ls.returns.Push(outcome.TotalReturn)
	if outcome.TotalReturn > 0 {
		ls.Wins++
		ls.ConsecutiveFailures = 0
	} else {
		ls.ConsecutiveFailures++
	}

	tr := Transition{Level: m.level}
	switch {
	case m.shouldAdvance(ls):
		m.moveTo(m.level+1, "thresholds met")
		tr.Advanced = true
		tr.Level = m.level
	case m.shouldRegress(ls):
		ls.ConsecutiveFailures = 0
		m.moveTo(m.level-1, "consecutive failures")
		tr.Regressed = true
		tr.Level = m.level
	}
	return tr, nil
}

func (m *Manager) shouldAdvance(ls *levelStats) bool {
	if m.level >= Expert {
		return false
	}
	th := m.thresholds(m.level)
	return ls.Episodes >= th.MinEpisodes &&
		ls.winRate() >= th.MinWinRate &&
		ls.sharpe() >= th.MinSharpe
}

func (m *Manager) shouldRegress(ls *levelStats) bool {
	if !m.cfg.AllowRegression || m.level <= Easy {
		return false
	}
	return ls.ConsecutiveFailures >= regressionStreak
}

func (m *Manager) moveTo(next Level, reason string) {
	entry := historyEntry{
		Timestamp: time.Now(),
		From:      m.level,
		To:        next,
		Reason:    reason,
		Episode:   m.totalEpisodes,
	}
	m.history = append(m.history, entry)
	m.log.Info().
		Str("from", m.level.String()).
		Str("to", next.String()).
		Str("reason", reason).
		Int("episode", m.totalEpisodes).
		Msg("curriculum level changed")
	m.level = next
}

// LevelStats summarizes accumulated performance at one level.
type LevelStats struct {
	Level               Level   `json:"level"`
	Episodes            int     `json:"episodes"`
	Wins                int     `json:"wins"`
	WinRate             float64 `json:"win_rate"`
	CumulativeReturn    float64 `json:"cumulative_return"`
	Sharpe              float64 `json:"sharpe"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

// Stats reports accumulated performance for every level.
func (m *Manager) Stats() []LevelStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LevelStats, 0, len(m.byLevel))
	for _, l := range []Level{Easy, Medium, Hard, Expert} {
		ls := m.byLevel[l]
		out = append(out, LevelStats{
			Level:               l,
			Episodes:            ls.Episodes,
			Wins:                ls.Wins,
			WinRate:             ls.winRate(),
			CumulativeReturn:    ls.CumulativeReturn,
			Sharpe:              ls.sharpe(),
			ConsecutiveFailures: ls.ConsecutiveFailures,
		})
	}
	return out
}

// TotalEpisodes returns the number of episodes recorded across all levels.
func (m *Manager) TotalEpisodes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalEpisodes
}

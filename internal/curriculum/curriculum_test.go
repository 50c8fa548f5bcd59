package curriculum

import (
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"evotrader/internal/config"
	"evotrader/internal/errors"
	"evotrader/internal/logging"
	"evotrader/internal/models"
)

func testManager(t *testing.T, mutate func(*config.CurriculumConfig)) *Manager {
	t.Helper()
	cfg := config.Default().Curriculum
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg, logging.Nop())
	require.NoError(t, err)
	return m
}

func winningOutcome(ret float64) models.EpisodeOutcome {
	return models.EpisodeOutcome{TotalReturn: ret, WinRate: 0.6, NumTrades: 4}
}

func losingOutcome() models.EpisodeOutcome {
	return models.EpisodeOutcome{TotalReturn: -0.01, WinRate: 0.2, NumTrades: 4}
}

// record feeds n winning episodes with slightly varied returns so the
// trailing Sharpe is positive and well defined.
func recordWins(t *testing.T, m *Manager, n int) []Transition {
	t.Helper()
	out := make([]Transition, 0, n)
	for i := 0; i < n; i++ {
		tr, err := m.RecordEpisode(winningOutcome(0.01 + 0.001*float64(i%3)))
		require.NoError(t, err)
		out = append(out, tr)
	}
	return out
}

func TestRecordEpisodeIsSafeForConcurrentUse(t *testing.T) {
	m := testManager(t, func(c *config.CurriculumConfig) {
		c.AllowRegression = false
	})

	const goroutines = 4
	const perGoroutine = 25
	errs := make(chan error, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if _, err := m.RecordEpisode(losingOutcome()); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, goroutines*perGoroutine, m.TotalEpisodes())
	episodes := 0
	for _, ls := range m.Stats() {
		episodes += ls.Episodes
	}
	require.Equal(t, goroutines*perGoroutine, episodes)
}

func TestManagerStartsAtEasy(t *testing.T) {
	m := testManager(t, nil)
	require.Equal(t, Easy, m.Level())
	require.Equal(t, 0, m.TotalEpisodes())
}

func TestAdvancesExactlyOneLevelWhenThresholdsMet(t *testing.T) {
	m := testManager(t, nil)

	trs := recordWins(t, m, 10)
	for _, tr := range trs[:9] {
		require.False(t, tr.Advanced, "advanced before minimum episodes")
		require.False(t, tr.Regressed)
	}
	require.True(t, trs[9].Advanced)
	require.Equal(t, Medium, trs[9].Level)
	require.Equal(t, Medium, m.Level())
}

func TestAdvancementBlockedByWinRate(t *testing.T) {
	m := testManager(t, nil)

	// Alternate wins and losses: win rate 0.5 clears Easy's 0.40 floor but
	// the Sharpe over symmetric returns stays near zero, below any positive
	// floor.
	m2 := testManager(t, func(c *config.CurriculumConfig) { c.Easy.MinSharpe = 0.5 })
	for i := 0; i < 20; i++ {
		var out models.EpisodeOutcome
		if i%2 == 0 {
			out = winningOutcome(0.01)
		} else {
			out = models.EpisodeOutcome{TotalReturn: -0.01, WinRate: 0.5, NumTrades: 4}
		}
		tr, err := m2.RecordEpisode(out)
		require.NoError(t, err)
		require.False(t, tr.Advanced)
	}
	require.Equal(t, Easy, m2.Level())

	// Pure losses never clear the win-rate floor.
	for i := 0; i < 15; i++ {
		tr, err := m.RecordEpisode(losingOutcome())
		require.NoError(t, err)
		require.False(t, tr.Advanced)
	}
	require.Equal(t, Easy, m.Level())
}

func TestRegressionAfterConsecutiveFailures(t *testing.T) {
	m := testManager(t, nil)
	recordWins(t, m, 10)
	require.Equal(t, Medium, m.Level())

	for i := 0; i < 4; i++ {
		tr, err := m.RecordEpisode(losingOutcome())
		require.NoError(t, err)
		require.False(t, tr.Regressed)
	}
	tr, err := m.RecordEpisode(losingOutcome())
	require.NoError(t, err)
	require.True(t, tr.Regressed)
	require.Equal(t, Easy, tr.Level)
	require.Equal(t, Easy, m.Level())

	// The failure streak resets on regression so revisiting Medium starts
	// from a clean slate.
	for _, ls := range m.Stats() {
		if ls.Level == Medium {
			require.Equal(t, 0, ls.ConsecutiveFailures)
		}
	}
}

func TestNoRegressionBelowBottomLevel(t *testing.T) {
	m := testManager(t, nil)
	for i := 0; i < 12; i++ {
		tr, err := m.RecordEpisode(losingOutcome())
		require.NoError(t, err)
		require.False(t, tr.Regressed)
	}
	require.Equal(t, Easy, m.Level())
}

func TestRegressionDisabledByConfig(t *testing.T) {
	m := testManager(t, func(c *config.CurriculumConfig) { c.AllowRegression = false })
	recordWins(t, m, 10)
	require.Equal(t, Medium, m.Level())

	for i := 0; i < 8; i++ {
		tr, err := m.RecordEpisode(losingOutcome())
		require.NoError(t, err)
		require.False(t, tr.Regressed)
	}
	require.Equal(t, Medium, m.Level())
}

func TestLevelStatsPersistAcrossTransitions(t *testing.T) {
	m := testManager(t, nil)
	recordWins(t, m, 10)
	require.Equal(t, Medium, m.Level())

	for i := 0; i < 5; i++ {
		_, err := m.RecordEpisode(losingOutcome())
		require.NoError(t, err)
	}
	require.Equal(t, Easy, m.Level())

	// Easy's earlier history survived the round trip through Medium.
	for _, ls := range m.Stats() {
		switch ls.Level {
		case Easy:
			require.Equal(t, 10, ls.Episodes)
			require.Equal(t, 10, ls.Wins)
		case Medium:
			require.Equal(t, 5, ls.Episodes)
			require.Equal(t, 0, ls.Wins)
		}
	}
	require.Equal(t, 15, m.TotalEpisodes())
}

func TestRecordEpisodeRejectsNonFiniteOutcome(t *testing.T) {
	m := testManager(t, nil)
	_, err := m.RecordEpisode(models.EpisodeOutcome{TotalReturn: math.NaN(), WinRate: 0.5})
	require.Error(t, err)
	_, err = m.RecordEpisode(models.EpisodeOutcome{TotalReturn: 0.1, WinRate: math.Inf(1)})
	require.Error(t, err)
	require.Equal(t, 0, m.TotalEpisodes())
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curriculum.json")

	m := testManager(t, nil)
	recordWins(t, m, 10)
	_, err := m.RecordEpisode(losingOutcome())
	require.NoError(t, err)
	require.NoError(t, m.Save(path))

	restored := testManager(t, nil)
	require.NoError(t, restored.Load(path))

	require.Equal(t, m.Level(), restored.Level())
	require.Equal(t, m.TotalEpisodes(), restored.TotalEpisodes())
	require.Equal(t, m.Stats(), restored.Stats())
}

func TestLoadMissingFileSignalsNoPriorState(t *testing.T) {
	m := testManager(t, nil)
	err := m.Load(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, errors.ErrNoPriorState)
}

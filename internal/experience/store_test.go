package experience

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"evotrader/internal/config"
	"evotrader/internal/errors"
	"evotrader/internal/logging"
	"evotrader/internal/models"
)

func testStore(t *testing.T, maxSize int) *Store {
	t.Helper()
	cfg := config.Default().Store
	cfg.MaxSize = maxSize
	s, err := NewStore(cfg, rand.New(rand.NewSource(1)), logging.Nop())
	require.NoError(t, err)
	return s
}

func transition(pnl, reward float64, holding int, regime string) Transition {
	return Transition{
		Observation:     []float64{pnl, reward, 1},
		Action:          models.Sell,
		Reward:          reward,
		NextObservation: []float64{pnl, reward, 0},
		PnL:             pnl,
		HoldingTime:     holding,
		MarketRegime:    regime,
	}
}

func TestPriorityFormula(t *testing.T) {
	// tanh(10|pnl|)*0.4 + tanh(5|reward|)*0.3 + 0.3/(1+0.1*holding) + 0.2 if pnl>0
	got := computePriority(0.5, 1.0, 2)
	want := math.Tanh(10)*0.4 + math.Tanh(2.5)*0.3 + 0.3/1.2 + 0.2
	require.InDelta(t, want, got, 1e-12)

	// Losses forfeit the profit bump.
	got = computePriority(0.5, -1.0, 2)
	require.InDelta(t, want-0.2, got, 1e-12)
}

func TestAddAssignsIDAndPriority(t *testing.T) {
	s := testStore(t, 10)

	exp, err := s.Add(transition(1.0, 0.5, 3, "BULL"))
	require.NoError(t, err)
	require.NotEmpty(t, exp.ID)
	require.True(t, exp.WasProfitable)
	require.InDelta(t, computePriority(0.5, 1.0, 3), exp.Priority, 1e-12)
	require.Equal(t, exp, s.Get(exp.ID))
}

func TestAddRejectsNonFiniteObservation(t *testing.T) {
	s := testStore(t, 10)

	_, err := s.Add(Transition{Observation: []float64{math.NaN()}})
	var inv *errors.InvariantError
	require.ErrorAs(t, err, &inv)
}

func TestCapacityEvictsLowestPriority(t *testing.T) {
	s := testStore(t, 3)

	low, err := s.Add(transition(-0.001, -0.001, 100, "BEAR")) // lowest priority
	require.NoError(t, err)
	var kept []string
	for i := 0; i < 3; i++ {
		exp, err := s.Add(transition(5, 2, 0, "BULL"))
		require.NoError(t, err)
		kept = append(kept, exp.ID)
	}

	require.Equal(t, 3, s.Len())
	require.Nil(t, s.Get(low.ID))
	for _, id := range kept {
		require.NotNil(t, s.Get(id))
	}

	stats := s.Stats()
	require.Equal(t, 4, stats.TotalAdded)
	require.Equal(t, 1, stats.TotalEvicted)
	require.Zero(t, stats.ByRegime["BEAR"])
}

func TestProperty_SizeNeverExceedsCapacity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(1)

	properties := gopter.NewProperties(parameters)

	properties.Property("inserting max_size+k records evicts exactly k", prop.ForAll(
		func(pnls []float64) bool {
			cfg := config.Default().Store
			cfg.MaxSize = 10
			s, err := NewStore(cfg, rand.New(rand.NewSource(1)), logging.Nop())
			if err != nil {
				return false
			}
			for _, pnl := range pnls {
				if _, err := s.Add(transition(pnl, pnl/2, 1, "BULL")); err != nil {
					return false
				}
				if s.Len() > 10 {
					return false
				}
			}
			stats := s.Stats()
			evicted := len(pnls) - 10
			if evicted < 0 {
				evicted = 0
			}
			return stats.TotalEvicted == evicted
		},
		gen.SliceOfN(25, gen.Float64Range(-2, 2)),
	))

	properties.TestingRun(t)
}

func TestSampleFilters(t *testing.T) {
	s := testStore(t, 100)

	for i := 0; i < 10; i++ {
		_, err := s.Add(transition(1, 0.5, 1, "BULL"))
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		_, err := s.Add(transition(-1, -0.5, 1, "BEAR"))
		require.NoError(t, err)
	}

	bulls := s.Sample(5, SampleOptions{Regime: "BULL"})
	require.Len(t, bulls, 5)
	for _, exp := range bulls {
		require.Equal(t, "BULL", exp.MarketRegime)
	}

	profitable := s.Sample(20, SampleOptions{OnlyProfitable: true})
	require.Len(t, profitable, 10)
	for _, exp := range profitable {
		require.True(t, exp.WasProfitable)
	}

	require.Empty(t, s.Sample(5, SampleOptions{Regime: "SIDEWAYS"}))
}

func TestSampleDrawsWithoutReplacement(t *testing.T) {
	s := testStore(t, 100)
	for i := 0; i < 20; i++ {
		_, err := s.Add(transition(float64(i), 0.1, i, "BULL"))
		require.NoError(t, err)
	}

	sampled := s.Sample(15, SampleOptions{})
	require.Len(t, sampled, 15)
	seen := make(map[string]struct{}, len(sampled))
	for _, exp := range sampled {
		_, dup := seen[exp.ID]
		require.False(t, dup)
		seen[exp.ID] = struct{}{}
	}
}

func TestKNearestRanksByCosineSimilarity(t *testing.T) {
	s := testStore(t, 100)

	aligned := transition(1, 0.5, 1, "BULL")
	aligned.Observation = []float64{1, 0, 0}
	expAligned, err := s.Add(aligned)
	require.NoError(t, err)

	orthogonal := transition(1, 0.5, 1, "BULL")
	orthogonal.Observation = []float64{0, 1, 0}
	_, err = s.Add(orthogonal)
	require.NoError(t, err)

	nearest := s.KNearest([]float64{2, 0.1, 0}, 1)
	require.Len(t, nearest, 1)
	require.Equal(t, expAligned.ID, nearest[0].ID)
}

func TestLessonsForRegimeDeduplicated(t *testing.T) {
	s := testStore(t, 100)

	for i := 0; i < 3; i++ {
		tr := transition(1, 0.5, 1, "BULL")
		tr.LessonTags = []string{"quick_profit", "profitable_in_BULL"}
		_, err := s.Add(tr)
		require.NoError(t, err)
	}
	losing := transition(-1, -0.5, 1, "BULL")
	losing.LessonTags = []string{"loss_in_BULL"}
	_, err := s.Add(losing)
	require.NoError(t, err)

	lessons := s.LessonsForRegime("BULL")
	require.Equal(t, []string{"profitable_in_BULL", "quick_profit"}, lessons)
}

func TestSnapshotRoundTripPreservesIdentityAndIndexes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiences.json")
	s := testStore(t, 50)

	ids := make(map[string]float64)
	for i := 0; i < 12; i++ {
		regime := "BULL"
		pnl := 1.0
		if i%3 == 0 {
			regime, pnl = "BEAR", -1.0
		}
		exp, err := s.Add(transition(pnl, 0.2, i, regime))
		require.NoError(t, err)
		ids[exp.ID] = exp.Priority
	}
	require.NoError(t, s.Save(path))

	restored := testStore(t, 50)
	require.NoError(t, restored.Load(path))

	require.Equal(t, s.Len(), restored.Len())
	for id, priority := range ids {
		exp := restored.Get(id)
		require.NotNil(t, exp)
		require.InDelta(t, priority, exp.Priority, 1e-12)
	}
	require.Equal(t, s.Stats().ByRegime, restored.Stats().ByRegime)
	require.InDelta(t, s.Stats().ProfitableRatio, restored.Stats().ProfitableRatio, 1e-12)
}

func TestLoadMissingFileSignalsNoPriorState(t *testing.T) {
	s := testStore(t, 10)
	err := s.Load(filepath.Join(t.TempDir(), "absent.json"))
	require.ErrorIs(t, err, errors.ErrNoPriorState)
}

package agent

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evotrader/internal/config"
	"evotrader/internal/curiosity"
	"evotrader/internal/curriculum"
	"evotrader/internal/data"
	"evotrader/internal/errors"
	"evotrader/internal/experience"
	"evotrader/internal/logging"
	"evotrader/internal/models"
	"evotrader/internal/regime"
	"evotrader/internal/risk"
	"evotrader/internal/sim"
)

type stubPolicy struct {
	action     models.Action
	confidence float64
	err        error
}

func (p *stubPolicy) Predict(obs []float64, deterministic bool) (models.Action, float64, error) {
	return p.action, p.confidence, p.err
}

func testFrame(t *testing.T, closes []float64) *data.FeatureFrame {
	t.Helper()
	series := make(map[string][]float64, len(data.RequiredColumns))
	for _, col := range data.RequiredColumns {
		series[col] = make([]float64, len(closes))
	}
	copy(series["close"], closes)

	times := make([]time.Time, len(closes))
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Minute)
	}
	frame, err := data.NewFeatureFrame(series, times, nil, nil)
	require.NoError(t, err)
	return frame
}

func sineCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 5*math.Sin(float64(i)/4)
	}
	return out
}

func testAgent(t *testing.T, mutate func(*config.Config)) *Agent {
	t.Helper()
	cfg := config.Default()
	cfg.Sim.MaxSteps = 25
	if mutate != nil {
		mutate(cfg)
	}

	governor, err := risk.NewGovernor(cfg.Risk, logging.Nop())
	require.NoError(t, err)
	simulator, err := sim.NewSimulator(cfg.Sim, testFrame(t, sineCloses(60)), governor, logging.Nop())
	require.NoError(t, err)
	engine, err := curiosity.NewEngine(cfg.Curiosity, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	store, err := experience.NewStore(cfg.Store, rand.New(rand.NewSource(3)), logging.Nop())
	require.NoError(t, err)
	manager, err := curriculum.NewManager(cfg.Curriculum, logging.Nop())
	require.NoError(t, err)
	detector, err := regime.NewDetector(cfg.Regime, logging.Nop())
	require.NoError(t, err)

	a, err := NewAgent(cfg.Agent, simulator, engine, store, manager, detector,
		rand.New(rand.NewSource(4)), logging.Nop())
	require.NoError(t, err)
	return a
}

func TestStepOutsideEpisodeFails(t *testing.T) {
	a := testAgent(t, nil)
	_, err := a.Step()
	require.Error(t, err)
	var invErr *errors.InvariantError
	require.ErrorAs(t, err, &invErr)
}

func TestRunEpisodeCompletes(t *testing.T) {
	a := testAgent(t, nil)
	report, err := a.RunEpisode(7)
	require.NoError(t, err)

	require.NotEmpty(t, report.EpisodeID)
	require.Equal(t, 25, report.Steps)
	require.Equal(t, 1, a.curriculum.TotalEpisodes())
	require.Equal(t, 25, a.store.Len())
	require.Equal(t, 25, report.Regime.TotalSteps)
	require.GreaterOrEqual(t, report.Explored, 0)
	require.LessOrEqual(t, report.Explored, report.Steps)

	total := 0
	for _, n := range report.Actions {
		total += n
	}
	require.Equal(t, report.Steps, total)
	require.Len(t, report.Trades, report.Outcome.NumTrades)
}

func TestCurriculumSegmentsPlaceEpisodes(t *testing.T) {
	a := testAgent(t, nil)
	frame := testFrame(t, sineCloses(60))
	a.UseCurriculumSegments(frame)

	seed := int64(9)
	expectedStart, profile := curriculum.SelectSegment(
		frame, a.curriculum.Level(), a.sim.EpisodeLength(), rand.New(rand.NewSource(seed)))
	require.True(t, profile.Difficulty >= 0 && profile.Difficulty <= 1)

	a.BeginEpisode(seed)
	require.InDelta(t, frame.Close(expectedStart), a.sim.CurrentPrice(), 1e-12)

	// Same seed, same placement.
	a.BeginEpisode(seed)
	require.InDelta(t, frame.Close(expectedStart), a.sim.CurrentPrice(), 1e-12)
}

func TestBlendUsesConfiguredWeights(t *testing.T) {
	a := testAgent(t, func(c *config.Config) {
		c.Agent.CuriosityWeight = 0 // no exploration override
		c.Agent.ExtrinsicWeight = 1.0
		c.Agent.IntrinsicWeight = 0.1
	})
	a.BeginEpisode(7)
	out, err := a.Step()
	require.NoError(t, err)
	require.InDelta(t, out.Extrinsic+0.1*out.Intrinsic.Total, out.Blended, 1e-12)
}

func TestPolicyDrivesActions(t *testing.T) {
	a := testAgent(t, func(c *config.Config) { c.Agent.CuriosityWeight = 0 })
	a.AttachPolicy(&stubPolicy{action: models.Buy, confidence: 0.9})
	a.BeginEpisode(7)

	out, err := a.Step()
	require.NoError(t, err)
	require.Equal(t, models.Buy, out.Action)
	require.False(t, out.Explored)

	// Confidence flows through to the captured experience.
	exps := a.store.Sample(1, experience.SampleOptions{})
	require.Len(t, exps, 1)
	require.Equal(t, 0.9, exps[0].Confidence)
	require.NotEmpty(t, exps[0].MarketRegime)
}

func TestInvalidPolicyActionRejected(t *testing.T) {
	a := testAgent(t, func(c *config.Config) { c.Agent.CuriosityWeight = 0 })
	a.AttachPolicy(&stubPolicy{action: models.Action(7)})
	a.BeginEpisode(7)
	_, err := a.Step()
	require.ErrorIs(t, err, errors.ErrInvalidAction)
}

func TestPolicyErrorPropagates(t *testing.T) {
	a := testAgent(t, nil)
	a.AttachPolicy(&stubPolicy{err: errors.NewInvariantError("policy", "broken")})
	a.BeginEpisode(7)
	_, err := a.Step()
	require.Error(t, err)
}

func TestEpisodesAreReproducibleForSeed(t *testing.T) {
	run := func() EpisodeReport {
		a := testAgent(t, func(c *config.Config) { c.Agent.CuriosityWeight = 0 })
		a.AttachPolicy(&stubPolicy{action: models.Buy, confidence: 0.5})
		report, err := a.RunEpisode(11)
		require.NoError(t, err)
		return report
	}
	first := run()
	second := run()
	require.Equal(t, first.Outcome, second.Outcome)
	require.Equal(t, first.Rewards, second.Rewards)
}

func TestFlushAndRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "experiences.json")
	curriculumPath := filepath.Join(dir, "curriculum.json")
	curiosityPath := filepath.Join(dir, "curiosity.json")

	a := testAgent(t, nil)
	_, err := a.RunEpisode(7)
	require.NoError(t, err)
	require.NoError(t, a.Flush(storePath, curriculumPath, curiosityPath))

	restored := testAgent(t, nil)
	require.NoError(t, restored.Restore(storePath, curriculumPath, curiosityPath))
	require.Equal(t, a.store.Len(), restored.store.Len())
	require.Equal(t, a.curriculum.TotalEpisodes(), restored.curriculum.TotalEpisodes())
}

func TestRestoreToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	a := testAgent(t, nil)
	require.NoError(t, a.Restore(
		filepath.Join(dir, "a.json"),
		filepath.Join(dir, "b.json"),
		filepath.Join(dir, "c.json"),
	))
}

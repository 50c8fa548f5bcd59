package regime

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"evotrader/internal/config"
	"evotrader/internal/logging"
)

func testDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(config.Default().Regime, logging.Nop())
	require.NoError(t, err)
	return d
}

func TestWarmupClassifiesUnknown(t *testing.T) {
	d := testDetector(t)
	for i := 0; i < 19; i++ {
		r, m := d.Update(100+float64(i), 0, 0)
		require.Equal(t, Unknown, r)
		require.Equal(t, 0.5, m.Momentum)
	}
	r, _ := d.Update(119, 0, 0)
	require.NotEqual(t, Unknown, r)
}

func TestSteadyUptrendClassifiesBull(t *testing.T) {
	d := testDetector(t)
	var r Regime
	var m Metrics
	for i := 0; i < 40; i++ {
		r, m = d.Update(100+0.5*float64(i), 0, 0)
	}
	require.Equal(t, Bull, r)
	require.Greater(t, m.TrendStrength, 0.3)
	require.Less(t, m.RangeBound, 0.4)
	require.Equal(t, 1.0, m.Momentum)
}

func TestSteadyDowntrendClassifiesBear(t *testing.T) {
	d := testDetector(t)
	var r Regime
	var m Metrics
	for i := 0; i < 40; i++ {
		r, m = d.Update(200-0.5*float64(i), 0, 0)
	}
	require.Equal(t, Bear, r)
	require.Less(t, m.TrendStrength, -0.3)
	require.Less(t, m.Momentum, 0.45)
}

func TestFlatSeriesClassifiesSideways(t *testing.T) {
	d := testDetector(t)
	var r Regime
	var m Metrics
	for i := 0; i < 30; i++ {
		r, m = d.Update(100, 0, 0)
	}
	require.Equal(t, Sideways, r)
	require.InDelta(t, 0.0, m.TrendStrength, 1e-9)
	require.Equal(t, 0.5, m.Momentum)
}

func TestWhipsawClassifiesVolatile(t *testing.T) {
	d := testDetector(t)
	var r Regime
	var m Metrics
	for i := 0; i < 30; i++ {
		price := 10.0
		if i%2 == 1 {
			price = 100.0
		}
		r, m = d.Update(price, 0, 0)
	}
	require.Equal(t, Volatile, r)
	require.Greater(t, m.Volatility, 0.7)
}

func TestMetricsStayBounded(t *testing.T) {
	d := testDetector(t)
	rng := rand.New(rand.NewSource(11))
	price := 100.0
	for i := 0; i < 300; i++ {
		price *= math.Exp(rng.NormFloat64() * 0.02)
		_, m := d.Update(price, price*1.01, price*0.99)
		require.GreaterOrEqual(t, m.TrendStrength, -1.0)
		require.LessOrEqual(t, m.TrendStrength, 1.0)
		require.GreaterOrEqual(t, m.Volatility, 0.0)
		require.LessOrEqual(t, m.Volatility, 1.0)
		require.GreaterOrEqual(t, m.Momentum, 0.0)
		require.LessOrEqual(t, m.Momentum, 1.0)
		require.GreaterOrEqual(t, m.RangeBound, 0.0)
		require.LessOrEqual(t, m.RangeBound, 1.0)
		require.GreaterOrEqual(t, m.BreakoutScore, 0.0)
		require.LessOrEqual(t, m.BreakoutScore, 1.0)
	}
}

func TestHighLowZeroFallsBackToClose(t *testing.T) {
	a := testDetector(t)
	b := testDetector(t)
	for i := 0; i < 40; i++ {
		close := 100 + 0.5*float64(i)
		ra, ma := a.Update(close, 0, 0)
		rb, mb := b.Update(close, close, close)
		require.Equal(t, ra, rb)
		require.Equal(t, ma, mb)
	}
}

func TestDurationTracksStableRegime(t *testing.T) {
	d := testDetector(t)
	for i := 0; i < 40; i++ {
		d.Update(100+0.5*float64(i), 0, 0)
	}
	require.Equal(t, Bull, d.Current())
	before := d.Duration()
	d.Update(120.5, 0, 0)
	require.Equal(t, before+1, d.Duration())
}

func TestStatsCountRegimeChanges(t *testing.T) {
	d := testDetector(t)
	for i := 0; i < 40; i++ {
		d.Update(100+0.5*float64(i), 0, 0)
	}
	for i := 0; i < 40; i++ {
		d.Update(120-0.5*float64(i), 0, 0)
	}
	st := d.Stats()
	require.Equal(t, 80, st.TotalSteps)
	require.GreaterOrEqual(t, st.RegimeChanges, 2)
	require.Positive(t, st.RegimeCounts[Bull.String()])
	require.Equal(t, st.CurrentRegime, d.Current().String())
}

func TestResetClearsHistory(t *testing.T) {
	d := testDetector(t)
	for i := 0; i < 40; i++ {
		d.Update(100+0.5*float64(i), 0, 0)
	}
	d.Reset()
	require.Equal(t, Unknown, d.Current())
	require.Equal(t, 0, d.Duration())
	st := d.Stats()
	require.Equal(t, 0, st.TotalSteps)
	require.Equal(t, 0, st.RegimeChanges)
}

func TestProbabilitiesSumToOne(t *testing.T) {
	m := Metrics{TrendStrength: 0.6, Volatility: 0.3, Momentum: 0.7, RangeBound: 0.2, BreakoutScore: 0.1}
	probs := Probabilities(m)
	var total float64
	for _, v := range probs {
		require.GreaterOrEqual(t, v, 0.0)
		total += v
	}
	require.InDelta(t, 1.0, total, 1e-6)
	require.Greater(t, probs[Bull.String()], probs[Bear.String()])
}

func TestDetectBatchClassifiesEveryBar(t *testing.T) {
	prices := make([]float64, 50)
	for i := range prices {
		prices[i] = 100 + 0.5*float64(i)
	}
	regimes, err := DetectBatch(config.Default().Regime, logging.Nop(), prices, nil, nil)
	require.NoError(t, err)
	require.Len(t, regimes, 50)
	require.Equal(t, Unknown, regimes[0])
	require.Equal(t, Bull, regimes[49])
}

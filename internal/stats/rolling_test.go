package stats

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestRollingWindowEvictsOldest(t *testing.T) {
	w := NewRollingWindow(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Push(v)
	}
	require.Equal(t, 3, w.Len())
	require.Equal(t, []float64{3, 4, 5}, w.Values())
	require.InDelta(t, 4.0, w.Mean(), 1e-12)
}

func TestRollingWindowValuesOrderedAfterWraparound(t *testing.T) {
	w := NewRollingWindow(4)
	for v := 1.0; v <= 10; v++ {
		w.Push(v)
	}
	require.Equal(t, []float64{7, 8, 9, 10}, w.Values())
}

func TestRollingWindowReset(t *testing.T) {
	w := NewRollingWindow(2)
	w.Push(1)
	w.Push(2)
	w.Push(3)
	w.Reset()
	require.Equal(t, 0, w.Len())
	require.Equal(t, 0.0, w.Mean())
	w.Push(9)
	require.Equal(t, []float64{9}, w.Values())
}

func TestProperty_WindowNeverExceedsCapacity(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("length is capped and values keep insertion order", prop.ForAll(
		func(values []float64) bool {
			w := NewRollingWindow(5)
			for _, v := range values {
				w.Push(v)
			}
			if w.Len() > 5 {
				return false
			}
			got := w.Values()
			want := values
			if len(values) > 5 {
				want = values[len(values)-5:]
			}
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-100, 100)),
	))

	properties.TestingRun(t)
}

func TestMeanAndStdDev(t *testing.T) {
	require.Equal(t, 0.0, Mean(nil))
	require.Equal(t, 0.0, StdDev(nil))
	require.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-12)
	require.InDelta(t, math.Sqrt(2.0/3.0), StdDev([]float64{1, 2, 3}), 1e-12)
}

func TestClampAndLogistic(t *testing.T) {
	require.Equal(t, 1.0, Clamp(5, -1, 1))
	require.Equal(t, -1.0, Clamp(-5, -1, 1))
	require.Equal(t, 0.5, Clamp(0.5, -1, 1))
	require.Equal(t, 0.5, Logistic(0))
	require.Greater(t, Logistic(3), 0.95)
	require.Less(t, Logistic(-3), 0.05)
}

func TestEWMAZScoreStaysBoundedEarly(t *testing.T) {
	e := NewEWMA(0.01)
	z := e.Update(0.5)
	require.Less(t, math.Abs(z), 1.0)

	// A long run of identical samples drives the z-score toward zero.
	for i := 0; i < 5000; i++ {
		z = e.Update(0.5)
	}
	require.InDelta(t, 0.0, z, 0.05)
	require.InDelta(t, 0.5, e.Mean, 0.01)
}

func TestIsFinite(t *testing.T) {
	require.True(t, IsFinite(0))
	require.True(t, IsFinite(-1e300))
	require.False(t, IsFinite(math.NaN()))
	require.False(t, IsFinite(math.Inf(1)))
	require.False(t, IsFinite(math.Inf(-1)))
}

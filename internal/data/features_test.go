package data

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evotrader/internal/errors"
	"evotrader/internal/models"
)

func syntheticBars(n int, seed int64) []models.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]models.Bar, n)
	base := time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)
	price := 100.0
	for i := range bars {
		price *= math.Exp(rng.NormFloat64() * 0.01)
		bars[i] = models.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price * 1.005,
			Low:       price * 0.995,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

func TestBuildFeatureFrameNeedsEnoughBars(t *testing.T) {
	_, err := BuildFeatureFrame(syntheticBars(51, 1))
	require.ErrorIs(t, err, errors.ErrInsufficientData)
}

func TestBuildFeatureFrameTrimsWarmup(t *testing.T) {
	bars := syntheticBars(200, 1)
	frame, err := BuildFeatureFrame(bars)
	require.NoError(t, err)
	require.Equal(t, 150, frame.Len())
	require.Equal(t, len(RequiredColumns), frame.NumFeatures())

	// Rows line up with the post-warmup bars.
	require.Equal(t, bars[50].Close, frame.Close(0))
	require.Equal(t, bars[50].Timestamp, frame.Timestamp(0))
	require.Equal(t, bars[199].Close, frame.Close(149))
	require.Equal(t, bars[120].High, frame.High(70))
}

func TestBuildFeatureFrameIndicatorSanity(t *testing.T) {
	bars := syntheticBars(300, 7)
	frame, err := BuildFeatureFrame(bars)
	require.NoError(t, err)

	row := make([]float64, frame.NumFeatures())
	col := func(name string) int {
		for i, c := range RequiredColumns {
			if c == name {
				return i
			}
		}
		t.Fatalf("unknown column %s", name)
		return -1
	}
	for i := 0; i < frame.Len(); i++ {
		frame.CopyRow(i, row)
		require.GreaterOrEqual(t, row[col("rsi")], 0.0)
		require.LessOrEqual(t, row[col("rsi")], 100.0)
		require.GreaterOrEqual(t, row[col("bb_high")], row[col("bb_low")])
		require.Greater(t, row[col("atr")], 0.0)
		require.Greater(t, row[col("ema_20")], 0.0)
		require.Greater(t, row[col("ema_50")], 0.0)
	}
}

func TestRSIExtremes(t *testing.T) {
	rising := make([]float64, 40)
	falling := make([]float64, 40)
	for i := range rising {
		rising[i] = 100 + float64(i)
		falling[i] = 140 - float64(i)
	}
	up := rsi(rising, 14)
	down := rsi(falling, 14)
	require.Equal(t, 100.0, up[39])
	require.InDelta(t, 0.0, down[39], 1e-9)

	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 100
	}
	require.Equal(t, 50.0, rsi(flat, 14)[39])
}

func TestEMAConvergesToConstant(t *testing.T) {
	vals := make([]float64, 100)
	for i := range vals {
		vals[i] = 42
	}
	out := ema(vals, 20)
	require.InDelta(t, 42.0, out[99], 1e-9)

	// Seed is the simple average of the first period.
	require.Equal(t, 42.0, out[0])
}

func TestLaggedLogReturn(t *testing.T) {
	closes := []float64{100, 110, 121}
	lag1 := laggedLogReturn(closes, 1)
	require.Equal(t, 0.0, lag1[0])
	require.InDelta(t, math.Log(1.1), lag1[1], 1e-12)
	require.InDelta(t, math.Log(1.1), lag1[2], 1e-12)

	lag2 := laggedLogReturn(closes, 2)
	require.Equal(t, 0.0, lag2[1])
	require.InDelta(t, math.Log(1.21), lag2[2], 1e-12)
}

func TestATRMatchesConstantRange(t *testing.T) {
	n := 60
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100
		highs[i] = 101
		lows[i] = 99
	}
	out := atr(highs, lows, closes, 14)
	require.InDelta(t, 2.0, out[n-1], 1e-9)
}

package curriculum

import (
	"math"
	"math/rand"

	"evotrader/internal/data"
	"evotrader/internal/errors"
	"evotrader/internal/stats"
)

// minSegmentLen is the shortest price segment a difficulty profile can be
// computed over.
const minSegmentLen = 20

// SegmentProfile characterizes how hard a stretch of price data is to
// trade: calm trending segments are easy, volatile choppy ones are hard.
type SegmentProfile struct {
	Volatility float64 `json:"volatility"`
	TrendFit   float64 `json:"trend_fit"`
	Choppiness float64 `json:"choppiness"`
	Difficulty float64 `json:"difficulty"`
}

// AssessSegment profiles a slice of closing prices. Volatility is the
// standard deviation of log returns, TrendFit is the R-squared of a linear
// fit, Choppiness is the zero-crossing ratio of price around its mean.
func AssessSegment(prices []float64) (SegmentProfile, error) {
	if len(prices) < minSegmentLen {
		return SegmentProfile{}, errors.Wrapf(errors.ErrInsufficientData,
			"segment has %d bars, need %d", len(prices), minSegmentLen)
	}

	rets := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && prices[i] > 0 {
			rets = append(rets, math.Log(prices[i]/prices[i-1]))
		}
	}

	p := SegmentProfile{
		Volatility: stats.StdDev(rets),
		TrendFit:   rSquared(prices),
		Choppiness: zeroCrossingRatio(prices),
	}
	// Volatile, choppy, trendless segments score toward 1.
	p.Difficulty = stats.Clamp(0.5*math.Tanh(p.Volatility*50)+0.3*p.Choppiness+0.2*(1-p.TrendFit), 0, 1)
	return p, nil
}

// levelBand returns the difficulty range a level draws segments from.
func levelBand(l Level) (lo, hi float64) {
	switch l {
	case Easy:
		return 0, 0.35
	case Medium:
		return 0.25, 0.55
	case Hard:
		return 0.45, 0.75
	default:
		return 0.6, 1.0
	}
}

// SuitsLevel reports whether the segment's difficulty falls in the band
// for the given level. Bands overlap so level changes do not starve a
// level of usable data.
func (p SegmentProfile) SuitsLevel(l Level) bool {
	lo, hi := levelBand(l)
	return p.Difficulty >= lo && p.Difficulty <= hi
}

// SelectSegment picks a random start offset into the frame whose segment
// suits the level, falling back to a uniformly random offset when no
// sampled candidate matches. segLen bars are assessed per candidate.
func SelectSegment(frame *data.FeatureFrame, l Level, segLen int, rng *rand.Rand) (int, SegmentProfile) {
	if segLen < minSegmentLen {
		segLen = minSegmentLen
	}
	maxStart := frame.Len() - segLen
	if maxStart <= 0 {
		p, _ := AssessSegment(closes(frame, 0, frame.Len()))
		return 0, p
	}

	const attempts = 16
	var fallback SegmentProfile
	fallbackStart := rng.Intn(maxStart + 1)
	for i := 0; i < attempts; i++ {
		start := rng.Intn(maxStart + 1)
		p, err := AssessSegment(closes(frame, start, segLen))
		if err != nil {
			continue
		}
		if p.SuitsLevel(l) {
			return start, p
		}
		if i == 0 {
			fallbackStart, fallback = start, p
		}
	}
	return fallbackStart, fallback
}

func closes(frame *data.FeatureFrame, start, n int) []float64 {
	end := start + n
	if end > frame.Len() {
		end = frame.Len()
	}
	out := make([]float64, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, frame.Close(i))
	}
	return out
}

// rSquared measures how well a straight line explains the series.
func rSquared(series []float64) float64 {
	n := float64(len(series))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom < stats.Epsilon {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	mean := sumY / n
	var ssRes, ssTot float64
	for i, y := range series {
		fit := intercept + slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - mean) * (y - mean)
	}
	if ssTot < stats.Epsilon {
		return 0
	}
	return stats.Clamp(1-ssRes/ssTot, 0, 1)
}

// zeroCrossingRatio counts how often the series crosses its own mean,
// normalized by series length.
func zeroCrossingRatio(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	mean := stats.Mean(series)
	crossings := 0
	for i := 1; i < len(series); i++ {
		if (series[i-1]-mean)*(series[i]-mean) < 0 {
			crossings++
		}
	}
	return float64(crossings) / float64(len(series)-1)
}

// Package regime classifies recent price action into coarse market
// regimes from trend, volatility, momentum, range and breakout scores.
package regime

import (
	"math"

	"github.com/rs/zerolog"

	"evotrader/internal/config"
	"evotrader/internal/stats"
)

// Regime is a coarse classification of recent price behavior.
type Regime int

const (
	Unknown Regime = iota
	Bull
	Bear
	Sideways
	Volatile
	Breakout
)

// String returns the display name of the regime.
func (r Regime) String() string {
	switch r {
	case Bull:
		return "BULL"
	case Bear:
		return "BEAR"
	case Sideways:
		return "SIDEWAYS"
	case Volatile:
		return "VOLATILE"
	case Breakout:
		return "BREAKOUT"
	default:
		return "UNKNOWN"
	}
}

// Metrics carries the component scores behind a classification.
type Metrics struct {
	TrendStrength float64 `json:"trend_strength"` // -1 (strong bear) to +1 (strong bull)
	Volatility    float64 `json:"volatility"`     // (0,1), z-scored ATR through a logistic
	Momentum      float64 `json:"momentum"`       // (0,1), 0.5 = neutral
	RangeBound    float64 `json:"range_bound"`    // 0 (trending) to 1 (range-bound)
	BreakoutScore float64 `json:"breakout_score"` // 0 to 1
}

// Change records one regime transition.
type Change struct {
	Step   int    `json:"step"`
	Regime Regime `json:"regime"`
}

// Detector maintains rolling price buffers and classifies the current
// regime on each bar. Not safe for concurrent use; each simulator instance
// owns its own detector.
type Detector struct {
	cfg config.RegimeConfig
	log zerolog.Logger

	prices *stats.RollingWindow
	highs  *stats.RollingWindow
	lows   *stats.RollingWindow

	volBaseline *stats.EWMA

	current         Regime
	regimeStartStep int
	history         []Change
	stepCount       int
}

// NewDetector builds a detector with empty buffers.
func NewDetector(cfg config.RegimeConfig, log zerolog.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	priceCap := cfg.TrendPeriod
	if priceCap < 50 {
		priceCap = 50
	}
	return &Detector{
		cfg:         cfg,
		log:         log,
		prices:      stats.NewRollingWindow(priceCap * 2),
		highs:       stats.NewRollingWindow(cfg.VolatilityPeriod * 2),
		lows:        stats.NewRollingWindow(cfg.VolatilityPeriod * 2),
		volBaseline: stats.NewEWMA(0.01),
	}, nil
}

// Update ingests one bar and returns the classified regime with its
// component metrics. High and low fall back to close when zero. Until the
// trend window is warm the regime is Unknown with neutral metrics.
func (d *Detector) Update(close, high, low float64) (Regime, Metrics) {
	d.stepCount++

	if high == 0 {
		high = close
	}
	if low == 0 {
		low = close
	}
	d.prices.Push(close)
	d.highs.Push(high)
	d.lows.Push(low)

	if d.prices.Len() < d.cfg.TrendPeriod {
		return Unknown, Metrics{Momentum: 0.5}
	}

	m := d.metrics()
	next := d.classify(m)

	if next != d.current {
		d.history = append(d.history, Change{Step: d.stepCount, Regime: next})
		d.regimeStartStep = d.stepCount
		d.log.Debug().
			Str("from", d.current.String()).
			Str("to", next.String()).
			Int("step", d.stepCount).
			Msg("regime changed")
		d.current = next
	}
	return d.current, m
}

func (d *Detector) metrics() Metrics {
	prices := d.prices.Values()
	highs := d.highs.Values()
	lows := d.lows.Values()

	vol := d.volatility(prices, highs, lows)
	return Metrics{
		TrendStrength: d.trendStrength(prices),
		Volatility:    vol,
		Momentum:      d.momentum(prices),
		RangeBound:    d.rangeBound(prices),
		BreakoutScore: d.breakoutScore(prices, vol),
	}
}

// trendStrength is the least-squares slope over the trailing window,
// normalized by the window's price range and clamped to [-1, 1].
func (d *Detector) trendStrength(prices []float64) float64 {
	recent := tail(prices, d.cfg.TrendPeriod)
	n := float64(len(recent))

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range recent {
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

	priceRange := rangeOf(recent) + stats.Epsilon
	return stats.Clamp(slope*n/priceRange, -1, 1)
}

// volatility is the range-normalized ATR, z-scored against an
// exponentially updated baseline and squashed to (0,1).
func (d *Detector) volatility(prices, highs, lows []float64) float64 {
	n := d.cfg.VolatilityPeriod
	p := tail(prices, n)
	h := tail(highs, n)
	l := tail(lows, n)
	if len(p) < 2 || len(h) != len(p) || len(l) != len(p) {
		return 0.5
	}

	var trSum float64
	for i := range p {
		if i == 0 {
			trSum += h[0] - l[0]
			continue
		}
		tr := h[i] - l[i]
		if hc := math.Abs(h[i] - p[i-1]); hc > tr {
			tr = hc
		}
		if lc := math.Abs(l[i] - p[i-1]); lc > tr {
			tr = lc
		}
		trSum += tr
	}
	atr := trSum / float64(len(p))
	normalized := atr / (stats.Mean(p) + stats.Epsilon)

	z := d.volBaseline.Update(normalized)
	return stats.Logistic(z)
}

// momentum is a Wilder-style average gain/loss ratio over the window,
// mapped to (0,1) with 0.5 neutral.
func (d *Detector) momentum(prices []float64) float64 {
	recent := tail(prices, d.cfg.MomentumPeriod)
	if len(recent) < 2 {
		return 0.5
	}

	var gainSum, lossSum float64
	steps := float64(len(recent) - 1)
	for i := 1; i < len(recent); i++ {
		change := recent[i] - recent[i-1]
		if change > 0 {
			gainSum += change
		} else {
			lossSum -= change
		}
	}
	avgGain := gainSum / steps
	avgLoss := lossSum / steps

	if avgLoss == 0 {
		if avgGain > 0 {
			return 1
		}
		return 0.5
	}
	rs := avgGain / avgLoss
	return 1 - 1/(1+rs)
}

// rangeBound combines the zero-crossing ratio of price around its mean
// with an inefficiency ratio (range over total path length).
func (d *Detector) rangeBound(prices []float64) float64 {
	recent := tail(prices, d.cfg.TrendPeriod)
	n := len(recent)
	if n < 2 {
		return 0
	}

	mean := stats.Mean(recent)
	crossings := 0
	var totalMovement float64
	for i := 1; i < n; i++ {
		if (recent[i-1]-mean)*(recent[i]-mean) < 0 {
			crossings++
		}
		totalMovement += math.Abs(recent[i] - recent[i-1])
	}
	crossingRatio := float64(crossings) / float64(n-1)

	efficiency := rangeOf(recent) / (totalMovement + stats.Epsilon)
	return stats.Clamp((1-efficiency)*crossingRatio*2, 0, 1)
}

// breakoutScore combines a Bollinger-band squeeze ratio with proximity of
// the latest price to either band and the current volatility.
func (d *Detector) breakoutScore(prices []float64, volatility float64) float64 {
	recent := tail(prices, d.cfg.TrendPeriod)
	n := len(recent)
	if n < 10 {
		return 0
	}

	ma := stats.Mean(recent)
	sd := stats.StdDev(recent)
	bbWidth := 2 * sd / (ma + stats.Epsilon)

	squeezeRatio := 1.0
	if len(prices) >= n*2 {
		older := prices[len(prices)-n*2 : len(prices)-n]
		olderWidth := 2 * stats.StdDev(older) / (stats.Mean(older) + stats.Epsilon)
		squeezeRatio = bbWidth / (olderWidth + stats.Epsilon)
	}
	squeezeScore := stats.Clamp(1-squeezeRatio, 0, 1)

	current := recent[n-1]
	upper := ma + 2*sd
	lower := ma - 2*sd
	bandTouch := math.Max(
		1-math.Abs(current-upper)/(sd+stats.Epsilon),
		1-math.Abs(current-lower)/(sd+stats.Epsilon),
	)
	bandTouch = stats.Clamp(bandTouch, 0, 1)

	return stats.Clamp(squeezeScore*0.5+bandTouch*0.3+volatility*0.2, 0, 1)
}

// classify maps the metrics to a regime; earlier rules win.
func (d *Detector) classify(m Metrics) Regime {
	if m.BreakoutScore > d.cfg.RegimeThreshold {
		return Breakout
	}
	if m.Volatility > 0.7 {
		return Volatile
	}
	if m.TrendStrength > 0.3 && m.RangeBound < 0.4 {
		return Bull
	}
	if m.TrendStrength < -0.3 && m.RangeBound < 0.4 {
		return Bear
	}
	if m.RangeBound > 0.5 {
		return Sideways
	}
	if math.Abs(m.TrendStrength) < 0.2 {
		return Sideways
	}
	if m.TrendStrength > 0.1 && m.Momentum > 0.55 {
		return Bull
	}
	if m.TrendStrength < -0.1 && m.Momentum < 0.45 {
		return Bear
	}
	return Sideways
}

// Current returns the most recently classified regime.
func (d *Detector) Current() Regime {
	return d.current
}

// Duration returns how many steps the current regime has persisted.
func (d *Detector) Duration() int {
	return d.stepCount - d.regimeStartStep
}

// Probabilities converts metrics into a soft distribution over regimes.
func Probabilities(m Metrics) map[string]float64 {
	scores := map[string]float64{
		Bull.String():     math.Max(0, m.TrendStrength) * (1 - m.RangeBound),
		Bear.String():     math.Max(0, -m.TrendStrength) * (1 - m.RangeBound),
		Sideways.String(): m.RangeBound * (1 - m.Volatility),
		Volatile.String(): m.Volatility * (1 - m.RangeBound),
		Breakout.String(): m.BreakoutScore,
	}
	total := stats.Epsilon
	for _, v := range scores {
		total += v
	}
	for k, v := range scores {
		scores[k] = v / total
	}
	return scores
}

// DetectorStats summarizes the detector's history.
type DetectorStats struct {
	CurrentRegime  string         `json:"current_regime"`
	RegimeDuration int            `json:"regime_duration"`
	TotalSteps     int            `json:"total_steps"`
	RegimeChanges  int            `json:"regime_changes"`
	RegimeCounts   map[string]int `json:"regime_counts"`
}

// Stats reports how often each regime has been entered.
func (d *Detector) Stats() DetectorStats {
	counts := make(map[string]int)
	for _, c := range d.history {
		counts[c.Regime.String()]++
	}
	return DetectorStats{
		CurrentRegime:  d.current.String(),
		RegimeDuration: d.Duration(),
		TotalSteps:     d.stepCount,
		RegimeChanges:  len(d.history),
		RegimeCounts:   counts,
	}
}

// Reset clears all buffers and history.
func (d *Detector) Reset() {
	d.prices.Reset()
	d.highs.Reset()
	d.lows.Reset()
	d.current = Unknown
	d.regimeStartStep = 0
	d.history = nil
	d.stepCount = 0
}

// DetectBatch classifies every bar of a price series with a fresh
// detector, returning one regime per input price.
func DetectBatch(cfg config.RegimeConfig, log zerolog.Logger, prices, highs, lows []float64) ([]Regime, error) {
	d, err := NewDetector(cfg, log)
	if err != nil {
		return nil, err
	}
	out := make([]Regime, len(prices))
	for i, p := range prices {
		var h, l float64
		if i < len(highs) {
			h = highs[i]
		}
		if i < len(lows) {
			l = lows[i]
		}
		out[i], _ = d.Update(p, h, l)
	}
	return out, nil
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func rangeOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

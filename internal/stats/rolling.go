// Package stats provides the small set of numeric helpers shared by the
// simulator, curriculum manager and regime detector.
package stats

import "math"

// Epsilon is the floor used to defend ratio denominators. Degenerate values
// clamp to a neutral result instead of propagating NaN/Inf.
const Epsilon = 1e-10

// RollingWindow is a fixed-capacity FIFO of float64 samples.
type RollingWindow struct {
	values []float64
	cap    int
	head   int
	full   bool
}

// NewRollingWindow creates a window holding at most capacity samples.
func NewRollingWindow(capacity int) *RollingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingWindow{
		values: make([]float64, 0, capacity),
		cap:    capacity,
	}
}

// Push appends a sample, evicting the oldest when full.
func (w *RollingWindow) Push(v float64) {
	if len(w.values) < w.cap {
		w.values = append(w.values, v)
		return
	}
	w.full = true
	w.values[w.head] = v
	w.head = (w.head + 1) % w.cap
}

// Len returns the number of live samples.
func (w *RollingWindow) Len() int {
	return len(w.values)
}

// Values returns the live samples in insertion order, oldest first. The
// slice must not be mutated by callers.
func (w *RollingWindow) Values() []float64 {
	if !w.full || w.head == 0 {
		return w.values
	}
	out := make([]float64, 0, len(w.values))
	out = append(out, w.values[w.head:]...)
	out = append(out, w.values[:w.head]...)
	return out
}

// Mean returns the arithmetic mean of the live samples, 0 when empty.
func (w *RollingWindow) Mean() float64 {
	return Mean(w.values)
}

// StdDev returns the population standard deviation, 0 when empty.
func (w *RollingWindow) StdDev() float64 {
	return StdDev(w.values)
}

// Reset discards all samples.
func (w *RollingWindow) Reset() {
	w.values = w.values[:0]
	w.head = 0
	w.full = false
}

// Mean calculates the arithmetic mean of a slice of float64.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// StdDev calculates the population standard deviation of a slice of float64.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	var variance float64
	for _, v := range values {
		diff := v - m
		variance += diff * diff
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Logistic maps x to (0,1) through the standard sigmoid.
func Logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// EWMA maintains an exponentially weighted running mean and mean absolute
// deviation, used for the regime detector's volatility baseline.
type EWMA struct {
	Alpha float64
	Mean  float64
	Dev   float64
}

// NewEWMA creates a baseline with the given decay and an initial deviation
// of 1 so early z-scores stay bounded.
func NewEWMA(alpha float64) *EWMA {
	return &EWMA{Alpha: alpha, Dev: 1.0}
}

// Update folds a new sample into the running mean and deviation and returns
// the sample's z-score against the just-updated baseline.
func (e *EWMA) Update(v float64) float64 {
	e.Mean = e.Mean*(1-e.Alpha) + v*e.Alpha
	dev := e.Dev*(1-e.Alpha) + math.Abs(v-e.Mean)*e.Alpha
	if dev < Epsilon {
		dev = Epsilon
	}
	e.Dev = dev
	return (v - e.Mean) / e.Dev
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

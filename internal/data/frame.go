// Package data provides the collaborator boundary for market data: a
// fixed-schema feature frame consumed by the simulator and a CSV bar loader.
//
// Feature computation itself (RSI, MACD, ...) is an external concern; this
// package only validates and holds the columns a provider hands over.
package data

import (
	"time"

	"evotrader/internal/errors"
	"evotrader/internal/stats"
)

// RequiredColumns is the fixed, ordered feature schema the simulator
// observes. It is checked once at construction; a missing column is a
// configuration error, never a step-time surprise.
var RequiredColumns = []string{
	"close", "rsi", "macd", "macd_signal",
	"bb_high", "bb_low", "ema_20", "ema_50",
	"atr", "log_ret_lag_1", "log_ret_lag_2", "log_ret_lag_3", "log_ret_lag_5",
}

const closeColumn = 0 // index of "close" within RequiredColumns

// FeatureFrame is an immutable, row-major flat buffer of feature values,
// one row per bar, columns in RequiredColumns order.
type FeatureFrame struct {
	data  []float64
	rows  int
	cols  int
	times []time.Time
	highs []float64
	lows  []float64
}

// NewFeatureFrame builds a frame from named series. All required columns
// must be present, non-empty, of equal length, and free of NaN/Inf.
// times, highs and lows are optional; when nil they default to a zero time
// and the close price respectively.
func NewFeatureFrame(series map[string][]float64, times []time.Time, highs, lows []float64) (*FeatureFrame, error) {
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := series[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewConfigError("data.columns", missing, "required feature columns missing")
	}

	rows := len(series[RequiredColumns[0]])
	if rows == 0 {
		return nil, errors.NewConfigError("data.rows", 0, "feature frame is empty")
	}
	for _, col := range RequiredColumns {
		if len(series[col]) != rows {
			return nil, errors.NewConfigError("data."+col, len(series[col]), "column length mismatch")
		}
	}
	if times != nil && len(times) != rows {
		return nil, errors.NewConfigError("data.times", len(times), "times length mismatch")
	}
	if highs != nil && len(highs) != rows {
		return nil, errors.NewConfigError("data.highs", len(highs), "highs length mismatch")
	}
	if lows != nil && len(lows) != rows {
		return nil, errors.NewConfigError("data.lows", len(lows), "lows length mismatch")
	}

	cols := len(RequiredColumns)
	flat := make([]float64, rows*cols)
	for c, col := range RequiredColumns {
		vals := series[col]
		for r := 0; r < rows; r++ {
			v := vals[r]
			if !stats.IsFinite(v) {
				return nil, errors.NewConfigError("data."+col, r, "non-finite value in feature column")
			}
			flat[r*cols+c] = v
		}
	}

	return &FeatureFrame{
		data:  flat,
		rows:  rows,
		cols:  cols,
		times: times,
		highs: highs,
		lows:  lows,
	}, nil
}

// Len returns the number of bars.
func (f *FeatureFrame) Len() int {
	return f.rows
}

// NumFeatures returns the number of feature columns.
func (f *FeatureFrame) NumFeatures() int {
	return f.cols
}

// CopyRow copies row i's feature values into dst, which must have length
// NumFeatures.
func (f *FeatureFrame) CopyRow(i int, dst []float64) {
	copy(dst, f.data[i*f.cols:(i+1)*f.cols])
}

// Close returns the close price at row i.
func (f *FeatureFrame) Close(i int) float64 {
	return f.data[i*f.cols+closeColumn]
}

// High returns the high price at row i, falling back to the close.
func (f *FeatureFrame) High(i int) float64 {
	if f.highs != nil {
		return f.highs[i]
	}
	return f.Close(i)
}

// Low returns the low price at row i, falling back to the close.
func (f *FeatureFrame) Low(i int) float64 {
	if f.lows != nil {
		return f.lows[i]
	}
	return f.Close(i)
}

// Timestamp returns the bar time at row i, zero when no times were supplied.
func (f *FeatureFrame) Timestamp(i int) time.Time {
	if f.times != nil {
		return f.times[i]
	}
	return time.Time{}
}

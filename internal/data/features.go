package data

import (
	"math"
	"time"

	"evotrader/internal/errors"
	"evotrader/internal/models"
)

// warmup is the number of leading bars dropped so every indicator column
// is fully formed (the slowest is the 50-bar EMA).
const warmup = 50

// BuildFeatureFrame computes the full indicator set from raw OHLCV bars
// and returns a frame with the leading warmup rows dropped.
func BuildFeatureFrame(bars []models.Bar) (*FeatureFrame, error) {
	if len(bars) <= warmup+1 {
		return nil, errors.Wrapf(errors.ErrInsufficientData,
			"need more than %d bars, got %d", warmup+1, len(bars))
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	times := make([]time.Time, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		times[i] = b.Timestamp
	}

	macdLine, macdSignal := macd(closes, 12, 26, 9)
	bbHigh, bbLow := bollinger(closes, 20, 2)

	series := map[string][]float64{
		"close":         closes,
		"rsi":           rsi(closes, 14),
		"macd":          macdLine,
		"macd_signal":   macdSignal,
		"bb_high":       bbHigh,
		"bb_low":        bbLow,
		"ema_20":        ema(closes, 20),
		"ema_50":        ema(closes, 50),
		"atr":           atr(highs, lows, closes, 14),
		"log_ret_lag_1": laggedLogReturn(closes, 1),
		"log_ret_lag_2": laggedLogReturn(closes, 2),
		"log_ret_lag_3": laggedLogReturn(closes, 3),
		"log_ret_lag_5": laggedLogReturn(closes, 5),
	}

	trimmed := make(map[string][]float64, len(series))
	for name, vals := range series {
		trimmed[name] = vals[warmup:]
	}
	return NewFeatureFrame(trimmed, times[warmup:], highs[warmup:], lows[warmup:])
}

// ema computes an exponential moving average seeded with the simple
// average of the first period values. Entries before the seed repeat it.
func ema(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) < period || period <= 0 {
		return out
	}
	multiplier := 2.0 / float64(period+1)

	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	for i := 0; i < period; i++ {
		out[i] = seed
	}
	for i := period; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*multiplier + out[i-1]
	}
	return out
}

// rsi computes the Wilder relative strength index scaled to [0,100].
func rsi(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = 50
	}
	if len(closes) <= period {
		return out
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gainSum += change
		} else {
			lossSum -= change
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// macd returns the MACD line (fast EMA minus slow EMA) and its signal
// line (EMA of the MACD line).
func macd(closes []float64, fast, slow, signal int) (line, signalLine []float64) {
	fastEMA := ema(closes, fast)
	slowEMA := ema(closes, slow)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine = ema(line, signal)
	return line, signalLine
}

// bollinger returns the upper and lower Bollinger bands (simple moving
// average ± mult standard deviations).
func bollinger(closes []float64, period int, mult float64) (upper, lower []float64) {
	upper = make([]float64, len(closes))
	lower = make([]float64, len(closes))
	for i := range closes {
		if i < period-1 {
			upper[i] = closes[i]
			lower[i] = closes[i]
			continue
		}
		window := closes[i-period+1 : i+1]
		var sum float64
		for _, v := range window {
			sum += v
		}
		ma := sum / float64(period)
		var variance float64
		for _, v := range window {
			variance += (v - ma) * (v - ma)
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = ma + mult*sd
		lower[i] = ma - mult*sd
	}
	return upper, lower
}

// atr computes the Wilder average true range.
func atr(highs, lows, closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < 2 {
		return out
	}

	tr := make([]float64, len(closes))
	tr[0] = highs[0] - lows[0]
	for i := 1; i < len(closes); i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	if len(closes) <= period {
		copy(out, tr)
		return out
	}
	var seed float64
	for _, v := range tr[1 : period+1] {
		seed += v
	}
	seed /= float64(period)
	for i := 0; i <= period; i++ {
		out[i] = seed
	}
	for i := period + 1; i < len(closes); i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}

// laggedLogReturn computes log(p_t / p_{t-lag}) with zeros during warmup.
func laggedLogReturn(closes []float64, lag int) []float64 {
	out := make([]float64, len(closes))
	for i := lag; i < len(closes); i++ {
		if closes[i-lag] > 0 && closes[i] > 0 {
			out[i] = math.Log(closes[i] / closes[i-lag])
		}
	}
	return out
}

// Package indicators provides the streaming indicator primitives used by the
// scorer and the regime engine: exponential moving average, Wilder ATR and a
// few stateless candle measures.
package indicators

import (
	"math"

	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

// EMA is a streaming exponential moving average. The first sample seeds the
// value; afterwards value += alpha * (price - value).
type EMA struct {
	period int
	mult   float64
	value  float64
	seeded bool
}

// NewEMA creates an EMA with smoothing 2/(period+1).
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{period: period, mult: 2.0 / (float64(period) + 1.0)}
}

// Update feeds one price and returns the current value.
func (e *EMA) Update(price float64) float64 {
	if !e.seeded {
		e.value = price
		e.seeded = true
		return e.value
	}
	e.value += e.mult * (price - e.value)
	return e.value
}

// Value returns the current EMA and whether it has been seeded.
func (e *EMA) Value() (float64, bool) { return e.value, e.seeded }

// ATR is a streaming Wilder average true range. During the warmup window it
// accumulates true ranges; the period-th bar seeds the average, after which
// Wilder smoothing applies.
type ATR struct {
	period    int
	value     float64
	ready     bool
	prevClose float64
	hasPrev   bool
	warm      int
	sumTR     float64
}

// NewATR creates a Wilder ATR over the given period.
func NewATR(period int) *ATR {
	if period < 1 {
		period = 1
	}
	return &ATR{period: period}
}

// Update feeds one bar. It returns the smoothed ATR and whether the warmup
// window has completed.
func (a *ATR) Update(high, low, close float64) (float64, bool) {
	var tr float64
	if !a.hasPrev {
		tr = high - low
	} else {
		tr = math.Max(high-low, math.Max(math.Abs(high-a.prevClose), math.Abs(low-a.prevClose)))
	}
	a.prevClose = close
	a.hasPrev = true

	if a.warm < a.period {
		a.sumTR += tr
		a.warm++
		if a.warm == a.period {
			a.value = a.sumTR / float64(a.period)
			a.ready = true
		}
		return a.value, a.ready
	}

	a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
	return a.value, true
}

// Value returns the current ATR and whether warmup has completed.
func (a *ATR) Value() (float64, bool) { return a.value, a.ready }

// ATRFromCandles runs a fresh Wilder ATR over the whole candle slice and
// returns the final value. Requires at least period+2 candles.
func ATRFromCandles(candles []types.Candle, period int) (float64, bool) {
	if len(candles) < period+2 {
		return 0, false
	}
	atr := NewATR(period)
	var v float64
	var ok bool
	for _, c := range candles {
		v, ok = atr.Update(c.High, c.Low, c.Close)
	}
	return v, ok
}

// WickRatio returns total wick length over candle range, clamped to >= 0.
// A doji with zero range yields 0.
func WickRatio(c types.Candle) float64 {
	rng := math.Max(c.Range(), 1e-12)
	bodyTop := math.Max(c.Open, c.Close)
	bodyBot := math.Min(c.Open, c.Close)
	upper := math.Max(0, c.High-bodyTop)
	lower := math.Max(0, bodyBot-c.Low)
	return (upper + lower) / rng
}

// Momentum returns |close-open| / open, 0 when open is 0.
func Momentum(c types.Candle) float64 {
	if c.Open == 0 {
		return 0
	}
	return math.Abs(c.Close-c.Open) / c.Open
}

// SMA returns the simple mean of the last n values, false when the series is
// shorter than n.
func SMA(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n {
		return 0, false
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n), true
}

// CompressionResult describes an ATR squeeze evaluation. The percentage
// fields are each ATR divided by the latest close.
type CompressionResult struct {
	SqueezeOK   bool
	ATRShortPct float64
	ATRLongPct  float64
	Ratio       float64
}

// Compression computes short- and long-period ATR over the last longPeriod+2
// candles and reports whether the short ATR is compressed below
// ratio * long ATR. Too little data or a degenerate close yields a failed
// check with zero fields.
func Compression(candles []types.Candle, shortPeriod, longPeriod int, ratio float64) (CompressionResult, bool) {
	if len(candles) < longPeriod+2 {
		return CompressionResult{}, false
	}

	window := candles[len(candles)-(longPeriod+2):]
	atrShort := NewATR(shortPeriod)
	atrLong := NewATR(longPeriod)

	var s, l float64
	var sOK, lOK bool
	for _, c := range window {
		s, sOK = atrShort.Update(c.High, c.Low, c.Close)
		l, lOK = atrLong.Update(c.High, c.Low, c.Close)
	}

	lastClose := candles[len(candles)-1].Close
	if !sOK || !lOK || l == 0 || lastClose == 0 {
		return CompressionResult{}, false
	}

	return CompressionResult{
		SqueezeOK:   s < ratio*l,
		ATRShortPct: s / lastClose,
		ATRLongPct:  l / lastClose,
		Ratio:       s / l,
	}, true
}

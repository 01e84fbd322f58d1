// Package resample turns a stream of per-second price/volume points into
// closed fixed-width candles.
package resample

import (
	"math"

	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

// TimeframeResampler aggregates (second, price, volume) points into candles
// of a fixed bucket width. Buckets are aligned to absolute multiples of the
// timeframe; empty buckets are skipped silently, no gap filling.
type TimeframeResampler struct {
	tf       int64
	curStart int64
	started  bool

	open, high, low, close float64
	volume                 float64
}

// New creates a resampler for the given timeframe in seconds.
func New(tfSec int64) *TimeframeResampler {
	if tfSec <= 0 {
		tfSec = 60
	}
	return &TimeframeResampler{tf: tfSec}
}

// Timeframe returns the bucket width in seconds.
func (r *TimeframeResampler) Timeframe() int64 { return r.tf }

// Update feeds one point into the resampler. It returns the previous candle
// and true exactly when the point strictly advances into a new bucket;
// otherwise it extends the current bucket and returns (zero, false).
func (r *TimeframeResampler) Update(sec int64, price, vol float64) (types.Candle, bool) {
	bucketStart := (sec / r.tf) * r.tf

	if !r.started {
		r.started = true
		r.curStart = bucketStart
		r.open, r.high, r.low, r.close = price, price, price, price
		r.volume = vol
		return types.Candle{}, false
	}

	if bucketStart == r.curStart {
		r.close = price
		r.high = math.Max(r.high, price)
		r.low = math.Min(r.low, price)
		r.volume += vol
		return types.Candle{}, false
	}

	closed := types.Candle{
		Open:    r.open,
		High:    r.high,
		Low:     r.low,
		Close:   r.close,
		Volume:  r.volume,
		StartTS: r.curStart,
		EndTS:   r.curStart + r.tf,
	}

	r.curStart = bucketStart
	r.open, r.high, r.low, r.close = price, price, price, price
	r.volume = vol

	return closed, true
}

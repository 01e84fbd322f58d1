package indicators_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/atlas-desktop/perp-signal-engine/internal/indicators"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

func TestEMASeedAndSmoothing(t *testing.T) {
	ema := indicators.NewEMA(9)

	if _, ok := ema.Value(); ok {
		t.Fatal("EMA must be unseeded before the first sample")
	}
	if got := ema.Update(10); got != 10 {
		t.Errorf("first sample must seed the value, got %v", got)
	}

	// alpha = 2/10 = 0.2 -> 10 + 0.2*(20-10) = 12
	if got := ema.Update(20); math.Abs(got-12) > 1e-12 {
		t.Errorf("EMA after second sample = %v, want 12", got)
	}
}

func TestWilderATRSeedAndSmoothing(t *testing.T) {
	atr := indicators.NewATR(3)

	// Bars engineered so TR = H-L on each: 2, 3, 4, then 5.
	bars := []struct{ h, l, c float64 }{
		{2.0, 0.0, 1.0},
		{3.5, 0.5, 1.0},
		{4.5, 0.5, 1.0},
	}
	var v float64
	var ready bool
	for _, b := range bars {
		v, ready = atr.Update(b.h, b.l, b.c)
	}
	if !ready {
		t.Fatal("ATR must be seeded after period bars")
	}
	if math.Abs(v-3.0) > 1e-12 {
		t.Errorf("seeded ATR = %v, want 3.0", v)
	}

	v, _ = atr.Update(5.5, 0.5, 1.0) // TR = 5
	if math.Abs(v-11.0/3.0) > 1e-12 {
		t.Errorf("smoothed ATR = %v, want %v", v, 11.0/3.0)
	}
}

func TestATRUsesPrevClose(t *testing.T) {
	atr := indicators.NewATR(2)
	atr.Update(10, 9, 10) // TR = 1
	// Gap up: H-L = 1 but |L - prevClose| and |H - prevClose| dominate.
	v, ready := atr.Update(15, 14, 15) // TR = max(1, 5, 4) = 5
	if !ready {
		t.Fatal("ATR must be ready after 2 bars")
	}
	if math.Abs(v-3.0) > 1e-12 {
		t.Errorf("seeded ATR = %v, want 3.0", v)
	}
}

// Two independent instances fed the same stream produce identical series.
func TestIndicatorDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	e1, e2 := indicators.NewEMA(14), indicators.NewEMA(14)
	a1, a2 := indicators.NewATR(14), indicators.NewATR(14)

	price := 50.0
	for i := 0; i < 500; i++ {
		price *= 1 + (rng.Float64()-0.5)*0.02
		h := price * 1.01
		l := price * 0.99

		if e1.Update(price) != e2.Update(price) {
			t.Fatal("EMA instances diverged")
		}
		v1, _ := a1.Update(h, l, price)
		v2, _ := a2.Update(h, l, price)
		if v1 != v2 {
			t.Fatal("ATR instances diverged")
		}
	}
}

func TestWickRatioBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 5000; i++ {
		l := rng.Float64() * 100
		h := l + rng.Float64()*10 + 1e-6
		o := l + rng.Float64()*(h-l)
		c := l + rng.Float64()*(h-l)

		w := indicators.WickRatio(types.Candle{Open: o, High: h, Low: l, Close: c})
		if w < 0 || w > 1 {
			t.Fatalf("wick ratio %v out of [0,1] for O=%v H=%v L=%v C=%v", w, o, h, l, c)
		}
	}
}

func TestMomentum(t *testing.T) {
	c := types.Candle{Open: 100, Close: 103}
	if got := indicators.Momentum(c); math.Abs(got-0.03) > 1e-12 {
		t.Errorf("momentum = %v, want 0.03", got)
	}
	if got := indicators.Momentum(types.Candle{Open: 0, Close: 10}); got != 0 {
		t.Errorf("momentum with zero open = %v, want 0", got)
	}
}

func TestCompression(t *testing.T) {
	// Wide early ranges followed by narrow recent ranges: the short ATR
	// should compress well below the long ATR.
	var candles []types.Candle
	for i := 0; i < 40; i++ {
		candles = append(candles, types.Candle{Open: 100, High: 110, Low: 90, Close: 100})
	}
	for i := 0; i < 14; i++ {
		candles = append(candles, types.Candle{Open: 100, High: 100.5, Low: 99.5, Close: 100})
	}

	res, ok := indicators.Compression(candles, 5, 20, 0.75)
	if !ok {
		t.Fatal("expected a compression result")
	}
	if !res.SqueezeOK {
		t.Errorf("expected squeeze, ratio=%v", res.Ratio)
	}
	if res.ATRShortPct <= 0 || res.ATRLongPct <= 0 {
		t.Errorf("ATR percentages must be positive: %+v", res)
	}

	if _, ok := indicators.Compression(candles[:10], 5, 20, 0.75); ok {
		t.Error("short history must not produce a result")
	}
}

package resample_test

import (
	"math/rand"
	"testing"

	"github.com/atlas-desktop/perp-signal-engine/internal/resample"
)

func TestFirstCandleClose(t *testing.T) {
	r := resample.New(60)

	if _, ok := r.Update(100, 10.0, 1); ok {
		t.Fatal("first update must not close a candle")
	}
	if _, ok := r.Update(130, 11.0, 2); ok {
		t.Fatal("same-bucket update must not close a candle")
	}

	c, ok := r.Update(190, 12.0, 3)
	if !ok {
		t.Fatal("bucket advance must close the previous candle")
	}
	if c.Open != 10.0 || c.High != 11.0 || c.Low != 10.0 || c.Close != 11.0 {
		t.Errorf("unexpected OHLC: %+v", c)
	}
	if c.Volume != 3 {
		t.Errorf("volume = %v, want 3", c.Volume)
	}
	if c.StartTS != 60 || c.EndTS != 120 {
		t.Errorf("bucket bounds = [%d, %d], want [60, 120]", c.StartTS, c.EndTS)
	}
}

func TestGapSkipsBuckets(t *testing.T) {
	r := resample.New(60)
	r.Update(0, 5.0, 1)

	// Jump several buckets ahead: only one candle is emitted, no gap fill.
	c, ok := r.Update(600, 6.0, 1)
	if !ok {
		t.Fatal("expected a closed candle after the jump")
	}
	if c.StartTS != 0 || c.EndTS != 60 {
		t.Errorf("bucket bounds = [%d, %d], want [0, 60]", c.StartTS, c.EndTS)
	}
	if _, ok := r.Update(610, 6.5, 1); ok {
		t.Error("same-bucket update after jump must not close")
	}
}

// Every emitted candle satisfies the OHLC invariant and exact bucket width,
// for arbitrary monotone input streams.
func TestCandleInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	r := resample.New(300)

	sec := int64(1_700_000_000)
	price := 100.0
	for i := 0; i < 20000; i++ {
		sec += int64(rng.Intn(40))
		price *= 1 + (rng.Float64()-0.5)*0.01
		vol := rng.Float64() * 10

		c, ok := r.Update(sec, price, vol)
		if !ok {
			continue
		}
		if c.EndTS-c.StartTS != 300 {
			t.Fatalf("candle width = %d, want 300", c.EndTS-c.StartTS)
		}
		if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
			t.Fatalf("OHLC invariant violated: %+v", c)
		}
		if c.Volume < 0 {
			t.Fatalf("negative volume: %+v", c)
		}
		if c.StartTS%300 != 0 {
			t.Fatalf("bucket not aligned: %d", c.StartTS)
		}
	}
}

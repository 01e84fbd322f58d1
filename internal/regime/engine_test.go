package regime_test

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/internal/regime"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

func testRegimeConfig() config.RegimeConfig {
	return config.RegimeConfig{
		ProxyA:           "BTCUSDT",
		ProxyB:           "ETHUSDT",
		PanicATRRatio:    1.6,
		PanicDropPct:     0.03,
		RecoveryATRRatio: 1.15,
		TrendEMAFast:     20,
		TrendEMASlow:     50,
		TrendGapMin:      0.0015,
		RangeATRMax:      0.006,
		RangeGapMax:      0.0010,
		MinHold:          0,
		AlertCooldown:    10 * time.Minute,
	}
}

// uniformCandles returns n identical candles with range 1 around price.
func uniformCandles(n int, price float64) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		out[i] = types.Candle{Open: price, High: price + 0.5, Low: price - 0.5, Close: price}
	}
	return out
}

func proxyMap(c []types.Candle) map[string][]types.Candle {
	return map[string][]types.Candle{"BTCUSDT": c, "ETHUSDT": c}
}

func TestMissingProxiesDefaultsToNormal(t *testing.T) {
	e := regime.New(zap.NewNop(), testRegimeConfig())

	res, _ := e.Update(map[string][]types.Candle{}, map[string][]types.Candle{})
	if res.Regime != types.RegimeNormal {
		t.Fatalf("regime = %s, want NORMAL", res.Regime)
	}
	if res.Reason != "missing proxies data" {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestDumpTriggersPanicThenRecovery(t *testing.T) {
	e := regime.New(zap.NewNop(), testRegimeConfig())

	// 1h series ends on a -4% bar on both proxies.
	c1 := uniformCandles(30, 100)
	c1[len(c1)-1] = types.Candle{Open: 100, High: 100, Low: 96, Close: 96}
	c4 := uniformCandles(10, 100)

	res, changed := e.Update(proxyMap(c1), proxyMap(c4))
	if res.Regime != types.RegimePanic || !res.Panic {
		t.Fatalf("regime = %s panic=%v, want PANIC", res.Regime, res.Panic)
	}
	if !changed {
		t.Error("panic entry must report a change")
	}
	if !strings.Contains(res.Reason, "dump") {
		t.Errorf("reason %q must mention the dump", res.Reason)
	}
	if res.RiskMult != 0 {
		t.Errorf("panic risk mult = %v, want 0", res.RiskMult)
	}

	// Volatility cooled, both proxies green: RECOVERY.
	green := uniformCandles(30, 100)
	green[len(green)-1] = types.Candle{Open: 100, High: 101.5, Low: 99.5, Close: 101}

	res, changed = e.Update(proxyMap(green), proxyMap(c4))
	if res.Regime != types.RegimeRecovery {
		t.Fatalf("regime = %s, want RECOVERY (reason %q)", res.Regime, res.Reason)
	}
	if res.Panic {
		t.Error("recovery must clear the panic flag")
	}
	if !changed {
		t.Error("recovery entry must report a change")
	}
}

func TestATRRatioTriggersPanic(t *testing.T) {
	e := regime.New(zap.NewNop(), testRegimeConfig())

	// Quiet history followed by five violent bars: short ATR blows out
	// against the long ATR without any single -3% close.
	c1 := uniformCandles(30, 100)
	for i := len(c1) - 5; i < len(c1); i++ {
		c1[i] = types.Candle{Open: 100, High: 103, Low: 97, Close: 100}
	}
	c4 := uniformCandles(10, 100)

	res, _ := e.Update(proxyMap(c1), proxyMap(c4))
	if res.Regime != types.RegimePanic {
		t.Fatalf("regime = %s, want PANIC (reason %q)", res.Regime, res.Reason)
	}
}

func TestRangeClassification(t *testing.T) {
	e := regime.New(zap.NewNop(), testRegimeConfig())

	// Tiny ranges on the 4h: ATR% and EMA gap both near zero.
	c1 := uniformCandles(30, 100)
	c4 := make([]types.Candle, 60)
	for i := range c4 {
		c4[i] = types.Candle{Open: 100, High: 100.05, Low: 99.95, Close: 100}
	}

	res, _ := e.Update(proxyMap(c1), proxyMap(c4))
	if res.Regime != types.RegimeRange {
		t.Fatalf("regime = %s, want RANGE (reason %q)", res.Regime, res.Reason)
	}
	if res.RiskMult != 0.7 {
		t.Errorf("range risk mult = %v, want 0.7", res.RiskMult)
	}
}

func TestTrendClassification(t *testing.T) {
	e := regime.New(zap.NewNop(), testRegimeConfig())

	c1 := uniformCandles(30, 100)
	// Steady 4h uptrend: fast EMA well above slow EMA on both proxies.
	c4 := make([]types.Candle, 60)
	price := 100.0
	for i := range c4 {
		c4[i] = types.Candle{Open: price, High: price * 1.01, Low: price * 0.99, Close: price * 1.005}
		price *= 1.005
	}

	res, _ := e.Update(proxyMap(c1), proxyMap(c4))
	if res.Regime != types.RegimeTrend {
		t.Fatalf("regime = %s, want TREND (reason %q)", res.Regime, res.Reason)
	}
}

func TestMinHoldSuppressesFlapping(t *testing.T) {
	cfg := testRegimeConfig()
	cfg.MinHold = 20 * time.Minute
	e := regime.New(zap.NewNop(), cfg)

	base := time.Unix(1_700_000_000, 0)
	now := base
	e.SetClock(func() time.Time { return now })

	// Enter RANGE.
	c1 := uniformCandles(30, 100)
	c4 := make([]types.Candle, 60)
	for i := range c4 {
		c4[i] = types.Candle{Open: 100, High: 100.05, Low: 99.95, Close: 100}
	}
	res, _ := e.Update(proxyMap(c1), proxyMap(c4))
	if res.Regime != types.RegimeRange {
		t.Fatalf("setup: regime = %s, want RANGE", res.Regime)
	}

	// A trend print one minute later must be held back.
	now = now.Add(time.Minute)
	trend := make([]types.Candle, 60)
	price := 100.0
	for i := range trend {
		trend[i] = types.Candle{Open: price, High: price * 1.01, Low: price * 0.99, Close: price * 1.005}
		price *= 1.005
	}
	res, changed := e.Update(proxyMap(c1), proxyMap(trend))
	if changed || res.Regime != types.RegimeRange {
		t.Fatalf("min hold violated: regime = %s changed=%v", res.Regime, changed)
	}

	// After the hold expires the same print is accepted.
	now = now.Add(30 * time.Minute)
	res, changed = e.Update(proxyMap(c1), proxyMap(trend))
	if !changed || res.Regime != types.RegimeTrend {
		t.Fatalf("expected TREND after hold, got %s changed=%v", res.Regime, changed)
	}

	// PANIC preempts regardless of hold.
	now = now.Add(time.Minute)
	dump := uniformCandles(30, 100)
	dump[len(dump)-1] = types.Candle{Open: 100, High: 100, Low: 96, Close: 96}
	res, changed = e.Update(proxyMap(dump), proxyMap(trend))
	if !changed || res.Regime != types.RegimePanic {
		t.Fatalf("PANIC must preempt, got %s changed=%v", res.Regime, changed)
	}
}

func TestAlertCooldown(t *testing.T) {
	cfg := testRegimeConfig()
	e := regime.New(zap.NewNop(), cfg)

	base := time.Unix(1_700_000_000, 0)
	now := base
	e.SetClock(func() time.Time { return now })

	if !e.AllowAlert() {
		t.Fatal("first alert must be allowed")
	}
	now = now.Add(time.Minute)
	if e.AllowAlert() {
		t.Fatal("alert inside the cooldown must be suppressed")
	}
	now = now.Add(cfg.AlertCooldown)
	if !e.AllowAlert() {
		t.Fatal("alert after the cooldown must be allowed")
	}
}

// Package regime estimates the market-wide regime from two proxy symbols.
// The label gates every per-symbol decision: NORMAL, TREND, RANGE, PANIC or
// RECOVERY, plus a panic flag that survives until volatility cools off.
package regime

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/internal/indicators"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

// Regime risk multipliers surfaced in RegimeResult.
const (
	riskMultNormal   = 1.0
	riskMultTrend    = 1.0
	riskMultRange    = 0.7
	riskMultRecovery = 0.5
	riskMultPanic    = 0.0
)

// ATR periods for the 1h panic ratio and the 4h volatility measure.
const (
	panicATRShort = 5
	panicATRLong  = 20
	atrPeriod4h   = 14
)

// Engine is the market-regime state machine. It is driven from the trade
// reader whenever a proxy 1h candle closes; it is not safe for concurrent
// use and does not need to be under the single-writer model.
type Engine struct {
	logger *zap.Logger
	cfg    config.RegimeConfig

	regime     types.Regime
	panic      bool
	lastReason string
	lastChange time.Time
	lastAlert  time.Time

	now func() time.Time
}

// New creates a regime engine starting in NORMAL.
func New(logger *zap.Logger, cfg config.RegimeConfig) *Engine {
	return &Engine{
		logger: logger,
		cfg:    cfg,
		regime: types.RegimeNormal,
		now:    time.Now,
	}
}

// Current returns the active regime label and panic flag.
func (e *Engine) Current() (types.Regime, bool) { return e.regime, e.panic }

// Update re-evaluates the regime from per-proxy 1h and 4h candle sequences
// and returns the (possibly unchanged) result plus whether the label moved.
// Missing proxy data yields NORMAL so decisions are not blocked spuriously.
func (e *Engine) Update(candles1h, candles4h map[string][]types.Candle) (types.RegimeResult, bool) {
	proxies := []string{e.cfg.ProxyA, e.cfg.ProxyB}

	for _, sym := range proxies {
		if len(candles1h[sym]) == 0 || len(candles4h[sym]) == 0 {
			return e.apply(types.RegimeNormal, false, riskMultNormal, "missing proxies data")
		}
	}

	// Panic inputs from the 1h series: max ATR ratio across proxies and any
	// dump candle.
	atrRatio := 0.0
	dump := false
	for _, sym := range proxies {
		c1 := candles1h[sym]
		short, okS := atrPct(c1, panicATRShort)
		long, okL := atrPct(c1, panicATRLong)
		if okS && okL && long > 0 {
			if r := short / long; r > atrRatio {
				atrRatio = r
			}
		}
		last := c1[len(c1)-1]
		if last.Open != 0 && (last.Close-last.Open)/last.Open <= -e.cfg.PanicDropPct {
			dump = true
		}
	}

	panicNow := atrRatio >= e.cfg.PanicATRRatio || dump

	// PANIC unwinds through RECOVERY once volatility cools and both proxies
	// print a green 1h bar.
	if e.regime == types.RegimePanic && !panicNow {
		green := true
		for _, sym := range proxies {
			c1 := candles1h[sym]
			if !c1[len(c1)-1].Green() {
				green = false
				break
			}
		}
		if atrRatio > 0 && atrRatio <= e.cfg.RecoveryATRRatio && green {
			reason := fmt.Sprintf("recovery: atr_ratio=%.2f green=%v", atrRatio, green)
			return e.apply(types.RegimeRecovery, false, riskMultRecovery, reason)
		}
	}

	if panicNow {
		reason := fmt.Sprintf("panic: atr_ratio=%.2f dump=%v", atrRatio, dump)
		return e.apply(types.RegimePanic, true, riskMultPanic, reason)
	}

	// Trend / range classification on the 4h series.
	var gaps, atrs []float64
	var dirs []types.Direction
	for _, sym := range proxies {
		c4 := candles4h[sym]
		if gap, dir, ok := emaGapDir(c4, e.cfg.TrendEMAFast, e.cfg.TrendEMASlow); ok {
			gaps = append(gaps, gap)
			dirs = append(dirs, dir)
		}
		if a, ok := atrPct(c4, atrPeriod4h); ok {
			atrs = append(atrs, a)
		}
	}

	gapAvg := mean(gaps)
	atrAvg := mean(atrs)
	sameDir := len(dirs) == len(proxies)
	for i := 1; i < len(dirs); i++ {
		if dirs[i] != dirs[0] {
			sameDir = false
		}
	}

	switch {
	case atrAvg > 0 && atrAvg <= e.cfg.RangeATRMax && gapAvg <= e.cfg.RangeGapMax:
		reason := fmt.Sprintf("range: atr4=%.4f gap=%.4f", atrAvg, gapAvg)
		return e.apply(types.RegimeRange, false, riskMultRange, reason)
	case gapAvg >= e.cfg.TrendGapMin && sameDir && len(dirs) > 0:
		reason := fmt.Sprintf("trend: dir=%s gap=%.4f", dirs[0], gapAvg)
		return e.apply(types.RegimeTrend, false, riskMultTrend, reason)
	default:
		reason := fmt.Sprintf("normal: atr_ratio=%.2f gap=%.4f", atrRatio, gapAvg)
		return e.apply(types.RegimeNormal, false, riskMultNormal, reason)
	}
}

// AllowAlert reports whether an outbound regime-change notification may be
// sent now, and records the send time when it may.
func (e *Engine) AllowAlert() bool {
	now := e.now()
	if !e.lastAlert.IsZero() && now.Sub(e.lastAlert) < e.cfg.AlertCooldown {
		return false
	}
	e.lastAlert = now
	return true
}

// apply commits a computed label subject to the minimum-hold rule: a
// non-PANIC change is accepted only after MinHold has elapsed since the
// previous change; PANIC preempts immediately.
func (e *Engine) apply(regime types.Regime, panicFlag bool, riskMult float64, reason string) (types.RegimeResult, bool) {
	changed := regime != e.regime

	if changed && regime != types.RegimePanic {
		if !e.lastChange.IsZero() && e.now().Sub(e.lastChange) < e.cfg.MinHold {
			// Hold the previous label; report it with the fresh reason
			// suppressed.
			return types.RegimeResult{
				Regime:   e.regime,
				Panic:    e.panic,
				RiskMult: riskMultFor(e.regime),
				Reason:   e.lastReason,
			}, false
		}
	}

	if changed {
		e.lastChange = e.now()
		e.logger.Info("market regime changed",
			zap.String("from", string(e.regime)),
			zap.String("to", string(regime)),
			zap.String("reason", reason))
	}

	e.regime = regime
	e.panic = panicFlag
	e.lastReason = reason

	return types.RegimeResult{
		Regime:   regime,
		Panic:    panicFlag,
		RiskMult: riskMult,
		Reason:   reason,
	}, changed
}

func riskMultFor(r types.Regime) float64 {
	switch r {
	case types.RegimeTrend:
		return riskMultTrend
	case types.RegimeRange:
		return riskMultRange
	case types.RegimeRecovery:
		return riskMultRecovery
	case types.RegimePanic:
		return riskMultPanic
	default:
		return riskMultNormal
	}
}

// atrPct returns Wilder ATR over the series divided by the latest close.
func atrPct(candles []types.Candle, period int) (float64, bool) {
	v, ok := indicators.ATRFromCandles(candles, period)
	if !ok {
		return 0, false
	}
	lastClose := candles[len(candles)-1].Close
	if lastClose == 0 {
		return 0, false
	}
	return v / lastClose, true
}

// emaGapDir computes the relative fast/slow EMA gap over the last slow
// closes and the trend direction.
func emaGapDir(candles []types.Candle, fast, slow int) (float64, types.Direction, bool) {
	if len(candles) < slow {
		return 0, "", false
	}
	window := candles[len(candles)-slow:]

	emaFast := indicators.NewEMA(fast)
	emaSlow := indicators.NewEMA(slow)
	var f, s float64
	for _, c := range window {
		f = emaFast.Update(c.Close)
		s = emaSlow.Update(c.Close)
	}
	if s == 0 {
		return 0, "", false
	}

	gap := (f - s) / s
	dir := types.DirectionLong
	if gap < 0 {
		gap = -gap
		dir = types.DirectionShort
	}
	return gap, dir, true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// SetClock overrides the time source; tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

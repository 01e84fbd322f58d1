// Package signal implements the multi-factor candle scorer and the regime
// gates that decide whether a scored candle becomes a tradable signal.
package signal

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/internal/indicators"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

// minHistory is the minimum candle history required before scoring.
const minHistory = 30

// Score weights per check. Volume is mandatory: failing it zeroes the score.
const (
	pointsEMAGap   = 2
	pointsVolume   = 3
	pointsWick     = 2
	pointsMomentum = 2
	pointsSqueeze  = 2
	pointsBreakout = 3
	pointsSpread   = 1
)

// breakoutLookback is the high/low window for the breakout check.
const breakoutLookback = 20

// Thresholds is the per-mode threshold set the scorer is gated by.
type Thresholds struct {
	EMAGap    float64
	VolRatio  float64
	WickMax   float64
	MomMin    float64
	SpreadMax float64
	Cooldown  time.Duration
}

// Checks carries the named sub-check results alongside the score.
type Checks struct {
	EMAGap          float64
	VolumeRatio     float64
	WickOK          bool
	MomentumOK      bool
	ATRSqueeze      bool
	ATRShortPct     float64
	ATRLongPct      float64
	SqueezeRatio    float64
	BreakoutHighLow bool
	Spread          float64
	SpreadOK        bool
}

// Scorer evaluates closed candles against the configured threshold tables.
type Scorer struct {
	logger *zap.Logger
	cfg    config.SignalConfig
}

// NewScorer creates a scorer from the signal configuration.
func NewScorer(logger *zap.Logger, cfg config.SignalConfig) *Scorer {
	return &Scorer{logger: logger, cfg: cfg}
}

// ThresholdsFor returns the threshold table for the given mode.
func (s *Scorer) ThresholdsFor(mode types.Mode) Thresholds {
	if mode == types.ModeEarly {
		return Thresholds{
			EMAGap:    s.cfg.EMAGapEarly,
			VolRatio:  s.cfg.VolumeRatioEarly,
			WickMax:   s.cfg.WickMaxEarly,
			MomMin:    s.cfg.MomentumMinEarly,
			SpreadMax: s.cfg.SpreadMaxEarly,
			Cooldown:  s.cfg.CooldownEarly,
		}
	}
	return Thresholds{
		EMAGap:    s.cfg.EMAGapMain,
		VolRatio:  s.cfg.VolumeRatioMain,
		WickMax:   s.cfg.WickMaxMain,
		MomMin:    s.cfg.MomentumMinMain,
		SpreadMax: s.cfg.SpreadMaxMain,
		Cooldown:  s.cfg.CooldownMain,
	}
}

// Score computes the point total and sub-check map for the latest candle.
// The volume spike is mandatory: when it fails, the score is exactly 0
// regardless of other checks (the already computed fields are still
// returned for logging).
func (s *Scorer) Score(candles []types.Candle, volumes []float64, spread float64, mode types.Mode) (int, Checks) {
	th := s.ThresholdsFor(mode)
	var checks Checks
	score := 0

	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	if prev.Close != 0 {
		checks.EMAGap = math.Abs(last.Close-prev.Close) / prev.Close
	}
	if checks.EMAGap >= th.EMAGap {
		score += pointsEMAGap
	}

	avg, ok := indicators.SMA(volumes, s.cfg.VolumeSMALen)
	if !ok {
		return 0, checks
	}
	checks.VolumeRatio = volumes[len(volumes)-1] / math.Max(avg, 1e-9)
	if checks.VolumeRatio < th.VolRatio {
		return 0, checks
	}
	score += pointsVolume

	checks.WickOK = !s.cfg.EnableWickFilter || indicators.WickRatio(last) <= th.WickMax
	if checks.WickOK {
		score += pointsWick
	}

	checks.MomentumOK = !s.cfg.EnableMomentum || indicators.Momentum(last) >= th.MomMin
	if checks.MomentumOK {
		score += pointsMomentum
	}

	// ATR compression contributes on the main timeframe only.
	checks.ATRSqueeze = true
	if mode == types.ModeMain && s.cfg.EnableATRCompression {
		res, ok := indicators.Compression(candles, s.cfg.ATRShort, s.cfg.ATRLong, s.cfg.ATRCompressionRatio)
		checks.ATRSqueeze = ok && res.SqueezeOK
		checks.ATRShortPct = res.ATRShortPct
		checks.ATRLongPct = res.ATRLongPct
		checks.SqueezeRatio = res.Ratio
		if checks.ATRSqueeze {
			score += pointsSqueeze
		}
	}

	checks.BreakoutHighLow = breakout(candles, breakoutLookback)
	if checks.BreakoutHighLow {
		score += pointsBreakout
	}

	checks.Spread = spread
	checks.SpreadOK = spread <= th.SpreadMax
	if checks.SpreadOK {
		score += pointsSpread
	}

	return score, checks
}

// Evaluate scores the latest candle and applies the regime hard and soft
// gates. It returns the signal and "ok" when one should be emitted, or nil
// and the block reason. Cooldown bookkeeping belongs to the caller.
func (s *Scorer) Evaluate(symbol string, candles []types.Candle, volumes []float64, spread float64,
	mode types.Mode, regime types.Regime, marketPanic bool) (*types.Signal, string) {

	if len(candles) < minHistory {
		return nil, "insufficient history"
	}

	last := candles[len(candles)-1]
	direction := types.DirectionShort
	if last.Green() {
		direction = types.DirectionLong
	}

	// Hard gates reject before scoring.
	if marketPanic || regime == types.RegimePanic {
		if direction == types.DirectionLong {
			return nil, "PANIC: block LONG"
		}
		if mode == types.ModeEarly {
			return nil, "PANIC: block EARLY"
		}
	}
	if regime == types.RegimeRecovery && mode == types.ModeEarly {
		return nil, "RECOVERY: block EARLY"
	}
	if regime == types.RegimeRange && mode == types.ModeEarly {
		return nil, "RANGE: block EARLY"
	}

	score, checks := s.Score(candles, volumes, spread, mode)

	minScore := s.cfg.ScoreMinEarly
	if mode == types.ModeMain {
		minScore = s.cfg.ScoreMinMain
	}

	// Soft gates raise the minimum score.
	switch regime {
	case types.RegimeRange:
		if mode == types.ModeMain {
			minScore++
		}
	case types.RegimeRecovery:
		if mode == types.ModeMain {
			minScore++
			if direction == types.DirectionShort {
				minScore += 2
			}
		}
	case types.RegimePanic:
		if mode == types.ModeMain {
			if minScore < s.cfg.ScoreMinMainPanic {
				minScore = s.cfg.ScoreMinMainPanic
			}
			if !checks.BreakoutHighLow {
				return nil, "PANIC: breakout required"
			}
			if s.cfg.EnableATRCompression && !checks.ATRSqueeze {
				return nil, "PANIC: squeeze required"
			}
		}
	}

	if score < minScore {
		return nil, "score below threshold"
	}

	sig := &types.Signal{
		Symbol:          symbol,
		Mode:            mode,
		Direction:       direction,
		Score:           score,
		HighConf:        score >= s.cfg.ScoreHighConf,
		MarketRegime:    regime,
		MarketPanic:     marketPanic,
		EMAGap:          checks.EMAGap,
		VolumeRatio:     checks.VolumeRatio,
		WickOK:          checks.WickOK,
		MomentumOK:      checks.MomentumOK,
		ATRSqueeze:      checks.ATRSqueeze,
		ATRShortPct:     checks.ATRShortPct,
		ATRLongPct:      checks.ATRLongPct,
		SqueezeRatio:    checks.SqueezeRatio,
		BreakoutHighLow: checks.BreakoutHighLow,
		Spread:          checks.Spread,
		SpreadOK:        checks.SpreadOK,
	}
	return sig, "ok"
}

// breakout reports whether the last close strictly pierces the high or low
// of the preceding lookback candles.
func breakout(candles []types.Candle, lookback int) bool {
	if len(candles) < lookback+1 {
		return false
	}
	last := candles[len(candles)-1]
	window := candles[len(candles)-lookback-1 : len(candles)-1]

	maxHigh := window[0].High
	minLow := window[0].Low
	for _, c := range window[1:] {
		maxHigh = math.Max(maxHigh, c.High)
		minLow = math.Min(minLow, c.Low)
	}
	return last.Close > maxHigh || last.Close < minLow
}

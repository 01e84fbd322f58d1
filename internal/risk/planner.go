package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

// Sizing floors.
const (
	riskPctFloor = 0.05   // percent of NAV
	slDistFloor  = 0.0002 // fraction of entry price
)

// Slippage estimator weights: spread plus a volatility term plus a
// notional-impact term, never below the raw spread.
const (
	slipATRWeight    = 0.4
	slipImpactWeight = 0.3
	slipMaxPct       = 0.005
)

// PlanInput carries everything the planner needs to size one trade.
type PlanInput struct {
	Signal *types.Signal

	Entry float64 // reference price, the signal candle close
	ATR   float64 // ATR on the signal timeframe, absolute price units
	NAV   decimal.Decimal

	Spread       float64 // relative bid/ask spread
	AvgVolumeUSD float64 // recent quote-volume average, 0 when unknown

	// ExtraRiskMult folds in the regime and drawdown multipliers. Zero
	// means trading is disabled and planning fails.
	ExtraRiskMult float64

	Policy PolicyResult
}

// Planner converts an accepted signal plus policy output into a concrete
// entry/SL/TP/quantity plan.
type Planner struct {
	logger *zap.Logger
	cfg    config.RiskConfig
}

// NewPlanner creates a planner from the risk configuration.
func NewPlanner(logger *zap.Logger, cfg config.RiskConfig) *Planner {
	return &Planner{logger: logger, cfg: cfg}
}

// Plan sizes a trade. Steps, in order: base risk percent scaled by the
// policy and external multipliers, volatility adjustment, SL distance with
// its minimum floor, entry offset (confirmation takes precedence over the
// adaptive breakout offset), risk USD and quantity, slippage shift, and
// finally SL/TP from the adjusted entry.
func (p *Planner) Plan(in PlanInput) (*types.RiskPlan, error) {
	sig := in.Signal
	if in.Entry <= 0 || in.ATR <= 0 {
		return nil, fmt.Errorf("plan %s: invalid entry %.8f or atr %.8f", sig.Symbol, in.Entry, in.ATR)
	}
	if in.NAV.Sign() <= 0 {
		return nil, fmt.Errorf("plan %s: non-positive NAV", sig.Symbol)
	}
	if in.ExtraRiskMult <= 0 {
		return nil, fmt.Errorf("plan %s: risk multiplier is zero", sig.Symbol)
	}

	atrPct := in.ATR / in.Entry

	riskPct := p.baseRiskPct(sig.Mode) * in.Policy.RiskMult * in.ExtraRiskMult
	if p.cfg.EnableVolAdjust && atrPct > 0 {
		riskPct *= clampf(p.cfg.TargetVolPct/atrPct, 0.5, 1.5)
	}
	riskPct = clampf(riskPct, riskPctFloor, p.cfg.RiskMaxPct)

	slDist := maxf(in.ATR*in.Policy.SLMult, in.Entry*slDistFloor)

	entry := in.Entry
	switch {
	case p.cfg.EnableEntryConfirm:
		offset := clampf(0.10*atrPct, p.cfg.EntryConfirmMinPct, p.cfg.EntryConfirmMaxPct)
		entry = shift(entry, offset, sig.Direction)
	case p.cfg.EnableAdaptiveEntry:
		// TREND chases the breakout; NORMAL and RANGE wait for a pullback.
		if sig.MarketRegime == types.RegimeTrend {
			entry = shift(entry, p.cfg.BreakoutOffsetPct, sig.Direction)
		} else {
			entry = shift(entry, -p.cfg.BreakoutOffsetPct, sig.Direction)
		}
	}

	riskUSD := in.NAV.Mul(decimal.NewFromFloat(riskPct / 100))
	qty := riskUSD.Div(decimal.NewFromFloat(slDist))

	slipPct := p.slippageBps(sig.Mode) / 10_000
	if notional, _ := qty.Mul(decimal.NewFromFloat(entry)).Float64(); in.AvgVolumeUSD > 0 {
		slipPct = maxf(slipPct, EstimateSlippagePct(in.Spread, atrPct, notional, in.AvgVolumeUSD))
	}
	entry = shift(entry, slipPct, sig.Direction)

	var sl, tp float64
	if sig.Direction == types.DirectionLong {
		sl = entry - slDist
		tp = entry + in.Policy.RR*slDist
	} else {
		sl = entry + slDist
		tp = entry - in.Policy.RR*slDist
	}
	if sl <= 0 {
		return nil, fmt.Errorf("plan %s: SL %.8f collapsed below zero", sig.Symbol, sl)
	}

	plan := &types.RiskPlan{
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		Mode:      sig.Mode,
		Entry:     entry,
		SL:        sl,
		TP:        tp,
		Qty:       qty,
		RiskUSD:   riskUSD,
		RiskPct:   riskPct,
		RR:        in.Policy.RR,
		SLATRMult: in.Policy.SLMult,
		SLDist:    slDist,
		ATRValue:  in.ATR,
		ATRPct:    atrPct,
		Notes:     in.Policy.Reason,
	}

	p.logger.Debug("trade plan sized",
		zap.String("symbol", plan.Symbol),
		zap.String("direction", string(plan.Direction)),
		zap.Float64("entry", plan.Entry),
		zap.Float64("sl", plan.SL),
		zap.Float64("tp", plan.TP),
		zap.String("risk_usd", plan.RiskUSD.StringFixed(2)),
		zap.Float64("risk_pct", plan.RiskPct))

	return plan, nil
}

// EstimateSlippagePct models expected slippage as the spread plus a
// volatility share plus a size-impact share. The result never drops below
// the spread itself and is capped so a thin book cannot produce an absurd
// entry shift.
func EstimateSlippagePct(spreadPct, atrPct, notionalUSD, avgVolumeUSD float64) float64 {
	if avgVolumeUSD <= 0 {
		return spreadPct
	}
	est := spreadPct + slipATRWeight*atrPct + slipImpactWeight*(notionalUSD/avgVolumeUSD)
	return clampf(est, spreadPct, slipMaxPct)
}

func (p *Planner) baseRiskPct(mode types.Mode) float64 {
	if mode == types.ModeEarly {
		return p.cfg.BaseRiskPctEarly
	}
	return p.cfg.BaseRiskPctMain
}

func (p *Planner) slippageBps(mode types.Mode) float64 {
	if mode == types.ModeEarly {
		return p.cfg.SlippageBpsEarly
	}
	return p.cfg.SlippageBpsMain
}

// shift moves a price against the trader: up for LONG entries, down for
// SHORT entries.
func shift(price, pct float64, dir types.Direction) float64 {
	if dir == types.DirectionLong {
		return price * (1 + pct)
	}
	return price * (1 - pct)
}

// Package risk turns an accepted signal into a sized trade plan: the regime
// and confidence seed a risk multiplier, reward-to-risk target and stop
// width, and the planner converts those into entry/SL/TP/quantity.
package risk

import (
	"fmt"

	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

// BaseRR is the reward-to-risk seed before regime adjustments.
const BaseRR = 1.8

// Final clamps applied to every policy output.
const (
	rrMin       = 1.2
	rrMax       = 3.0
	slMultMin   = 0.6
	slMultMax   = 2.8
	riskMultMin = 0.4
	riskMultMax = 1.6
)

// PolicyResult seeds the planner with regime- and confidence-adjusted
// sizing parameters.
type PolicyResult struct {
	Allow    bool
	Reason   string
	RiskMult float64
	RR       float64
	SLMult   float64
}

// Policy derives the risk multiplier, RR target and SL multiplier for a
// signal under the current regime. baseRR and baseSLMult come from the mode
// configuration; RECOVERY additionally requires high confidence.
func Policy(sig *types.Signal, baseRR, baseSLMult float64) PolicyResult {
	riskMult := 0.9
	rr := maxf(baseRR, 1.8)
	slMult := baseSLMult

	switch sig.MarketRegime {
	case types.RegimeNormal:
		if sig.HighConf {
			riskMult = 1.0
		}
	case types.RegimeTrend:
		riskMult *= 1.10
		rr = maxf(rr, 2.2)
		slMult *= 1.08
	case types.RegimeRange:
		riskMult *= 0.72
		rr = minf(rr, 1.7)
		slMult *= 0.90
	case types.RegimeRecovery:
		if !sig.HighConf {
			return PolicyResult{Allow: false, Reason: "RECOVERY: high confidence required"}
		}
		riskMult *= 0.55
		rr = minf(rr, 1.7)
	case types.RegimePanic:
		if sig.Direction != types.DirectionShort {
			return PolicyResult{Allow: false, Reason: "PANIC: only SHORT allowed"}
		}
		riskMult *= 0.60
		rr = minf(rr, 1.7)
		slMult *= 1.10
	}

	if sig.HighConf {
		riskMult *= 1.20
		slMult *= 1.05
		// RECOVERY and PANIC keep their RR cap even at high confidence.
		if sig.MarketRegime != types.RegimeRecovery && sig.MarketRegime != types.RegimePanic {
			rr = maxf(rr, 2.4)
		}
	}

	return PolicyResult{
		Allow:    true,
		Reason:   fmt.Sprintf("%s high_conf=%v", sig.MarketRegime, sig.HighConf),
		RiskMult: clampf(riskMult, riskMultMin, riskMultMax),
		RR:       clampf(rr, rrMin, rrMax),
		SLMult:   clampf(slMult, slMultMin, slMultMax),
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clampf(x, lo, hi float64) float64 {
	return maxf(lo, minf(hi, x))
}

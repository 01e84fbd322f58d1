// Package portfolio tracks open positions and enforces the portfolio-level
// gates: position count, total risk, pairwise correlation and liquidity.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
	"github.com/atlas-desktop/perp-signal-engine/pkg/utils"
)

// minCorrelationPoints is the minimum number of return points before the
// correlation gate may block. Shorter series do not block.
const minCorrelationPoints = 20

// priceHistoryCap bounds the per-position close history kept for the
// correlation gate.
const priceHistoryCap = 120

// Gate rejection reasons, stable for logging and alerts.
const (
	ReasonOK           = "ok"
	ReasonExists       = "position_exists"
	ReasonMaxPositions = "max_positions_reached"
	ReasonMaxTotalRisk = "max_total_risk_reached"
	ReasonCorrelation  = "correlation_block"
	ReasonIlliquid     = "insufficient_liquidity"
)

// Manager is the portfolio gatekeeper and open-position book. It is driven
// from the trade-reader task only and needs no internal locking; Snapshot
// copies are handed to the status server.
type Manager struct {
	logger *zap.Logger
	cfg    config.PortfolioConfig

	nav       decimal.Decimal
	positions map[string]*types.Position
}

// New creates an empty portfolio with the given starting NAV.
func New(logger *zap.Logger, cfg config.PortfolioConfig, startNAV decimal.Decimal) *Manager {
	return &Manager{
		logger:    logger,
		cfg:       cfg,
		nav:       startNAV,
		positions: make(map[string]*types.Position),
	}
}

// NAV returns the current net asset value.
func (m *Manager) NAV() decimal.Decimal { return m.nav }

// SetNAV records a new NAV after a simulated close.
func (m *Manager) SetNAV(nav decimal.Decimal) { m.nav = nav }

// Has reports whether a position is open for the symbol.
func (m *Manager) Has(symbol string) bool {
	_, ok := m.positions[symbol]
	return ok
}

// Get returns the open position for symbol, or nil.
func (m *Manager) Get(symbol string) *types.Position { return m.positions[symbol] }

// Count returns the number of open positions.
func (m *Manager) Count() int { return len(m.positions) }

// TotalRiskUSD sums the risk of all open positions.
func (m *Manager) TotalRiskUSD() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.positions {
		total = total.Add(p.RiskUSD)
	}
	return total
}

// CanOpen applies the portfolio gates to a candidate plan, in order:
// duplicate symbol, position count, total risk including the candidate,
// and correlation against every open position. It returns ReasonOK when
// the plan may proceed.
func (m *Manager) CanOpen(plan *types.RiskPlan, returns []float64) string {
	if m.Has(plan.Symbol) {
		return ReasonExists
	}
	if len(m.positions) >= m.cfg.MaxPositions {
		return ReasonMaxPositions
	}

	maxRisk := m.nav.Mul(decimal.NewFromFloat(m.cfg.MaxTotalRiskPct / 100))
	if m.TotalRiskUSD().Add(plan.RiskUSD).GreaterThan(maxRisk) {
		return ReasonMaxTotalRisk
	}

	// Correlation gate: block only when both series are long enough to
	// trust the estimate. Unknown correlation never blocks.
	if len(returns) >= minCorrelationPoints {
		for _, p := range m.positions {
			other := utils.SimpleReturns(p.PriceHistory)
			if len(other) < minCorrelationPoints {
				continue
			}
			n := len(returns)
			if len(other) < n {
				n = len(other)
			}
			corr := utils.PearsonCorrelation(returns[len(returns)-n:], other[len(other)-n:])
			if corr >= m.cfg.MaxCorrelation {
				m.logger.Debug("correlation block",
					zap.String("candidate", plan.Symbol),
					zap.String("against", p.Symbol),
					zap.Float64("corr", corr))
				return ReasonCorrelation
			}
		}
	}

	return ReasonOK
}

// CheckLiquidity reports whether the symbol's recent quote volume clears
// the configured floor. Zero volume means unknown and passes.
func (m *Manager) CheckLiquidity(avgVolumeUSD float64) bool {
	if avgVolumeUSD <= 0 || m.cfg.MinLiquidityUSD <= 0 {
		return true
	}
	return avgVolumeUSD >= m.cfg.MinLiquidityUSD
}

// Open registers a position created from a plan and returns it.
func (m *Manager) Open(plan *types.RiskPlan, openedAt time.Time) *types.Position {
	pos := &types.Position{
		ID:        utils.GeneratePositionID(),
		Symbol:    plan.Symbol,
		Direction: plan.Direction,
		Qty:       plan.Qty,
		Entry:     plan.Entry,
		SL:        plan.SL,
		TP:        plan.TP,
		RiskUSD:   plan.RiskUSD,
		RR:        plan.RR,
		OpenedAt:  openedAt,
	}
	m.positions[pos.Symbol] = pos

	m.logger.Info("position opened",
		zap.String("symbol", pos.Symbol),
		zap.String("direction", string(pos.Direction)),
		zap.Float64("entry", pos.Entry),
		zap.Float64("sl", pos.SL),
		zap.Float64("tp", pos.TP),
		zap.String("risk_usd", pos.RiskUSD.StringFixed(2)),
		zap.Int("open_positions", len(m.positions)))
	return pos
}

// Close removes the position for symbol and returns it, or nil when none
// is open.
func (m *Manager) Close(symbol string) *types.Position {
	pos, ok := m.positions[symbol]
	if !ok {
		return nil
	}
	delete(m.positions, symbol)
	return pos
}

// RecordClose appends a closed candle's close price to the position's
// history for the correlation gate, trimming to the cap.
func (m *Manager) RecordClose(symbol string, close float64) {
	pos, ok := m.positions[symbol]
	if !ok {
		return
	}
	pos.PriceHistory = append(pos.PriceHistory, close)
	if len(pos.PriceHistory) > priceHistoryCap {
		pos.PriceHistory = pos.PriceHistory[len(pos.PriceHistory)-priceHistoryCap:]
	}
}

// Snapshot returns a copy of the open positions for read-only consumers.
func (m *Manager) Snapshot() []types.Position {
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		cp := *p
		cp.PriceHistory = nil
		out = append(out, cp)
	}
	return out
}

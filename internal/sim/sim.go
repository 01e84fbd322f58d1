// Package sim is the paper-execution simulator: it holds open simulated
// positions, resolves SL/TP against closed candles and is the authority
// on NAV.
package sim

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

// Simulator owns the NAV scalar and a per-symbol position mirror. It is
// driven from the trade-reader task only.
type Simulator struct {
	logger *zap.Logger
	cfg    config.SimConfig

	nav       decimal.Decimal
	positions map[string]*types.Position
	stats     types.SimStats

	now func() time.Time
}

// New creates a simulator at the configured starting NAV.
func New(logger *zap.Logger, cfg config.SimConfig) *Simulator {
	return &Simulator{
		logger:    logger,
		cfg:       cfg,
		nav:       decimal.NewFromFloat(cfg.StartNAV),
		positions: make(map[string]*types.Position),
		now:       time.Now,
	}
}

// NAV returns the current net asset value.
func (s *Simulator) NAV() decimal.Decimal { return s.nav }

// Stats returns the cumulative trade statistics.
func (s *Simulator) Stats() types.SimStats { return s.stats }

// Has reports whether a simulated position is held for the symbol.
func (s *Simulator) Has(symbol string) bool {
	_, ok := s.positions[symbol]
	return ok
}

// Open inserts a position. Double-open on a held symbol is guarded by the
// gatekeeper upstream; it is rejected here as a defensive no-op.
func (s *Simulator) Open(pos *types.Position) bool {
	if _, ok := s.positions[pos.Symbol]; ok {
		s.logger.Warn("duplicate simulated open ignored", zap.String("symbol", pos.Symbol))
		return false
	}
	s.positions[pos.Symbol] = pos
	return true
}

// UpdateByCandle resolves the symbol's position against a closed candle.
// SL takes precedence over TP when both are touched within the candle.
// Returns nil when nothing resolved.
func (s *Simulator) UpdateByCandle(symbol string, candle types.Candle) *types.PositionClose {
	pos, ok := s.positions[symbol]
	if !ok {
		return nil
	}

	var (
		result types.CloseResult
		exit   float64
		pnl    decimal.Decimal
	)

	switch pos.Direction {
	case types.DirectionLong:
		switch {
		case candle.Low <= pos.SL:
			result, exit, pnl = types.CloseSL, pos.SL, pos.RiskUSD.Neg()
		case candle.High >= pos.TP:
			result, exit, pnl = types.CloseTP, pos.TP, pos.RiskUSD.Mul(decimal.NewFromFloat(pos.RR))
		default:
			return nil
		}
	case types.DirectionShort:
		switch {
		case candle.High >= pos.SL:
			result, exit, pnl = types.CloseSL, pos.SL, pos.RiskUSD.Neg()
		case candle.Low <= pos.TP:
			result, exit, pnl = types.CloseTP, pos.TP, pos.RiskUSD.Mul(decimal.NewFromFloat(pos.RR))
		default:
			return nil
		}
	default:
		return nil
	}

	exit = s.applyExitSlippage(exit, pos.Direction)

	delete(s.positions, symbol)
	s.nav = s.nav.Add(pnl)

	s.stats.TotalTrades++
	if result == types.CloseTP {
		s.stats.Wins++
	} else {
		s.stats.Losses++
	}
	s.stats.TotalPnL = s.stats.TotalPnL.Add(pnl)

	res := &types.PositionClose{
		Symbol:    symbol,
		Direction: pos.Direction,
		Result:    result,
		ExitPrice: exit,
		PnL:       pnl,
		RR:        pos.RR,
		NAV:       s.nav,
		ClosedAt:  s.now(),
	}

	s.logger.Info("simulated position closed",
		zap.String("symbol", symbol),
		zap.String("result", string(result)),
		zap.Float64("exit", exit),
		zap.String("pnl", pnl.StringFixed(2)),
		zap.String("nav", s.nav.StringFixed(2)))

	return res
}

// Snapshot returns a copy of the open simulated positions.
func (s *Simulator) Snapshot() []types.Position {
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// applyExitSlippage worsens the exit price by the configured fraction:
// a LONG exits lower, a SHORT exits higher.
func (s *Simulator) applyExitSlippage(exit float64, dir types.Direction) float64 {
	if s.cfg.ExitSlippagePct <= 0 {
		return exit
	}
	if dir == types.DirectionLong {
		return exit * (1 - s.cfg.ExitSlippagePct)
	}
	return exit * (1 + s.cfg.ExitSlippagePct)
}

// SetClock overrides the time source; tests only.
func (s *Simulator) SetClock(now func() time.Time) { s.now = now }

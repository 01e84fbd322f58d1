// Package drawdown tracks NAV against its peak and throttles or halts
// trading as losses deepen: a soft zone scales risk down linearly, a hard
// breach pauses trading for a cooldown, and a kill breach stops it for good.
package drawdown

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

// CanTrade verdicts.
const (
	VerdictOK           = "ok"
	VerdictHardCooldown = "dd_hard_cooldown"
	VerdictKill         = "dd_kill"
)

// Manager is the drawdown state machine. Single-writer, no locking.
type Manager struct {
	logger *zap.Logger
	cfg    config.DrawdownConfig

	peak        decimal.Decimal
	nav         decimal.Decimal
	killed      bool
	haltedUntil time.Time

	now func() time.Time
}

// New creates a manager with peak and NAV at the starting value.
func New(logger *zap.Logger, cfg config.DrawdownConfig, startNAV decimal.Decimal) *Manager {
	return &Manager{
		logger: logger,
		cfg:    cfg,
		peak:   startNAV,
		nav:    startNAV,
		now:    time.Now,
	}
}

// Update records a new NAV, raising the peak on new highs and arming the
// hard cooldown or kill switch on threshold breaches. It returns the
// resulting state snapshot.
func (m *Manager) Update(nav decimal.Decimal) types.DrawdownState {
	m.nav = nav
	if nav.GreaterThan(m.peak) {
		m.peak = nav
	}

	dd := m.ddPct()
	if dd >= m.cfg.KillPct && !m.killed {
		m.killed = true
		m.logger.Error("kill drawdown breached, trading stopped",
			zap.Float64("dd_pct", dd),
			zap.String("nav", nav.StringFixed(2)))
	} else if dd >= m.cfg.HardPct && !m.killed {
		if until := m.now().Add(m.cfg.HardCooldown); until.After(m.haltedUntil) {
			m.haltedUntil = until
			m.logger.Warn("hard drawdown breached, trading paused",
				zap.Float64("dd_pct", dd),
				zap.Time("until", m.haltedUntil))
		}
	}

	return m.State()
}

// CanTrade returns VerdictOK when new positions may be opened, or the
// blocking verdict otherwise.
func (m *Manager) CanTrade() string {
	if m.killed {
		return VerdictKill
	}
	if m.now().Before(m.haltedUntil) {
		return VerdictHardCooldown
	}
	return VerdictOK
}

// RiskMultiplier returns the drawdown-driven risk scale: 1.0 up to the
// soft threshold, then linear down to MinRiskMult at the hard threshold,
// and MinRiskMult beyond it.
func (m *Manager) RiskMultiplier() float64 {
	dd := m.ddPct()
	switch {
	case dd <= m.cfg.SoftPct:
		return 1.0
	case dd >= m.cfg.HardPct:
		return m.cfg.MinRiskMult
	default:
		frac := (dd - m.cfg.SoftPct) / (m.cfg.HardPct - m.cfg.SoftPct)
		return 1.0 - frac*(1.0-m.cfg.MinRiskMult)
	}
}

// ResetPeak re-anchors the peak to the current NAV, forgiving the
// accumulated drawdown. Operator action only.
func (m *Manager) ResetPeak() {
	m.peak = m.nav
	m.killed = false
	m.haltedUntil = time.Time{}
	m.logger.Info("drawdown peak reset", zap.String("nav", m.nav.StringFixed(2)))
}

// State returns a snapshot of the current drawdown state.
func (m *Manager) State() types.DrawdownState {
	dd := m.ddPct()
	return types.DrawdownState{
		PeakNAV:     m.peak,
		NAV:         m.nav,
		DDPct:       dd,
		Soft:        dd >= m.cfg.SoftPct,
		Hard:        dd >= m.cfg.HardPct,
		Kill:        m.killed,
		HaltedUntil: m.haltedUntil,
	}
}

func (m *Manager) ddPct() float64 {
	if m.peak.Sign() <= 0 {
		return 0
	}
	dd, _ := m.peak.Sub(m.nav).Div(m.peak).Float64()
	if dd < 0 {
		return 0
	}
	return dd
}

// SetClock overrides the time source; tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

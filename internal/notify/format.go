package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

// FormatStartup builds the startup banner.
func FormatStartup(symbols []string, startNAV decimal.Decimal) string {
	return fmt.Sprintf("engine started\nsymbols: %s\nstart NAV: %s USD",
		strings.Join(symbols, ", "), startNAV.StringFixed(2))
}

// FormatRegimeChange describes a regime transition.
func FormatRegimeChange(from, to types.Regime, res types.RegimeResult) string {
	return fmt.Sprintf("regime %s -> %s\nrisk mult: %.2f\n%s", from, to, res.RiskMult, res.Reason)
}

// FormatOpen describes a newly opened simulated position.
func FormatOpen(pos *types.Position, mode types.Mode, score int) string {
	return fmt.Sprintf("OPEN %s %s [%s, score %d]\nentry: %.6f\nsl: %.6f\ntp: %.6f\nqty: %s\nrisk: %s USD @ rr %.2f",
		pos.Direction, pos.Symbol, mode, score,
		pos.Entry, pos.SL, pos.TP,
		pos.Qty.StringFixed(4), pos.RiskUSD.StringFixed(2), pos.RR)
}

// FormatClose describes a resolved position plus the running stats.
func FormatClose(c *types.PositionClose, stats types.SimStats) string {
	return fmt.Sprintf("CLOSE %s %s: %s\nexit: %.6f\npnl: %s USD\nnav: %s USD\ntrades: %d (%.1f%% wins)",
		c.Direction, c.Symbol, c.Result,
		c.ExitPrice, c.PnL.StringFixed(2), c.NAV.StringFixed(2),
		stats.TotalTrades, stats.WinRate())
}

// FormatStatus builds the periodic status report.
func FormatStatus(nav decimal.Decimal, dd types.DrawdownState, regime types.Regime,
	openPositions int, stats types.SimStats, uptime time.Duration) string {

	return fmt.Sprintf("status\nnav: %s USD (dd %.2f%%)\nregime: %s\nopen: %d\ntrades: %d, wins %d, losses %d, pnl %s USD\nuptime: %s",
		nav.StringFixed(2), dd.DDPct*100, regime, openPositions,
		stats.TotalTrades, stats.Wins, stats.Losses, stats.TotalPnL.StringFixed(2),
		uptime.Round(time.Minute))
}

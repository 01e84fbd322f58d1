// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TradesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_trades_processed_total",
			Help: "Inbound aggregated-trade events processed, by symbol.",
		},
		[]string{"symbol"},
	)

	CandlesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_candles_closed_total",
			Help: "Closed candles emitted by the resamplers, by timeframe.",
		},
		[]string{"timeframe"},
	)

	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_emitted_total",
			Help: "Signals that passed scoring and regime gates, by mode.",
		},
		[]string{"mode"},
	)

	SignalsBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_blocked_total",
			Help: "Signals rejected by a gate, by reason code.",
		},
		[]string{"reason"},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_positions_open",
			Help: "Currently open simulated positions.",
		},
	)

	NAVGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_nav_usd",
			Help: "Current simulated net asset value.",
		},
	)

	DrawdownPct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_drawdown_pct",
			Help: "Current drawdown from peak NAV, as a fraction.",
		},
	)

	RegimeChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_regime_changes_total",
			Help: "Market regime transitions, by new label.",
		},
		[]string{"regime"},
	)

	NotifyDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_notifications_dropped_total",
			Help: "Outbound notifications dropped on a full queue.",
		},
	)

	WSReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_ws_reconnects_total",
			Help: "Websocket reconnect attempts, by stream.",
		},
		[]string{"stream"},
	)
)

func init() {
	prometheus.MustRegister(
		TradesProcessed,
		CandlesClosed,
		SignalsEmitted,
		SignalsBlocked,
		PositionsOpen,
		NAVGauge,
		DrawdownPct,
		RegimeChanges,
		NotifyDropped,
		WSReconnects,
	)
}

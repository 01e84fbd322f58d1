// Package types provides shared type definitions for the signal engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the side of a signal or position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Mode selects the signal threshold set.
type Mode string

const (
	ModeEarly Mode = "early"
	ModeMain  Mode = "main"
)

// Regime represents the market-wide regime label.
type Regime string

const (
	RegimeNormal   Regime = "NORMAL"
	RegimeTrend    Regime = "TREND"
	RegimeRange    Regime = "RANGE"
	RegimePanic    Regime = "PANIC"
	RegimeRecovery Regime = "RECOVERY"
)

// Candle is a fixed-width OHLCV bucket aggregated from the trade stream.
// Invariant: Low <= min(Open, Close) <= max(Open, Close) <= High and
// EndTS == StartTS + timeframe seconds.
type Candle struct {
	Open    float64 `json:"open"`
	High    float64 `json:"high"`
	Low     float64 `json:"low"`
	Close   float64 `json:"close"`
	Volume  float64 `json:"volume"`
	StartTS int64   `json:"startTs"`
	EndTS   int64   `json:"endTs"`
}

// Green reports whether the candle closed above its open.
func (c Candle) Green() bool { return c.Close > c.Open }

// Range returns High - Low.
func (c Candle) Range() float64 { return c.High - c.Low }

// BookTickerEvent is a best bid/ask update from the quote stream.
type BookTickerEvent struct {
	Symbol string
	Bid    float64
	Ask    float64
}

// TradeEvent is an aggregated trade from the trade stream.
type TradeEvent struct {
	Symbol      string
	EventTimeMS int64
	Qty         float64
}

// Signal is the output of the scorer after regime gating.
type Signal struct {
	Symbol       string    `json:"symbol"`
	Mode         Mode      `json:"mode"`
	Direction    Direction `json:"direction"`
	Score        int       `json:"score"`
	HighConf     bool      `json:"highConf"`
	MarketRegime Regime    `json:"marketRegime"`
	MarketPanic  bool      `json:"marketPanic"`

	// Named sub-checks, kept for alert formatting and panic gating.
	EMAGap          float64 `json:"emaGap"`
	VolumeRatio     float64 `json:"volumeRatio"`
	WickOK          bool    `json:"wickOk"`
	MomentumOK      bool    `json:"momentumOk"`
	ATRSqueeze      bool    `json:"atrSqueeze"`
	ATRShortPct     float64 `json:"atrShortPct"`
	ATRLongPct      float64 `json:"atrLongPct"`
	SqueezeRatio    float64 `json:"squeezeRatio"`
	BreakoutHighLow bool    `json:"breakoutHighLow"`
	Spread          float64 `json:"spread"`
	SpreadOK        bool    `json:"spreadOk"`
}

// RiskPlan is the fully sized trade plan produced by the risk planner.
// Prices are float64; money amounts are decimal.
type RiskPlan struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Mode      Mode      `json:"mode"`

	Entry float64 `json:"entry"`
	SL    float64 `json:"sl"`
	TP    float64 `json:"tp"`

	Qty     decimal.Decimal `json:"qty"`
	RiskUSD decimal.Decimal `json:"riskUsd"`
	RiskPct float64         `json:"riskPct"`

	RR        float64 `json:"rr"`
	SLATRMult float64 `json:"slAtrMult"`
	SLDist    float64 `json:"slDist"`
	ATRValue  float64 `json:"atrValue"`
	ATRPct    float64 `json:"atrPct"`

	Notes string `json:"notes,omitempty"`
}

// Position is an open simulated position.
type Position struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Qty       decimal.Decimal `json:"qty"`
	Entry     float64         `json:"entry"`
	SL        float64         `json:"sl"`
	TP        float64         `json:"tp"`
	RiskUSD   decimal.Decimal `json:"riskUsd"`
	RR        float64         `json:"rr"`
	OpenedAt  time.Time       `json:"openedAt"`

	// PriceHistory holds recent closes for correlation checks; bounded.
	PriceHistory []float64 `json:"-"`
}

// CloseResult describes the resolution of a simulated position.
type CloseResult string

const (
	CloseSL CloseResult = "SL"
	CloseTP CloseResult = "TP"
)

// PositionClose is emitted by the simulator when SL or TP resolves.
type PositionClose struct {
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Result    CloseResult     `json:"result"`
	ExitPrice float64         `json:"exitPrice"`
	PnL       decimal.Decimal `json:"pnl"`
	RR        float64         `json:"rr"`
	NAV       decimal.Decimal `json:"nav"`
	ClosedAt  time.Time       `json:"closedAt"`
}

// RegimeResult is the output of a regime evaluation.
type RegimeResult struct {
	Regime   Regime  `json:"regime"`
	Panic    bool    `json:"panic"`
	RiskMult float64 `json:"riskMult"`
	Reason   string  `json:"reason"`
}

// DrawdownState is a snapshot of the drawdown manager.
type DrawdownState struct {
	PeakNAV     decimal.Decimal `json:"peakNav"`
	NAV         decimal.Decimal `json:"nav"`
	DDPct       float64         `json:"ddPct"`
	Soft        bool            `json:"soft"`
	Hard        bool            `json:"hard"`
	Kill        bool            `json:"kill"`
	HaltedUntil time.Time       `json:"haltedUntil"`
}

// SimStats holds cumulative paper-trading statistics.
type SimStats struct {
	TotalTrades int             `json:"totalTrades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	TotalPnL    decimal.Decimal `json:"totalPnl"`
}

// WinRate returns wins / total in percent, 0 when no trades closed.
func (s SimStats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalTrades) * 100
}

package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/internal/drawdown"
	"github.com/atlas-desktop/perp-signal-engine/internal/engine"
	"github.com/atlas-desktop/perp-signal-engine/internal/portfolio"
	"github.com/atlas-desktop/perp-signal-engine/internal/regime"
	"github.com/atlas-desktop/perp-signal-engine/internal/risk"
	"github.com/atlas-desktop/perp-signal-engine/internal/signal"
	"github.com/atlas-desktop/perp-signal-engine/internal/sim"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

func testEngineConfig() *config.Config {
	return &config.Config{
		Symbols: []string{"SOLUSDT"},
		Signal: config.SignalConfig{
			EnableEarly:       false,
			EarlyTFSec:        300,
			MainTFSec:         60,
			EMAGapEarly:       0.0030,
			EMAGapMain:        0.0040,
			VolumeSMALen:      20,
			VolumeRatioEarly:  2.5,
			VolumeRatioMain:   3.0,
			SpreadMaxEarly:    0.0025,
			SpreadMaxMain:     0.0018,
			CooldownEarly:     time.Minute,
			CooldownMain:      time.Minute,
			EnableWickFilter:  true,
			WickMaxEarly:      0.55,
			WickMaxMain:       0.45,
			EnableMomentum:    true,
			MomentumMinEarly:  0.0060,
			MomentumMinMain:   0.0070,
			ATRShort:          14,
			ATRLong:           50,
			ScoreMinEarly:     6,
			ScoreMinMain:      10,
			ScoreMinMainPanic: 13,
			ScoreHighConf:     14,
		},
		Regime: config.RegimeConfig{
			ProxyA:           "BTCUSDT",
			ProxyB:           "ETHUSDT",
			PanicATRRatio:    1.6,
			PanicDropPct:     0.03,
			RecoveryATRRatio: 1.15,
			TrendEMAFast:     20,
			TrendEMASlow:     50,
			TrendGapMin:      0.0015,
			RangeATRMax:      0.006,
			RangeGapMax:      0.0010,
			AlertCooldown:    10 * time.Minute,
		},
		Risk: config.RiskConfig{
			BaseRiskPctEarly: 0.25,
			BaseRiskPctMain:  0.50,
			RiskMaxPct:       1.0,
			SLATRMultEarly:   0.9,
			SLATRMultMain:    1.0,
		},
		Portfolio: config.PortfolioConfig{
			MaxPositions:    8,
			MaxTotalRiskPct: 3.0,
			MaxCorrelation:  0.85,
		},
		Drawdown: config.DrawdownConfig{
			SoftPct:      0.06,
			HardPct:      0.10,
			KillPct:      0.18,
			HardCooldown: 6 * time.Hour,
			MinRiskMult:  0.35,
		},
		Sim: config.SimConfig{Enabled: true, StartNAV: 10_000},
	}
}

type harness struct {
	eng    *engine.Engine
	pf     *portfolio.Manager
	sm     *sim.Simulator
	books  chan types.BookTickerEvent
	trades chan types.TradeEvent
	cancel context.CancelFunc
	done   chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testEngineConfig()
	logger := zap.NewNop()

	pf := portfolio.New(logger, cfg.Portfolio, decimal.NewFromFloat(cfg.Sim.StartNAV))
	dd := drawdown.New(logger, cfg.Drawdown, decimal.NewFromFloat(cfg.Sim.StartNAV))
	sm := sim.New(logger, cfg.Sim)
	eng := engine.New(logger, cfg,
		signal.NewScorer(logger, cfg.Signal),
		risk.NewPlanner(logger, cfg.Risk),
		pf, dd, sm,
		regime.New(logger, cfg.Regime), nil)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		eng:    eng,
		pf:     pf,
		sm:     sm,
		books:  make(chan types.BookTickerEvent),
		trades: make(chan types.TradeEvent),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		eng.Run(ctx, h.books, h.trades)
		close(h.done)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) book(price float64) {
	h.books <- types.BookTickerEvent{Symbol: "SOLUSDT", Bid: price, Ask: price}
}

func (h *harness) trade(sec int64, qty float64) {
	h.trades <- types.TradeEvent{Symbol: "SOLUSDT", EventTimeMS: sec * 1000, Qty: qty}
}

func (h *harness) status(t *testing.T) engine.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := h.eng.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

// TestBreakoutOpensPosition drives 41 one-minute candles through the event
// channels: 40 flat candles with quiet volume, then a 1.2% green breakout
// bar on 10x volume. The pipeline must emit a LONG signal and open a
// simulated position.
func TestBreakoutOpensPosition(t *testing.T) {
	h := newHarness(t)

	// Candle j carries the price set before the trade that closes it and
	// the volume sent one event earlier.
	h.book(100)
	h.trade(1, 100)
	for j := int64(1); j <= 40; j++ {
		vol := 100.0
		if j == 40 {
			vol = 1000 // volume flushed into the breakout bucket
		}
		h.book(100)
		h.trade(60*j+1, vol)
	}

	// Shape the breakout bar: open at 100, rally to 101.2 mid-bucket.
	h.book(101.2)
	h.trade(60*40+30, 0)
	// Close it.
	h.trade(60*41+1, 0)

	st := h.status(t)
	if len(st.Positions) != 1 {
		t.Fatalf("open positions = %d, want 1 (status %+v)", len(st.Positions), st)
	}
	pos := st.Positions[0]
	if pos.Symbol != "SOLUSDT" || pos.Direction != types.DirectionLong {
		t.Fatalf("position = %+v, want LONG SOLUSDT", pos)
	}
	if pos.SL >= pos.Entry || pos.TP <= pos.Entry {
		t.Fatalf("levels inverted: entry %v sl %v tp %v", pos.Entry, pos.SL, pos.TP)
	}
	if st.Regime != types.RegimeNormal {
		t.Errorf("regime = %s, want NORMAL without proxy data", st.Regime)
	}
}

// TestCandleCloseResolvesPosition seeds an open position, then drives the
// price through its stop. The candle close must realise the loss, update
// NAV and drop the position.
func TestCandleCloseResolvesPosition(t *testing.T) {
	h := newHarness(t)

	plan := &types.RiskPlan{
		Symbol:    "SOLUSDT",
		Direction: types.DirectionLong,
		Mode:      types.ModeMain,
		Entry:     100,
		SL:        99.5,
		TP:        101,
		Qty:       decimal.NewFromInt(200),
		RiskUSD:   decimal.NewFromInt(100),
		RR:        2.0,
	}
	h.sm.Open(h.pf.Open(plan, time.Now()))

	h.book(99) // below the stop
	h.trade(1, 5)
	h.trade(130, 5) // closes the first candle at mid 99

	st := h.status(t)
	if len(st.Positions) != 0 {
		t.Fatalf("positions = %v, want none after stop", st.Positions)
	}
	if st.Stats.TotalTrades != 1 || st.Stats.Losses != 1 {
		t.Fatalf("stats = %+v, want one loss", st.Stats)
	}
	if st.NAV != "9900.00" {
		t.Errorf("nav = %s, want 9900.00", st.NAV)
	}
	if st.Drawdown.DDPct <= 0 {
		t.Errorf("drawdown = %+v, want positive dd", st.Drawdown)
	}
}

// TestUnknownBookLeavesNoCandles advances time without any book ticker:
// no mid price exists, so nothing may open.
func TestUnknownBookLeavesNoCandles(t *testing.T) {
	h := newHarness(t)

	h.trade(1, 100)
	h.trade(400, 100)

	st := h.status(t)
	if len(st.Positions) != 0 || st.Stats.TotalTrades != 0 {
		t.Fatalf("unexpected activity: %+v", st)
	}
}

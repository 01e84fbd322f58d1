// Package engine orchestrates the per-symbol pipeline: it consumes book
// ticker and trade events, advances the per-second resampling clock, and on
// every closed candle chains simulator resolution, scoring, risk planning
// and the portfolio gates.
package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/internal/drawdown"
	"github.com/atlas-desktop/perp-signal-engine/internal/indicators"
	"github.com/atlas-desktop/perp-signal-engine/internal/metrics"
	"github.com/atlas-desktop/perp-signal-engine/internal/notify"
	"github.com/atlas-desktop/perp-signal-engine/internal/portfolio"
	"github.com/atlas-desktop/perp-signal-engine/internal/regime"
	"github.com/atlas-desktop/perp-signal-engine/internal/resample"
	"github.com/atlas-desktop/perp-signal-engine/internal/risk"
	"github.com/atlas-desktop/perp-signal-engine/internal/signal"
	"github.com/atlas-desktop/perp-signal-engine/internal/sim"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
	"github.com/atlas-desktop/perp-signal-engine/pkg/utils"
)

// Proxy regime timeframes in seconds.
const (
	proxyTF1h = 3600
	proxyTF4h = 4 * 3600
)

// modeState holds the per-timeframe aggregation and signal state of one
// symbol.
type modeState struct {
	mode    types.Mode
	rs      *resample.TimeframeResampler
	candles []types.Candle
	volumes []float64

	// lastSignal is event time in seconds, candle-clock based.
	lastSignal int64
}

// symbolState is the full per-symbol state, owned by the engine loop.
type symbolState struct {
	symbol string

	bid, ask float64

	started      bool
	curSec       int64
	volumeBucket float64

	modes []*modeState
}

// proxyState carries the 1h/4h aggregation for one regime proxy.
type proxyState struct {
	rs1h, rs4h *resample.TimeframeResampler
	c1h, c4h   []types.Candle
}

// Engine wires the full decision pipeline. All event handling runs on the
// single Run goroutine; Status is safe to call from elsewhere.
type Engine struct {
	logger *zap.Logger
	cfg    *config.Config

	scorer    *signal.Scorer
	planner   *risk.Planner
	portfolio *portfolio.Manager
	drawdown  *drawdown.Manager
	simulator *sim.Simulator
	regimes   *regime.Engine
	queue     *notify.Queue

	symbols map[string]*symbolState
	proxies map[string]*proxyState

	startedAt time.Time

	status chan statusRequest
}

// statusRequest lets other goroutines read a consistent snapshot through
// the engine loop.
type statusRequest struct {
	reply chan Status
}

// Status is a read-only snapshot for the HTTP server and reporter.
type Status struct {
	NAV       string              `json:"nav"`
	Regime    types.Regime        `json:"regime"`
	Panic     bool                `json:"panic"`
	Drawdown  types.DrawdownState `json:"drawdown"`
	Positions []types.Position    `json:"positions"`
	Stats     types.SimStats      `json:"stats"`
	Dropped   int64               `json:"droppedNotifications"`
	Uptime    string              `json:"uptime"`
	Symbols   []string            `json:"symbols"`
}

// New assembles an engine over its collaborators. queue may be nil when
// notifications are disabled.
func New(logger *zap.Logger, cfg *config.Config,
	scorer *signal.Scorer, planner *risk.Planner,
	pf *portfolio.Manager, dd *drawdown.Manager, simulator *sim.Simulator,
	regimes *regime.Engine, queue *notify.Queue) *Engine {

	e := &Engine{
		logger:    logger,
		cfg:       cfg,
		scorer:    scorer,
		planner:   planner,
		portfolio: pf,
		drawdown:  dd,
		simulator: simulator,
		regimes:   regimes,
		queue:     queue,
		symbols:   make(map[string]*symbolState),
		proxies:   make(map[string]*proxyState),
		startedAt: time.Now(),
		status:    make(chan statusRequest),
	}

	for _, sym := range cfg.Symbols {
		sym = utils.FormatSymbol(sym)
		st := &symbolState{symbol: sym}
		if cfg.Signal.EnableEarly {
			st.modes = append(st.modes, &modeState{
				mode: types.ModeEarly,
				rs:   resample.New(cfg.Signal.EarlyTFSec),
			})
		}
		st.modes = append(st.modes, &modeState{
			mode: types.ModeMain,
			rs:   resample.New(cfg.Signal.MainTFSec),
		})
		e.symbols[sym] = st
	}

	for _, proxy := range []string{cfg.Regime.ProxyA, cfg.Regime.ProxyB} {
		e.proxies[utils.FormatSymbol(proxy)] = &proxyState{
			rs1h: resample.New(proxyTF1h),
			rs4h: resample.New(proxyTF4h),
		}
	}

	return e
}

// Run consumes events until the context is cancelled. It is the single
// writer for all symbol, portfolio, drawdown and simulator state.
func (e *Engine) Run(ctx context.Context, books <-chan types.BookTickerEvent, trades <-chan types.TradeEvent) {
	e.logger.Info("engine loop started", zap.Int("symbols", len(e.symbols)))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine loop stopped")
			return
		case ev := <-books:
			e.onBookTicker(ev)
		case ev := <-trades:
			e.onTrade(ev)
		case req := <-e.status:
			req.reply <- e.snapshot()
		}
	}
}

// Status returns a consistent snapshot, serialized through the engine loop.
// It must not be called from the loop itself.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	req := statusRequest{reply: make(chan Status, 1)}
	select {
	case e.status <- req:
		return <-req.reply, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (e *Engine) snapshot() Status {
	syms := make([]string, 0, len(e.symbols))
	for s := range e.symbols {
		syms = append(syms, s)
	}
	var dropped int64
	if e.queue != nil {
		dropped = e.queue.Dropped()
	}
	reg, panicFlag := e.regimes.Current()
	return Status{
		NAV:       e.simulator.NAV().StringFixed(2),
		Regime:    reg,
		Panic:     panicFlag,
		Drawdown:  e.drawdown.State(),
		Positions: e.simulator.Snapshot(),
		Stats:     e.simulator.Stats(),
		Dropped:   dropped,
		Uptime:    time.Since(e.startedAt).Round(time.Second).String(),
		Symbols:   syms,
	}
}

// StatusText renders the periodic report line for the notifier.
func (e *Engine) StatusText(ctx context.Context) (string, error) {
	st, err := e.Status(ctx)
	if err != nil {
		return "", err
	}
	nav, _ := decimal.NewFromString(st.NAV)
	return notify.FormatStatus(nav, st.Drawdown, st.Regime,
		len(st.Positions), st.Stats, time.Since(e.startedAt)), nil
}

func (e *Engine) onBookTicker(ev types.BookTickerEvent) {
	st, ok := e.symbols[ev.Symbol]
	if !ok {
		return
	}
	st.bid, st.ask = ev.Bid, ev.Ask
}

// onTrade advances the symbol clock tick by tick up to the event second,
// flushing the accumulated volume bucket into every resampler, then folds
// the trade quantity into the next bucket.
func (e *Engine) onTrade(ev types.TradeEvent) {
	st, ok := e.symbols[ev.Symbol]
	if !ok {
		return
	}
	metrics.TradesProcessed.WithLabelValues(ev.Symbol).Inc()

	eventSec := ev.EventTimeMS / 1000
	if !st.started {
		st.started = true
		st.curSec = eventSec
	}

	proxy := e.proxies[ev.Symbol]

	for eventSec > st.curSec {
		mid, spread, priced := st.midSpread()
		if priced {
			for _, ms := range st.modes {
				if candle, closed := ms.rs.Update(st.curSec, mid, st.volumeBucket); closed {
					e.onCandleClose(st, ms, candle, spread)
				}
			}
			if proxy != nil {
				if candle, closed := proxy.rs1h.Update(st.curSec, mid, st.volumeBucket); closed {
					proxy.c1h = appendBounded(proxy.c1h, candle, e.cfg.HistoryCap())
					metrics.CandlesClosed.WithLabelValues("1h").Inc()
					e.updateRegime()
				}
				if candle, closed := proxy.rs4h.Update(st.curSec, mid, st.volumeBucket); closed {
					proxy.c4h = appendBounded(proxy.c4h, candle, e.cfg.HistoryCap())
					metrics.CandlesClosed.WithLabelValues("4h").Inc()
				}
			}
		}
		st.volumeBucket = 0
		st.curSec++
	}

	st.volumeBucket += ev.Qty
}

// midSpread returns the mid price and relative spread, and whether both
// book sides are known.
func (st *symbolState) midSpread() (mid, spread float64, ok bool) {
	if st.bid <= 0 || st.ask <= 0 {
		return 0, 0, false
	}
	mid = (st.bid + st.ask) / 2
	spread = (st.ask - st.bid) / mid
	return mid, spread, true
}

// onCandleClose runs the per-candle pipeline: resolve the simulator first,
// then evaluate a new signal on this close.
func (e *Engine) onCandleClose(st *symbolState, ms *modeState, candle types.Candle, spread float64) {
	metrics.CandlesClosed.WithLabelValues(strconv.FormatInt(ms.rs.Timeframe(), 10) + "s").Inc()

	limit := e.cfg.HistoryCap()
	ms.candles = appendBounded(ms.candles, candle, limit)
	ms.volumes = append(ms.volumes, candle.Volume)
	if len(ms.volumes) > limit {
		ms.volumes = ms.volumes[len(ms.volumes)-limit:]
	}

	if res := e.simulator.UpdateByCandle(st.symbol, candle); res != nil {
		e.onPositionClose(res)
	}

	if ms.mode == types.ModeMain {
		e.portfolio.RecordClose(st.symbol, candle.Close)
	}

	e.evaluate(st, ms, candle, spread)
}

// evaluate chains cooldown, drawdown, scorer, liquidity, policy, planner
// and gatekeeper for one closed candle.
func (e *Engine) evaluate(st *symbolState, ms *modeState, candle types.Candle, spread float64) {
	cooldown := int64(e.scorer.ThresholdsFor(ms.mode).Cooldown / time.Second)
	if ms.lastSignal != 0 && candle.EndTS-ms.lastSignal < cooldown {
		return
	}

	if verdict := e.drawdown.CanTrade(); verdict != drawdown.VerdictOK {
		metrics.SignalsBlocked.WithLabelValues(verdict).Inc()
		return
	}

	reg, panicFlag := e.regimes.Current()
	sig, reason := e.scorer.Evaluate(st.symbol, ms.candles, ms.volumes, spread, ms.mode, reg, panicFlag)
	if sig == nil {
		if reason != "insufficient history" && reason != "score below threshold" {
			metrics.SignalsBlocked.WithLabelValues(reason).Inc()
		}
		return
	}
	ms.lastSignal = candle.EndTS
	metrics.SignalsEmitted.WithLabelValues(string(ms.mode)).Inc()

	e.logger.Info("signal emitted",
		zap.String("symbol", sig.Symbol),
		zap.String("mode", string(sig.Mode)),
		zap.String("direction", string(sig.Direction)),
		zap.Int("score", sig.Score),
		zap.Bool("high_conf", sig.HighConf),
		zap.String("regime", string(sig.MarketRegime)))

	avgVolUSD := e.avgVolumeUSD(ms, candle.Close)
	if !e.portfolio.CheckLiquidity(avgVolUSD) {
		metrics.SignalsBlocked.WithLabelValues(portfolio.ReasonIlliquid).Inc()
		return
	}

	pol := risk.Policy(sig, risk.BaseRR, e.slATRMult(ms.mode))
	if !pol.Allow {
		metrics.SignalsBlocked.WithLabelValues("policy_block").Inc()
		e.logger.Debug("policy rejected signal", zap.String("reason", pol.Reason))
		return
	}

	atr, ok := indicators.ATRFromCandles(ms.candles, e.cfg.Signal.ATRShort)
	if !ok || atr <= 0 {
		metrics.SignalsBlocked.WithLabelValues("no_atr").Inc()
		return
	}

	plan, err := e.planner.Plan(risk.PlanInput{
		Signal:        sig,
		Entry:         candle.Close,
		ATR:           atr,
		NAV:           e.simulator.NAV(),
		Spread:        spread,
		AvgVolumeUSD:  avgVolUSD,
		ExtraRiskMult: e.drawdown.RiskMultiplier(),
		Policy:        pol,
	})
	if err != nil {
		metrics.SignalsBlocked.WithLabelValues("plan_error").Inc()
		e.logger.Warn("risk planning failed", zap.Error(err))
		return
	}

	returns := utils.SimpleReturns(closes(ms.candles))
	if verdict := e.portfolio.CanOpen(plan, returns); verdict != portfolio.ReasonOK {
		metrics.SignalsBlocked.WithLabelValues(verdict).Inc()
		return
	}

	pos := e.portfolio.Open(plan, time.Unix(candle.EndTS, 0))
	if !e.simulator.Open(pos) {
		e.portfolio.Close(pos.Symbol)
		return
	}
	metrics.PositionsOpen.Set(float64(e.portfolio.Count()))

	if e.queue != nil {
		e.queue.Enqueue(notify.FormatOpen(pos, ms.mode, sig.Score))
	}
}

// onPositionClose propagates a simulator close to the gatekeeper, the
// drawdown manager and the notifier.
func (e *Engine) onPositionClose(res *types.PositionClose) {
	e.portfolio.Close(res.Symbol)
	e.portfolio.SetNAV(res.NAV)
	state := e.drawdown.Update(res.NAV)

	metrics.PositionsOpen.Set(float64(e.portfolio.Count()))
	nav, _ := res.NAV.Float64()
	metrics.NAVGauge.Set(nav)
	metrics.DrawdownPct.Set(state.DDPct)

	if e.queue != nil {
		e.queue.Enqueue(notify.FormatClose(res, e.simulator.Stats()))
	}
}

// updateRegime re-runs the regime engine from the proxy candle buffers.
func (e *Engine) updateRegime() {
	c1h := make(map[string][]types.Candle, len(e.proxies))
	c4h := make(map[string][]types.Candle, len(e.proxies))
	for sym, p := range e.proxies {
		c1h[sym] = p.c1h
		c4h[sym] = p.c4h
	}

	prev, _ := e.regimes.Current()
	res, changed := e.regimes.Update(c1h, c4h)
	if !changed {
		return
	}

	metrics.RegimeChanges.WithLabelValues(string(res.Regime)).Inc()
	if e.queue != nil && e.regimes.AllowAlert() {
		e.queue.Enqueue(notify.FormatRegimeChange(prev, res.Regime, res))
	}
}

// avgVolumeUSD estimates recent per-candle quote volume for the liquidity
// and slippage checks. Returns 0 when the history is too short.
func (e *Engine) avgVolumeUSD(ms *modeState, lastClose float64) float64 {
	avg, ok := indicators.SMA(ms.volumes, e.cfg.Signal.VolumeSMALen)
	if !ok {
		return 0
	}
	return avg * lastClose
}

func (e *Engine) slATRMult(mode types.Mode) float64 {
	if mode == types.ModeEarly {
		return e.cfg.Risk.SLATRMultEarly
	}
	return e.cfg.Risk.SLATRMultMain
}

func appendBounded(buf []types.Candle, c types.Candle, limit int) []types.Candle {
	buf = append(buf, c)
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return buf
}

func closes(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

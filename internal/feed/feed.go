// Package feed ingests the exchange websocket streams and turns raw frames
// into typed book-ticker and trade events for the engine loop.
package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/internal/metrics"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
	"github.com/atlas-desktop/perp-signal-engine/pkg/utils"
)

// Stream channel names on the exchange side.
const (
	channelBookTicker = "bookTicker"
	channelAggTrade   = "aggTrade"
)

// combinedFrame is the multi-stream envelope.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// bookTickerFrame is the best bid/ask payload.
type bookTickerFrame struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

// aggTradeFrame is the aggregated trade payload.
type aggTradeFrame struct {
	Symbol      string `json:"s"`
	EventTimeMS int64  `json:"T"`
	Qty         string `json:"q"`
}

// Ingestor maintains one websocket connection per stream type and forwards
// decoded events to the engine channels. Decode failures drop the frame;
// connection loss triggers a jittered exponential backoff reconnect.
type Ingestor struct {
	logger  *zap.Logger
	cfg     config.FeedConfig
	symbols []string

	books  chan<- types.BookTickerEvent
	trades chan<- types.TradeEvent
}

// New creates an ingestor for the given symbol set.
func New(logger *zap.Logger, cfg config.FeedConfig, symbols []string,
	books chan<- types.BookTickerEvent, trades chan<- types.TradeEvent) *Ingestor {

	normalized := make([]string, len(symbols))
	for i, s := range symbols {
		normalized[i] = utils.FormatSymbol(s)
	}
	return &Ingestor{
		logger:  logger,
		cfg:     cfg,
		symbols: normalized,
		books:   books,
		trades:  trades,
	}
}

// Run opens both stream connections and blocks until the context is
// cancelled.
func (in *Ingestor) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() {
		in.runStream(ctx, channelBookTicker, in.handleBookTicker)
		done <- struct{}{}
	}()
	go func() {
		in.runStream(ctx, channelAggTrade, in.handleAggTrade)
		done <- struct{}{}
	}()
	<-done
	<-done
}

// runStream is the reconnect loop for one stream type.
func (in *Ingestor) runStream(ctx context.Context, channel string, handle func(ctx context.Context, data []byte)) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := in.dial(ctx, channel)
		if err != nil {
			in.logger.Warn("websocket dial failed",
				zap.String("channel", channel),
				zap.Int("attempt", attempt),
				zap.Error(err))
			metrics.WSReconnects.WithLabelValues(channel).Inc()
			if !sleepCtx(ctx, attempt) {
				return
			}
			attempt++
			continue
		}

		in.logger.Info("websocket connected",
			zap.String("channel", channel),
			zap.Int("symbols", len(in.symbols)))
		attempt = 0

		in.readLoop(ctx, conn, handle)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		metrics.WSReconnects.WithLabelValues(channel).Inc()
		if !sleepCtx(ctx, attempt) {
			return
		}
		attempt++
	}
}

// dial opens a combined-stream connection subscribed to every symbol.
func (in *Ingestor) dial(ctx context.Context, channel string) (*websocket.Conn, error) {
	streams := make([]string, len(in.symbols))
	for i, sym := range in.symbols {
		streams[i] = utils.StreamName(sym, channel)
	}
	url := strings.TrimRight(in.cfg.WSBaseURL, "/") + "/stream?streams=" + strings.Join(streams, "/")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// readLoop pumps frames until the connection fails or the context ends.
func (in *Ingestor) readLoop(ctx context.Context, conn *websocket.Conn, handle func(ctx context.Context, data []byte)) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				in.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var frame combinedFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			in.logger.Debug("dropping undecodable frame", zap.Error(err))
			continue
		}
		handle(ctx, frame.Data)
	}
}

func (in *Ingestor) handleBookTicker(ctx context.Context, data []byte) {
	var f bookTickerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		in.logger.Debug("dropping book ticker frame", zap.Error(err))
		return
	}
	bid, err1 := strconv.ParseFloat(f.Bid, 64)
	ask, err2 := strconv.ParseFloat(f.Ask, 64)
	if err1 != nil || err2 != nil || f.Symbol == "" {
		return
	}

	select {
	case in.books <- types.BookTickerEvent{Symbol: f.Symbol, Bid: bid, Ask: ask}:
	case <-ctx.Done():
	}
}

func (in *Ingestor) handleAggTrade(ctx context.Context, data []byte) {
	var f aggTradeFrame
	if err := json.Unmarshal(data, &f); err != nil {
		in.logger.Debug("dropping trade frame", zap.Error(err))
		return
	}
	qty, err := strconv.ParseFloat(f.Qty, 64)
	if err != nil || f.Symbol == "" || f.EventTimeMS <= 0 {
		return
	}

	select {
	case in.trades <- types.TradeEvent{Symbol: f.Symbol, EventTimeMS: f.EventTimeMS, Qty: qty}:
	case <-ctx.Done():
	}
}

// sleepCtx waits out the backoff delay, returning false when cancelled.
func sleepCtx(ctx context.Context, attempt int) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(utils.Backoff(attempt)):
		return true
	}
}

// Package main provides the entry point for the perp signal engine: a
// streaming market-signal and paper-trading service for perpetual futures.
package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/perp-signal-engine/internal/api"
	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/internal/drawdown"
	"github.com/atlas-desktop/perp-signal-engine/internal/engine"
	"github.com/atlas-desktop/perp-signal-engine/internal/feed"
	"github.com/atlas-desktop/perp-signal-engine/internal/notify"
	"github.com/atlas-desktop/perp-signal-engine/internal/portfolio"
	"github.com/atlas-desktop/perp-signal-engine/internal/regime"
	"github.com/atlas-desktop/perp-signal-engine/internal/risk"
	"github.com/atlas-desktop/perp-signal-engine/internal/signal"
	"github.com/atlas-desktop/perp-signal-engine/internal/sim"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

// Channel depth between the feed readers and the engine loop.
const eventBuffer = 1024

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	logger.Info("starting perp signal engine",
		zap.Strings("symbols", cfg.Symbols),
		zap.Float64("start_nav", cfg.Sim.StartNAV),
		zap.Bool("early_mode", cfg.Signal.EnableEarly))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startNAV := decimal.NewFromFloat(cfg.Sim.StartNAV)
	pf := portfolio.New(logger, cfg.Portfolio, startNAV)
	dd := drawdown.New(logger, cfg.Drawdown, startNAV)
	simulator := sim.New(logger, cfg.Sim)
	regimes := regime.New(logger, cfg.Regime)
	scorer := signal.NewScorer(logger, cfg.Signal)
	planner := risk.NewPlanner(logger, cfg.Risk)

	var queue *notify.Queue
	if cfg.Notify.Enabled {
		queue = notify.NewQueue(logger, notify.NewTelegram(cfg.Notify), cfg.Notify)
		go queue.Run(ctx)
	}

	eng := engine.New(logger, cfg, scorer, planner, pf, dd, simulator, regimes, queue)

	books := make(chan types.BookTickerEvent, eventBuffer)
	trades := make(chan types.TradeEvent, eventBuffer)

	go eng.Run(ctx, books, trades)

	ingestor := feed.New(logger, cfg.Feed, cfg.Symbols, books, trades)
	go ingestor.Run(ctx)

	var server *api.Server
	if cfg.Server.Enabled {
		server = api.NewServer(logger, cfg.Server, eng)
		go func() {
			if err := server.Start(); err != nil && ctx.Err() == nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	if queue != nil {
		queue.Enqueue(notify.FormatStartup(cfg.Symbols, startNAV))
		go runReporter(ctx, logger, eng, queue, cfg.Sim.ReportInterval)
	}

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("status server shutdown failed", zap.Error(err))
		}
		shutdownCancel()
	}
	cancel()
	logger.Info("engine stopped")
}

// runReporter periodically enqueues the status line.
func runReporter(ctx context.Context, logger *zap.Logger, eng *engine.Engine, queue *notify.Queue, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			text, err := eng.StatusText(ctx)
			if err != nil {
				logger.Warn("status report failed", zap.Error(err))
				continue
			}
			queue.Enqueue(text)
		}
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

package notify_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/internal/notify"
	"github.com/atlas-desktop/perp-signal-engine/pkg/types"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestQueueDeliversInOrder(t *testing.T) {
	rec := &recordingNotifier{}
	q := notify.NewQueue(zap.NewNop(), rec, config.NotifyConfig{QueueSize: 10})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	q.Enqueue("first")
	q.Enqueue("second")

	deadline := time.After(2 * time.Second)
	for rec.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("messages not delivered in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.sent[0] != "first" || rec.sent[1] != "second" {
		t.Fatalf("order = %v", rec.sent)
	}
}

func TestFullQueueDropsAndCounts(t *testing.T) {
	rec := &recordingNotifier{}
	q := notify.NewQueue(zap.NewNop(), rec, config.NotifyConfig{QueueSize: 2})

	// Nothing drains the queue; the third message must be dropped.
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	if got := q.Dropped(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}

func TestFormatOpenCarriesRequiredFields(t *testing.T) {
	pos := &types.Position{
		Symbol:    "SOLUSDT",
		Direction: types.DirectionLong,
		Qty:       decimal.NewFromInt(100),
		Entry:     100.5,
		SL:        99.4,
		TP:        102.7,
		RiskUSD:   decimal.NewFromInt(50),
		RR:        2.0,
	}

	msg := notify.FormatOpen(pos, types.ModeMain, 13)
	for _, want := range []string{"SOLUSDT", "LONG", "100.5", "99.4", "102.7", "100.0000", "50.00", "2.00"} {
		if !strings.Contains(msg, want) {
			t.Errorf("open message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatCloseCarriesRequiredFields(t *testing.T) {
	c := &types.PositionClose{
		Symbol:    "SOLUSDT",
		Direction: types.DirectionLong,
		Result:    types.CloseTP,
		ExitPrice: 102.7,
		PnL:       decimal.NewFromInt(100),
		RR:        2.0,
		NAV:       decimal.NewFromInt(10_100),
	}
	stats := types.SimStats{TotalTrades: 4, Wins: 3, Losses: 1, TotalPnL: decimal.NewFromInt(250)}

	msg := notify.FormatClose(c, stats)
	for _, want := range []string{"SOLUSDT", "TP", "102.7", "100.00", "10100.00"} {
		if !strings.Contains(msg, want) {
			t.Errorf("close message missing %q:\n%s", want, msg)
		}
	}
}

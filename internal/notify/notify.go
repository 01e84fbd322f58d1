// Package notify delivers engine events to an external text channel
// through a bounded, rate-limited queue. Enqueues never block: when the
// queue is full the message is dropped and counted.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/perp-signal-engine/internal/config"
	"github.com/atlas-desktop/perp-signal-engine/internal/metrics"
)

// Notifier is a single outbound text channel.
type Notifier interface {
	Send(ctx context.Context, text string) error
	Name() string
}

// Queue is the bounded FIFO in front of a Notifier, drained by one worker
// goroutine with a minimum inter-message delay.
type Queue struct {
	logger   *zap.Logger
	notifier Notifier

	ch          chan string
	minInterval time.Duration
	dropped     atomic.Int64
}

// NewQueue creates a queue for the given notifier.
func NewQueue(logger *zap.Logger, notifier Notifier, cfg config.NotifyConfig) *Queue {
	size := cfg.QueueSize
	if size <= 0 {
		size = 500
	}
	return &Queue{
		logger:      logger,
		notifier:    notifier,
		ch:          make(chan string, size),
		minInterval: cfg.MinInterval,
	}
}

// Enqueue offers a message without blocking. A full queue drops it.
func (q *Queue) Enqueue(text string) {
	select {
	case q.ch <- text:
	default:
		q.dropped.Add(1)
		metrics.NotifyDropped.Inc()
		q.logger.Warn("notification dropped, queue full")
	}
}

// Dropped returns the number of messages dropped so far.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Run drains the queue until the context is cancelled. Send failures are
// logged and never propagated.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case text := <-q.ch:
			if err := q.notifier.Send(ctx, text); err != nil {
				q.logger.Warn("notification send failed",
					zap.String("notifier", q.notifier.Name()),
					zap.Error(err))
			}
			if q.minInterval > 0 {
				select {
				case <-ctx.Done():
					q.drain()
					return
				case <-time.After(q.minInterval):
				}
			}
		}
	}
}

// drain flushes whatever is still queued with a short deadline so shutdown
// messages get a chance to leave.
func (q *Queue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case text := <-q.ch:
			if err := q.notifier.Send(ctx, text); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Telegram sends messages through the Telegram bot API.
type Telegram struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(cfg config.NotifyConfig) *Telegram {
	return &Telegram{
		botToken: cfg.TelegramBotToken,
		chatID:   cfg.TelegramChatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Send posts one message to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

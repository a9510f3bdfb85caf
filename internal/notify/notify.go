// Package notify delivers operator messages off the trading loops.
package notify

import (
	"context"
	"sync"
	"time"

	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/types"
)

type Message struct {
	Text    string
	Buttons []types.Button
}

// Sender performs the actual delivery. It may block.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Queue is a Notifier that hands messages to a single delivery goroutine.
// When the queue is full new messages are dropped.
type Queue struct {
	sender  Sender
	timeout time.Duration
	ch      chan Message

	// mu guards closed and the close of ch against senders in flight.
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ interfaces.Notifier = (*Queue)(nil)

func NewQueue(sender Sender, size int) *Queue {
	if size <= 0 {
		size = 64
	}
	q := &Queue{
		sender:  sender,
		timeout: 15 * time.Second,
		ch:      make(chan Message, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) Notify(ctx context.Context, text string, sev types.Severity) {
	q.enqueue(ctx, Message{Text: decorate(text, sev)})
}

func (q *Queue) NotifyMenu(ctx context.Context, text string, buttons []types.Button) {
	q.enqueue(ctx, Message{Text: text, Buttons: buttons})
}

func (q *Queue) enqueue(ctx context.Context, msg Message) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		logger.Warn(ctx, "Notification after close dropped", "text", msg.Text)
		return
	}
	select {
	case q.ch <- msg:
	default:
		logger.Warn(ctx, "Notification queue full, message dropped", "text", msg.Text)
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for msg := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := q.sender.Send(ctx, msg); err != nil {
			logger.WarnWithErr(ctx, "Failed to deliver notification", err)
		}
		cancel()
	}
}

// Close stops accepting messages and waits for the queued ones to be
// delivered or for ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decorate(text string, sev types.Severity) string {
	switch sev {
	case types.SeveritySuccess:
		return "✅ " + text
	case types.SeverityWarn:
		return "⚠️ " + text
	case types.SeverityError:
		return "❌ " + text
	}
	return text
}

// LogSender writes messages to the log, for runs without a chat.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	args := []any{"text", msg.Text}
	if len(msg.Buttons) > 0 {
		args = append(args, "buttons", len(msg.Buttons))
	}
	logger.Info(ctx, "Notification", args...)
	return nil
}

// Package notify delivers owner notifications over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/vatwatch/core/logger"
	"github.com/m3rciful/vatwatch/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

const component = "notify"

// Error is a failed delivery to one owner.
type Error struct {
	OwnerID int64
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("notify: chat %d: %v", e.OwnerID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotifyError reports whether err is a delivery failure.
func IsNotifyError(err error) bool {
	var ne *Error
	return errors.As(err, &ne)
}

// Sender is the subset of *tele.Bot used to deliver messages.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Queue schedules sends asynchronously; *sender.Dispatcher satisfies it.
type Queue interface {
	Enqueue(ctx context.Context, action, endpoint string, run func() error) error
}

// Telegram sends plain text messages to chats. Sends go through the queue when
// one is configured and fall back to a direct send when it is saturated or closed.
type Telegram struct {
	bot   Sender
	queue Queue
}

// NewTelegram builds a notifier. queue may be nil.
func NewTelegram(bot Sender, queue Queue) *Telegram {
	return &Telegram{bot: bot, queue: queue}
}

// Notify sends text to the owner's chat.
func (t *Telegram) Notify(ctx context.Context, ownerID int64, text string) error {
	if t == nil || t.bot == nil {
		return &Error{OwnerID: ownerID, Err: errors.New("telegram bot not configured")}
	}
	run := func() error {
		_, err := t.bot.Send(tele.ChatID(ownerID), text)
		return err
	}

	if t.queue == nil {
		return t.direct(ctx, ownerID, run)
	}
	ctx = logger.WithUpdateMeta(ctx, 0, 0, ownerID)
	err := t.queue.Enqueue(ctx, "notify", "sendMessage", run)
	switch {
	case err == nil:
		logger.Debug(ctx, component, "enqueue", slog.Int64("chat_id", ownerID))
		return nil
	case errors.Is(err, sender.ErrQueueFull), errors.Is(err, sender.ErrQueueClosed):
		logger.Warn(ctx, component, "queue.fallback",
			slog.Int64("chat_id", ownerID),
			slog.String("err", err.Error()),
		)
		return t.direct(ctx, ownerID, run)
	default:
		return &Error{OwnerID: ownerID, Err: err}
	}
}

func (t *Telegram) direct(ctx context.Context, ownerID int64, run func() error) error {
	if err := run(); err != nil {
		logger.Warn(ctx, component, "send",
			slog.String("status", "error"),
			slog.Int64("chat_id", ownerID),
			slog.String("err", err.Error()),
		)
		return &Error{OwnerID: ownerID, Err: err}
	}
	return nil
}

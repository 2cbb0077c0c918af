package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/vatwatch/core/logger"
	"github.com/m3rciful/vatwatch/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func currentDispatcher() *sender.Dispatcher {
	return globalDispatcher.Load()
}

func sendAsync(c tele.Context, action, endpoint string, run func() error) error {
	disp := currentDispatcher()
	if disp == nil {
		return run()
	}

	ctx := BuildContext(c)
	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

const (
	keyReplies  = "replies"
	keyKeyboard = "kb"
)

func countReply(c tele.Context, keyboard bool) {
	n, _ := c.Get(keyReplies).(int)
	c.Set(keyReplies, n+1)
	if keyboard {
		c.Set(keyKeyboard, true)
	}
}

// Replies reports how many replies the current update produced and whether
// any of them carried a keyboard.
func Replies(c tele.Context) (int, bool) {
	n, _ := c.Get(keyReplies).(int)
	kb, _ := c.Get(keyKeyboard).(bool)
	return n, kb
}

// SendText sends raw text (no parse mode) to the current recipient through the
// dispatcher, or directly when none is set or its queue is unavailable.
func SendText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	var sendOpts *tele.SendOptions
	if len(opts) > 0 {
		sendOpts = opts[0]
	}
	countReply(c, sendOpts != nil && sendOpts.ReplyMarkup != nil)
	return sendAsync(c, "send.text", "sendMessage", func() error {
		if sendOpts != nil {
			return c.Send(text, sendOpts)
		}
		return c.Send(text)
	})
}

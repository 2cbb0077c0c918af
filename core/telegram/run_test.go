package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/vatwatch/core/config"
	tgsender "github.com/m3rciful/vatwatch/core/telegram/sender"
)

// idlePoller delivers nothing until it is told to stop.
type idlePoller struct{}

func (idlePoller) Poll(_ *tele.Bot, _ chan tele.Update, stop chan struct{}) { <-stop }

func offlineRun(t *testing.T) RunOptions {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{Token: "1:test", Offline: true, Poller: idlePoller{}})
	require.NoError(t, err)
	return RunOptions{
		Config:                &coreconfig.Config{Telegram: coreconfig.TelegramConfig{RunMode: coreconfig.RunModeLongpoll}},
		Bot:                   bot,
		Dispatcher:            tgsender.NewDispatcher(tgsender.Options{Workers: 1}),
		DisableWebhookCleanup: true,
		DisableCommandMenu:    true,
	}
}

func TestRunTelegramStopsOnCancel(t *testing.T) {
	opts := offlineRun(t)
	ctx, cancel := context.WithCancel(context.Background())

	var steps []string
	opts.Middlewares = []Middleware{{Name: "empty"}}
	opts.OnStart = func(_ context.Context, rt Runtime) error {
		steps = append(steps, "start")
		assert.NotNil(t, rt.Registry)
		cancel()
		return nil
	}
	opts.OnStop = func(ctx context.Context, _ Runtime) error {
		steps = append(steps, "stop")
		assert.NoError(t, ctx.Err())
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- RunTelegram(ctx, opts) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunTelegram did not return")
	}

	assert.Equal(t, []string{"start", "stop"}, steps)
	err := opts.Dispatcher.Enqueue(context.Background(), "send", "/x", func() error { return nil })
	assert.ErrorIs(t, err, tgsender.ErrQueueClosed)
}

func TestRunTelegramStartFailure(t *testing.T) {
	opts := offlineRun(t)
	boom := errors.New("boom")
	stopped := false
	opts.OnStart = func(context.Context, Runtime) error { return boom }
	opts.OnStop = func(context.Context, Runtime) error {
		stopped = true
		return nil
	}

	err := RunTelegram(context.Background(), opts)
	assert.ErrorIs(t, err, boom)
	assert.False(t, stopped)
	assert.ErrorIs(t, opts.Dispatcher.Enqueue(context.Background(), "send", "/x", func() error { return nil }), tgsender.ErrQueueClosed)
}

func TestRunTelegramStopError(t *testing.T) {
	opts := offlineRun(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts.OnStop = func(context.Context, Runtime) error { return errors.New("drain") }

	assert.EqualError(t, RunTelegram(ctx, opts), "drain")
}

func TestRunTelegramNilConfig(t *testing.T) {
	assert.Error(t, RunTelegram(context.Background(), RunOptions{}))
}

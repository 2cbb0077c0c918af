// Package lifecycle drives monitored VAT requests through their states:
// pending, valid, expired and errored.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/vatwatch/core/logger"
	"github.com/m3rciful/vatwatch/internal/store"
	"github.com/m3rciful/vatwatch/internal/vies"
)

const component = "lifecycle"

// DefaultMaxPendingPerOwner caps how many numbers one owner may monitor.
const DefaultMaxPendingPerOwner = 10

// Notifier delivers a text message to an owner (a Telegram chat id).
type Notifier interface {
	Notify(ctx context.Context, ownerID int64, text string) error
}

// Recorder receives engine events for metrics. All methods must be safe for concurrent use.
type Recorder interface {
	ObserveCycle(stop StopReason, d time.Duration)
	ObserveCheck(outcome string)
	ObserveDemotion()
	ObserveResolution(outcome string)
	ObserveSubmission(status string)
}

// Config holds the monitoring policy.
type Config struct {
	MaxPendingPerOwner         int
	ExpirationDays             int
	AdminChatID                int64
	NotifyAdminOnUnrecoverable bool
}

// Engine is the VAT request state machine.
type Engine struct {
	store    store.Store
	checker  vies.Checker
	notifier Notifier
	cfg      Config
	rec      Recorder
	now      func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.rec = r }
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New wires an engine. The checker is initialised lazily on first use.
func New(st store.Store, checker vies.Checker, notifier Notifier, cfg Config, opts ...Option) *Engine {
	if cfg.MaxPendingPerOwner <= 0 {
		cfg.MaxPendingPerOwner = DefaultMaxPendingPerOwner
	}
	if cfg.ExpirationDays <= 0 {
		cfg.ExpirationDays = store.DefaultExpirationDays
	}
	e := &Engine{
		store:    st,
		checker:  checker,
		notifier: notifier,
		cfg:      cfg,
		rec:      nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rec == nil {
		e.rec = nopRecorder{}
	}
	return e
}

// Config returns the effective policy.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) initChecker(ctx context.Context) error {
	if err := e.checker.Init(ctx); err != nil {
		return fmt.Errorf("init vies checker: %w", err)
	}
	return nil
}

// notify sends a message and logs, but does not return, delivery failures.
func (e *Engine) notify(ctx context.Context, ownerID int64, text string) {
	if err := e.notifyStrict(ctx, ownerID, text); err != nil {
		logger.Warn(ctx, component, "notify",
			slog.String("status", "error"),
			slog.Int64("chat_id", ownerID),
			slog.String("err", err.Error()),
		)
	}
}

func (e *Engine) notifyStrict(ctx context.Context, ownerID int64, text string) error {
	if e.notifier == nil {
		return nil
	}
	return e.notifier.Notify(ctx, ownerID, text)
}

// IsStoreFailure reports whether err came from the persistence layer.
func IsStoreFailure(err error) bool {
	return store.IsStoreError(err) && !errors.Is(err, store.ErrIdentityTaken)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCycle(StopReason, time.Duration) {}
func (nopRecorder) ObserveCheck(string)                    {}
func (nopRecorder) ObserveDemotion()                       {}
func (nopRecorder) ObserveResolution(string)               {}
func (nopRecorder) ObserveSubmission(string)               {}

// Package scheduler runs the check cycle periodically.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/vatwatch/core/logger"
	"github.com/m3rciful/vatwatch/internal/lifecycle"
)

const component = "scheduler"

// DefaultInterval is used when no check interval is configured.
const DefaultInterval = time.Hour

// ErrCycleInProgress is returned by Trigger when another cycle holds the lease.
var ErrCycleInProgress = errors.New("scheduler: cycle already in progress")

// CycleRunner runs one pass over the pending requests.
type CycleRunner interface {
	RunCycle(ctx context.Context) (lifecycle.CycleReport, error)
}

// Config controls the loop.
type Config struct {
	Interval     time.Duration
	CheckOnStart bool
	// LeaseRenewal is how often the lease is extended while a cycle runs.
	// Zero disables renewal; keep it well below the lock TTL.
	LeaseRenewal time.Duration
}

// Scheduler triggers cycles on a ticker. Cycles never overlap: inside one
// process a mutex serialises them, across processes the Locker does.
type Scheduler struct {
	runner CycleRunner
	locker Locker
	cfg    Config
	mu     sync.Mutex
}

// New builds a scheduler. A nil locker means NopLocker.
func New(runner CycleRunner, locker Locker, cfg Config) *Scheduler {
	if locker == nil {
		locker = NopLocker{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Scheduler{runner: runner, locker: locker, cfg: cfg}
}

// Run blocks until ctx is done, running a cycle on every tick.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Info(ctx, component, "start",
		slog.Duration("interval", s.cfg.Interval),
		slog.Bool("check_on_start", s.cfg.CheckOnStart),
	)
	if s.cfg.CheckOnStart {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), component, "stop")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.Trigger(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrCycleInProgress):
		logger.Info(ctx, component, "tick",
			slog.String("status", "skip"),
			slog.String("cause", "lease_held"),
		)
	case errors.Is(err, context.Canceled):
	default:
		logger.Error(ctx, component, "tick",
			slog.String("status", "error"),
			slog.String("err", err.Error()),
		)
	}
}

// Trigger runs one cycle now unless another one is in progress.
func (s *Scheduler) Trigger(ctx context.Context) (lifecycle.CycleReport, error) {
	if !s.mu.TryLock() {
		return lifecycle.CycleReport{}, ErrCycleInProgress
	}
	defer s.mu.Unlock()

	token, ok, err := s.locker.Acquire(ctx)
	if err != nil {
		return lifecycle.CycleReport{}, err
	}
	if !ok {
		return lifecycle.CycleReport{}, ErrCycleInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), token); err != nil {
			logger.Warn(ctx, component, "release",
				slog.String("status", "error"),
				slog.String("err", err.Error()),
			)
		}
	}()

	// A started cycle runs to its natural end even if the caller goes away.
	cycleCtx := logger.WithCycle(context.WithoutCancel(ctx), uuid.NewString()[:8])
	stop := s.keepLease(cycleCtx, token)
	defer stop()
	return s.runner.RunCycle(cycleCtx)
}

// keepLease extends the lease every LeaseRenewal until the returned stop
// function is called.
func (s *Scheduler) keepLease(ctx context.Context, token string) (stop func()) {
	if s.cfg.LeaseRenewal <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(s.cfg.LeaseRenewal)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
			}
			ok, err := s.locker.Extend(ctx, token)
			switch {
			case err != nil:
				logger.Warn(ctx, component, "lease.extend",
					slog.String("status", "error"),
					slog.String("err", err.Error()),
				)
			case !ok:
				logger.Error(ctx, component, "lease.extend",
					slog.String("status", "fail"),
					slog.String("cause", "lease lost"),
				)
				return
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/m3rciful/vatwatch/core/logger"
)

const pingInterval = 2 * time.Second

// Connect opens the pool and pings until the server answers or
// cfg.ConnectTimeout (30s by default) runs out.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	cfg = cfg.withDefaults()
	target := []any{
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", cfg.Name),
	}

	db, err := sqlx.Open("postgres", cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	start := time.Now()
	attempts, err := waitReady(ctx, db, cfg.ConnectTimeout)
	if err != nil {
		_ = db.Close()
		logger.DB.Error("connect", append(target,
			slog.String("status", "fail"),
			slog.Int("attempts", attempts),
			slog.Duration("duration", time.Since(start)),
			slog.String("err", err.Error()),
		)...)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	logger.DB.Info("connect", append(target,
		slog.String("status", "ok"),
		slog.Int("attempts", attempts),
		slog.Int("pool_open", cfg.MaxConnections),
		slog.Duration("duration", time.Since(start)),
	)...)
	return db, nil
}

// waitReady pings db every pingInterval until it answers. It returns the
// number of pings and the last error once timeout or ctx ends the wait.
func waitReady(ctx context.Context, db *sqlx.DB, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for n := 1; ; n++ {
		err := db.PingContext(ctx)
		if err == nil {
			return n, nil
		}
		logger.DB.Debug("ping", slog.Int("attempt", n), slog.String("err", err.Error()))
		select {
		case <-ctx.Done():
			return n, fmt.Errorf("database not ready: %w", err)
		case <-t.C:
		}
	}
}

package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/vatwatch/core/logger"
)

// RunMigrations applies every up migration from cfg.MigrationsPath over a
// connection borrowed from db. The pool stays open afterwards.
func RunMigrations(ctx context.Context, db *sqlx.DB, cfg Config) error {
	dir, err := resolveMigrationsPath(cfg.MigrationsPath)
	if err != nil {
		return fmt.Errorf("resolve migrations path: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migrations connection: %w", err)
	}
	driver, err := migratepg.WithConnection(ctx, conn, &migratepg.Config{})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("migrations driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(dir), "postgres", driver)
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("initialize migrations: %w", err)
	}
	m.Log = migrateLog{}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.MIG.Warn("close", slog.Any("err", errors.Join(srcErr, dbErr)))
		}
	}()

	from, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}

	start := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.MIG.Error("apply",
			slog.String("status", "fail"),
			slog.String("path", dir),
			slog.Duration("duration", time.Since(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("apply migrations: %w", err)
	}
	to, _, _ := m.Version()

	attrs := []any{
		slog.String("status", "ok"),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Duration("duration", time.Since(start)),
	}
	applied := upFilesBetween(dir, from, to)
	attrs = append(attrs, slog.Int("files", len(applied)))
	if preview, truncated := logger.SummarizeStrings(applied, 6); preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview), slog.Bool("files_truncated", truncated))
	}
	logger.MIG.Info("summary", attrs...)
	return nil
}

// migrateLog routes golang-migrate's own messages to the db.migrate logger.
type migrateLog struct{}

func (migrateLog) Printf(format string, v ...any) {
	logger.MIG.Debug("step", slog.String("detail", strings.TrimSpace(fmt.Sprintf(format, v...))))
}

func (migrateLog) Verbose() bool {
	return logger.MIG.Enabled(context.Background(), slog.LevelDebug)
}

func resolveMigrationsPath(p string) (string, error) {
	if p == "" {
		p = DefaultMigrationsPath
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, p), nil
}

// upFilesBetween lists the sorted *.up.sql files of dir whose version is in (from, to].
func upFilesBetween(dir string, from, to uint) []string {
	if to <= from {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err == nil && v > uint64(from) && v <= uint64(to) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

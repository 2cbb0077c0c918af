package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/vatwatch/core/bootstrap"
	corecmd "github.com/m3rciful/vatwatch/core/cmd"
	"github.com/m3rciful/vatwatch/core/logger"
	tg "github.com/m3rciful/vatwatch/core/telegram"
	"github.com/m3rciful/vatwatch/core/telegram/router"
	"github.com/m3rciful/vatwatch/core/telegram/sender"
	"github.com/m3rciful/vatwatch/internal/bot"
	"github.com/m3rciful/vatwatch/internal/config"
	"github.com/m3rciful/vatwatch/internal/httpapi"
	"github.com/m3rciful/vatwatch/internal/lifecycle"
	"github.com/m3rciful/vatwatch/internal/metrics"
	"github.com/m3rciful/vatwatch/internal/notify"
	"github.com/m3rciful/vatwatch/internal/scheduler"
	"github.com/m3rciful/vatwatch/internal/store"
	"github.com/m3rciful/vatwatch/internal/vies"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal(err)
	}
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return config.Load(path)
		},
		Bootstrap: func(c corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			cfg, ok := c.(*config.Config)
			if !ok {
				return nil, fmt.Errorf("unexpected config type %T", c)
			}
			return newApp(cfg)
		},
	})
	if err != nil {
		log.Fatal(err)
	}
}

// app owns every long-lived component of the process.
type app struct {
	cfg *config.Config

	db    *sqlx.DB
	redis *redis.Client

	bot        *tele.Bot
	dispatcher *sender.Dispatcher
	registry   *tg.Registry
	handlers   *bot.Handlers

	metrics *metrics.Metrics
	engine  *lifecycle.Engine
	sched   *scheduler.Scheduler

	cancel context.CancelFunc
	group  *errgroup.Group
}

func newApp(cfg *config.Config) (*app, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: res.DB}

	if a.redis, err = scheduler.NewRedisClient(ctx, cfg.Redis); err != nil {
		a.close()
		return nil, err
	}

	if a.bot, err = tg.NewBot(cfg.CoreConfig(), false); err != nil {
		a.close()
		return nil, err
	}
	a.metrics = metrics.New()
	a.dispatcher = sender.NewDispatcher(sender.Options{Observer: a.metrics})

	st := store.NewPostgres(a.db, store.Options{ExpirationDays: cfg.Monitoring.ExpirationDays})
	a.engine = lifecycle.New(
		st,
		vies.NewClient(cfg.Vies, a.metrics),
		notify.NewTelegram(a.bot, a.dispatcher),
		cfg.Lifecycle(),
		lifecycle.WithRecorder(a.metrics),
	)

	var locker scheduler.Locker = scheduler.NopLocker{}
	if a.redis != nil {
		locker = scheduler.NewRedisLocker(a.redis, cfg.Redis.LockKey, cfg.Redis.LockTTL)
	}
	a.sched = scheduler.New(a.engine, locker, cfg.Scheduler())

	a.registry = tg.NewRegistry()
	a.handlers = bot.New(a.engine, a.sched, cfg.Telegram.AdminID)
	if err := a.handlers.Register(a.registry); err != nil {
		a.dispatcher.Close()
		a.close()
		return nil, err
	}
	return a, nil
}

// TelegramRunOptions assembles the bot runtime.
func (a *app) TelegramRunOptions() (tg.RunOptions, error) {
	core := a.cfg.CoreConfig()
	admin := a.handlers.AdminOptions()

	routes := router.CommandRoutes(a.registry, router.CommandRouteOptions{
		AdminID:       admin.AdminID,
		OnAdminReject: admin.OnReject,
	})
	routes = append(routes, router.CallbackRoute(a.registry, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(a.registry, router.TextOptions{})...)

	return tg.RunOptions{
		Config:      core,
		Registry:    a.registry,
		Bot:         a.bot,
		Dispatcher:  a.dispatcher,
		Middlewares: tg.DefaultMiddlewares(core, nil, a.metrics),
		Routes:      routes,
		OnStart:     a.start,
		OnStop:      a.stop,
	}, nil
}

func (a *app) start(ctx context.Context, _ tg.Runtime) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	a.group = g

	g.Go(func() error { return a.sched.Run(gctx) })

	if listen := a.cfg.HTTP.Listen; listen != "" {
		h := httpapi.NewRouter(a.engine, a.engine, httpapi.Options{
			APIToken:   a.cfg.HTTP.APIToken,
			AdminToken: a.cfg.HTTP.AdminToken,
			Metrics:    a.metrics.Handler(),
			Cycles:     a.sched,
		})
		srv := httpapi.NewServer(listen, h)
		g.Go(func() error { return httpapi.Serve(gctx, srv) })
		logger.Info(ctx, "app", "http.listen", slog.String("addr", listen))
	}
	return nil
}

func (a *app) stop(ctx context.Context, _ tg.Runtime) error {
	var err error
	if a.cancel != nil {
		a.cancel()
		if werr := a.group.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
			logger.Error(ctx, "app", "workers.stop", slog.String("err", werr.Error()))
			err = werr
		}
	}
	a.close()
	return err
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

package router

import (
	"log/slog"

	"github.com/m3rciful/vatwatch/core/logger"
	tg "github.com/m3rciful/vatwatch/core/telegram"
	"github.com/m3rciful/vatwatch/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes prepares command handlers wrapped with shared middleware.
// Admin-only commands are rejected for everybody when no admin is configured.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	adminOnly := middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	})

	entries := reg.Commands()
	routes := make([]tg.Route, 0, len(entries))
	for _, def := range entries {
		name, inner := handlerName(def.Name), def.Handler
		h := func(c tele.Context) error {
			return track(c, name).run(c, func() error { return inner(c) })
		}
		if def.AdminOnly {
			h = adminOnly(h)
		}
		h = middleware.LoggerMiddleware(h)
		h = middleware.RecoverMiddleware(h)
		routes = append(routes, tg.Route{Endpoint: def.Name, Handler: h})
	}

	logger.TWire.Info("tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", len(entries)),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)

	return routes
}

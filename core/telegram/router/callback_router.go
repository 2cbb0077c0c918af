package router

import (
	"log/slog"

	tg "github.com/m3rciful/vatwatch/core/telegram"
	"github.com/m3rciful/vatwatch/core/telegram/callbacks"
	"github.com/m3rciful/vatwatch/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// CallbackRoute returns a handler that routes callbacks through the registry.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		if c.Callback() == nil {
			return nil
		}
		_ = c.Respond()

		key := callbacks.CallbackKey(c)
		h, ok := reg.GetCallback(key)
		attrs := []slog.Attr{slog.String("cb_key", key)}
		if !ok {
			// The caller's NotFound wins over the registry default.
			if h = opts.NotFound; h == nil {
				h = reg.CallbackNotFound()
			}
			attrs = append(attrs, slog.String("reason", "not_found"))
		}
		s := track(c, "callback."+handlerName(key), attrs...)
		if h == nil {
			s.log(c, "skip", nil)
			return nil
		}
		return s.run(c, func() error { return h(c) })
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}

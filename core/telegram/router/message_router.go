package router

import (
	tg "github.com/m3rciful/vatwatch/core/telegram"
	"github.com/m3rciful/vatwatch/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// TextOptions controls fallback behaviour for text updates.
type TextOptions struct {
	UnknownText tele.HandlerFunc
}

// TextRoutes routes plain text: command lookups by name or alias first, then
// the registry text fallback, then UnknownText.
func TextRoutes(reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(firstWord(c.Text())); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return track(c, handlerName(key)).run(c, func() error { return cmd.Handler(c) })
			}
			if fb := reg.TextFallback(); fb != nil {
				return track(c, "fallback").run(c, func() error { return fb(c) })
			}
		}
		s := track(c, "unknown_text")
		if opts.UnknownText == nil {
			s.log(c, "skip", nil)
			return nil
		}
		return s.run(c, func() error { return opts.UnknownText(c) })
	}

	return []tg.Route{{
		Endpoint: tele.OnText,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}}
}

func firstWord(text string) string {
	for i, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			return text[:i]
		}
	}
	return text
}

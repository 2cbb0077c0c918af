package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/vatwatch/core/logger"
	tghelpers "github.com/m3rciful/vatwatch/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// summary writes one handler.handled line per routed update.
type summary struct {
	name  string
	start time.Time
	attrs []slog.Attr
}

func track(c tele.Context, name string, attrs ...slog.Attr) *summary {
	tghelpers.WithHandler(c, name)
	return &summary{name: name, start: time.Now(), attrs: attrs}
}

// run calls fn and logs its result.
func (s *summary) run(c tele.Context, fn func() error) error {
	err := fn()
	s.log(c, "", err)
	return err
}

// log writes the summary; an empty status is derived from err.
func (s *summary) log(c tele.Context, status string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "fail"
	}
	if status == "" {
		status = outcome
	}
	replies, kb := tghelpers.Replies(c)

	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("handler", s.name),
		slog.String("outcome", outcome),
		slog.Int("messages", replies),
		slog.Bool("kb", kb),
		slog.Duration("duration", logger.RoundMS(time.Since(s.start))),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", errorCode(err)),
		)
	}
	attrs = append(attrs, s.attrs...)
	logger.LogEvent(tghelpers.BuildContext(c), logger.Component("tg"), slog.LevelInfo, "handler.handled", attrs...)
}

// handlerName turns "/Check Now" into "check_now".
func handlerName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if name == "" {
		return "unknown"
	}
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// errorCode names err for log filtering: an explicit Code(), a Bot API
// error, a context error, or the error's Go type.
func errorCode(err error) string {
	var (
		coded  interface{ Code() string }
		apiErr *tele.Error
	)
	switch {
	case errors.As(err, &coded) && strings.TrimSpace(coded.Code()) != "":
		return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(coded.Code()), " ", "_"))
	case errors.As(err, &apiErr):
		return fmt.Sprintf("TG_API_%d", apiErr.Code)
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return "CANCELLED"
	}
	t := strings.TrimLeft(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndexByte(t, '.'); i >= 0 {
		t = t[i+1:]
	}
	return strings.ToUpper(t)
}

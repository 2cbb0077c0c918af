package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

const timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"

const (
	formatJSON = "json"
	formatText = "text"
)

// contextHandler wraps a slog JSON or text handler. It moves an "event"
// attribute into the message, defaults the component to "app" and appends
// the identifiers stored in the context (rid, cycle, update, user, chat, handler).
type contextHandler struct {
	next         slog.Handler
	hasComponent bool
}

func newHandler(w io.Writer, format string, level slog.Leveler) *contextHandler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr}
	if format == formatJSON {
		return &contextHandler{next: slog.NewJSONHandler(w, opts)}
	}
	return &contextHandler{next: slog.NewTextHandler(w, opts)}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	event := r.Message
	hasComponent := h.hasComponent
	attrs := make([]slog.Attr, 0, r.NumAttrs()+6)
	seen := make(map[string]bool, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "event" {
			if s := strings.TrimSpace(a.Value.String()); s != "" {
				event = s
			}
			return true
		}
		if a.Key == "component" {
			hasComponent = true
		}
		seen[a.Key] = true
		attrs = append(attrs, a)
		return true
	})
	if event == "" {
		event = "unknown"
	}

	head := make([]slog.Attr, 0, 7)
	if !hasComponent {
		head = append(head, slog.String("component", "app"))
	}
	for _, a := range contextAttrs(ctx) {
		if !seen[a.Key] {
			head = append(head, a)
		}
	}

	out := slog.NewRecord(r.Time, r.Level, event, r.PC)
	out.AddAttrs(head...)
	out.AddAttrs(attrs...)
	return h.next.Handle(ctx, out)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := &contextHandler{next: h.next.WithAttrs(attrs), hasComponent: h.hasComponent}
	for _, a := range attrs {
		if a.Key == "component" {
			c.hasComponent = true
		}
	}
	return c
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &contextHandler{next: h.next.WithGroup(name), hasComponent: h.hasComponent}
}

func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if rid := RIDFrom(ctx); rid != "" {
		attrs = append(attrs, slog.String("rid", rid))
	}
	if cycle := CycleFrom(ctx); cycle != "" {
		attrs = append(attrs, slog.String("cycle", cycle))
	}
	if id := UpdateIDFrom(ctx); id != 0 {
		attrs = append(attrs, slog.Int("update_id", id))
	}
	if id := UserIDFrom(ctx); id != 0 {
		attrs = append(attrs, slog.Int64("user_id", id))
	}
	if id := ChatIDFrom(ctx); id != 0 {
		attrs = append(attrs, slog.Int64("chat_id", id))
	}
	if name := HandlerFrom(ctx); name != "" {
		attrs = append(attrs, slog.String("handler", name))
	}
	return attrs
}

// replaceAttr renames the built-in keys, writes durations as whole
// milliseconds and drops empty strings and unknown outcomes.
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch a.Key {
		case slog.TimeKey:
			if a.Value.Kind() != slog.KindTime {
				return a
			}
			return slog.String("ts", a.Value.Time().UTC().Format(timeFormatMillis))
		case slog.MessageKey:
			a.Key = "event"
			return a
		case "status":
			if s := normalizeStatus(a.Value.String()); s != "" {
				return slog.String(a.Key, s)
			}
			return slog.Attr{}
		case "outcome":
			if o, ok := normalizeOutcome(a.Value.String()); ok {
				return slog.String(a.Key, o)
			}
			return slog.Attr{}
		}
	}

	switch a.Value.Kind() {
	case slog.KindDuration:
		return slog.Int64(millisKey(a.Key), RoundMS(a.Value.Duration()).Milliseconds())
	case slog.KindString:
		s := strings.TrimSpace(a.Value.String())
		if s == "" {
			return slog.Attr{}
		}
		return slog.String(a.Key, s)
	case slog.KindAny:
		switch v := a.Value.Any().(type) {
		case nil:
			return slog.Attr{}
		case error:
			return slog.String(a.Key, v.Error())
		}
	}
	return a
}

func millisKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}

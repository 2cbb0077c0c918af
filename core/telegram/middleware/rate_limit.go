package middleware

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/m3rciful/vatwatch/core/logger"
	tghelpers "github.com/m3rciful/vatwatch/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval  time.Duration
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
}

// minIdle is the shortest time a user's limiter is kept after their last update.
const minIdle = time.Minute

type userLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// userLimiters holds one token bucket per user and forgets idle users.
type userLimiters struct {
	mu        sync.Mutex
	every     rate.Limit
	idle      time.Duration
	users     map[int64]*userLimiter
	lastSwept time.Time
}

func newUserLimiters(interval time.Duration) *userLimiters {
	idle := 10 * interval
	if idle < minIdle {
		idle = minIdle
	}
	return &userLimiters{
		every: rate.Every(interval),
		idle:  idle,
		users: make(map[int64]*userLimiter),
	}
}

func (l *userLimiters) allow(userID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSwept) > l.idle {
		for id, u := range l.users {
			if now.Sub(u.seen) > l.idle {
				delete(l.users, id)
			}
		}
		l.lastSwept = now
	}

	u, ok := l.users[userID]
	if !ok {
		u = &userLimiter{lim: rate.NewLimiter(l.every, 1)}
		l.users[userID] = u
	}
	u.seen = now
	return u.lim.AllowN(now, 1)
}

func updateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.Message != nil:
		return "message"
	}
	return "other"
}

// RateLimitMiddleware returns a middleware that enforces a minimum interval
// between updates from the same user.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	if opts.Interval <= 0 {
		return func(next tele.HandlerFunc) tele.HandlerFunc { return next }
	}
	limiters := newUserLimiters(opts.Interval)

	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil {
				return next(c)
			}
			if _, skip := opts.Exclude[updateKind(c.Update())]; skip {
				return next(c)
			}
			if limiters.allow(user.ID, time.Now()) {
				return next(c)
			}

			attrs := []slog.Attr{
				slog.String("status", "rate_limited"),
				slog.Int64("user_id", user.ID),
			}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.Int64("chat_id", chat.ID))
			}
			logger.Warn(tghelpers.BuildContext(c), "tg", "rate_limit", attrs...)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}

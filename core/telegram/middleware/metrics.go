package middleware

import (
	tele "gopkg.in/telebot.v4"
)

// UpdateObserver counts handled updates.
type UpdateObserver interface {
	ObserveUpdate(failed bool)
}

// ObserveUpdates reports every update and whether its handler failed.
func ObserveUpdates(obs UpdateObserver) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		if obs == nil {
			return next
		}
		return func(c tele.Context) error {
			err := next(c)
			obs.ObserveUpdate(err != nil)
			return err
		}
	}
}

// Package store persists pending and errored VAT requests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/m3rciful/vatwatch/internal/vat"
)

const component = "store"

// DefaultExpirationDays is used when Options.ExpirationDays is not set.
const DefaultExpirationDays = 90

// ErrIdentityTaken is returned when an identity update collides with another pending request.
var ErrIdentityTaken = errors.New("store: identity already monitored")

// Error wraps any persistence failure with the store operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "store: " + e.Op
	}
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsStoreError reports whether err originated in the store.
func IsStoreError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// Store is the persistence contract of the lifecycle engine.
//
// A zero expiration means "now plus the configured expiration days".
// TryAddUniquePending, ResolveError and DemoteToError are atomic.
type Store interface {
	AddPending(ctx context.Context, id vat.Identity, expiration time.Time) (vat.PendingRequest, error)
	TryAddUniquePending(ctx context.Context, id vat.Identity, expiration time.Time) (vat.PendingRequest, bool, error)
	FindPending(ctx context.Context, id vat.Identity) (*vat.PendingRequest, error)
	RemovePending(ctx context.Context, id vat.Identity) (bool, error)
	ListPending(ctx context.Context) ([]vat.PendingRequest, error)
	ListPendingByOwner(ctx context.Context, ownerID int64) ([]vat.PendingRequest, error)
	CountPending(ctx context.Context, ownerID int64) (int, error)
	RemoveAllPending(ctx context.Context, ownerID int64) (bool, error)

	AddError(ctx context.Context, p vat.PendingRequest, text string) (vat.ErroredRequest, error)
	FindError(ctx context.Context, id string) (*vat.ErroredRequest, error)
	CountErrors(ctx context.Context, id vat.Identity) (int, error)
	RemoveError(ctx context.Context, id string) (bool, error)
	ListErrors(ctx context.Context) ([]vat.ErroredRequest, error)

	ResolveError(ctx context.Context, id string) (vat.ResolveResult, error)
	DemoteToError(ctx context.Context, p vat.PendingRequest, text string) (vat.ErroredRequest, error)
	UpdateIdentity(ctx context.Context, old vat.Identity, countryCode, vatNumber string) (bool, error)
}

// Options tunes store defaults.
type Options struct {
	ExpirationDays int
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ExpirationDays <= 0 {
		o.ExpirationDays = DefaultExpirationDays
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) expiration(t time.Time) time.Time {
	if !t.IsZero() {
		return t
	}
	return o.Now().AddDate(0, 0, o.ExpirationDays)
}

package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/vatwatch/core/logger"
	"github.com/m3rciful/vatwatch/internal/vat"
	"github.com/m3rciful/vatwatch/internal/vies"
)

// SubmitStatus is the outcome of a submission for monitoring.
type SubmitStatus string

const (
	SubmitValid              SubmitStatus = "valid"
	SubmitMonitoring         SubmitStatus = "monitoring"
	SubmitLimitReached       SubmitStatus = "limit_reached"
	SubmitInvalidInput       SubmitStatus = "invalid_input"
	SubmitServiceUnavailable SubmitStatus = "service_unavailable"
	SubmitDeferred           SubmitStatus = "deferred"
	SubmitCheckFailed        SubmitStatus = "check_failed"
)

// ClientError reports whether the status is the caller's fault.
func (s SubmitStatus) ClientError() bool {
	return s == SubmitLimitReached || s == SubmitInvalidInput
}

// Failed reports whether the number could not be checked right now.
func (s SubmitStatus) Failed() bool {
	return s == SubmitServiceUnavailable || s == SubmitDeferred || s == SubmitCheckFailed
}

// SubmitResult carries the admission decision and the reply for the owner.
type SubmitResult struct {
	Status   SubmitStatus
	Identity vat.Identity
	// Added is true when a new pending request was created.
	Added   bool
	Message string
	Kind    vies.Kind
}

// Submit checks a number right away and, unless it is valid, registers it for monitoring.
//
// The validity check runs before the per-owner cap is consulted. Validation
// failures are returned as vat errors; store failures are returned as is.
func (e *Engine) Submit(ctx context.Context, ownerID int64, raw string) (res SubmitResult, err error) {
	start := time.Now()
	defer func() {
		if err == nil {
			e.rec.ObserveSubmission(string(res.Status))
		}
		e.logSubmit(ctx, res, err, start)
	}()

	id, err := vat.NewIdentity(ownerID, raw)
	if err != nil {
		return SubmitResult{}, err
	}
	res.Identity = id

	if err := e.initChecker(ctx); err != nil {
		return res, err
	}
	check, checkErr := e.checker.CheckValidity(ctx, id.CountryCode, id.VatNumber)
	if checkErr == nil {
		if check.Valid {
			if _, err := e.store.RemovePending(ctx, id); err != nil {
				return res, err
			}
			res.Status = SubmitValid
			res.Message = msgValid(id)
			return res, nil
		}
		return e.admit(ctx, res, SubmitMonitoring, msgMonitoring(id, e.cfg.ExpirationDays))
	}

	verr := vies.Classify(checkErr)
	res.Kind = verr.Kind
	switch {
	case verr.Kind == vies.KindInvalidInput:
		res.Status = SubmitInvalidInput
		res.Message = msgInvalidInput(id)
		return res, nil
	case verr.Kind == vies.KindServiceUnavailable || verr.Kind == vies.KindEndpointUnavailable:
		return e.admit(ctx, res, SubmitServiceUnavailable, msgServiceUnavailable(id))
	case verr.Recoverable():
		return e.admit(ctx, res, SubmitDeferred, msgDeferred(id))
	default:
		res.Status = SubmitCheckFailed
		res.Message = msgCheckFailed(id)
		return res, nil
	}
}

// admit enforces the per-owner cap and adds the request unless it is already monitored.
func (e *Engine) admit(ctx context.Context, res SubmitResult, status SubmitStatus, msg string) (SubmitResult, error) {
	n, err := e.store.CountPending(ctx, res.Identity.OwnerID)
	if err != nil {
		return res, err
	}
	if n >= e.cfg.MaxPendingPerOwner {
		res.Status = SubmitLimitReached
		res.Message = msgLimitReached(e.cfg.MaxPendingPerOwner)
		return res, nil
	}
	_, added, err := e.store.TryAddUniquePending(ctx, res.Identity, time.Time{})
	if err != nil {
		return res, err
	}
	res.Status = status
	res.Added = added
	res.Message = msg
	return res, nil
}

func (e *Engine) logSubmit(ctx context.Context, res SubmitResult, err error, start time.Time) {
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Int64("chat_id", res.Identity.OwnerID),
		slog.Duration("duration", logger.Took(start)),
	}
	if res.Identity.CountryCode != "" {
		attrs = append(attrs, slog.String("vat", res.Identity.String()))
	}
	if res.Status != "" {
		attrs = append(attrs, slog.String("outcome", string(res.Status)), slog.Bool("added", res.Added))
	}
	if res.Kind != "" {
		attrs = append(attrs, slog.String("err_code", string(res.Kind)))
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", err.Error()))
		logger.Warn(ctx, component, "submit", attrs...)
		return
	}
	logger.Info(ctx, component, "submit", attrs...)
}

// Remove stops monitoring one number.
func (e *Engine) Remove(ctx context.Context, ownerID int64, raw string) (vat.Identity, bool, error) {
	id, err := vat.NewIdentity(ownerID, raw)
	if err != nil {
		return vat.Identity{}, false, err
	}
	removed, err := e.store.RemovePending(ctx, id)
	if err != nil {
		return id, false, err
	}
	logger.Info(ctx, component, "uncheck",
		slog.Int64("chat_id", ownerID),
		slog.String("vat", id.String()),
		slog.Bool("removed", removed),
	)
	return id, removed, nil
}

// RemovedMessage is the reply after Remove.
func RemovedMessage(id vat.Identity) string { return msgRemoved(id) }

// RemoveAll stops monitoring every number of the owner.
func (e *Engine) RemoveAll(ctx context.Context, ownerID int64) (bool, error) {
	if ownerID == 0 {
		return false, vat.ErrMissingOwner
	}
	removed, err := e.store.RemoveAllPending(ctx, ownerID)
	if err != nil {
		return false, err
	}
	logger.Info(ctx, component, "uncheck_all",
		slog.Int64("chat_id", ownerID),
		slog.Bool("removed", removed),
	)
	return removed, nil
}

// RemovedAllMessage is the reply after RemoveAll.
func RemovedAllMessage() string { return msgAllRemoved }

// ListOwned returns the owner's pending requests.
func (e *Engine) ListOwned(ctx context.Context, ownerID int64) ([]vat.PendingRequest, error) {
	if ownerID == 0 {
		return nil, vat.ErrMissingOwner
	}
	return e.store.ListPendingByOwner(ctx, ownerID)
}

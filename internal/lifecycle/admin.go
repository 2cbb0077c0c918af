package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/vatwatch/core/logger"
	"github.com/m3rciful/vatwatch/internal/vat"
)

// ErrMissingErrorID is returned when an error id was not supplied.
var ErrMissingErrorID = errors.New("lifecycle: missing error id")

// UpdateOutcome is the result of an identity correction.
type UpdateOutcome string

const (
	UpdateApplied  UpdateOutcome = "updated"
	UpdateNoop     UpdateOutcome = "noop"
	UpdateNotFound UpdateOutcome = "not_found"
)

// ResolveSummary aggregates a bulk resolution.
type ResolveSummary struct {
	Total    int
	Failed   int
	Outcomes map[vat.ResolveOutcome]int
}

// ListPending returns every pending request.
func (e *Engine) ListPending(ctx context.Context) ([]vat.PendingRequest, error) {
	return e.store.ListPending(ctx)
}

// ListErrors returns every errored request.
func (e *Engine) ListErrors(ctx context.Context) ([]vat.ErroredRequest, error) {
	return e.store.ListErrors(ctx)
}

// ResolveError clears one error. When it was the last error of its identity and
// monitoring was restored, the owner is told unless silent is set.
func (e *Engine) ResolveError(ctx context.Context, errorID string, silent bool) (vat.ResolveResult, error) {
	if errorID == "" {
		return vat.ResolveResult{}, ErrMissingErrorID
	}
	res, err := e.store.ResolveError(ctx, errorID)
	if err != nil {
		logger.Error(ctx, component, "resolve",
			slog.String("status", "error"),
			slog.String("error_id", errorID),
			slog.String("err", err.Error()),
		)
		return vat.ResolveResult{}, err
	}
	e.rec.ObserveResolution(string(res.Outcome))

	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.String("error_id", errorID),
		slog.String("outcome", string(res.Outcome)),
		slog.Bool("silent", silent),
	}
	if res.Request != nil {
		attrs = append(attrs,
			slog.String("vat", res.Request.String()),
			slog.Int64("chat_id", res.Request.OwnerID),
		)
	}
	logger.Info(ctx, component, "resolve", attrs...)

	if !silent && res.Outcome == vat.ResolveAllResolvedAndResumed && res.Request != nil {
		e.notify(ctx, res.Request.OwnerID, msgResumed(res.Request.Identity))
	}
	return res, nil
}

// ResolveAllErrors resolves every error in list order, each in its own
// transaction. A failure is counted and the rest are still resolved; the
// joined failures are returned with the summary.
func (e *Engine) ResolveAllErrors(ctx context.Context, silent bool) (ResolveSummary, error) {
	sum := ResolveSummary{Outcomes: make(map[vat.ResolveOutcome]int)}
	list, err := e.store.ListErrors(ctx)
	if err != nil {
		return sum, err
	}
	var errs []error
	for _, item := range list {
		res, err := e.ResolveError(ctx, item.ID, silent)
		if err != nil {
			sum.Failed++
			errs = append(errs, fmt.Errorf("resolve %s: %w", item.ID, err))
			continue
		}
		sum.Total++
		sum.Outcomes[res.Outcome]++
	}
	logger.Info(ctx, component, "resolve_all",
		slog.Int("count", sum.Total),
		slog.Int("failed", sum.Failed),
		slog.Bool("silent", silent),
	)
	return sum, errors.Join(errs...)
}

// RemoveError drops an error without resuming monitoring.
func (e *Engine) RemoveError(ctx context.Context, errorID string) (bool, error) {
	if errorID == "" {
		return false, ErrMissingErrorID
	}
	removed, err := e.store.RemoveError(ctx, errorID)
	if err != nil {
		return false, err
	}
	logger.Info(ctx, component, "remove_error",
		slog.String("error_id", errorID),
		slog.Bool("removed", removed),
	)
	return removed, nil
}

// UpdateIdentity corrects the number of a pending request.
// Identical old and new strings are a successful no-op.
func (e *Engine) UpdateIdentity(ctx context.Context, ownerID int64, rawOld, rawNew string) (UpdateOutcome, error) {
	oldID, err := vat.NewIdentity(ownerID, rawOld)
	if err != nil {
		return "", err
	}
	cc, num, err := vat.ParseNumber(rawNew)
	if err != nil {
		return "", err
	}
	newID := oldID.WithNumber(cc, num)
	if newID == oldID {
		return UpdateNoop, nil
	}
	ok, err := e.store.UpdateIdentity(ctx, oldID, cc, num)
	if err != nil {
		return "", err
	}
	out := UpdateNotFound
	if ok {
		out = UpdateApplied
	}
	logger.Info(ctx, component, "update",
		slog.Int64("chat_id", ownerID),
		slog.String("vat", oldID.String()),
		slog.String("new_vat", newID.String()),
		slog.String("outcome", string(out)),
	)
	return out, nil
}

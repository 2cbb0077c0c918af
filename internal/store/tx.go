package store

import (
	"context"
	"log/slog"

	"github.com/m3rciful/vatwatch/core/logger"
	"github.com/m3rciful/vatwatch/internal/vat"
)

// txOps are the primitive steps of the multi-row transitions. Implementations run them
// inside whatever atomic scope the caller opened.
type txOps interface {
	lockIdentity(ctx context.Context, id vat.Identity) error
	findError(ctx context.Context, errorID string) (*vat.ErroredRequest, error)
	deleteError(ctx context.Context, errorID string) (bool, error)
	countErrors(ctx context.Context, id vat.Identity) (int, error)
	insertUniquePending(ctx context.Context, p vat.PendingRequest) (bool, error)
	deletePending(ctx context.Context, id vat.Identity) (bool, error)
	insertError(ctx context.Context, e vat.ErroredRequest) error
}

// resolveErrorTx clears one error and resumes monitoring when it was the last one for its identity.
func resolveErrorTx(ctx context.Context, ops txOps, errorID string) (vat.ResolveResult, error) {
	found, err := ops.findError(ctx, errorID)
	if err != nil {
		return vat.ResolveResult{}, err
	}
	if found == nil {
		return vat.ResolveResult{Outcome: vat.ResolveNotFound}, nil
	}
	if err := ops.lockIdentity(ctx, found.Identity); err != nil {
		return vat.ResolveResult{}, err
	}
	deleted, err := ops.deleteError(ctx, errorID)
	if err != nil {
		return vat.ResolveResult{}, err
	}
	if !deleted {
		// resolved concurrently
		return vat.ResolveResult{Outcome: vat.ResolveNotFound}, nil
	}

	pending := found.Pending()
	res := vat.ResolveResult{Request: &pending}

	remaining, err := ops.countErrors(ctx, found.Identity)
	if err != nil {
		return vat.ResolveResult{}, err
	}
	if remaining > 0 {
		res.Outcome = vat.ResolveErrorResolved
	} else {
		added, err := ops.insertUniquePending(ctx, pending)
		if err != nil {
			return vat.ResolveResult{}, err
		}
		res.Outcome = vat.ResolveAllResolved
		if added {
			res.Outcome = vat.ResolveAllResolvedAndResumed
		}
	}
	logger.Debug(ctx, component, "store.resolve",
		slog.String("error_id", errorID),
		slog.String("vat", found.String()),
		slog.Int64("owner_id", found.OwnerID),
		slog.Int("remaining", remaining),
		slog.String("outcome", string(res.Outcome)),
	)
	return res, nil
}

// demoteTx moves a pending request into the error bin.
func demoteTx(ctx context.Context, ops txOps, e vat.ErroredRequest) error {
	if err := ops.lockIdentity(ctx, e.Identity); err != nil {
		return err
	}
	if _, err := ops.deletePending(ctx, e.Identity); err != nil {
		return err
	}
	return ops.insertError(ctx, e)
}

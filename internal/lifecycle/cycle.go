package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/vatwatch/core/logger"
	"github.com/m3rciful/vatwatch/internal/vat"
	"github.com/m3rciful/vatwatch/internal/vies"
)

// StopReason tells why a cycle ended before the end of the batch.
type StopReason string

const (
	// StopNone means the whole batch was processed.
	StopNone StopReason = ""
	// StopExpired means an expired request halted the batch.
	StopExpired StopReason = "expired"
	// StopRecoverable means a transient VIES failure halted the batch.
	StopRecoverable StopReason = "recoverable_error"
	// StopFailed means a store or notification failure aborted the cycle.
	StopFailed StopReason = "failed"
	// StopCancelled means the context ended during a check; the request is untouched.
	StopCancelled StopReason = "cancelled"
)

// Check outcomes reported to the Recorder.
const (
	CheckValid       = "valid"
	CheckInvalid     = "invalid"
	CheckExpired     = "expired"
	CheckRecoverable = "recoverable_error"
	CheckDemoted     = "demoted"
)

// CycleReport summarises one pass over the pending requests.
type CycleReport struct {
	Total        int
	Processed    int
	Valid        int
	Expired      int
	Demoted      int
	StillPending int
	Stopped      StopReason
	StopKind     vies.Kind
	Duration     time.Duration
}

// RunCycle checks every pending request once, in insertion order.
//
// A valid number is retired and its owner notified. An invalid number past its
// expiration date is retired, its owner notified, and the rest of the batch is
// left for the next cycle. A recoverable VIES failure also ends the batch; any
// other failure parks the request in the error bin and the batch continues.
func (e *Engine) RunCycle(ctx context.Context) (report CycleReport, err error) {
	start := time.Now()
	defer func() {
		report.Duration = logger.RoundMS(time.Since(start))
		if err != nil {
			report.Stopped = StopFailed
		}
		e.rec.ObserveCycle(report.Stopped, report.Duration)
		e.logCycle(ctx, report, err)
	}()

	if err := e.initChecker(ctx); err != nil {
		return report, err
	}
	batch, err := e.store.ListPending(ctx)
	if err != nil {
		return report, err
	}
	report.Total = len(batch)
	if len(batch) == 0 {
		return report, nil
	}
	logger.Info(ctx, component, "cycle.start", slog.Int("count", len(batch)))

	for _, req := range batch {
		report.Processed++
		res, checkErr := e.checker.CheckValidity(ctx, req.CountryCode, req.VatNumber)
		if checkErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				logger.Warn(ctx, component, "cycle.check",
					slog.String("status", "cancelled"),
					slog.String("vat", req.String()),
					slog.String("err", ctxErr.Error()),
				)
				report.Stopped = StopCancelled
				return report, nil
			}
			verr := vies.Classify(checkErr)
			if verr.Recoverable() {
				e.rec.ObserveCheck(CheckRecoverable)
				logger.Warn(ctx, component, "cycle.check",
					slog.String("status", "error"),
					slog.String("vat", req.String()),
					slog.Int64("chat_id", req.OwnerID),
					slog.String("err_code", string(verr.Kind)),
					slog.Bool("retryable", true),
					slog.String("err", verr.Error()),
				)
				report.Stopped = StopRecoverable
				report.StopKind = verr.Kind
				return report, nil
			}
			if err := e.demote(ctx, req, verr); err != nil {
				return report, err
			}
			report.Demoted++
			continue
		}

		if res.Valid {
			if _, err := e.store.RemovePending(ctx, req.Identity); err != nil {
				return report, err
			}
			e.rec.ObserveCheck(CheckValid)
			report.Valid++
			logger.Info(ctx, component, "cycle.check",
				slog.String("status", "ok"),
				slog.String("outcome", CheckValid),
				slog.String("vat", req.String()),
				slog.Int64("chat_id", req.OwnerID),
			)
			e.notify(ctx, req.OwnerID, msgNowValid(req.Identity))
			continue
		}

		if req.Expired(e.now()) {
			if _, err := e.store.RemovePending(ctx, req.Identity); err != nil {
				return report, err
			}
			e.rec.ObserveCheck(CheckExpired)
			report.Expired++
			logger.Info(ctx, component, "cycle.check",
				slog.String("status", "ok"),
				slog.String("outcome", CheckExpired),
				slog.String("vat", req.String()),
				slog.Int64("chat_id", req.OwnerID),
			)
			e.notify(ctx, req.OwnerID, msgExpired(req.Identity))
			// Expiry ends the batch; the remaining requests wait for the next cycle.
			report.Stopped = StopExpired
			return report, nil
		}

		e.rec.ObserveCheck(CheckInvalid)
		report.StillPending++
	}
	return report, nil
}

// demote parks req in the error bin and tells the owner (and optionally the admin).
// Notification failures are returned here, after the store transition committed.
func (e *Engine) demote(ctx context.Context, req vat.PendingRequest, verr *vies.Error) error {
	text := verr.Error()
	logger.Error(ctx, component, "cycle.demote",
		slog.String("status", "error"),
		slog.String("vat", req.String()),
		slog.Int64("chat_id", req.OwnerID),
		slog.String("err_code", string(verr.Kind)),
		slog.Bool("retryable", false),
		slog.String("err", text),
	)
	if _, err := e.store.DemoteToError(ctx, req, text); err != nil {
		return err
	}
	e.rec.ObserveCheck(CheckDemoted)
	e.rec.ObserveDemotion()

	if err := e.notifyStrict(ctx, req.OwnerID, msgDemoted(req.Identity)); err != nil {
		return fmt.Errorf("notify owner about demotion: %w", err)
	}
	if e.cfg.NotifyAdminOnUnrecoverable && e.cfg.AdminChatID != 0 {
		if err := e.notifyStrict(ctx, e.cfg.AdminChatID, msgAdminDemoted(req.Identity, text)); err != nil {
			return fmt.Errorf("notify admin about demotion: %w", err)
		}
	}
	return nil
}

func (e *Engine) logCycle(ctx context.Context, r CycleReport, err error) {
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Int("count", r.Total),
		slog.Int("processed", r.Processed),
		slog.Int("valid", r.Valid),
		slog.Int("expired", r.Expired),
		slog.Int("demoted", r.Demoted),
		slog.Int("pending_count", r.StillPending),
		slog.Duration("duration", r.Duration),
	}
	if r.Stopped != StopNone {
		attrs = append(attrs, slog.String("stopped", string(r.Stopped)))
	}
	if r.StopKind != "" {
		attrs = append(attrs, slog.String("err_code", string(r.StopKind)))
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", err.Error()))
		logger.Error(ctx, component, "cycle.finish", attrs...)
		return
	}
	if r.Total == 0 {
		logger.Info(ctx, component, "cycle.empty", attrs...)
		return
	}
	logger.Info(ctx, component, "cycle.finish", attrs...)
}

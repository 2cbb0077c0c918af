package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/vatwatch/core/logger"
	"github.com/m3rciful/vatwatch/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/vatwatch/core/telegram/helpers"
	"github.com/m3rciful/vatwatch/core/telegram/keyboard"
	"github.com/m3rciful/vatwatch/internal/lifecycle"
	"github.com/m3rciful/vatwatch/internal/scheduler"
	"github.com/m3rciful/vatwatch/internal/store"
	"github.com/m3rciful/vatwatch/internal/vat"

	tele "gopkg.in/telebot.v4"
)

// maxListedErrors caps the messages sent by one /errors call.
const maxListedErrors = 20

const (
	msgResolveUsage = "Usage: /resolve ERROR_ID [silent]"
	msgRmErrorUsage = "Usage: /rmerror ERROR_ID"
	msgUpdateUsage  = "Usage: /update CHAT_ID VAT_NUMBER NEW_VAT_NUMBER"
	msgNoPending    = "No VAT numbers are being monitored."
	msgNoErrors     = "No errors."
	msgCycleBusy    = "A monitoring cycle is already running."
)

func (h *Handlers) handlePending(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	list, err := h.svc.ListPending(ctx)
	if err != nil {
		return tghelpers.SendText(c, failure(ctx, "pending", err))
	}
	if len(list) == 0 {
		return tghelpers.SendText(c, msgNoPending)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d pending:\n", len(list))
	for _, p := range list {
		fmt.Fprintf(&b, "\n%s (chat %d) until %s", p, p.OwnerID, p.ExpirationDate.Format("2006-01-02"))
	}
	return tghelpers.SendText(c, b.String())
}

func (h *Handlers) handleErrors(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	list, err := h.svc.ListErrors(ctx)
	if err != nil {
		return tghelpers.SendText(c, failure(ctx, "errors", err))
	}
	if len(list) == 0 {
		return tghelpers.SendText(c, msgNoErrors)
	}
	for i, e := range list {
		if i == maxListedErrors {
			return tghelpers.SendText(c, fmt.Sprintf("%d more not shown.", len(list)-maxListedErrors))
		}
		if err := tghelpers.SendText(c, formatError(e), &tele.SendOptions{ReplyMarkup: errorButtons(e.ID)}); err != nil {
			return err
		}
	}
	return nil
}

func formatError(e vat.ErroredRequest) string {
	return fmt.Sprintf("%s (chat %d)\nid: %s\nat: %s\n%s",
		e.Identity, e.OwnerID, e.ID, e.CreatedAt.Format("2006-01-02 15:04"), e.ErrorText)
}

func errorButtons(id string) *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "✅ Resolve", Unique: CallbackResolveError, Data: id},
		{Text: "🗑 Remove", Unique: CallbackRemoveError, Data: id},
	})
}

func (h *Handlers) handleResolve(c tele.Context) error {
	a := args(c)
	if len(a) == 0 || len(a) > 2 {
		return tghelpers.SendText(c, msgResolveUsage)
	}
	return tghelpers.SendText(c, h.resolve(c, a[0], len(a) == 2 && isSilent(a[1])))
}

func (h *Handlers) handleResolveCallback(c tele.Context) error {
	return tghelpers.SendText(c, h.resolve(c, callbacks.CallbackPayload(c), false))
}

func (h *Handlers) resolve(c tele.Context, id string, silent bool) string {
	ctx := tghelpers.BuildContext(c)
	res, err := h.svc.ResolveError(ctx, id, silent)
	if errors.Is(err, lifecycle.ErrMissingErrorID) {
		return msgResolveUsage
	}
	if err != nil {
		return failure(ctx, "resolve", err)
	}
	switch res.Outcome {
	case vat.ResolveErrorResolved:
		return fmt.Sprintf("Error '%s' resolved. Other errors remain for this VAT number.", id)
	case vat.ResolveAllResolved:
		return fmt.Sprintf("Error '%s' resolved. The VAT number is already monitored.", id)
	case vat.ResolveAllResolvedAndResumed:
		return fmt.Sprintf("Error '%s' resolved. Monitoring resumed.", id)
	}
	return fmt.Sprintf("Error '%s' not found.", id)
}

func (h *Handlers) handleResolveAll(c tele.Context) error {
	a := args(c)
	silent := len(a) > 0 && isSilent(a[0])
	ctx := tghelpers.BuildContext(c)
	sum, err := h.svc.ResolveAllErrors(ctx, silent)
	if err != nil && sum.Total == 0 && sum.Failed == 0 {
		return tghelpers.SendText(c, failure(ctx, "resolve_all", err))
	}
	text := fmt.Sprintf("Resolved %d error(s); monitoring resumed for %d VAT number(s).",
		sum.Total, sum.Outcomes[vat.ResolveAllResolvedAndResumed])
	if sum.Failed > 0 {
		logger.Warn(ctx, "tg", "resolve_all",
			slog.String("status", "fail"),
			slog.Int("failed", sum.Failed),
			slog.Any("err", err),
		)
		text += fmt.Sprintf(" %d could not be resolved, try again later.", sum.Failed)
	}
	return tghelpers.SendText(c, text)
}

func (h *Handlers) handleRemoveError(c tele.Context) error {
	a := args(c)
	if len(a) != 1 {
		return tghelpers.SendText(c, msgRmErrorUsage)
	}
	return tghelpers.SendText(c, h.removeError(c, a[0]))
}

func (h *Handlers) handleRemoveCallback(c tele.Context) error {
	return tghelpers.SendText(c, h.removeError(c, callbacks.CallbackPayload(c)))
}

func (h *Handlers) removeError(c tele.Context, id string) string {
	ctx := tghelpers.BuildContext(c)
	removed, err := h.svc.RemoveError(ctx, id)
	if errors.Is(err, lifecycle.ErrMissingErrorID) {
		return msgRmErrorUsage
	}
	if err != nil {
		return failure(ctx, "remove_error", err)
	}
	if !removed {
		return fmt.Sprintf("Error '%s' not found.", id)
	}
	return fmt.Sprintf("Error '%s' removed.", id)
}

func (h *Handlers) handleUpdate(c tele.Context) error {
	a := args(c)
	if len(a) != 3 {
		return tghelpers.SendText(c, msgUpdateUsage)
	}
	chatID, err := strconv.ParseInt(a[0], 10, 64)
	if err != nil || chatID == 0 {
		return tghelpers.SendText(c, msgUpdateUsage)
	}

	ctx := tghelpers.BuildContext(c)
	out, err := h.svc.UpdateIdentity(ctx, chatID, a[1], a[2])
	switch {
	case errors.Is(err, store.ErrIdentityTaken):
		return tghelpers.SendText(c, fmt.Sprintf("VAT number '%s' is already monitored for chat %d.", a[2], chatID))
	case err != nil:
		return tghelpers.SendText(c, failure(ctx, "update", err))
	case out == lifecycle.UpdateNoop:
		return tghelpers.SendText(c, "Nothing to update.")
	case out == lifecycle.UpdateNotFound:
		return tghelpers.SendText(c, fmt.Sprintf("VAT number '%s' is not monitored for chat %d.", a[1], chatID))
	}
	return tghelpers.SendText(c, fmt.Sprintf("Updated '%s' to '%s' for chat %d.", a[1], a[2], chatID))
}

func (h *Handlers) handleRunCycle(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	rep, err := h.cycles.Trigger(ctx)
	if errors.Is(err, scheduler.ErrCycleInProgress) {
		return tghelpers.SendText(c, msgCycleBusy)
	}
	if err != nil {
		return tghelpers.SendText(c, failure(ctx, "run_cycle", err))
	}
	return tghelpers.SendText(c, formatReport(rep))
}

func formatReport(r lifecycle.CycleReport) string {
	s := fmt.Sprintf("Cycle finished: processed %d of %d (valid %d, expired %d, demoted %d).",
		r.Processed, r.Total, r.Valid, r.Expired, r.Demoted)
	switch r.Stopped {
	case lifecycle.StopExpired:
		s += " Stopped at an expired number."
	case lifecycle.StopRecoverable:
		s += fmt.Sprintf(" Stopped on a VIES error (%s).", r.StopKind)
	case lifecycle.StopCancelled:
		s += " Interrupted by shutdown."
	}
	return s
}

func isSilent(arg string) bool {
	switch strings.ToLower(arg) {
	case "silent", "true", "1", "yes":
		return true
	}
	return false
}

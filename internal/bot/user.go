package bot

import (
	tghelpers "github.com/m3rciful/vatwatch/core/telegram/helpers"
	"github.com/m3rciful/vatwatch/internal/lifecycle"

	tele "gopkg.in/telebot.v4"
)

const (
	msgHelp = "I watch VAT numbers in the EU VIES registry and tell you when they become valid.\n\n" +
		"/check VAT_NUMBER - check a number now and keep monitoring it while it is invalid\n" +
		"/uncheck VAT_NUMBER - stop monitoring a number\n" +
		"/uncheckall - stop monitoring all your numbers\n" +
		"/list - show the numbers you monitor\n\n" +
		"VAT numbers start with the country code, e.g. PL1234567890."
	msgCheckUsage    = "Please provide a single VAT number prefixed by country code: /check VAT_NUMBER (example: /check PL1234567890)."
	msgUncheckUsage  = "Please provide a single VAT number prefixed by country code: /uncheck VAT_NUMBER (example: /uncheck PL1234567890)."
	msgTooShort      = "VAT number is in invalid format (expected at least 3 symbols)."
	msgMissingNumber = "Missing VAT number."
	msgMissingChat   = "Missing Telegram Chat ID"
	msgNotAllowed    = "This command is only available to the administrator."
)

func (h *Handlers) handleHelp(c tele.Context) error {
	return tghelpers.SendText(c, msgHelp)
}

func (h *Handlers) handleCheck(c tele.Context) error {
	a := args(c)
	if len(a) != 1 {
		return tghelpers.SendText(c, msgCheckUsage)
	}
	ctx := tghelpers.BuildContext(c)
	res, err := h.svc.Submit(ctx, ownerID(c), a[0])
	if err != nil {
		return tghelpers.SendText(c, failure(ctx, "check", err))
	}
	return tghelpers.SendText(c, res.Message)
}

func (h *Handlers) handleUncheck(c tele.Context) error {
	a := args(c)
	if len(a) != 1 {
		return tghelpers.SendText(c, msgUncheckUsage)
	}
	ctx := tghelpers.BuildContext(c)
	id, _, err := h.svc.Remove(ctx, ownerID(c), a[0])
	if err != nil {
		return tghelpers.SendText(c, failure(ctx, "uncheck", err))
	}
	return tghelpers.SendText(c, lifecycle.RemovedMessage(id))
}

func (h *Handlers) handleUncheckAll(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	if _, err := h.svc.RemoveAll(ctx, ownerID(c)); err != nil {
		return tghelpers.SendText(c, failure(ctx, "uncheck_all", err))
	}
	return tghelpers.SendText(c, lifecycle.RemovedAllMessage())
}

func (h *Handlers) handleList(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	list, err := h.svc.ListOwned(ctx, ownerID(c))
	if err != nil {
		return tghelpers.SendText(c, failure(ctx, "list", err))
	}
	return tghelpers.SendText(c, lifecycle.FormatOwned(list))
}

// Package bot wires the vatwatch Telegram commands into the bot registry.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/m3rciful/vatwatch/core/logger"
	tg "github.com/m3rciful/vatwatch/core/telegram"
	"github.com/m3rciful/vatwatch/core/telegram/commands"
	tghelpers "github.com/m3rciful/vatwatch/core/telegram/helpers"
	"github.com/m3rciful/vatwatch/core/telegram/middleware"
	"github.com/m3rciful/vatwatch/internal/lifecycle"
	"github.com/m3rciful/vatwatch/internal/vat"

	tele "gopkg.in/telebot.v4"
)

// Service is the lifecycle engine as seen by the bot.
type Service interface {
	Submit(ctx context.Context, ownerID int64, raw string) (lifecycle.SubmitResult, error)
	Remove(ctx context.Context, ownerID int64, raw string) (vat.Identity, bool, error)
	RemoveAll(ctx context.Context, ownerID int64) (bool, error)
	ListOwned(ctx context.Context, ownerID int64) ([]vat.PendingRequest, error)

	ListPending(ctx context.Context) ([]vat.PendingRequest, error)
	ListErrors(ctx context.Context) ([]vat.ErroredRequest, error)
	ResolveError(ctx context.Context, errorID string, silent bool) (vat.ResolveResult, error)
	ResolveAllErrors(ctx context.Context, silent bool) (lifecycle.ResolveSummary, error)
	RemoveError(ctx context.Context, errorID string) (bool, error)
	UpdateIdentity(ctx context.Context, ownerID int64, rawOld, rawNew string) (lifecycle.UpdateOutcome, error)
}

// CycleTrigger runs a monitoring cycle on demand.
type CycleTrigger interface {
	Trigger(ctx context.Context) (lifecycle.CycleReport, error)
}

// Callback keys of the inline buttons under /errors.
const (
	CallbackResolveError = "err_resolve"
	CallbackRemoveError  = "err_remove"
)

// Handlers implements the bot commands.
type Handlers struct {
	svc    Service
	cycles CycleTrigger
	admin  middleware.AdminOptions
}

// New creates the command handlers. cycles may be nil, which hides /runcycle.
func New(svc Service, cycles CycleTrigger, adminID int64) *Handlers {
	return &Handlers{
		svc:    svc,
		cycles: cycles,
		admin: middleware.AdminOptions{
			AdminID:  adminID,
			OnReject: func(c tele.Context) error { return tghelpers.SendText(c, msgNotAllowed) },
		},
	}
}

// AdminOptions returns the admin check used for commands and callbacks.
func (h *Handlers) AdminOptions() middleware.AdminOptions { return h.admin }

// Register adds every command and callback to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	user := map[string]commands.Command{
		"/start":      {Handler: h.handleHelp, Description: "Start", Hidden: true},
		"/help":       {Handler: h.handleHelp, Description: "How to use the bot"},
		"/check":      {Handler: h.handleCheck, Description: "Check a VAT number and monitor it until it is valid"},
		"/uncheck":    {Handler: h.handleUncheck, Description: "Stop monitoring a VAT number"},
		"/uncheckall": {Handler: h.handleUncheckAll, Description: "Stop monitoring all your VAT numbers"},
		"/list":       {Handler: h.handleList, Description: "List the VAT numbers you monitor"},
	}
	admin := map[string]commands.Command{
		"/pending":    {Handler: h.handlePending, Description: "List all pending VAT numbers"},
		"/errors":     {Handler: h.handleErrors, Description: "List monitoring errors"},
		"/resolve":    {Handler: h.handleResolve, Description: "Resolve an error: /resolve ID [silent]"},
		"/resolveall": {Handler: h.handleResolveAll, Description: "Resolve all errors: /resolveall [silent]"},
		"/rmerror":    {Handler: h.handleRemoveError, Description: "Remove an error without resuming: /rmerror ID"},
		"/update":     {Handler: h.handleUpdate, Description: "Correct a number: /update CHAT VAT NEW_VAT"},
	}
	if h.cycles != nil {
		admin["/runcycle"] = commands.Command{Handler: h.handleRunCycle, Description: "Run a monitoring cycle now"}
	}

	for name, cmd := range user {
		if err := reg.RegisterCommand(name, cmd); err != nil {
			return err
		}
	}
	for name, cmd := range admin {
		cmd.AdminOnly = true
		if err := reg.RegisterCommand(name, cmd); err != nil {
			return err
		}
	}

	adminOnly := middleware.AdminOnlyMiddleware(h.admin)
	if err := reg.RegisterCallback(CallbackResolveError, adminOnly(h.handleResolveCallback)); err != nil {
		return err
	}
	if err := reg.RegisterCallback(CallbackRemoveError, adminOnly(h.handleRemoveCallback)); err != nil {
		return err
	}
	reg.SetTextFallback(h.handleHelp)
	return nil
}

// ownerID is the chat the update came from; notifications go back to it.
func ownerID(c tele.Context) int64 {
	if chat := c.Chat(); chat != nil {
		return chat.ID
	}
	if s := c.Sender(); s != nil {
		return s.ID
	}
	return 0
}

func args(c tele.Context) []string {
	out := make([]string, 0, len(c.Args()))
	for _, a := range c.Args() {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// failure turns an engine error into the reply for the user.
func failure(ctx context.Context, op string, err error) string {
	switch {
	case errors.Is(err, vat.ErrNumberTooShort):
		return msgTooShort
	case errors.Is(err, vat.ErrMissingNumber):
		return msgMissingNumber
	case errors.Is(err, vat.ErrMissingOwner):
		return msgMissingChat
	}
	logger.Error(ctx, "tg", "command_failed",
		slog.String("op", op),
		slog.String("status", logger.Status(err)),
		slog.String("err", err.Error()),
	)
	return lifecycle.TechnicalDifficulties()
}

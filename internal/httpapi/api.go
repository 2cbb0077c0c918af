package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/m3rciful/vatwatch/core/logger"
	"github.com/m3rciful/vatwatch/internal/lifecycle"
	"github.com/m3rciful/vatwatch/internal/vat"
)

// UserService is the part of the lifecycle engine exposed to end users.
type UserService interface {
	Submit(ctx context.Context, ownerID int64, raw string) (lifecycle.SubmitResult, error)
	Remove(ctx context.Context, ownerID int64, raw string) (vat.Identity, bool, error)
	RemoveAll(ctx context.Context, ownerID int64) (bool, error)
	ListOwned(ctx context.Context, ownerID int64) ([]vat.PendingRequest, error)
}

// APIHandler serves /api: check, uncheck, uncheckAll and list.
type APIHandler struct {
	users UserService
	token string
}

// NewAPIHandler creates the user API handler guarded by token.
func NewAPIHandler(users UserService, token string) *APIHandler {
	return &APIHandler{users: users, token: token}
}

// Register mounts the user routes under /api.
func (h *APIHandler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(requireToken(h.token, "code", "X-Api-Key"))
	api.Post("/check", h.handleCheck)
	api.Post("/uncheck", h.handleUncheck)
	api.Post("/uncheckAll", h.handleUncheckAll)
	api.Get("/list", h.handleList)
	api.Post("/list", h.handleList)
	api.HandleFunc("/*", func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusBadRequest,
			"Missing or invalid action (should be one of the following: check, uncheck, uncheckAll, list)")
	})

	r.Mount("/api", api)
}

func (h *APIHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, raw, ok := userArgs(w, r, true)
	if !ok {
		return
	}

	res, err := h.users.Submit(ctx, owner, raw)
	if err != nil {
		h.fail(ctx, w, "check", err)
		return
	}
	switch {
	case res.Status.ClientError():
		writeFailure(w, http.StatusBadRequest, res.Message)
	case res.Status.Failed():
		writeFailure(w, http.StatusInternalServerError, res.Message)
	default:
		writeOK(w, res.Message)
	}
}

func (h *APIHandler) handleUncheck(w http.ResponseWriter, r *http.Request) {
	owner, raw, ok := userArgs(w, r, true)
	if !ok {
		return
	}
	id, _, err := h.users.Remove(r.Context(), owner, raw)
	if err != nil {
		h.fail(r.Context(), w, "uncheck", err)
		return
	}
	writeOK(w, lifecycle.RemovedMessage(id))
}

func (h *APIHandler) handleUncheckAll(w http.ResponseWriter, r *http.Request) {
	owner, _, ok := userArgs(w, r, false)
	if !ok {
		return
	}
	if _, err := h.users.RemoveAll(r.Context(), owner); err != nil {
		h.fail(r.Context(), w, "uncheck_all", err)
		return
	}
	writeOK(w, lifecycle.RemovedAllMessage())
}

func (h *APIHandler) handleList(w http.ResponseWriter, r *http.Request) {
	owner, _, ok := userArgs(w, r, false)
	if !ok {
		return
	}
	list, err := h.users.ListOwned(r.Context(), owner)
	if err != nil {
		h.fail(r.Context(), w, "list", err)
		return
	}
	writeOK(w, lifecycle.FormatOwned(list))
}

// userArgs extracts the chat id and, when withNumber is set, the raw VAT string.
// It writes the 400 reply itself and reports false on bad input.
func userArgs(w http.ResponseWriter, r *http.Request, withNumber bool) (int64, string, bool) {
	p, err := readParams(r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body.")
		return 0, "", false
	}
	owner, err := p.chatID()
	if err != nil {
		writeFailure(w, http.StatusBadRequest, validationMessage(err))
		return 0, "", false
	}
	if owner == 0 {
		writeFailure(w, http.StatusBadRequest, validationMessage(vat.ErrMissingOwner))
		return 0, "", false
	}
	if !withNumber {
		return owner, "", true
	}
	raw := p.str("vatNumber")
	if _, _, err := vat.ParseNumber(raw); err != nil {
		writeFailure(w, http.StatusBadRequest, validationMessage(err))
		return 0, "", false
	}
	return owner, raw, true
}

func (h *APIHandler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if vat.IsValidationError(err) {
		writeFailure(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	logger.Error(ctx, "http", "api_failed",
		slog.String("op", op),
		slog.String("status", logger.Status(err)),
		slog.String("err", err.Error()),
	)
	writeFailure(w, http.StatusInternalServerError, lifecycle.TechnicalDifficulties())
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, vat.ErrMissingOwner):
		return "Missing Telegram Chat ID"
	case errors.Is(err, errBadChatID):
		return "Telegram Chat ID must be a number."
	case errors.Is(err, vat.ErrMissingNumber):
		return "Missing VAT number."
	case errors.Is(err, vat.ErrNumberTooShort):
		return "VAT number is in invalid format (expected at least 3 symbols)."
	}
	return err.Error()
}

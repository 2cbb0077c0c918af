package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/m3rciful/vatwatch/core/logger"
	"github.com/m3rciful/vatwatch/internal/lifecycle"
	"github.com/m3rciful/vatwatch/internal/scheduler"
	"github.com/m3rciful/vatwatch/internal/store"
	"github.com/m3rciful/vatwatch/internal/vat"
)

// AdminService is the operator surface of the lifecycle engine.
type AdminService interface {
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

// AdminHandler serves /admin.
type AdminHandler struct {
	admin  AdminService
	cycles CycleTrigger
	token  string
}

// NewAdminHandler creates the admin handler. cycles may be nil, which disables runCycle.
func NewAdminHandler(admin AdminService, cycles CycleTrigger, token string) *AdminHandler {
	return &AdminHandler{admin: admin, cycles: cycles, token: token}
}

// Register mounts the admin routes under /admin.
func (h *AdminHandler) Register(r chi.Router) {
	adm := chi.NewRouter()
	adm.Use(requireToken(h.token, "code", "X-Admin-Token"))
	adm.Get("/list", h.handleList)
	adm.Get("/listErrors", h.handleListErrors)
	adm.Post("/resolveError", h.handleResolveError)
	adm.Post("/resolveAllErrors", h.handleResolveAllErrors)
	adm.Post("/removeError", h.handleRemoveError)
	adm.Post("/update", h.handleUpdate)
	if h.cycles != nil {
		adm.Post("/runCycle", h.handleRunCycle)
	}

	r.Mount("/admin", adm)
}

func (h *AdminHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.admin.ListPending(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "list", err)
		return
	}
	if list == nil {
		list = []vat.PendingRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) handleListErrors(w http.ResponseWriter, r *http.Request) {
	list, err := h.admin.ListErrors(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "list_errors", err)
		return
	}
	if list == nil {
		list = []vat.ErroredRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) handleResolveError(w http.ResponseWriter, r *http.Request) {
	p, ok := adminParams(w, r)
	if !ok {
		return
	}
	id := p.str("errorId")
	if id == "" {
		writeText(w, http.StatusBadRequest, "Missing VAT Request Error ID")
		return
	}

	res, err := h.admin.ResolveError(r.Context(), id, p.flag("silent"))
	if err != nil {
		h.fail(r.Context(), w, "resolve_error", err)
		return
	}
	if !res.Outcome.Found() {
		writeText(w, http.StatusNotFound, fmt.Sprintf("VAT Request Error with id '%s' not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) handleResolveAllErrors(w http.ResponseWriter, r *http.Request) {
	p, ok := adminParams(w, r)
	if !ok {
		return
	}
	if _, err := h.admin.ResolveAllErrors(r.Context(), p.flag("silent")); err != nil {
		h.fail(r.Context(), w, "resolve_all_errors", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) handleRemoveError(w http.ResponseWriter, r *http.Request) {
	p, ok := adminParams(w, r)
	if !ok {
		return
	}
	id := p.str("errorId")
	if id == "" {
		writeText(w, http.StatusBadRequest, "Missing VAT Request Error ID")
		return
	}

	removed, err := h.admin.RemoveError(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "remove_error", err)
		return
	}
	if !removed {
		writeText(w, http.StatusNotFound, fmt.Sprintf("VAT Request Error with id '%s' not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := adminParams(w, r)
	if !ok {
		return
	}
	owner, err := p.chatID()
	if err != nil {
		writeText(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	oldNum, newNum := p.str("vatNumber"), p.str("newVatNumber")
	switch {
	case owner == 0:
		writeText(w, http.StatusBadRequest, "Missing Telegram Chat ID")
		return
	case oldNum == "":
		writeText(w, http.StatusBadRequest, "Missing VAT Number")
		return
	case newNum == "":
		writeText(w, http.StatusBadRequest, "Missing new VAT Number")
		return
	}

	out, err := h.admin.UpdateIdentity(r.Context(), owner, oldNum, newNum)
	switch {
	case vat.IsValidationError(err):
		writeText(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, store.ErrIdentityTaken):
		writeText(w, http.StatusConflict, fmt.Sprintf("VAT number '%s' is already monitored for Telegram Chat ID '%d'.", newNum, owner))
	case err != nil:
		h.fail(r.Context(), w, "update", err)
	case out == lifecycle.UpdateNotFound:
		writeText(w, http.StatusNotFound, fmt.Sprintf("VAT Request with number '%s' and Telegram Chat ID '%d' not found.", oldNum, owner))
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// cycleBody is the JSON view of a cycle report.
type cycleBody struct {
	Total        int    `json:"total"`
	Processed    int    `json:"processed"`
	Valid        int    `json:"valid"`
	Expired      int    `json:"expired"`
	Demoted      int    `json:"demoted"`
	StillPending int    `json:"stillPending"`
	Stopped      string `json:"stopped,omitempty"`
	StopKind     string `json:"stopKind,omitempty"`
	DurationMS   int64  `json:"durationMs"`
}

func (h *AdminHandler) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	rep, err := h.cycles.Trigger(r.Context())
	if errors.Is(err, scheduler.ErrCycleInProgress) {
		writeText(w, http.StatusConflict, "A monitoring cycle is already running.")
		return
	}
	if err != nil {
		h.fail(r.Context(), w, "run_cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, cycleBody{
		Total:        rep.Total,
		Processed:    rep.Processed,
		Valid:        rep.Valid,
		Expired:      rep.Expired,
		Demoted:      rep.Demoted,
		StillPending: rep.StillPending,
		Stopped:      string(rep.Stopped),
		StopKind:     string(rep.StopKind),
		DurationMS:   rep.Duration.Milliseconds(),
	})
}

func adminParams(w http.ResponseWriter, r *http.Request) (params, bool) {
	p, err := readParams(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid request body.")
		return p, false
	}
	return p, true
}

func (h *AdminHandler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	logger.Error(ctx, "http", "admin_failed",
		slog.String("op", op),
		slog.String("status", logger.Status(err)),
		slog.String("err", err.Error()),
	)
	writeText(w, http.StatusInternalServerError, "Internal error")
}

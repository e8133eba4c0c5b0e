package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tavern-panel/panel/internal/rbac"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/view"
)

// LedgerService is the behaviour the handler needs.
type LedgerService interface {
	Record(ctx context.Context, in RecordInput) (Transaction, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter ListFilter) ([]Transaction, int, error)
	Summary(ctx context.Context, weekID *int64) (Summary, error)
	ActiveWeekID(ctx context.Context) (*int64, error)
}

// Handler serves the ledger pages.
type Handler struct {
	logger    *slog.Logger
	service   LedgerService
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler builds a ledger Handler.
func NewHandler(logger *slog.Logger, service LedgerService, templates *view.Engine, csrf *shared.CSRFManager, rbacMW rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbacMW}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermLedgerManage))
		r.Get("/", h.list)
		r.Post("/", h.record)
		r.Post("/{id}/delete", h.delete)
	})
}

// list accepts ?week=active|all|<id>, ?kind= and ?page=.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	filter := ListFilter{Page: page, PerPage: 25}
	if kind, ok := ParseKind(q.Get("kind")); ok {
		filter.Kind = kind
	}

	scope := strings.TrimSpace(q.Get("week"))
	switch scope {
	case "", "active":
		scope = "active"
		active, err := h.service.ActiveWeekID(r.Context())
		if err != nil {
			h.serverError(w, "active week", err)
			return
		}
		filter.WeekID = active
	case "all":
	default:
		id, err := strconv.ParseInt(scope, 10, 64)
		if err != nil {
			http.Error(w, "Semaine invalide", http.StatusBadRequest)
			return
		}
		filter.WeekID = &id
	}

	txs, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.serverError(w, "list transactions", err)
		return
	}
	summary, err := h.service.Summary(r.Context(), filter.WeekID)
	if err != nil {
		h.serverError(w, "ledger summary", err)
		return
	}
	h.render(w, r, "pages/ledger/index.html", map[string]any{
		"Transactions": txs,
		"Summary":      summary,
		"Pagination":   shared.NewPagination(filter.Page, filter.PerPage, total),
		"Scope":        scope,
		"Kind":         string(filter.Kind),
		"Categories":   SuggestedCategories,
	}, http.StatusOK)
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	kind, _ := ParseKind(r.PostFormValue("kind"))
	amount, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(r.PostFormValue("amount")), ",", "."), 64)
	if err != nil {
		h.redirectWithFlash(w, r, "/ledger", "error", "Montant invalide")
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	_, err = h.service.Record(r.Context(), RecordInput{
		Kind:        kind,
		Category:    r.PostFormValue("category"),
		Amount:      amount,
		Description: r.PostFormValue("description"),
		ActorID:     id.ID,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			h.logger.Warn("record transaction", slog.Any("error", err))
		} else {
			h.logger.Error("record transaction", slog.Any("error", err))
		}
		h.redirectWithFlash(w, r, "/ledger", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/ledger", "success", "Transaction enregistrée")
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Transaction invalide", http.StatusBadRequest)
		return
	}
	switch err := h.service.Delete(r.Context(), id); {
	case errors.Is(err, ErrNotFound):
		h.redirectWithFlash(w, r, "/ledger", "error", "Transaction introuvable")
	case errors.Is(err, ErrLocked):
		h.redirectWithFlash(w, r, "/ledger", "error", "Cette transaction appartient à une semaine clôturée")
	case err != nil:
		h.logger.Error("delete transaction", slog.Any("error", err), slog.Int64("id", id))
		h.redirectWithFlash(w, r, "/ledger", "error", shared.UserSafeMessage(err))
	default:
		h.redirectWithFlash(w, r, "/ledger", "success", "Transaction supprimée")
	}
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Comptabilité",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        rbac.CurrentUser(r.Context()),
		Data:        data,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err), slog.String("template", template))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

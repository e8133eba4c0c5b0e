package weeks

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tavern-panel/panel/internal/platform/httpx"
	"github.com/tavern-panel/panel/internal/rbac"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/view"
)

const perPage = 15

// WeekService is the behaviour the handler needs.
type WeekService interface {
	Active(ctx context.Context) (Week, error)
	Preview(ctx context.Context) (Preview, error)
	Refresh(ctx context.Context, weekID int64) (Week, error)
	Finalize(ctx context.Context, in FinalizeInput) (FinalizeResult, error)
	List(ctx context.Context, limit, offset int) ([]Week, int, error)
	Get(ctx context.Context, id int64) (Week, error)
	Performance(ctx context.Context, weekID int64) ([]Performance, error)
}

// Handler serves the week pages and the active-week JSON endpoint.
type Handler struct {
	logger    *slog.Logger
	service   WeekService
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler builds a weeks Handler.
func NewHandler(logger *slog.Logger, service WeekService, templates *view.Engine, csrf *shared.CSRFManager, rbacMW rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbacMW}
}

// MountRoutes registers /weeks routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermWeeksView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermWeeksManage))
		r.Post("/refresh", h.refresh)
		r.Post("/finalize", h.finalize)
	})
}

// MountAPI registers the JSON endpoints under /api/weeks.
func (h *Handler) MountAPI(r chi.Router) {
	r.With(h.rbac.RequireAny(rbac.PermPanelView)).Get("/active", h.apiActive)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	weeks, total, err := h.service.List(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		h.serverError(w, "list weeks", err)
		return
	}
	data := map[string]any{
		"Weeks":      weeks,
		"Pagination": shared.NewPagination(page, perPage, total),
	}
	preview, err := h.service.Preview(r.Context())
	switch {
	case err == nil:
		data["Preview"] = preview
	case errors.Is(err, ErrNoActiveWeek):
	default:
		h.serverError(w, "preview week", err)
		return
	}
	h.render(w, r, "pages/weeks/list.html", "Semaines", data, http.StatusOK)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Semaine invalide", http.StatusBadRequest)
		return
	}
	week, err := h.service.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.serverError(w, "get week", err)
		return
	}
	rows, err := h.service.Performance(r.Context(), id)
	if err != nil {
		h.serverError(w, "week performance", err)
		return
	}
	h.render(w, r, "pages/weeks/show.html", week.Label(), map[string]any{
		"Week":        week,
		"Performance": rows,
	}, http.StatusOK)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	week, err := h.service.Active(r.Context())
	if err == nil {
		week, err = h.service.Refresh(r.Context(), week.ID)
	}
	switch {
	case errors.Is(err, ErrNoActiveWeek):
		h.redirectWithFlash(w, r, "/weeks", "error", "Aucune semaine active")
	case errors.Is(err, ErrWeekFinalized):
		h.redirectWithFlash(w, r, "/weeks", "error", "Cette semaine est déjà clôturée")
	case err != nil:
		h.logger.Error("refresh week", slog.Any("error", err))
		h.redirectWithFlash(w, r, "/weeks", "error", shared.UserSafeMessage(err))
	default:
		h.redirectWithFlash(w, r, "/weeks", "success", week.Label()+" recalculée")
	}
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if r.PostFormValue("confirm") != "yes" {
		h.redirectWithFlash(w, r, "/weeks", "error", "Confirmez la clôture de la semaine")
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	res, err := h.service.Finalize(r.Context(), FinalizeInput{
		ActorID: id.ID,
		Today:   time.Now(),
		Notes:   strings.TrimSpace(r.PostFormValue("notes")),
	})
	switch {
	case errors.Is(err, ErrNoActiveWeek):
		h.redirectWithFlash(w, r, "/weeks", "error", "Aucune semaine active")
	case errors.Is(err, ErrActorRequired):
		h.redirectWithFlash(w, r, "/weeks", "error", "Session invalide, reconnectez-vous")
	case err != nil:
		h.logger.Error("finalize week", slog.Any("error", err), slog.Int64("actor", id.ID))
		h.redirectWithFlash(w, r, "/weeks", "error", "La clôture a échoué, aucune modification n'a été enregistrée")
	default:
		h.logger.Info("week rollover", slog.Int64("actor", id.ID), slog.Int("week", res.Finalized.Number))
		h.redirectWithFlash(w, r, "/weeks/"+strconv.FormatInt(res.Finalized.ID, 10), "success",
			res.Finalized.Label()+" clôturée, "+res.Next.Label()+" ouverte")
	}
}

type activeWeekJSON struct {
	ID            int64   `json:"id"`
	Number        int     `json:"number"`
	Start         string  `json:"start"`
	End           string  `json:"end"`
	SalesCount    int     `json:"sales_count"`
	CleaningCount int     `json:"cleaning_count"`
	Revenue       float64 `json:"revenue"`
	Commissions   float64 `json:"commissions"`
	ProjectedTax  float64 `json:"projected_tax"`
	ProjectedNet  float64 `json:"projected_net"`
	EffectiveRate float64 `json:"effective_rate"`
}

func (h *Handler) apiActive(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Preview(r.Context())
	if errors.Is(err, ErrNoActiveWeek) {
		httpx.RespondError(w, httpx.Mark(err, httpx.ErrNotFound))
		return
	}
	if err != nil {
		h.logger.Error("api active week", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, activeWeekJSON{
		ID:            p.Week.ID,
		Number:        p.Week.Number,
		Start:         p.Week.Start.Format(time.DateOnly),
		End:           p.Week.End.Format(time.DateOnly),
		SalesCount:    p.Totals.SalesCount,
		CleaningCount: p.Totals.CleaningCount,
		Revenue:       p.Totals.Revenue,
		Commissions:   p.Totals.Commissions,
		ProjectedTax:  p.Tax.Total,
		ProjectedNet:  p.Net,
		EffectiveRate: p.Tax.EffectiveRate,
	})
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
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

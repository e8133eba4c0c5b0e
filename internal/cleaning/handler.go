package cleaning

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tavern-panel/panel/internal/rbac"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/view"
	"github.com/tavern-panel/panel/internal/weeks"
)

// CleaningService is the behaviour the handler needs.
type CleaningService interface {
	Start(ctx context.Context, userID int64, now time.Time) (Session, error)
	Finish(ctx context.Context, in FinishInput) (Session, error)
	Current(ctx context.Context, userID int64) (Session, error)
	List(ctx context.Context, filter ListFilter) ([]Session, int, error)
	Totals(ctx context.Context, filter ListFilter) (Totals, error)
	ActiveWeekID(ctx context.Context) (int64, error)
}

// Handler serves the cleaning pages.
type Handler struct {
	logger    *slog.Logger
	service   CleaningService
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
	now       func() time.Time
}

// NewHandler builds a cleaning Handler.
func NewHandler(logger *slog.Logger, service CleaningService, templates *view.Engine, csrf *shared.CSRFManager, rbacMW rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbacMW, now: time.Now}
}

// MountRoutes registers /cleaning routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermCleaningRecord))
		r.Get("/", h.index)
		r.Post("/start", h.start)
		r.Post("/{id}/finish", h.finish)
	})
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	user := rbac.CurrentUser(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	filter := ListFilter{Page: page, PerPage: 20}

	weekID, err := h.service.ActiveWeekID(r.Context())
	switch {
	case err == nil:
		filter.WeekID = &weekID
	case errors.Is(err, weeks.ErrNoActiveWeek):
	default:
		h.serverError(w, "active week", err)
		return
	}
	everyone := user.Can(rbac.PermWeeksView) && r.URL.Query().Get("scope") == "all"
	if !everyone {
		uid := id.ID
		filter.UserID = &uid
	}

	data := map[string]any{"Everyone": everyone, "CanSeeAll": user.Can(rbac.PermWeeksView), "Now": h.now()}
	current, err := h.service.Current(r.Context(), id.ID)
	switch {
	case err == nil:
		data["Current"] = current
	case errors.Is(err, ErrNotFound):
	default:
		h.serverError(w, "current cleaning", err)
		return
	}
	list, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.serverError(w, "list cleaning", err)
		return
	}
	totals, err := h.service.Totals(r.Context(), filter)
	if err != nil {
		h.serverError(w, "cleaning totals", err)
		return
	}
	data["Sessions"] = list
	data["Totals"] = totals
	data["Pagination"] = shared.NewPagination(filter.Page, filter.PerPage, total)
	data["MaxServices"] = MaxServices
	h.render(w, r, "pages/cleaning/index.html", data, http.StatusOK)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	if _, err := h.service.Start(r.Context(), id.ID, h.now()); err != nil {
		h.logFailure("start cleaning", err)
		h.redirectWithFlash(w, r, "/cleaning", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/cleaning", "success", "Ménage démarré")
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Session invalide", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	count, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("service_count")))
	if err != nil {
		h.redirectWithFlash(w, r, "/cleaning", "error", "Nombre de ménages invalide")
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	sess, err := h.service.Finish(r.Context(), FinishInput{SessionID: sessionID, UserID: id.ID, ServiceCount: count, Now: h.now()})
	if err != nil {
		h.logFailure("finish cleaning", err)
		h.redirectWithFlash(w, r, "/cleaning", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/cleaning", "success",
		"Ménage terminé : "+strconv.Itoa(sess.ServiceCount)+" service(s), "+strconv.FormatFloat(sess.Revenue, 'f', 2, 64))
}

func (h *Handler) logFailure(op string, err error) {
	var ue *shared.UserError
	if errors.As(err, &ue) {
		h.logger.Warn(op, slog.Any("error", err))
		return
	}
	h.logger.Error(op, slog.Any("error", err))
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
		Title:       "Ménage",
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

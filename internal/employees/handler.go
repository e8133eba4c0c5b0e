package employees

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/rbac"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/view"
)

// EmployeeService is the behaviour the handler needs.
type EmployeeService interface {
	List(ctx context.Context, filter ListFilter) ([]Employee, int, error)
	Get(ctx context.Context, id int64) (Employee, error)
	Create(ctx context.Context, in CreateInput) (Employee, error)
	Update(ctx context.Context, in UpdateInput) error
	SetActive(ctx context.Context, id int64, active bool, actorID int64) error
	ResetPassword(ctx context.Context, id int64, password string, actorID int64) error
	Headcount(ctx context.Context) (map[payroll.Role]int, error)
}

// Handler manages employee endpoints.
type Handler struct {
	logger    *slog.Logger
	service   EmployeeService
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service EmployeeService, templates *view.Engine, csrf *shared.CSRFManager, rbacMW rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbacMW}
}

// MountRoutes registers employee routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermEmployeesView))
		r.Get("/", h.list)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermEmployeesManage))
		r.Get("/new", h.newForm)
		r.Post("/", h.create)
		r.Get("/{id}/edit", h.editForm)
		r.Post("/{id}", h.update)
		r.Post("/{id}/active", h.setActive)
		r.Post("/{id}/password", h.resetPassword)
	})
}

type formErrors map[string]string

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	filter := ListFilter{Search: q.Get("q"), Page: page, PerPage: 25}
	switch q.Get("status") {
	case "active":
		v := true
		filter.Active = &v
	case "inactive":
		v := false
		filter.Active = &v
	}
	list, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list employees failed", slog.Any("error", err))
		h.render(w, r, "pages/employees/list.html", map[string]any{"Errors": formErrors{"general": shared.UserSafeMessage(err)}}, http.StatusInternalServerError)
		return
	}
	headcount, err := h.service.Headcount(r.Context())
	if err != nil {
		h.logger.Warn("employee headcount", slog.Any("error", err))
	}
	h.render(w, r, "pages/employees/list.html", map[string]any{
		"Employees":  list,
		"Pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
		"Search":     filter.Search,
		"Status":     q.Get("status"),
		"Roles":      payroll.Roles,
		"Headcount":  headcount,
	}, http.StatusOK)
}

func (h *Handler) newForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/employees/form.html", map[string]any{
		"Errors": formErrors{},
		"Roles":  payroll.Roles,
		"Form":   map[string]string{"Role": string(payroll.RoleCDD)},
	}, http.StatusOK)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	actor, _ := shared.IdentityFromContext(r.Context())
	in := CreateInput{
		Username:    r.PostFormValue("username"),
		DisplayName: r.PostFormValue("display_name"),
		Password:    r.PostFormValue("password"),
		Role:        r.PostFormValue("role"),
		ActorID:     actor.ID,
	}
	if raw := r.PostFormValue("hired_at"); raw != "" {
		if d, err := time.Parse(time.DateOnly, raw); err == nil {
			in.HiredAt = d
		}
	}
	e, err := h.service.Create(r.Context(), in)
	if err != nil {
		status := http.StatusBadRequest
		var ue *shared.UserError
		if !errors.As(err, &ue) {
			h.logger.Error("create employee", slog.Any("error", err))
			status = http.StatusInternalServerError
		}
		h.render(w, r, "pages/employees/form.html", map[string]any{
			"Errors": formErrors{"general": shared.UserSafeMessage(err)},
			"Roles":  payroll.Roles,
			"Form": map[string]string{
				"Username":    in.Username,
				"DisplayName": in.DisplayName,
				"Role":        in.Role,
			},
		}, status)
		return
	}
	h.redirectWithFlash(w, r, "/employees", "success", "Employé « "+e.DisplayName+" » créé")
}

func (h *Handler) editForm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	e, err := h.service.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("get employee", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/employees/edit.html", map[string]any{
		"Employee": e,
		"Roles":    payroll.Roles,
	}, http.StatusOK)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	actor, _ := shared.IdentityFromContext(r.Context())
	err := h.service.Update(r.Context(), UpdateInput{
		ID:          id,
		DisplayName: r.PostFormValue("display_name"),
		Role:        r.PostFormValue("role"),
		ActorID:     actor.ID,
	})
	h.finish(w, r, "update employee", err, "Employé mis à jour")
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	active := r.PostFormValue("active") == "1"
	actor, _ := shared.IdentityFromContext(r.Context())
	msg := "Compte désactivé"
	if active {
		msg = "Compte réactivé"
	}
	h.finish(w, r, "toggle employee", h.service.SetActive(r.Context(), id, active, actor.ID), msg)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	actor, _ := shared.IdentityFromContext(r.Context())
	err := h.service.ResetPassword(r.Context(), id, r.PostFormValue("password"), actor.ID)
	h.finish(w, r, "reset password", err, "Mot de passe réinitialisé")
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request, op string, err error, success string) {
	if err != nil {
		var ue *shared.UserError
		if errors.As(err, &ue) {
			h.logger.Warn(op, slog.Any("error", err))
		} else {
			h.logger.Error(op, slog.Any("error", err))
		}
		h.redirectWithFlash(w, r, "/employees", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/employees", "success", success)
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Employé invalide", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Employés",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        rbac.CurrentUser(r.Context()),
		Data:        data,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

package settings

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/rbac"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/view"
)

// SettingsService is the behaviour the handler needs.
type SettingsService interface {
	Current(ctx context.Context) (Settings, error)
	Brackets(ctx context.Context) ([]payroll.Bracket, error)
	UpdateCommissionRates(ctx context.Context, rates payroll.RoleRates, actorID int64) error
	UpdateGeneral(ctx context.Context, businessName string, cleaningUnitPrice float64, actorID int64) error
	ReplaceBrackets(ctx context.Context, brackets []payroll.Bracket, actorID int64) error
}

// Handler serves the settings pages.
type Handler struct {
	logger    *slog.Logger
	service   SettingsService
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
	validate  *validator.Validate
}

// NewHandler builds a settings Handler.
func NewHandler(logger *slog.Logger, service SettingsService, templates *view.Engine, csrf *shared.CSRFManager, rbacMW rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbacMW, validate: validator.New()}
}

// MountRoutes registers settings routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermSettingsManage))
		r.Get("/", h.show)
		r.Post("/commissions", h.updateCommissions)
		r.Post("/general", h.updateGeneral)
		r.Post("/brackets", h.replaceBrackets)
	})
}

type generalForm struct {
	BusinessName      string  `validate:"required,max=80"`
	CleaningUnitPrice float64 `validate:"gte=0,lte=100000"`
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	current, err := h.service.Current(r.Context())
	if err != nil {
		h.logger.Error("load settings", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	brackets, err := h.service.Brackets(r.Context())
	if err != nil {
		h.logger.Error("load brackets", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/settings/index.html", map[string]any{
		"Settings": current,
		"Roles":    payroll.Roles,
		"Brackets": brackets,
	}, http.StatusOK)
}

func (h *Handler) updateCommissions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	rates := make(payroll.RoleRates, len(payroll.Roles))
	for _, role := range payroll.Roles {
		raw := r.PostFormValue("rate_" + strings.ToLower(string(role)))
		if raw == "" {
			continue
		}
		rate, ok := parseAmount(raw)
		if !ok {
			h.redirectWithFlash(w, r, "/settings", "error", "Taux invalide pour "+role.Label())
			return
		}
		rates[role] = rate
	}
	if err := h.service.UpdateCommissionRates(r.Context(), rates, actorID(r)); err != nil {
		h.fail(w, r, "update commission rates", err)
		return
	}
	h.redirectWithFlash(w, r, "/settings", "success", "Taux de commission enregistrés")
}

func (h *Handler) updateGeneral(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	price, ok := parseAmount(r.PostFormValue("cleaning_unit_price"))
	if !ok {
		h.redirectWithFlash(w, r, "/settings", "error", "Prix du ménage invalide")
		return
	}
	form := generalForm{BusinessName: strings.TrimSpace(r.PostFormValue("business_name")), CleaningUnitPrice: price}
	if err := h.validate.Struct(form); err != nil {
		h.redirectWithFlash(w, r, "/settings", "error", "Paramètres invalides")
		return
	}
	if err := h.service.UpdateGeneral(r.Context(), form.BusinessName, form.CleaningUnitPrice, actorID(r)); err != nil {
		h.fail(w, r, "update general settings", err)
		return
	}
	h.redirectWithFlash(w, r, "/settings", "success", "Paramètres enregistrés")
}

// replaceBrackets reads parallel min/max/rate fields; an empty max means open-ended
// and a row with an empty min is skipped.
func (h *Handler) replaceBrackets(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	brackets, err := ParseBracketForm(r.PostForm["min"], r.PostForm["max"], r.PostForm["rate"])
	if err != nil {
		h.redirectWithFlash(w, r, "/settings", "error", shared.UserSafeMessage(err))
		return
	}
	if err := h.service.ReplaceBrackets(r.Context(), brackets, actorID(r)); err != nil {
		h.fail(w, r, "replace brackets", err)
		return
	}
	h.redirectWithFlash(w, r, "/settings", "success", "Tranches d'imposition enregistrées")
}

// ParseBracketForm converts submitted bracket rows.
func ParseBracketForm(mins, maxes, rates []string) ([]payroll.Bracket, error) {
	var brackets []payroll.Bracket
	for i, rawMin := range mins {
		if strings.TrimSpace(rawMin) == "" {
			continue
		}
		minAmount, ok := parseAmount(rawMin)
		if !ok {
			return nil, shared.NewUserError("Tranche "+strconv.Itoa(i+1)+" : minimum invalide", nil)
		}
		b := payroll.Bracket{Min: minAmount}
		if i < len(maxes) && strings.TrimSpace(maxes[i]) != "" {
			maxAmount, ok := parseAmount(maxes[i])
			if !ok {
				return nil, shared.NewUserError("Tranche "+strconv.Itoa(i+1)+" : maximum invalide", nil)
			}
			b.Max = &maxAmount
		}
		if i >= len(rates) {
			return nil, shared.NewUserError("Tranche "+strconv.Itoa(i+1)+" : taux manquant", nil)
		}
		rate, ok := parseAmount(rates[i])
		if !ok {
			return nil, shared.NewUserError("Tranche "+strconv.Itoa(i+1)+" : taux invalide", nil)
		}
		b.Rate = rate
		brackets = append(brackets, b)
	}
	return brackets, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidValue):
		h.logger.Warn(op, slog.Any("error", err))
		h.redirectWithFlash(w, r, "/settings", "error", shared.UserSafeMessage(err))
		return
	case errors.Is(err, payroll.ErrInvalidBrackets):
		h.logger.Warn(op, slog.Any("error", err))
		h.redirectWithFlash(w, r, "/settings", "error", "Tranches incohérentes : bornes, taux ou chevauchement")
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	h.redirectWithFlash(w, r, "/settings", "error", shared.UserSafeMessage(err))
}

func actorID(r *http.Request) int64 {
	id, _ := shared.IdentityFromContext(r.Context())
	return id.ID
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Paramètres",
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

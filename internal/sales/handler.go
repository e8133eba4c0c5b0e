package sales

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/rbac"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/view"
	"github.com/tavern-panel/panel/internal/weeks"
)

const salesPerPage = 20

// SalesService is the behaviour the handler needs.
type SalesService interface {
	Record(ctx context.Context, in RecordInput) (Sale, error)
	Cancel(ctx context.Context, in CancelInput) error
	List(ctx context.Context, filter ListFilter) ([]Sale, int, error)
	Totals(ctx context.Context, filter ListFilter) (Totals, error)
	ActiveWeekID(ctx context.Context) (int64, error)
	Products(ctx context.Context, activeOnly bool) ([]Product, error)
	CreateProduct(ctx context.Context, in ProductInput) (Product, error)
	UpdateProduct(ctx context.Context, id int64, in ProductInput) error
	ToggleProduct(ctx context.Context, id int64) (bool, error)
}

// Handler wires HTTP routes for the till and the product catalogue.
type Handler struct {
	logger    *slog.Logger
	service   SalesService
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler creates a new sales handler.
func NewHandler(logger *slog.Logger, service SalesService, templates *view.Engine, csrf *shared.CSRFManager, rbacMW rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbacMW}
}

// MountRoutes registers /sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermSalesRecord))
		r.Get("/", h.list)
		r.Get("/new", h.newForm)
		r.Post("/", h.record)
	})
	r.With(h.rbac.RequireAny(rbac.PermSalesCancel)).Post("/{id}/cancel", h.cancel)
}

// MountProductRoutes registers /products routes.
func (h *Handler) MountProductRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermProductsManage))
		r.Get("/", h.listProducts)
		r.Post("/", h.createProduct)
		r.Post("/{id}", h.updateProduct)
		r.Post("/{id}/toggle", h.toggleProduct)
	})
}

// list shows the sales of a week. Employees only see their own tickets;
// managers may filter with ?user=.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	filter := ListFilter{Page: page, PerPage: salesPerPage}
	user := rbac.CurrentUser(r.Context())

	if raw := q.Get("week"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "Semaine invalide", http.StatusBadRequest)
			return
		}
		filter.WeekID = &id
	} else {
		id, err := h.service.ActiveWeekID(r.Context())
		switch {
		case err == nil:
			filter.WeekID = &id
		case errors.Is(err, weeks.ErrNoActiveWeek):
		default:
			h.serverError(w, "active week", err)
			return
		}
	}

	if !user.Can(rbac.PermSalesCancel) {
		var uid int64
		if user != nil {
			uid = user.ID
		}
		filter.UserID = &uid
	} else if raw := q.Get("user"); raw != "" {
		if uid, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.UserID = &uid
		}
	}

	list, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.serverError(w, "list sales", err)
		return
	}
	totals, err := h.service.Totals(r.Context(), filter)
	if err != nil {
		h.serverError(w, "sales totals", err)
		return
	}
	h.render(w, r, "pages/sales/list.html", "Ventes", map[string]any{
		"Sales":      list,
		"Totals":     totals,
		"Pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
		"CanCancel":  user.Can(rbac.PermSalesCancel),
	}, http.StatusOK)
}

func (h *Handler) newForm(w http.ResponseWriter, r *http.Request) {
	h.renderTill(w, r, http.StatusOK)
}

func (h *Handler) renderTill(w http.ResponseWriter, r *http.Request, status int) {
	products, err := h.service.Products(r.Context(), true)
	if err != nil {
		h.serverError(w, "list products", err)
		return
	}
	h.render(w, r, "pages/sales/new.html", "Nouvelle vente", map[string]any{
		"Groups":         GroupByCategory(products),
		"PaymentMethods": PaymentMethods,
	}, status)
}

// ParseCart reads qty_<productID> fields of a till form.
func ParseCart(form map[string][]string) ([]LineInput, error) {
	var lines []LineInput
	for key, values := range form {
		if !strings.HasPrefix(key, "qty_") || len(values) == 0 {
			continue
		}
		raw := strings.TrimSpace(values[0])
		if raw == "" || raw == "0" {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(key, "qty_"), 10, 64)
		if err != nil {
			return nil, ErrInvalidInput
		}
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return nil, ErrInvalidInput
		}
		lines = append(lines, LineInput{ProductID: id, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	lines, err := ParseCart(r.PostForm)
	if err != nil {
		h.redirectWithFlash(w, r, "/sales/new", "error", "Quantité invalide")
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	sale, err := h.service.Record(r.Context(), RecordInput{
		SellerID:      id.ID,
		CustomerName:  r.PostFormValue("customer_name"),
		PaymentMethod: ParsePaymentMethod(r.PostFormValue("payment_method")),
		Lines:         lines,
	})
	if err != nil {
		h.logFailure("record sale", err)
		h.redirectWithFlash(w, r, "/sales/new", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/sales", "success",
		"Vente "+sale.ShortRef()+" enregistrée : "+strconv.FormatFloat(sale.Total, 'f', 2, 64)+
			" (commission "+strconv.FormatFloat(sale.Commission, 'f', 2, 64)+")")
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	saleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Vente invalide", http.StatusBadRequest)
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	role, _ := payroll.ParseRole(id.Role)
	err = h.service.Cancel(r.Context(), CancelInput{SaleID: saleID, ActorID: id.ID, ActorRole: role})
	if err != nil {
		h.logFailure("cancel sale", err)
		h.redirectWithFlash(w, r, "/sales", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/sales", "success", "Vente annulée")
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.Products(r.Context(), false)
	if err != nil {
		h.serverError(w, "list products", err)
		return
	}
	h.render(w, r, "pages/products/list.html", "Carte", map[string]any{
		"Products": products,
	}, http.StatusOK)
}

func parseProductForm(r *http.Request) (ProductInput, bool) {
	price, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(r.PostFormValue("price")), ",", "."), 64)
	if err != nil {
		return ProductInput{}, false
	}
	return ProductInput{
		Name:     r.PostFormValue("name"),
		Category: r.PostFormValue("category"),
		Price:    price,
	}, true
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	in, ok := parseProductForm(r)
	if !ok {
		h.redirectWithFlash(w, r, "/products", "error", "Prix invalide")
		return
	}
	p, err := h.service.CreateProduct(r.Context(), in)
	if err != nil {
		h.logFailure("create product", err)
		h.redirectWithFlash(w, r, "/products", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/products", "success", "Produit « "+p.Name+" » ajouté")
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Produit invalide", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	in, ok := parseProductForm(r)
	if !ok {
		h.redirectWithFlash(w, r, "/products", "error", "Prix invalide")
		return
	}
	if err := h.service.UpdateProduct(r.Context(), id, in); err != nil {
		h.logFailure("update product", err)
		h.redirectWithFlash(w, r, "/products", "error", shared.UserSafeMessage(err))
		return
	}
	h.redirectWithFlash(w, r, "/products", "success", "Produit mis à jour")
}

func (h *Handler) toggleProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Produit invalide", http.StatusBadRequest)
		return
	}
	active, err := h.service.ToggleProduct(r.Context(), id)
	if err != nil {
		h.logFailure("toggle product", err)
		h.redirectWithFlash(w, r, "/products", "error", shared.UserSafeMessage(err))
		return
	}
	msg := "Produit retiré de la carte"
	if active {
		msg = "Produit remis à la carte"
	}
	h.redirectWithFlash(w, r, "/products", "success", msg)
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

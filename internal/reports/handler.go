package reports

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tavern-panel/panel/internal/rbac"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/view"
	"github.com/tavern-panel/panel/internal/weeks"
)

// ReportService is the behaviour the handler needs.
type ReportService interface {
	Overview(ctx context.Context, n int) (Overview, error)
	Week(ctx context.Context, id int64) (WeekReport, error)
}

// Handler serves the reports page and the week exports.
type Handler struct {
	logger    *slog.Logger
	service   ReportService
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler builds a reports Handler.
func NewHandler(logger *slog.Logger, service ReportService, templates *view.Engine, csrf *shared.CSRFManager, rbacMW rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbacMW}
}

// MountRoutes registers /reports routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermReportsView))
		r.Get("/", h.overview)
		r.Get("/weeks/{id}/export.csv", h.exportCSV)
		r.Get("/weeks/{id}/export.xlsx", h.exportXLSX)
	})
}

var ranges = []int{4, 8, 12, 26, 52}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("weeks"))
	n = ClampRange(n)
	ov, err := h.service.Overview(r.Context(), n)
	if err != nil {
		h.logger.Error("build report overview", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/reports/index.html", "Rapports", map[string]any{
		"Overview": ov,
		"Range":    n,
		"Ranges":   ranges,
	})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "text/csv; charset=utf-8", ".csv", WriteCSV)
}

func (h *Handler) exportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx", WriteXLSX)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, contentType, ext string, write func(io.Writer, WeekReport) error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return
	}
	rep, err := h.service.Week(r.Context(), id)
	if errors.Is(err, weeks.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("load week report", slog.Any("error", err), slog.Int64("week_id", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := write(&buf, rep); err != nil {
		h.logger.Error("write week export", slog.Any("error", err), slog.String("format", ext))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+FileName(rep)+ext+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data map[string]any) {
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
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err), slog.String("template", template))
	}
}

package app

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/tavern-panel/panel/internal/auth"
	"github.com/tavern-panel/panel/internal/cleaning"
	"github.com/tavern-panel/panel/internal/employees"
	"github.com/tavern-panel/panel/internal/ledger"
	"github.com/tavern-panel/panel/internal/observability"
	"github.com/tavern-panel/panel/internal/platform/httpx"
	"github.com/tavern-panel/panel/internal/rbac"
	"github.com/tavern-panel/panel/internal/reports"
	"github.com/tavern-panel/panel/internal/sales"
	"github.com/tavern-panel/panel/internal/settings"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/weeks"
	"github.com/tavern-panel/panel/jobs"
	"github.com/tavern-panel/panel/web"
)

// Pinger reports whether a backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Identities     IdentityResolver
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
	DB             Pinger

	Dashboard          http.Handler
	AuthHandler        *auth.Handler
	SalesHandler       *sales.Handler
	CleaningHandler    *cleaning.Handler
	LedgerHandler      *ledger.Handler
	WeeksHandler       *weeks.Handler
	EmployeesHandler   *employees.Handler
	SettingsHandler    *settings.Handler
	ReportsHandler     *reports.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with the panel defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Identities:     params.Identities,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.DB.Ping(ctx); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(httprate.Limit(20, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		params.AuthHandler.MountRoutes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(params.RBACMiddleware.RequireLogin)
		if params.Dashboard != nil {
			r.Method(http.MethodGet, "/", params.Dashboard)
		}
		mount(r, "/sales", params.SalesHandler, func(r chi.Router) { params.SalesHandler.MountRoutes(r) })
		mount(r, "/products", params.SalesHandler, func(r chi.Router) { params.SalesHandler.MountProductRoutes(r) })
		mount(r, "/cleaning", params.CleaningHandler, func(r chi.Router) { params.CleaningHandler.MountRoutes(r) })
		mount(r, "/ledger", params.LedgerHandler, func(r chi.Router) { params.LedgerHandler.MountRoutes(r) })
		mount(r, "/weeks", params.WeeksHandler, func(r chi.Router) { params.WeeksHandler.MountRoutes(r) })
		mount(r, "/api/weeks", params.WeeksHandler, func(r chi.Router) { params.WeeksHandler.MountAPI(r) })
		mount(r, "/employees", params.EmployeesHandler, func(r chi.Router) { params.EmployeesHandler.MountRoutes(r) })
		mount(r, "/settings", params.SettingsHandler, func(r chi.Router) { params.SettingsHandler.MountRoutes(r) })
		mount(r, "/reports", params.ReportsHandler, func(r chi.Router) { params.ReportsHandler.MountRoutes(r) })
		mount(r, "/permissions", params.PermissionsHandler, func(r chi.Router) { params.PermissionsHandler.MountRoutes(r) })
		mount(r, "/jobs", params.JobHandler, func(r chi.Router) { params.JobHandler.MountRoutes(r) })
	})

	return r
}

// mount skips handlers left nil, which lets tests build a partial router.
func mount[H any](r chi.Router, pattern string, h *H, fn func(chi.Router)) {
	if h == nil {
		return
	}
	r.Route(pattern, fn)
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}

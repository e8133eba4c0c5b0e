package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tavern-panel/panel/internal/app"
	"github.com/tavern-panel/panel/internal/auth"
	"github.com/tavern-panel/panel/internal/cleaning"
	"github.com/tavern-panel/panel/internal/employees"
	"github.com/tavern-panel/panel/internal/ledger"
	"github.com/tavern-panel/panel/internal/observability"
	"github.com/tavern-panel/panel/internal/platform/cache"
	"github.com/tavern-panel/panel/internal/platform/db"
	"github.com/tavern-panel/panel/internal/rbac"
	"github.com/tavern-panel/panel/internal/reports"
	"github.com/tavern-panel/panel/internal/sales"
	"github.com/tavern-panel/panel/internal/settings"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/view"
	"github.com/tavern-panel/panel/internal/weeks"
	"github.com/tavern-panel/panel/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := db.Migrate(pool); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, pool, redisClient, logger, metrics)

	// The panel always has an open week to record into.
	if week, err := services.Weeks.EnsureActive(ctx, time.Now()); err != nil {
		logger.Error("ensure active week", slog.Any("error", err))
		os.Exit(1)
	} else {
		logger.Info("active week", slog.Int("number", week.Number), slog.Time("end", week.End))
	}

	sessionManager := shared.NewSessionManager(redisClient, "panel_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	templates, err := view.NewEngine(view.Options{CurrencySymbol: cfg.CurrencySymbol})
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}
	rbacMiddleware := rbac.Middleware{Logger: logger, LoginPath: "/auth/login"}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Identities:         services.Auth,
		RBACMiddleware:     rbacMiddleware,
		Metrics:            metrics,
		DB:                 pool,
		Dashboard:          app.NewDashboard(logger, services.Weeks, services.Cleaning, templates, csrfManager),
		AuthHandler:        auth.NewHandler(logger, services.Auth, templates, sessionManager, csrfManager),
		SalesHandler:       sales.NewHandler(logger, services.Sales, templates, csrfManager, rbacMiddleware),
		CleaningHandler:    cleaning.NewHandler(logger, services.Cleaning, templates, csrfManager, rbacMiddleware),
		LedgerHandler:      ledger.NewHandler(logger, services.Ledger, templates, csrfManager, rbacMiddleware),
		WeeksHandler:       weeks.NewHandler(logger, services.Weeks, templates, csrfManager, rbacMiddleware),
		EmployeesHandler:   employees.NewHandler(logger, services.Employees, templates, csrfManager, rbacMiddleware),
		SettingsHandler:    settings.NewHandler(logger, services.Settings, templates, csrfManager, rbacMiddleware),
		ReportsHandler:     reports.NewHandler(logger, services.Reports, templates, csrfManager, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, templates, csrfManager, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger, rbacMiddleware),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tavern-panel/panel/internal/auth"
	"github.com/tavern-panel/panel/internal/cleaning"
	"github.com/tavern-panel/panel/internal/employees"
	"github.com/tavern-panel/panel/internal/ledger"
	"github.com/tavern-panel/panel/internal/observability"
	"github.com/tavern-panel/panel/internal/platform/cache"
	"github.com/tavern-panel/panel/internal/reports"
	"github.com/tavern-panel/panel/internal/sales"
	"github.com/tavern-panel/panel/internal/settings"
	"github.com/tavern-panel/panel/internal/weeks"
)

// Services is the domain layer shared by the web server, the worker and panelctl.
type Services struct {
	Auth      *auth.Service
	Settings  *settings.Service
	Weeks     *weeks.Service
	Sales     *sales.Service
	Cleaning  *cleaning.Service
	Ledger    *ledger.Service
	Employees *employees.Service
	Reports   *reports.Service
}

// NewServices wires every domain service on top of Postgres and Redis.
// metrics may be nil.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger, metrics *observability.Metrics) *Services {
	settingsCache := cache.NewVersioned(redisClient, "settings", cfg.SettingsCacheTTL)
	settingsService := settings.NewService(settings.NewRepository(pool), settingsCache, logger)

	weekOpts := []weeks.Option{weeks.WithLength(cfg.WeekLengthDays)}
	var saleObserver sales.SaleObserver
	if metrics != nil {
		weekOpts = append(weekOpts, weeks.WithObserver(metrics))
		saleObserver = metrics
	}
	weekService := weeks.NewService(weeks.NewRepository(pool), settingsService, logger, weekOpts...)
	ledgerService := ledger.NewService(ledger.NewRepository(pool))

	return &Services{
		Auth:      auth.NewService(auth.NewRepository(pool)),
		Settings:  settingsService,
		Weeks:     weekService,
		Sales:     sales.NewService(sales.NewRepository(pool), settingsService, logger, saleObserver),
		Cleaning:  cleaning.NewService(cleaning.NewRepository(pool), settingsService, logger),
		Ledger:    ledgerService,
		Employees: employees.NewService(employees.NewRepository(pool), logger),
		Reports:   reports.NewService(weekService, ledgerService, logger),
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/tavern-panel/panel/internal/app"
	jobmetrics "github.com/tavern-panel/panel/internal/jobs"
	"github.com/tavern-panel/panel/internal/platform/cache"
	"github.com/tavern-panel/panel/internal/platform/db"
	"github.com/tavern-panel/panel/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	services := app.NewServices(cfg, pool, redisClient, logger, nil)
	metrics := jobmetrics.NewMetrics(nil)

	refreshJob := jobs.NewWeeksRefreshJob(services.Weeks, logger, metrics)
	staleJob := jobs.NewCloseStaleJob(services.Cleaning, logger, metrics)
	staleTask, err := jobs.NewCloseStaleTask(cfg.StaleCleaningAfter)
	if err != nil {
		logger.Error("build close stale task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskWeeksRefresh, Handler: refreshJob.Handle},
			{Type: jobs.TaskCleaningCloseStale, Handler: staleJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.WeekRefreshCron, Task: jobs.NewWeeksRefreshTask()},
			{Spec: cfg.StaleCleaningCron, Task: staleTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("weeks_refresh", cfg.WeekRefreshCron), slog.String("close_stale", cfg.StaleCleaningCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// Command panelctl runs maintenance tasks against the panel database and queue.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tavern-panel/panel/internal/app"
	"github.com/tavern-panel/panel/internal/platform/cache"
	"github.com/tavern-panel/panel/internal/platform/db"
)

var envFile string

// env holds the connections opened for one command.
type env struct {
	cfg      *app.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	services *app.Services
}

func (e *env) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

func loadConfig() (*app.Config, error) {
	if envFile != "" {
		return app.LoadConfig(envFile)
	}
	return app.LoadConfig()
}

// connect opens Postgres and Redis and wires the domain services.
func connect(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	e := &env{cfg: cfg, logger: app.NewLogger(cfg)}
	e.pool, err = db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	e.redis, err = cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	e.services = app.NewServices(cfg, e.pool, e.redis, e.logger, nil)
	return e, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "panelctl",
		Short:         "Administration du panel de la taverne",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before the environment (default .env)")
	root.AddCommand(newMigrateCmd(), newUserCmd(), newWeekCmd(), newJobsCmd(), newSeedCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "panelctl:", err)
		os.Exit(1)
	}
}

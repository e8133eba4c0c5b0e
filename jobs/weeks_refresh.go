package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tavern-panel/panel/internal/jobs"
	"github.com/tavern-panel/panel/internal/weeks"
)

// WeekRefresher is the part of the weeks service the job drives.
type WeekRefresher interface {
	EnsureActive(ctx context.Context, today time.Time) (weeks.Week, error)
	RefreshActive(ctx context.Context) (weeks.Week, error)
}

// WeeksRefreshJob keeps the stored totals of the active week current.
type WeeksRefreshJob struct {
	Weeks   WeekRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewWeeksRefreshJob constructs the job handler.
func NewWeeksRefreshJob(svc WeekRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *WeeksRefreshJob {
	return &WeeksRefreshJob{Weeks: svc, Logger: logger, Metrics: metrics, clock: func() time.Time { return time.Now().UTC() }}
}

// Handle executes a weeks:refresh task.
func (j *WeeksRefreshJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Weeks == nil {
		return errors.New("weeks refresh: dependencies not configured")
	}
	tracker := metricsOr(j.Metrics).Track(TaskWeeksRefresh)
	defer func() { err = tracker.End(err) }()

	log := loggerOr(j.Logger).With(slog.String("job", TaskWeeksRefresh))
	if _, err = j.Weeks.EnsureActive(ctx, j.clock()); err != nil {
		log.Error("ensure active week", slog.Any("error", err))
		return err
	}
	week, err := j.Weeks.RefreshActive(ctx)
	if errors.Is(err, weeks.ErrWeekFinalized) {
		// Finalized between the two calls; the next run picks up the new week.
		log.Info("active week finalized during refresh")
		return nil
	}
	if err != nil {
		log.Error("refresh active week", slog.Any("error", err))
		return err
	}
	log.Info("refreshed active week",
		slog.Int("week", week.Number),
		slog.Int("sales", week.SalesCount),
		slog.Float64("revenue", week.Revenue))
	return nil
}

// WithClock overrides the internal clock for deterministic tests.
func (j *WeeksRefreshJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

func metricsOr(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tavern-panel/panel/internal/jobs"
)

// StaleCloser is the part of the cleaning service the job drives.
type StaleCloser interface {
	CloseStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CloseStaleJob cancels cleaning sessions nobody finished.
type CloseStaleJob struct {
	Cleaning StaleCloser
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewCloseStaleJob constructs the job handler.
func NewCloseStaleJob(svc StaleCloser, logger *slog.Logger, metrics *jobmetrics.Metrics) *CloseStaleJob {
	return &CloseStaleJob{Cleaning: svc, Logger: logger, Metrics: metrics}
}

// Handle executes a cleaning:close_stale task.
func (j *CloseStaleJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Cleaning == nil {
		return errors.New("close stale: dependencies not configured")
	}
	var payload CloseStalePayload
	if body := task.Payload(); len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return errors.Join(err, asynq.SkipRetry)
		}
	}
	metrics := metricsOr(j.Metrics)
	tracker := metrics.Track(TaskCleaningCloseStale)
	defer func() { err = tracker.End(err) }()

	log := loggerOr(j.Logger).With(slog.String("job", TaskCleaningCloseStale))
	n, err := j.Cleaning.CloseStale(ctx, payload.Threshold())
	if err != nil {
		log.Error("cancel stale sessions", slog.Any("error", err))
		return err
	}
	metrics.AddAffected(TaskCleaningCloseStale, int(n))
	log.Info("stale sessions checked", slog.Int64("cancelled", n), slog.Duration("threshold", payload.Threshold()))
	return nil
}

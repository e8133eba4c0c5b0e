package jobs

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tavern-panel/panel/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWeeksRefresh recomputes the running totals of the active week.
	TaskWeeksRefresh = "weeks:refresh"
	// TaskCleaningCloseStale cancels cleaning sessions left open too long.
	TaskCleaningCloseStale = "cleaning:close_stale"
)

// DefaultStaleAfter is used when a close-stale payload carries no threshold.
const DefaultStaleAfter = 12 * time.Hour

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// CloseStalePayload configures a cleaning:close_stale run.
type CloseStalePayload struct {
	OlderThanMinutes int `json:"older_than_minutes"`
}

// Threshold returns the age after which an open session is stale.
func (p CloseStalePayload) Threshold() time.Duration {
	if p.OlderThanMinutes <= 0 {
		return DefaultStaleAfter
	}
	return time.Duration(p.OlderThanMinutes) * time.Minute
}

// NewWeeksRefreshTask builds a weeks:refresh task.
func NewWeeksRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskWeeksRefresh, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(2*time.Minute))
}

// NewCloseStaleTask builds a cleaning:close_stale task.
func NewCloseStaleTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CloseStalePayload{OlderThanMinutes: int(olderThan / time.Minute)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCleaningCloseStale, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(time.Minute)), nil
}

// TaskTypes lists the tasks that can be triggered by hand.
func TaskTypes() []string {
	types := []string{TaskWeeksRefresh, TaskCleaningCloseStale}
	sort.Strings(types)
	return types
}

// NewTask builds a task by type name with its default payload.
func NewTask(taskType string, staleAfter time.Duration) (*asynq.Task, error) {
	switch taskType {
	case TaskWeeksRefresh:
		return NewWeeksRefreshTask(), nil
	case TaskCleaningCloseStale:
		return NewCloseStaleTask(staleAfter)
	}
	return nil, fmt.Errorf("jobs: unknown task %q", taskType)
}

package cleaning

import (
	"errors"
	"time"

	"github.com/tavern-panel/panel/internal/payroll"
)

// Status of a cleaning session.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusClosed    Status = "CLOSED"
	StatusCancelled Status = "CANCELLED"
)

// MaxServices caps the count declared when finishing a session.
const MaxServices = 500

var (
	ErrSessionOpen   = errors.New("cleaning: a session is already open")
	ErrNotFound      = errors.New("cleaning: session not found")
	ErrNotOpen       = errors.New("cleaning: session is not open")
	ErrNotOwner      = errors.New("cleaning: session belongs to another employee")
	ErrInvalidCount  = errors.New("cleaning: invalid service count")
	ErrUnknownSeller = errors.New("cleaning: unknown employee")
)

// Session is a row of cleaning_services.
type Session struct {
	ID             int64
	WeekID         *int64
	WeekNumber     *int
	UserID         int64
	EmployeeName   string
	Status         Status
	StartedAt      time.Time
	EndedAt        *time.Time
	ServiceCount   int
	UnitPrice      float64
	Revenue        float64
	CommissionRate float64
	Commission     float64
}

// Duration is the time spent, up to now for open sessions.
func (s Session) Duration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// Minutes is the whole number of minutes the session lasted.
func (s Session) Minutes(now time.Time) int {
	return int(s.Duration(now) / time.Minute)
}

// IsOpen reports whether the session is still running.
func (s Session) IsOpen() bool { return s.Status == StatusOpen }

// FinishInput closes a session.
type FinishInput struct {
	SessionID    int64
	UserID       int64
	ServiceCount int
	Now          time.Time
}

// Closing carries the figures written when a session is closed.
type Closing struct {
	WeekID         int64
	EndedAt        time.Time
	ServiceCount   int
	UnitPrice      float64
	Revenue        float64
	CommissionRate float64
	Commission     float64
}

// Price computes the revenue and commission of count services.
func Price(count int, unitPrice, ratePercent float64) (revenue, commission float64) {
	revenue = payroll.LineTotal(count, unitPrice)
	return revenue, payroll.Commission(revenue, ratePercent)
}

// ListFilter selects sessions.
type ListFilter struct {
	WeekID  *int64
	UserID  *int64
	Page    int
	PerPage int
}

// Totals summarises closed sessions.
type Totals struct {
	Sessions   int
	Services   int
	Revenue    float64
	Commission float64
	Minutes    int
}

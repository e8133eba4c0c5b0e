package weeks

import (
	"errors"
	"fmt"
	"time"

	"github.com/tavern-panel/panel/internal/payroll"
)

// Status enumerates the lifecycle of a week.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusFinalized Status = "FINALIZED"
)

// DefaultLength is the number of days of a week when none is configured.
const DefaultLength = 7

var (
	// ErrNoActiveWeek is returned when no week is open for writes.
	ErrNoActiveWeek = errors.New("weeks: no active week")
	// ErrWeekFinalized is returned when writing to a frozen week.
	ErrWeekFinalized = errors.New("weeks: week already finalized")
	// ErrNotFound is returned when a week does not exist.
	ErrNotFound = errors.New("weeks: week not found")
	// ErrActorRequired is returned when a rollover has no author.
	ErrActorRequired = errors.New("weeks: actor required")
)

// Week is a row of the weeks table.
type Week struct {
	ID              int64
	Number          int
	Start           time.Time
	End             time.Time
	Status          Status
	SalesCount      int
	CleaningCount   int
	SalesRevenue    float64
	CleaningRevenue float64
	Revenue         float64
	Commissions     float64
	Tax             float64
	Net             float64
	Notes           string
	FinalizedAt     *time.Time
	FinalizedBy     *int64
	CreatedAt       time.Time
}

// IsActive reports whether the week still accepts sales and cleaning.
func (w Week) IsActive() bool { return w.Status == StatusActive }

// Label is the short display name of the week.
func (w Week) Label() string { return fmt.Sprintf("Semaine #%d", w.Number) }

// Days returns the length of the week in days, bounds included.
func (w Week) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// Contains reports whether day falls inside the week, bounds included.
func (w Week) Contains(day time.Time) bool {
	d := DateOf(day)
	return !d.Before(w.Start) && !d.After(w.End)
}

// Totals are the running aggregates of a week.
type Totals struct {
	SalesCount      int
	CleaningCount   int
	SalesRevenue    float64
	CleaningRevenue float64
	Revenue         float64
	Commissions     float64
}

// Performance is one employee's aggregate for a week.
type Performance struct {
	WeekID             int64
	UserID             int64
	DisplayName        string
	Role               payroll.Role
	SalesCount         int
	SalesRevenue       float64
	SalesCommission    float64
	CleaningCount      int
	CleaningRevenue    float64
	CleaningCommission float64
	TotalRevenue       float64
	TotalCommission    float64
}

// Preview is the projected outcome of finalizing the active week now.
type Preview struct {
	Week        Week
	Totals      Totals
	Tax         payroll.TaxBreakdown
	Net         float64
	Performance []Performance
}

// FinalizeInput triggers a rollover.
type FinalizeInput struct {
	ActorID int64
	Today   time.Time
	Notes   string
}

// FinalizeResult reports a completed rollover.
type FinalizeResult struct {
	Finalized Week
	Next      Week
	Tax       payroll.TaxBreakdown
}

// Frozen carries the figures written when a week is finalized.
type Frozen struct {
	Totals  Totals
	Tax     float64
	Net     float64
	Notes   string
	ActorID int64
	At      time.Time
}

// Summarize folds per-employee rows into week totals.
func Summarize(rows []Performance) Totals {
	var t Totals
	for _, p := range rows {
		t.SalesCount += p.SalesCount
		t.CleaningCount += p.CleaningCount
		t.SalesRevenue += p.SalesRevenue
		t.CleaningRevenue += p.CleaningRevenue
		t.Commissions += p.TotalCommission
	}
	t.SalesRevenue = payroll.RoundCents(t.SalesRevenue)
	t.CleaningRevenue = payroll.RoundCents(t.CleaningRevenue)
	t.Revenue = payroll.RoundCents(t.SalesRevenue + t.CleaningRevenue)
	t.Commissions = payroll.RoundCents(t.Commissions)
	return t
}

// NetRevenue is revenue minus tax minus commissions.
func NetRevenue(t Totals, tax float64) float64 {
	return payroll.RoundCents(t.Revenue - tax - t.Commissions)
}

// DateOf truncates t to its calendar day, expressed as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextRange returns the bounds of the week following prev. It starts the day
// after prev ends, or today when that is later, and lasts length days.
func NextRange(prev Week, today time.Time, length int) (time.Time, time.Time) {
	if length < 1 {
		length = DefaultLength
	}
	start := DateOf(prev.End).AddDate(0, 0, 1)
	if t := DateOf(today); t.After(start) {
		start = t
	}
	return start, start.AddDate(0, 0, length-1)
}

// FirstRange returns the bounds of week #1 starting today.
func FirstRange(today time.Time, length int) (time.Time, time.Time) {
	if length < 1 {
		length = DefaultLength
	}
	start := DateOf(today)
	return start, start.AddDate(0, 0, length-1)
}

func payrollRole(raw string) payroll.Role {
	role, err := payroll.ParseRole(raw)
	if err != nil {
		return payroll.Role(raw)
	}
	return role
}

package reports

import (
	"html/template"
	"sort"
	"strconv"

	"github.com/tavern-panel/panel/internal/ledger"
	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/weeks"
)

// DefaultRange is the number of weeks shown when the caller gives none.
const DefaultRange = 8

// MaxRange caps the weeks loaded by one overview.
const MaxRange = 52

// TopLimit is the size of the employee leaderboard.
const TopLimit = 10

// WeekPoint is one week of the overview series. Active weeks carry live
// figures and a projected tax.
type WeekPoint struct {
	Week        weeks.Week
	Revenue     float64
	Commissions float64
	Tax         float64
	Net         float64
	Projected   bool
	Ledger      ledger.Summary
}

// Label is the short axis label of the point.
func (p WeekPoint) Label() string { return "S" + strconv.Itoa(p.Week.Number) }

// EmployeeTotal is an employee's contribution over the overview range.
type EmployeeTotal struct {
	UserID        int64
	DisplayName   string
	Role          payroll.Role
	SalesCount    int
	CleaningCount int
	Revenue       float64
	Commission    float64
	Weeks         int
}

// Totals sums the overview series.
type Totals struct {
	Revenue       float64
	Commissions   float64
	Tax           float64
	Net           float64
	SalesCount    int
	CleaningCount int
}

// Overview is the content of the reports page.
type Overview struct {
	Weeks  []WeekPoint
	Top    []EmployeeTotal
	Totals Totals
	Chart  template.HTML
	Trend  template.HTML
}

// WeekReport is the exportable detail of a single week.
type WeekReport struct {
	Week         weeks.Week
	Projected    bool
	Performance  []weeks.Performance
	Transactions []ledger.Transaction
	Ledger       ledger.Summary
}

// ClampRange bounds the requested number of weeks.
func ClampRange(n int) int {
	switch {
	case n <= 0:
		return DefaultRange
	case n > MaxRange:
		return MaxRange
	}
	return n
}

// SumPoints folds the series into totals.
func SumPoints(points []WeekPoint) Totals {
	var t Totals
	for _, p := range points {
		t.Revenue += p.Revenue
		t.Commissions += p.Commissions
		t.Tax += p.Tax
		t.Net += p.Net
		t.SalesCount += p.Week.SalesCount
		t.CleaningCount += p.Week.CleaningCount
	}
	t.Revenue = payroll.RoundCents(t.Revenue)
	t.Commissions = payroll.RoundCents(t.Commissions)
	t.Tax = payroll.RoundCents(t.Tax)
	t.Net = payroll.RoundCents(t.Net)
	return t
}

// RankEmployees merges per-week performance rows and orders employees by
// revenue, then commission, then name. limit <= 0 keeps everyone.
func RankEmployees(perWeek [][]weeks.Performance, limit int) []EmployeeTotal {
	byUser := map[int64]*EmployeeTotal{}
	for _, rows := range perWeek {
		for _, p := range rows {
			e, ok := byUser[p.UserID]
			if !ok {
				e = &EmployeeTotal{UserID: p.UserID}
				byUser[p.UserID] = e
			}
			// Latest name and role win; rows arrive oldest week first.
			e.DisplayName = p.DisplayName
			e.Role = p.Role
			e.SalesCount += p.SalesCount
			e.CleaningCount += p.CleaningCount
			e.Revenue += p.TotalRevenue
			e.Commission += p.TotalCommission
			e.Weeks++
		}
	}
	out := make([]EmployeeTotal, 0, len(byUser))
	for _, e := range byUser {
		e.Revenue = payroll.RoundCents(e.Revenue)
		e.Commission = payroll.RoundCents(e.Commission)
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Revenue != b.Revenue {
			return a.Revenue > b.Revenue
		}
		if a.Commission != b.Commission {
			return a.Commission > b.Commission
		}
		return a.DisplayName < b.DisplayName
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

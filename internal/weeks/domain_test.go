package weeks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRange(t *testing.T) {
	prev := Week{Start: day(2026, 3, 2), End: day(2026, 3, 8)}

	start, end := NextRange(prev, day(2026, 3, 5), 7)
	assert.Equal(t, day(2026, 3, 9), start)
	assert.Equal(t, day(2026, 3, 15), end)

	start, end = NextRange(prev, time.Date(2026, 3, 12, 23, 0, 0, 0, time.UTC), 0)
	assert.Equal(t, day(2026, 3, 12), start)
	assert.Equal(t, day(2026, 3, 18), end)
}

func TestSummarizeRoundsCents(t *testing.T) {
	totals := Summarize([]Performance{
		{SalesCount: 1, SalesRevenue: 0.1, TotalCommission: 0.015},
		{SalesCount: 2, SalesRevenue: 0.2, CleaningRevenue: 60, CleaningCount: 1, TotalCommission: 0.015},
	})
	assert.Equal(t, 3, totals.SalesCount)
	assert.Equal(t, 0.3, totals.SalesRevenue)
	assert.Equal(t, 60.3, totals.Revenue)
	assert.Equal(t, 0.03, totals.Commissions)
	assert.Equal(t, 48.27, NetRevenue(totals, 12))
}

func TestWeekHelpers(t *testing.T) {
	w := Week{Number: 12, Start: day(2026, 3, 2), End: day(2026, 3, 8), Status: StatusActive}
	assert.Equal(t, "Semaine #12", w.Label())
	assert.Equal(t, 7, w.Days())
	assert.True(t, w.Contains(time.Date(2026, 3, 8, 22, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(day(2026, 3, 9)))
	assert.True(t, w.IsActive())
}

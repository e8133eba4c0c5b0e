package weeks

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavern-panel/panel/internal/ledger"
	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/shared"
)

// fakeStore keeps weeks in memory; WithTx restores the snapshot on error.
type fakeStore struct {
	weeks       map[int64]Week
	aggregates  map[int64][]Performance
	performance map[int64][]Performance
	ledger      []ledger.Transaction
	audits      []shared.AuditLog
	nextID      int64
	failInsert  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		weeks:       map[int64]Week{},
		aggregates:  map[int64][]Performance{},
		performance: map[int64][]Performance{},
		nextID:      1,
	}
}

func (f *fakeStore) seedActive(number int, start time.Time, days int) Week {
	w := Week{ID: f.nextID, Number: number, Start: start, End: start.AddDate(0, 0, days-1), Status: StatusActive}
	f.weeks[w.ID] = w
	f.nextID++
	return w
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	weeks := make(map[int64]Week, len(f.weeks))
	for k, v := range f.weeks {
		weeks[k] = v
	}
	perf := make(map[int64][]Performance, len(f.performance))
	for k, v := range f.performance {
		perf[k] = v
	}
	ledgerLen, auditLen, nextID := len(f.ledger), len(f.audits), f.nextID
	if err := fn(ctx, f); err != nil {
		f.weeks, f.performance, f.nextID = weeks, perf, nextID
		f.ledger, f.audits = f.ledger[:ledgerLen], f.audits[:auditLen]
		return err
	}
	return nil
}

func (f *fakeStore) Active(ctx context.Context) (Week, error) {
	for _, w := range f.weeks {
		if w.Status == StatusActive {
			return w, nil
		}
	}
	return Week{}, ErrNoActiveWeek
}

func (f *fakeStore) Get(ctx context.Context, id int64) (Week, error) {
	w, ok := f.weeks[id]
	if !ok {
		return Week{}, ErrNotFound
	}
	return w, nil
}

func (f *fakeStore) sorted() []Week {
	out := make([]Week, 0, len(f.weeks))
	for _, w := range f.weeks {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out
}

func (f *fakeStore) List(ctx context.Context, limit, offset int) ([]Week, int, error) {
	all := f.sorted()
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (f *fakeStore) Recent(ctx context.Context, limit int) ([]Week, error) {
	all := f.sorted()
	if len(all) > limit {
		all = all[:limit]
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func (f *fakeStore) Performance(ctx context.Context, weekID int64) ([]Performance, error) {
	return f.performance[weekID], nil
}

func (f *fakeStore) Aggregate(ctx context.Context, weekID int64) ([]Performance, error) {
	return f.aggregates[weekID], nil
}

func (f *fakeStore) ActiveForUpdate(ctx context.Context) (Week, error) { return f.Active(ctx) }

func (f *fakeStore) LoadForUpdate(ctx context.Context, id int64) (Week, error) { return f.Get(ctx, id) }

func (f *fakeStore) Latest(ctx context.Context) (Week, bool, error) {
	all := f.sorted()
	if len(all) == 0 {
		return Week{}, false, nil
	}
	return all[0], true, nil
}

func (f *fakeStore) ReplacePerformance(ctx context.Context, weekID int64, rows []Performance) error {
	f.performance[weekID] = rows
	return nil
}

func (f *fakeStore) UpdateTotals(ctx context.Context, weekID int64, t Totals) error {
	w := f.weeks[weekID]
	if w.Status != StatusActive {
		return nil
	}
	f.weeks[weekID] = applyTotals(w, t)
	return nil
}

func (f *fakeStore) MarkFinalized(ctx context.Context, weekID int64, fr Frozen) error {
	w := f.weeks[weekID]
	if w.Status != StatusActive {
		return ErrWeekFinalized
	}
	w = applyTotals(w, fr.Totals)
	w.Status = StatusFinalized
	w.Tax, w.Net, w.Notes = fr.Tax, fr.Net, fr.Notes
	at, by := fr.At, fr.ActorID
	w.FinalizedAt, w.FinalizedBy = &at, &by
	f.weeks[weekID] = w
	return nil
}

func (f *fakeStore) InsertWeek(ctx context.Context, number int, start, end time.Time) (Week, error) {
	if f.failInsert != nil {
		return Week{}, f.failInsert
	}
	for _, w := range f.weeks {
		if w.Number == number {
			return Week{}, errors.New("duplicate week number")
		}
	}
	w := Week{ID: f.nextID, Number: number, Start: start, End: end, Status: StatusActive}
	f.nextID++
	f.weeks[w.ID] = w
	return w, nil
}

func (f *fakeStore) InsertTransaction(ctx context.Context, t ledger.Transaction) (int64, error) {
	f.ledger = append(f.ledger, t)
	return int64(len(f.ledger)), nil
}

func (f *fakeStore) Audit(ctx context.Context, log shared.AuditLog) error {
	f.audits = append(f.audits, log)
	return nil
}

type staticBrackets []payroll.Bracket

func (b staticBrackets) Brackets(ctx context.Context) ([]payroll.Bracket, error) { return b, nil }

type countingObserver struct{ n int }

func (c *countingObserver) WeekFinalized() { c.n++ }

func ptr(v float64) *float64 { return &v }

var testBrackets = staticBrackets{
	{Min: 0, Max: ptr(10000), Rate: 0},
	{Min: 10000, Max: ptr(50000), Rate: 10},
	{Min: 50000, Rate: 20},
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestEnsureActiveBootstrapsFirstWeek(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, testBrackets, nil)

	week, err := svc.EnsureActive(context.Background(), time.Date(2026, 3, 2, 18, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, week.Number)
	assert.Equal(t, day(2026, 3, 2), week.Start)
	assert.Equal(t, day(2026, 3, 8), week.End)

	again, err := svc.EnsureActive(context.Background(), day(2026, 3, 5))
	require.NoError(t, err)
	assert.Equal(t, week.ID, again.ID)
	assert.Len(t, store.weeks, 1)
}

func TestEnsureActiveResumesAfterLastWeek(t *testing.T) {
	store := newFakeStore()
	w := store.seedActive(4, day(2026, 1, 1), 7)
	w.Status = StatusFinalized
	store.weeks[w.ID] = w

	week, err := NewService(store, testBrackets, nil).EnsureActive(context.Background(), day(2026, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, 5, week.Number)
	assert.Equal(t, day(2026, 1, 8), week.Start)
}

func TestRefreshStoresAggregates(t *testing.T) {
	store := newFakeStore()
	w := store.seedActive(1, day(2026, 3, 2), 7)
	store.aggregates[w.ID] = []Performance{
		{UserID: 1, SalesCount: 3, SalesRevenue: 300, TotalRevenue: 300, TotalCommission: 45},
		{UserID: 2, CleaningCount: 4, CleaningRevenue: 240, TotalRevenue: 240, TotalCommission: 60},
	}

	got, err := NewService(store, testBrackets, nil).Refresh(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 540.0, got.Revenue)
	assert.Equal(t, 105.0, got.Commissions)
	assert.Equal(t, 3, got.SalesCount)
	assert.Equal(t, 4, got.CleaningCount)
	assert.Len(t, store.performance[w.ID], 2)
	assert.Equal(t, 540.0, store.weeks[w.ID].Revenue)
}

func TestRefreshRefusesFinalizedWeek(t *testing.T) {
	store := newFakeStore()
	w := store.seedActive(1, day(2026, 3, 2), 7)
	w.Status = StatusFinalized
	store.weeks[w.ID] = w

	_, err := NewService(store, testBrackets, nil).Refresh(context.Background(), w.ID)
	assert.ErrorIs(t, err, ErrWeekFinalized)
}

func TestPreviewDoesNotWrite(t *testing.T) {
	store := newFakeStore()
	w := store.seedActive(1, day(2026, 3, 2), 7)
	store.aggregates[w.ID] = []Performance{{UserID: 1, SalesRevenue: 60000, TotalRevenue: 60000, TotalCommission: 9000}}

	p, err := NewService(store, testBrackets, nil).Preview(context.Background())
	require.NoError(t, err)
	// 40000 * 10% + 10000 * 20%
	assert.Equal(t, 6000.0, p.Tax.Total)
	assert.Equal(t, 45000.0, p.Net)
	assert.Equal(t, 60000.0, p.Week.Revenue)
	assert.Zero(t, store.weeks[w.ID].Revenue)
	assert.Empty(t, store.performance)
}

func TestFinalizeRollsOver(t *testing.T) {
	store := newFakeStore()
	w := store.seedActive(3, day(2026, 3, 2), 7)
	store.aggregates[w.ID] = []Performance{
		{UserID: 1, SalesRevenue: 20000, TotalRevenue: 20000, TotalCommission: 3000},
		{UserID: 2, CleaningRevenue: 600, CleaningCount: 10, TotalRevenue: 600, TotalCommission: 120},
	}
	observer := &countingObserver{}
	fixed := time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC)
	svc := NewService(store, testBrackets, nil, WithObserver(observer), WithClock(func() time.Time { return fixed }))

	res, err := svc.Finalize(context.Background(), FinalizeInput{ActorID: 9, Today: fixed, Notes: "RAS"})
	require.NoError(t, err)

	assert.Equal(t, StatusFinalized, res.Finalized.Status)
	assert.Equal(t, 20600.0, res.Finalized.Revenue)
	assert.Equal(t, 1060.0, res.Finalized.Tax)
	assert.Equal(t, 20600.0-1060-3120, res.Finalized.Net)
	assert.Equal(t, "RAS", store.weeks[w.ID].Notes)
	assert.Equal(t, int64(9), *store.weeks[w.ID].FinalizedBy)

	assert.Equal(t, 4, res.Next.Number)
	assert.Equal(t, day(2026, 3, 9), res.Next.Start)
	assert.Equal(t, day(2026, 3, 15), res.Next.End)
	assert.Equal(t, StatusActive, store.weeks[res.Next.ID].Status)

	require.Len(t, store.ledger, 2)
	assert.Equal(t, ledger.CategoryTax, store.ledger[0].Category)
	assert.Equal(t, 1060.0, store.ledger[0].Amount)
	assert.Equal(t, ledger.KindExpense, store.ledger[0].Kind)
	assert.Equal(t, w.ID, *store.ledger[0].WeekID)
	assert.Equal(t, ledger.CategoryCommissions, store.ledger[1].Category)
	assert.Equal(t, 3120.0, store.ledger[1].Amount)

	require.Len(t, store.audits, 1)
	assert.Equal(t, "week.finalize", store.audits[0].Action)
	assert.Equal(t, 1, observer.n)
}

func TestFinalizeSkipsZeroExpenses(t *testing.T) {
	store := newFakeStore()
	store.seedActive(1, day(2026, 3, 2), 7)

	res, err := NewService(store, testBrackets, nil).Finalize(context.Background(), FinalizeInput{ActorID: 1, Today: day(2026, 3, 20)})
	require.NoError(t, err)
	assert.Empty(t, store.ledger)
	assert.Zero(t, res.Finalized.Tax)
	// Late rollover starts the next week today.
	assert.Equal(t, day(2026, 3, 20), res.Next.Start)
}

func TestFinalizeIsAtomic(t *testing.T) {
	store := newFakeStore()
	w := store.seedActive(1, day(2026, 3, 2), 7)
	store.aggregates[w.ID] = []Performance{{UserID: 1, SalesRevenue: 30000, TotalRevenue: 30000, TotalCommission: 10}}
	store.failInsert = errors.New("boom")

	_, err := NewService(store, testBrackets, nil).Finalize(context.Background(), FinalizeInput{ActorID: 1, Today: day(2026, 3, 9)})
	require.Error(t, err)
	assert.Equal(t, StatusActive, store.weeks[w.ID].Status)
	assert.Zero(t, store.weeks[w.ID].Tax)
	assert.Empty(t, store.ledger)
	assert.Empty(t, store.audits)
	assert.Len(t, store.weeks, 1)
}

func TestFinalizeRequiresActorAndActiveWeek(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, testBrackets, nil)

	_, err := svc.Finalize(context.Background(), FinalizeInput{Today: day(2026, 3, 9)})
	assert.ErrorIs(t, err, ErrActorRequired)

	_, err = svc.Finalize(context.Background(), FinalizeInput{ActorID: 1, Today: day(2026, 3, 9)})
	assert.ErrorIs(t, err, ErrNoActiveWeek)
}

func TestConsecutiveRolloversNumberSequentially(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, testBrackets, nil, WithLength(3))
	_, err := svc.EnsureActive(context.Background(), day(2026, 5, 1))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Finalize(context.Background(), FinalizeInput{ActorID: 1, Today: day(2026, 5, 1)})
		require.NoError(t, err)
	}
	active, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, active.Number)
	assert.Equal(t, day(2026, 5, 10), active.Start)
	assert.Equal(t, day(2026, 5, 12), active.End)

	recent, err := svc.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, 1, recent[0].Number)
}

func TestPerformanceUsesLiveFiguresForActiveWeek(t *testing.T) {
	store := newFakeStore()
	w := store.seedActive(1, day(2026, 3, 2), 7)
	store.aggregates[w.ID] = []Performance{{UserID: 1, TotalRevenue: 10}}
	store.performance[w.ID] = []Performance{{UserID: 1, TotalRevenue: 5}}

	rows, err := NewService(store, testBrackets, nil).Performance(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, rows[0].TotalRevenue)
}

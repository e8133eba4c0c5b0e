package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavern-panel/panel/internal/shared"
)

type mockRepository struct {
	active      *int64
	activeReads int
	rows        map[int64]Transaction
	locked      map[int64]bool
	nextID      int64
	inserted    []Transaction
}

func newMockRepository() *mockRepository {
	return &mockRepository{rows: map[int64]Transaction{}, locked: map[int64]bool{}, nextID: 1}
}

func (m *mockRepository) ActiveWeekID(ctx context.Context) (*int64, error) {
	m.activeReads++
	return m.active, nil
}

func (m *mockRepository) InsertOnActiveWeek(ctx context.Context, t Transaction) (Transaction, error) {
	t.WeekID = m.active
	t.ID = m.nextID
	m.nextID++
	m.rows[t.ID] = t
	m.inserted = append(m.inserted, t)
	return t, nil
}

func (m *mockRepository) DeleteUnlocked(ctx context.Context, id int64) error {
	if _, ok := m.rows[id]; !ok {
		return ErrNotFound
	}
	if m.locked[id] {
		return ErrLocked
	}
	delete(m.rows, id)
	return nil
}

func (m *mockRepository) List(ctx context.Context, filter ListFilter) ([]Transaction, int, error) {
	var out []Transaction
	for _, t := range m.rows {
		if filter.Kind != "" && t.Kind != filter.Kind {
			continue
		}
		out = append(out, t)
	}
	return out, len(out), nil
}

func (m *mockRepository) Summary(ctx context.Context, weekID *int64) (Summary, error) {
	var s Summary
	for _, t := range m.rows {
		if weekID != nil && (t.WeekID == nil || *t.WeekID != *weekID) {
			continue
		}
		if t.Kind == KindIncome {
			s.Income += t.Amount
		} else {
			s.Expense += t.Amount
		}
		s.Count++
	}
	s.Balance = s.Income - s.Expense
	return s, nil
}

func TestRecordAttachesToActiveWeek(t *testing.T) {
	repo := newMockRepository()
	week := int64(12)
	repo.active = &week
	svc := NewService(repo)

	tx, err := svc.Record(context.Background(), RecordInput{
		Kind:        KindExpense,
		Category:    " stock ",
		Amount:      120.456,
		Description: " Caisse de bières ",
		ActorID:     3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), tx.ID)
	require.NotNil(t, tx.WeekID)
	assert.Equal(t, int64(12), *tx.WeekID)
	assert.Equal(t, "STOCK", tx.Category)
	assert.Equal(t, 120.46, tx.Amount)
	assert.Equal(t, "Caisse de bières", tx.Description)
	require.NotNil(t, tx.CreatedBy)
	assert.Equal(t, int64(3), *tx.CreatedBy)
}

func TestRecordResolvesWeekInsideInsert(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	next := int64(13)
	repo.active = &next

	tx, err := svc.Record(context.Background(), RecordInput{Kind: KindIncome, Category: "APPORT", Amount: 50, ActorID: 1})
	require.NoError(t, err)
	assert.Zero(t, repo.activeReads, "the week must be chosen under the insert's lock")
	require.NotNil(t, tx.WeekID)
	assert.Equal(t, int64(13), *tx.WeekID)
}

func TestRecordWithoutActiveWeek(t *testing.T) {
	svc := NewService(newMockRepository())

	tx, err := svc.Record(context.Background(), RecordInput{Kind: KindIncome, Category: "APPORT", Amount: 500})
	require.NoError(t, err)
	assert.Nil(t, tx.WeekID)
	assert.Nil(t, tx.CreatedBy)
}

func TestRecordValidation(t *testing.T) {
	svc := NewService(newMockRepository())
	ctx := context.Background()

	cases := []RecordInput{
		{Kind: "GIFT", Category: "X", Amount: 10},
		{Kind: KindIncome, Category: "", Amount: 10},
		{Kind: KindIncome, Category: "X", Amount: 0},
		{Kind: KindIncome, Category: "X", Amount: -5},
		{Kind: KindIncome, Category: "X", Amount: 0.001},
	}
	for _, in := range cases {
		_, err := svc.Record(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidInput, "%+v", in)
		assert.NotEqual(t, "Une erreur interne est survenue.", shared.UserSafeMessage(err))
	}
}

func TestDeleteRespectsLock(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()

	open, err := svc.Record(ctx, RecordInput{Kind: KindIncome, Category: "APPORT", Amount: 10})
	require.NoError(t, err)
	frozen, err := svc.Record(ctx, RecordInput{Kind: KindExpense, Category: CategoryTax, Amount: 10})
	require.NoError(t, err)
	repo.locked[frozen.ID] = true

	assert.NoError(t, svc.Delete(ctx, open.ID))
	assert.ErrorIs(t, svc.Delete(ctx, frozen.ID), ErrLocked)
	assert.ErrorIs(t, svc.Delete(ctx, 999), ErrNotFound)
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind(" income ")
	assert.True(t, ok)
	assert.Equal(t, KindIncome, k)
	assert.Equal(t, "Entrée", k.Label())
	_, ok = ParseKind("refund")
	assert.False(t, ok)
}

func TestWhereClause(t *testing.T) {
	where, args := whereClause(ListFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	week := int64(4)
	where, args = whereClause(ListFilter{WeekID: &week, Kind: KindExpense})
	assert.Equal(t, " WHERE t.week_id = $1 AND t.kind = $2", where)
	assert.Equal(t, []any{int64(4), "EXPENSE"}, args)
}

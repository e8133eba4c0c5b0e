package cleaning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/weeks"
)

type mockRepository struct {
	sessions   map[int64]Session
	roles      map[int64]payroll.Role
	activeWeek int64
	nextID     int64
	cutoff     time.Time
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		sessions:   map[int64]Session{},
		roles:      map[int64]payroll.Role{1: payroll.RoleCDI, 2: payroll.RolePatron},
		activeWeek: 8,
		nextID:     1,
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *mockRepository) Open(ctx context.Context, userID int64) (Session, error) {
	for _, s := range m.sessions {
		if s.UserID == userID && s.Status == StatusOpen {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

func (m *mockRepository) Insert(ctx context.Context, userID int64, startedAt time.Time) (Session, error) {
	s := Session{ID: m.nextID, UserID: userID, Status: StatusOpen, StartedAt: startedAt}
	m.nextID++
	m.sessions[s.ID] = s
	return s, nil
}

func (m *mockRepository) CancelStale(ctx context.Context, before time.Time) (int64, error) {
	m.cutoff = before
	var n int64
	for id, s := range m.sessions {
		if s.Status == StatusOpen && s.StartedAt.Before(before) {
			s.Status = StatusCancelled
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) List(ctx context.Context, filter ListFilter) ([]Session, int, error) {
	var out []Session
	for _, s := range m.sessions {
		if filter.UserID != nil && s.UserID != *filter.UserID {
			continue
		}
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *mockRepository) Totals(ctx context.Context, filter ListFilter) (Totals, error) {
	var t Totals
	list, _, _ := m.List(ctx, filter)
	for _, s := range list {
		if s.Status != StatusClosed {
			continue
		}
		t.Sessions++
		t.Services += s.ServiceCount
		t.Revenue += s.Revenue
	}
	return t, nil
}

func (m *mockRepository) ActiveWeekID(ctx context.Context) (int64, error) {
	if m.activeWeek == 0 {
		return 0, weeks.ErrNoActiveWeek
	}
	return m.activeWeek, nil
}

func (m *mockRepository) LockSession(ctx context.Context, id int64) (Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *mockRepository) ActiveWeekForShare(ctx context.Context) (int64, error) {
	return m.ActiveWeekID(ctx)
}

func (m *mockRepository) EmployeeRole(ctx context.Context, userID int64) (payroll.Role, error) {
	role, ok := m.roles[userID]
	if !ok {
		return "", ErrUnknownSeller
	}
	return role, nil
}

func (m *mockRepository) Close(ctx context.Context, id int64, c Closing) error {
	s := m.sessions[id]
	if s.Status != StatusOpen {
		return ErrNotOpen
	}
	s.Status = StatusClosed
	s.WeekID = &c.WeekID
	s.EndedAt = &c.EndedAt
	s.ServiceCount = c.ServiceCount
	s.UnitPrice = c.UnitPrice
	s.Revenue = c.Revenue
	s.CommissionRate = c.CommissionRate
	s.Commission = c.Commission
	m.sessions[id] = s
	return nil
}

type staticPricing struct {
	price float64
	rates payroll.RoleRates
}

func (p staticPricing) CleaningUnitPrice(ctx context.Context) (float64, error) { return p.price, nil }

func (p staticPricing) Rates(ctx context.Context) (payroll.RoleRates, error) { return p.rates, nil }

var t0 = time.Date(2026, 3, 4, 21, 0, 0, 0, time.UTC)

func newTestService(repo *mockRepository) *Service {
	svc := NewService(repo, staticPricing{price: 60, rates: payroll.DefaultRoleRates()}, nil)
	svc.now = func() time.Time { return t0 }
	return svc
}

func TestStartAllowsOneOpenSession(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	sess, err := svc.Start(context.Background(), 1, t0)
	require.NoError(t, err)
	assert.True(t, sess.IsOpen())

	_, err = svc.Start(context.Background(), 1, t0.Add(time.Minute))
	require.ErrorIs(t, err, ErrSessionOpen)
	assert.Equal(t, "Un ménage est déjà en cours", shared.UserSafeMessage(err))

	_, err = svc.Start(context.Background(), 2, t0)
	assert.NoError(t, err)
}

func TestFinishPricesServices(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	sess, err := svc.Start(context.Background(), 1, t0)
	require.NoError(t, err)

	done, err := svc.Finish(context.Background(), FinishInput{SessionID: sess.ID, UserID: 1, ServiceCount: 7, Now: t0.Add(95 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, done.Status)
	assert.Equal(t, 420.0, done.Revenue)
	assert.Equal(t, 20.0, done.CommissionRate)
	assert.Equal(t, 84.0, done.Commission)
	assert.Equal(t, int64(8), *done.WeekID)
	assert.Equal(t, 95, done.Minutes(time.Time{}))

	_, err = svc.Finish(context.Background(), FinishInput{SessionID: sess.ID, UserID: 1, ServiceCount: 1})
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestFinishRejections(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	sess, err := svc.Start(context.Background(), 1, t0)
	require.NoError(t, err)

	_, err = svc.Finish(context.Background(), FinishInput{SessionID: sess.ID, UserID: 1, ServiceCount: MaxServices + 1})
	assert.ErrorIs(t, err, ErrInvalidCount)

	_, err = svc.Finish(context.Background(), FinishInput{SessionID: sess.ID, UserID: 1, ServiceCount: -1})
	assert.ErrorIs(t, err, ErrInvalidCount)

	_, err = svc.Finish(context.Background(), FinishInput{SessionID: sess.ID, UserID: 2, ServiceCount: 1})
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = svc.Finish(context.Background(), FinishInput{SessionID: 99, UserID: 1, ServiceCount: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	repo.activeWeek = 0
	_, err = svc.Finish(context.Background(), FinishInput{SessionID: sess.ID, UserID: 1, ServiceCount: 1})
	assert.ErrorIs(t, err, weeks.ErrNoActiveWeek)
	assert.True(t, repo.sessions[sess.ID].IsOpen())
}

func TestFinishZeroServices(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	sess, err := svc.Start(context.Background(), 2, t0)
	require.NoError(t, err)

	done, err := svc.Finish(context.Background(), FinishInput{SessionID: sess.ID, UserID: 2, ServiceCount: 0})
	require.NoError(t, err)
	assert.Zero(t, done.Revenue)
	assert.Zero(t, done.Commission)
}

func TestCloseStale(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	old, err := svc.Start(context.Background(), 1, t0.Add(-13*time.Hour))
	require.NoError(t, err)
	fresh, err := svc.Start(context.Background(), 2, t0.Add(-time.Hour))
	require.NoError(t, err)

	n, err := svc.CloseStale(context.Background(), 12*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, t0.Add(-12*time.Hour), repo.cutoff)
	assert.Equal(t, StatusCancelled, repo.sessions[old.ID].Status)
	assert.Equal(t, StatusOpen, repo.sessions[fresh.ID].Status)

	_, err = svc.CloseStale(context.Background(), 0)
	assert.Error(t, err)
}

func TestSessionDuration(t *testing.T) {
	s := Session{StartedAt: t0}
	assert.Equal(t, 30, s.Minutes(t0.Add(30*time.Minute+20*time.Second)))
	assert.Zero(t, s.Minutes(t0.Add(-time.Hour)))
}

package sales

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/weeks"
)

type mockRepository struct {
	activeWeek int64
	weekStatus weeks.Status
	roles      map[int64]payroll.Role
	products   map[int64]Product
	sales      map[int64]Sale
	items      map[int64][]Item
	audits     []shared.AuditLog
	nextID     int64
	failItems  error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		activeWeek: 4,
		weekStatus: weeks.StatusActive,
		roles:      map[int64]payroll.Role{1: payroll.RoleCDD, 2: payroll.RoleResponsable},
		products: map[int64]Product{
			10: {ID: 10, Name: "Whisky", Category: "Alcools", Price: 45.5, IsActive: true},
			11: {ID: 11, Name: "Bière", Category: "Alcools", Price: 12, IsActive: true},
			12: {ID: 12, Name: "Cigare", Category: "Tabac", Price: 80, IsActive: false},
		},
		sales:  map[int64]Sale{},
		items:  map[int64][]Item{},
		nextID: 1,
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	salesCopy := make(map[int64]Sale, len(m.sales))
	for k, v := range m.sales {
		salesCopy[k] = v
	}
	auditLen := len(m.audits)
	if err := fn(ctx, m); err != nil {
		m.sales = salesCopy
		m.audits = m.audits[:auditLen]
		return err
	}
	return nil
}

func (m *mockRepository) ListProducts(ctx context.Context, activeOnly bool) ([]Product, error) {
	var out []Product
	for _, p := range m.products {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *mockRepository) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (m *mockRepository) CreateProduct(ctx context.Context, in ProductInput) (int64, error) {
	for _, p := range m.products {
		if p.Name == in.Name {
			return 0, ErrDuplicate
		}
	}
	id := int64(100 + len(m.products))
	m.products[id] = Product{ID: id, Name: in.Name, Category: in.Category, Price: in.Price, IsActive: true}
	return id, nil
}

func (m *mockRepository) UpdateProduct(ctx context.Context, id int64, in ProductInput) error {
	p, ok := m.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Name, p.Category, p.Price = in.Name, in.Category, in.Price
	m.products[id] = p
	return nil
}

func (m *mockRepository) ToggleProduct(ctx context.Context, id int64) (bool, error) {
	p, ok := m.products[id]
	if !ok {
		return false, ErrProductNotFound
	}
	p.IsActive = !p.IsActive
	m.products[id] = p
	return p.IsActive, nil
}

func (m *mockRepository) ActiveWeekID(ctx context.Context) (int64, error) {
	if m.activeWeek == 0 {
		return 0, weeks.ErrNoActiveWeek
	}
	return m.activeWeek, nil
}

func (m *mockRepository) ListSales(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	var out []Sale
	for _, s := range m.sales {
		if filter.UserID != nil && s.UserID != *filter.UserID {
			continue
		}
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *mockRepository) GetSale(ctx context.Context, id int64) (Sale, error) {
	s, ok := m.sales[id]
	if !ok {
		return Sale{}, ErrNotFound
	}
	return s, nil
}

func (m *mockRepository) Totals(ctx context.Context, filter ListFilter) (Totals, error) {
	list, _, _ := m.ListSales(ctx, filter)
	return Summarize(list), nil
}

func (m *mockRepository) ActiveWeekForShare(ctx context.Context) (int64, error) {
	return m.ActiveWeekID(ctx)
}

func (m *mockRepository) SellerRole(ctx context.Context, userID int64) (payroll.Role, error) {
	role, ok := m.roles[userID]
	if !ok {
		return "", ErrForbidden
	}
	return role, nil
}

func (m *mockRepository) ProductsByID(ctx context.Context, ids []int64) (map[int64]Product, error) {
	out := map[int64]Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *mockRepository) InsertSale(ctx context.Context, s Sale) (int64, error) {
	s.ID = m.nextID
	m.nextID++
	m.sales[s.ID] = s
	return s.ID, nil
}

func (m *mockRepository) InsertItems(ctx context.Context, saleID int64, items []Item) error {
	if m.failItems != nil {
		return m.failItems
	}
	m.items[saleID] = items
	return nil
}

func (m *mockRepository) LockSale(ctx context.Context, id int64) (Sale, weeks.Status, error) {
	s, ok := m.sales[id]
	if !ok {
		return Sale{}, "", ErrNotFound
	}
	return s, m.weekStatus, nil
}

func (m *mockRepository) DeleteSale(ctx context.Context, id int64) error {
	delete(m.sales, id)
	return nil
}

func (m *mockRepository) Audit(ctx context.Context, log shared.AuditLog) error {
	m.audits = append(m.audits, log)
	return nil
}

type staticRates payroll.RoleRates

func (s staticRates) Rates(ctx context.Context) (payroll.RoleRates, error) {
	return payroll.RoleRates(s), nil
}

type saleCounter struct{ n int }

func (c *saleCounter) SaleRecorded() { c.n++ }

func newTestService(repo *mockRepository) (*Service, *saleCounter) {
	counter := &saleCounter{}
	svc := NewService(repo, staticRates(payroll.DefaultRoleRates()), nil, counter)
	svc.newRef = func() uuid.UUID { return uuid.MustParse("6f1c2a9e-0000-4000-8000-000000000001") }
	return svc, counter
}

func TestRecordComputesTotalsAndCommission(t *testing.T) {
	repo := newMockRepository()
	svc, counter := newTestService(repo)

	sale, err := svc.Record(context.Background(), RecordInput{
		SellerID:     1,
		CustomerName: "  Tommy ",
		Lines: []LineInput{
			{ProductID: 10, Quantity: 2},
			{ProductID: 11, Quantity: 3},
			{ProductID: 10, Quantity: 1},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(4), sale.WeekID)
	assert.Equal(t, 172.5, sale.Total)
	assert.Equal(t, 15.0, sale.CommissionRate)
	assert.Equal(t, 25.88, sale.Commission)
	assert.Equal(t, "Tommy", sale.CustomerName)
	assert.Equal(t, PaymentCash, sale.PaymentMethod)
	assert.Equal(t, "6F1C2A9E", sale.ShortRef())
	require.Len(t, repo.items[sale.ID], 2)
	assert.Equal(t, 3, repo.items[sale.ID][0].Quantity)
	assert.Equal(t, 136.5, repo.items[sale.ID][0].LineTotal)
	assert.Equal(t, 1, counter.n)
}

func TestRecordUsesSellerRoleRate(t *testing.T) {
	repo := newMockRepository()
	svc, _ := newTestService(repo)

	sale, err := svc.Record(context.Background(), RecordInput{SellerID: 2, Lines: []LineInput{{ProductID: 11, Quantity: 10}}})
	require.NoError(t, err)
	assert.Equal(t, 25.0, sale.CommissionRate)
	assert.Equal(t, 30.0, sale.Commission)
}

func TestRecordRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*mockRepository)
		lines   []LineInput
		wantErr error
	}{
		{name: "empty cart", lines: nil, wantErr: ErrEmptyCart},
		{name: "zero lines only", lines: []LineInput{{ProductID: 10, Quantity: 0}}, wantErr: ErrEmptyCart},
		{name: "inactive product", lines: []LineInput{{ProductID: 12, Quantity: 1}}, wantErr: ErrProductInactive},
		{name: "unknown product", lines: []LineInput{{ProductID: 99, Quantity: 1}}, wantErr: ErrProductNotFound},
		{name: "quantity too large", lines: []LineInput{{ProductID: 10, Quantity: 1000}}, wantErr: ErrInvalidInput},
		{name: "negative quantity", lines: []LineInput{{ProductID: 10, Quantity: -2}}, wantErr: ErrInvalidInput},
		{
			name:    "no active week",
			mutate:  func(m *mockRepository) { m.activeWeek = 0 },
			lines:   []LineInput{{ProductID: 10, Quantity: 1}},
			wantErr: weeks.ErrNoActiveWeek,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMockRepository()
			if tc.mutate != nil {
				tc.mutate(repo)
			}
			svc, counter := newTestService(repo)
			_, err := svc.Record(context.Background(), RecordInput{SellerID: 1, Lines: tc.lines})
			require.ErrorIs(t, err, tc.wantErr)
			assert.NotEqual(t, "Une erreur interne est survenue.", shared.UserSafeMessage(err))
			assert.Empty(t, repo.sales)
			assert.Zero(t, counter.n)
		})
	}
}

func TestRecordRollsBackOnItemFailure(t *testing.T) {
	repo := newMockRepository()
	repo.failItems = errors.New("batch failed")
	svc, _ := newTestService(repo)

	_, err := svc.Record(context.Background(), RecordInput{SellerID: 1, Lines: []LineInput{{ProductID: 10, Quantity: 1}}})
	require.Error(t, err)
	assert.Empty(t, repo.sales)
}

func TestCancel(t *testing.T) {
	repo := newMockRepository()
	svc, _ := newTestService(repo)
	sale, err := svc.Record(context.Background(), RecordInput{SellerID: 1, Lines: []LineInput{{ProductID: 11, Quantity: 1}}})
	require.NoError(t, err)

	err = svc.Cancel(context.Background(), CancelInput{SaleID: sale.ID, ActorID: 1, ActorRole: payroll.RoleCDI})
	require.ErrorIs(t, err, ErrForbidden)
	assert.Contains(t, repo.sales, sale.ID)

	repo.weekStatus = weeks.StatusFinalized
	err = svc.Cancel(context.Background(), CancelInput{SaleID: sale.ID, ActorID: 2, ActorRole: payroll.RoleResponsable})
	require.ErrorIs(t, err, weeks.ErrWeekFinalized)
	assert.Contains(t, repo.sales, sale.ID)
	assert.Empty(t, repo.audits)

	repo.weekStatus = weeks.StatusActive
	require.NoError(t, svc.Cancel(context.Background(), CancelInput{SaleID: sale.ID, ActorID: 2, ActorRole: payroll.RoleResponsable}))
	assert.NotContains(t, repo.sales, sale.ID)
	require.Len(t, repo.audits, 1)
	assert.Equal(t, "sale.cancel", repo.audits[0].Action)

	err = svc.Cancel(context.Background(), CancelInput{SaleID: sale.ID, ActorID: 2, ActorRole: payroll.RolePatron})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProductLifecycle(t *testing.T) {
	repo := newMockRepository()
	svc, _ := newTestService(repo)

	p, err := svc.CreateProduct(context.Background(), ProductInput{Name: " Rhum ", Category: "Alcools", Price: 20.556})
	require.NoError(t, err)
	assert.Equal(t, "Rhum", p.Name)
	assert.Equal(t, 20.56, p.Price)

	_, err = svc.CreateProduct(context.Background(), ProductInput{Name: "Rhum", Price: 3})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = svc.CreateProduct(context.Background(), ProductInput{Name: "", Price: 3})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateProduct(context.Background(), ProductInput{Name: "Eau", Price: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	active, err := svc.ToggleProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, svc.UpdateProduct(context.Background(), p.ID, ProductInput{Name: "Rhum vieux", Price: 25}))
	assert.Equal(t, "Rhum vieux", repo.products[p.ID].Name)

	err = svc.UpdateProduct(context.Background(), 404, ProductInput{Name: "X", Price: 1})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestGroupByCategory(t *testing.T) {
	groups := GroupByCategory([]Product{
		{Name: "Whisky", Category: "Alcools", IsActive: true},
		{Name: "Bière", Category: "Alcools", IsActive: true},
		{Name: "Chips", IsActive: true},
		{Name: "Cigare", Category: "Tabac", IsActive: false},
	})
	require.Len(t, groups, 2)
	assert.Equal(t, "Alcools", groups[0].Name)
	assert.Equal(t, "Bière", groups[0].Products[0].Name)
	assert.Equal(t, "Divers", groups[1].Name)
}

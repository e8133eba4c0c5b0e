package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/platform/db"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/weeks"
)

// Repository provides PostgreSQL backed persistence for the till.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListProducts(ctx context.Context, activeOnly bool) ([]Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	CreateProduct(ctx context.Context, in ProductInput) (int64, error)
	UpdateProduct(ctx context.Context, id int64, in ProductInput) error
	ToggleProduct(ctx context.Context, id int64) (bool, error)
	ActiveWeekID(ctx context.Context) (int64, error)
	ListSales(ctx context.Context, filter ListFilter) ([]Sale, int, error)
	GetSale(ctx context.Context, id int64) (Sale, error)
	Totals(ctx context.Context, filter ListFilter) (Totals, error)
}

// TxRepository exposes the statements of a sale write.
type TxRepository interface {
	ActiveWeekForShare(ctx context.Context) (int64, error)
	SellerRole(ctx context.Context, userID int64) (payroll.Role, error)
	ProductsByID(ctx context.Context, ids []int64) (map[int64]Product, error)
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertItems(ctx context.Context, saleID int64, items []Item) error
	LockSale(ctx context.Context, id int64) (Sale, weeks.Status, error)
	DeleteSale(ctx context.Context, id int64) error
	Audit(ctx context.Context, log shared.AuditLog) error
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const selectProduct = `SELECT id, name, category, price, is_active, created_at, updated_at FROM products`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *pgRepository) ListProducts(ctx context.Context, activeOnly bool) ([]Product, error) {
	query := selectProduct
	if activeOnly {
		query += ` WHERE is_active`
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *pgRepository) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, selectProduct+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *pgRepository) CreateProduct(ctx context.Context, in ProductInput) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO products (name, category, price) VALUES ($1, $2, $3) RETURNING id`,
		in.Name, in.Category, in.Price).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, ErrDuplicate
	}
	return id, err
}

func (r *pgRepository) UpdateProduct(ctx context.Context, id int64, in ProductInput) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET name = $2, category = $3, price = $4, updated_at = NOW() WHERE id = $1`,
		id, in.Name, in.Category, in.Price)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *pgRepository) ToggleProduct(ctx context.Context, id int64) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `UPDATE products SET is_active = NOT is_active, updated_at = NOW() WHERE id = $1 RETURNING is_active`, id).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrProductNotFound
	}
	return active, err
}

func (r *pgRepository) ActiveWeekID(ctx context.Context) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM weeks WHERE status = 'ACTIVE'`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, weeks.ErrNoActiveWeek
	}
	return id, err
}

const selectSale = `SELECT s.id, s.reference, s.week_id, w.week_number, s.user_id, u.display_name, s.customer_name,
	s.payment_method, s.total_amount, s.commission_rate, s.commission_amount, s.created_at
	FROM sales s JOIN users u ON u.id = s.user_id JOIN weeks w ON w.id = s.week_id`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var method string
	err := row.Scan(&s.ID, &s.Reference, &s.WeekID, &s.WeekNumber, &s.UserID, &s.SellerName, &s.CustomerName,
		&method, &s.Total, &s.CommissionRate, &s.Commission, &s.CreatedAt)
	s.PaymentMethod = PaymentMethod(method)
	return s, err
}

func whereClause(filter ListFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.WeekID != nil {
		args = append(args, *filter.WeekID)
		conds = append(conds, fmt.Sprintf("s.week_id = $%d", len(args)))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		conds = append(conds, fmt.Sprintf("s.user_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *pgRepository) ListSales(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	where, args := whereClause(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales s`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	query := selectSale + where + fmt.Sprintf(" ORDER BY s.created_at DESC, s.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.attachItems(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *pgRepository) attachItems(ctx context.Context, list []Sale) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	index := make(map[int64]int, len(list))
	for i, s := range list {
		ids[i] = s.ID
		index[s.ID] = i
	}
	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, product_id, product_name, quantity, unit_price, line_total
		FROM sale_items WHERE sale_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return err
		}
		i := index[it.SaleID]
		list[i].Items = append(list[i].Items, it)
	}
	return rows.Err()
}

func (r *pgRepository) GetSale(ctx context.Context, id int64) (Sale, error) {
	s, err := scanSale(r.pool.QueryRow(ctx, selectSale+` WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrNotFound
	}
	if err != nil {
		return Sale{}, err
	}
	list := []Sale{s}
	if err := r.attachItems(ctx, list); err != nil {
		return Sale{}, err
	}
	return list[0], nil
}

func (r *pgRepository) Totals(ctx context.Context, filter ListFilter) (Totals, error) {
	where, args := whereClause(filter)
	var t Totals
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(s.total_amount), 0), COALESCE(SUM(s.commission_amount), 0) FROM sales s`+where, args...).
		Scan(&t.Count, &t.Revenue, &t.Commission)
	return t, err
}

func (t *txRepo) ActiveWeekForShare(ctx context.Context) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM weeks WHERE status = 'ACTIVE' FOR SHARE`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, weeks.ErrNoActiveWeek
	}
	return id, err
}

func (t *txRepo) SellerRole(ctx context.Context, userID int64) (payroll.Role, error) {
	var role string
	err := t.tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 AND is_active`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: unknown seller %d", ErrForbidden, userID)
	}
	if err != nil {
		return "", err
	}
	return payroll.ParseRole(role)
}

func (t *txRepo) ProductsByID(ctx context.Context, ids []int64) (map[int64]Product, error) {
	rows, err := t.tx.Query(ctx, selectProduct+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (t *txRepo) InsertSale(ctx context.Context, s Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales (reference, week_id, user_id, customer_name, payment_method,
			total_amount, commission_rate, commission_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		s.Reference, s.WeekID, s.UserID, s.CustomerName, string(s.PaymentMethod),
		s.Total, s.CommissionRate, s.Commission).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sales: insert sale: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertItems(ctx context.Context, saleID int64, items []Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`INSERT INTO sale_items (sale_id, product_id, product_name, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)`, saleID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.LineTotal)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) LockSale(ctx context.Context, id int64) (Sale, weeks.Status, error) {
	var s Sale
	var status string
	err := t.tx.QueryRow(ctx, `SELECT s.id, s.reference, s.week_id, w.week_number, s.user_id, s.total_amount,
			s.commission_amount, w.status
		FROM sales s JOIN weeks w ON w.id = s.week_id
		WHERE s.id = $1 FOR UPDATE OF s FOR SHARE OF w`, id).
		Scan(&s.ID, &s.Reference, &s.WeekID, &s.WeekNumber, &s.UserID, &s.Total, &s.Commission, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, "", ErrNotFound
	}
	return s, weeks.Status(status), err
}

func (t *txRepo) DeleteSale(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM sales WHERE id = $1`, id)
	return err
}

func (t *txRepo) Audit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordAudit(ctx, t.tx, log)
}

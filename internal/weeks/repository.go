package weeks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tavern-panel/panel/internal/ledger"
	"github.com/tavern-panel/panel/internal/platform/db"
	"github.com/tavern-panel/panel/internal/shared"
)

// Repository reads weeks outside of a transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Active(ctx context.Context) (Week, error)
	Get(ctx context.Context, id int64) (Week, error)
	List(ctx context.Context, limit, offset int) ([]Week, int, error)
	Recent(ctx context.Context, limit int) ([]Week, error)
	Performance(ctx context.Context, weekID int64) ([]Performance, error)
	Aggregate(ctx context.Context, weekID int64) ([]Performance, error)
}

// TxRepository exposes the statements a rollover runs inside one transaction.
type TxRepository interface {
	ActiveForUpdate(ctx context.Context) (Week, error)
	LoadForUpdate(ctx context.Context, id int64) (Week, error)
	Latest(ctx context.Context) (Week, bool, error)
	Aggregate(ctx context.Context, weekID int64) ([]Performance, error)
	ReplacePerformance(ctx context.Context, weekID int64, rows []Performance) error
	UpdateTotals(ctx context.Context, weekID int64, totals Totals) error
	MarkFinalized(ctx context.Context, weekID int64, frozen Frozen) error
	InsertWeek(ctx context.Context, number int, start, end time.Time) (Week, error)
	InsertTransaction(ctx context.Context, t ledger.Transaction) (int64, error)
	Audit(ctx context.Context, log shared.AuditLog) error
}

// PGRepository implements Repository with PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// rolloverTx is read committed: refresh and finalize lock the week row, wait
// for in-flight sales and cleaning writers holding FOR SHARE on it, then
// aggregate. Each aggregate statement must see the rows those writers committed.
var rolloverTx = db.ReadCommitted

// WithTx wraps callback in a read-committed transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, rolloverTx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const selectWeek = `SELECT id, week_number, week_start, week_end, status, sales_count, cleaning_count,
	total_sales_revenue, total_cleaning_revenue, total_revenue, total_commissions, tax_amount, net_revenue,
	notes, finalized_at, finalized_by, created_at FROM weeks`

func scanWeek(row pgx.Row) (Week, error) {
	var w Week
	var status string
	err := row.Scan(&w.ID, &w.Number, &w.Start, &w.End, &status, &w.SalesCount, &w.CleaningCount,
		&w.SalesRevenue, &w.CleaningRevenue, &w.Revenue, &w.Commissions, &w.Tax, &w.Net,
		&w.Notes, &w.FinalizedAt, &w.FinalizedBy, &w.CreatedAt)
	if err != nil {
		return Week{}, err
	}
	w.Status = Status(status)
	return w, nil
}

func scanWeeks(rows pgx.Rows) ([]Week, error) {
	defer rows.Close()
	var out []Week
	for rows.Next() {
		w, err := scanWeek(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

// Active returns the active week.
func (r *PGRepository) Active(ctx context.Context) (Week, error) {
	w, err := scanWeek(r.pool.QueryRow(ctx, selectWeek+` WHERE status = 'ACTIVE'`))
	return w, notFound(err, ErrNoActiveWeek)
}

// Get returns a week by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (Week, error) {
	w, err := scanWeek(r.pool.QueryRow(ctx, selectWeek+` WHERE id = $1`, id))
	return w, notFound(err, ErrNotFound)
}

// List returns weeks, newest first, and the total count.
func (r *PGRepository) List(ctx context.Context, limit, offset int) ([]Week, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM weeks`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, selectWeek+` ORDER BY week_number DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out, err := scanWeeks(rows)
	return out, total, err
}

// Recent returns the last limit weeks in chronological order.
func (r *PGRepository) Recent(ctx context.Context, limit int) ([]Week, error) {
	rows, err := r.pool.Query(ctx, `SELECT * FROM (`+selectWeek+` ORDER BY week_number DESC LIMIT $1) recent ORDER BY week_number`, limit)
	if err != nil {
		return nil, err
	}
	return scanWeeks(rows)
}

const selectPerformance = `SELECT p.week_id, p.user_id, u.display_name, u.role, p.sales_count, p.sales_revenue,
	p.sales_commission, p.cleaning_count, p.cleaning_revenue, p.cleaning_commission, p.total_revenue, p.total_commission
	FROM weekly_performance p JOIN users u ON u.id = p.user_id`

// Performance returns the stored per-employee aggregates of a week.
func (r *PGRepository) Performance(ctx context.Context, weekID int64) ([]Performance, error) {
	rows, err := r.pool.Query(ctx, selectPerformance+` WHERE p.week_id = $1 ORDER BY p.total_revenue DESC, u.display_name`, weekID)
	if err != nil {
		return nil, err
	}
	return scanPerformance(rows)
}

// Aggregate computes per-employee aggregates from sales and closed cleaning sessions.
func (r *PGRepository) Aggregate(ctx context.Context, weekID int64) ([]Performance, error) {
	return aggregate(ctx, r.pool, weekID)
}

const aggregateSQL = `WITH s AS (
		SELECT user_id, COUNT(*) AS cnt, COALESCE(SUM(total_amount), 0) AS revenue, COALESCE(SUM(commission_amount), 0) AS commission
		FROM sales WHERE week_id = $1 GROUP BY user_id
	), c AS (
		SELECT user_id, COALESCE(SUM(service_count), 0) AS cnt, COALESCE(SUM(total_revenue), 0) AS revenue, COALESCE(SUM(commission_amount), 0) AS commission
		FROM cleaning_services WHERE week_id = $1 AND status = 'CLOSED' GROUP BY user_id
	)
	SELECT $1::bigint, u.id, u.display_name, u.role,
		COALESCE(s.cnt, 0)::int, COALESCE(s.revenue, 0), COALESCE(s.commission, 0),
		COALESCE(c.cnt, 0)::int, COALESCE(c.revenue, 0), COALESCE(c.commission, 0),
		COALESCE(s.revenue, 0) + COALESCE(c.revenue, 0),
		COALESCE(s.commission, 0) + COALESCE(c.commission, 0)
	FROM s FULL OUTER JOIN c ON c.user_id = s.user_id
	JOIN users u ON u.id = COALESCE(s.user_id, c.user_id)
	ORDER BY 11 DESC, u.display_name`

func aggregate(ctx context.Context, q db.Querier, weekID int64) ([]Performance, error) {
	rows, err := q.Query(ctx, aggregateSQL, weekID)
	if err != nil {
		return nil, fmt.Errorf("weeks: aggregate: %w", err)
	}
	return scanPerformance(rows)
}

func scanPerformance(rows pgx.Rows) ([]Performance, error) {
	defer rows.Close()
	var out []Performance
	for rows.Next() {
		var p Performance
		var role string
		if err := rows.Scan(&p.WeekID, &p.UserID, &p.DisplayName, &role, &p.SalesCount, &p.SalesRevenue,
			&p.SalesCommission, &p.CleaningCount, &p.CleaningRevenue, &p.CleaningCommission,
			&p.TotalRevenue, &p.TotalCommission); err != nil {
			return nil, err
		}
		p.Role = payrollRole(role)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *txRepo) ActiveForUpdate(ctx context.Context) (Week, error) {
	w, err := scanWeek(t.tx.QueryRow(ctx, selectWeek+` WHERE status = 'ACTIVE' FOR UPDATE`))
	return w, notFound(err, ErrNoActiveWeek)
}

func (t *txRepo) LoadForUpdate(ctx context.Context, id int64) (Week, error) {
	w, err := scanWeek(t.tx.QueryRow(ctx, selectWeek+` WHERE id = $1 FOR UPDATE`, id))
	return w, notFound(err, ErrNotFound)
}

func (t *txRepo) Latest(ctx context.Context) (Week, bool, error) {
	w, err := scanWeek(t.tx.QueryRow(ctx, selectWeek+` ORDER BY week_number DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return Week{}, false, nil
	}
	if err != nil {
		return Week{}, false, err
	}
	return w, true, nil
}

func (t *txRepo) Aggregate(ctx context.Context, weekID int64) ([]Performance, error) {
	return aggregate(ctx, t.tx, weekID)
}

func (t *txRepo) ReplacePerformance(ctx context.Context, weekID int64, rows []Performance) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM weekly_performance WHERE week_id = $1`, weekID); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range rows {
		batch.Queue(`INSERT INTO weekly_performance (week_id, user_id, sales_count, sales_revenue, sales_commission,
				cleaning_count, cleaning_revenue, cleaning_commission, total_revenue, total_commission, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
			weekID, p.UserID, p.SalesCount, p.SalesRevenue, p.SalesCommission,
			p.CleaningCount, p.CleaningRevenue, p.CleaningCommission, p.TotalRevenue, p.TotalCommission)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) UpdateTotals(ctx context.Context, weekID int64, totals Totals) error {
	_, err := t.tx.Exec(ctx, `UPDATE weeks SET sales_count = $2, cleaning_count = $3, total_sales_revenue = $4,
			total_cleaning_revenue = $5, total_revenue = $6, total_commissions = $7
		WHERE id = $1 AND status = 'ACTIVE'`,
		weekID, totals.SalesCount, totals.CleaningCount, totals.SalesRevenue, totals.CleaningRevenue,
		totals.Revenue, totals.Commissions)
	return err
}

func (t *txRepo) MarkFinalized(ctx context.Context, weekID int64, f Frozen) error {
	tag, err := t.tx.Exec(ctx, `UPDATE weeks SET status = 'FINALIZED', sales_count = $2, cleaning_count = $3,
			total_sales_revenue = $4, total_cleaning_revenue = $5, total_revenue = $6, total_commissions = $7,
			tax_amount = $8, net_revenue = $9, notes = $10, finalized_by = $11, finalized_at = $12
		WHERE id = $1 AND status = 'ACTIVE'`,
		weekID, f.Totals.SalesCount, f.Totals.CleaningCount, f.Totals.SalesRevenue, f.Totals.CleaningRevenue,
		f.Totals.Revenue, f.Totals.Commissions, f.Tax, f.Net, f.Notes, f.ActorID, f.At)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrWeekFinalized
	}
	return nil
}

func (t *txRepo) InsertWeek(ctx context.Context, number int, start, end time.Time) (Week, error) {
	w, err := scanWeek(t.tx.QueryRow(ctx, `INSERT INTO weeks (week_number, week_start, week_end, status)
		VALUES ($1, $2, $3, 'ACTIVE')
		RETURNING id, week_number, week_start, week_end, status, sales_count, cleaning_count,
			total_sales_revenue, total_cleaning_revenue, total_revenue, total_commissions, tax_amount, net_revenue,
			notes, finalized_at, finalized_by, created_at`, number, start, end))
	if err != nil {
		return Week{}, fmt.Errorf("weeks: insert week %d: %w", number, err)
	}
	return w, nil
}

func (t *txRepo) InsertTransaction(ctx context.Context, tr ledger.Transaction) (int64, error) {
	return ledger.InsertTx(ctx, t.tx, tr)
}

func (t *txRepo) Audit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordAudit(ctx, t.tx, log)
}

var _ Repository = (*PGRepository)(nil)

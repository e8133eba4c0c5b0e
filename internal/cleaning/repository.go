package cleaning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/platform/db"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/weeks"
)

// Repository persists cleaning sessions.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Open(ctx context.Context, userID int64) (Session, error)
	Insert(ctx context.Context, userID int64, startedAt time.Time) (Session, error)
	CancelStale(ctx context.Context, before time.Time) (int64, error)
	List(ctx context.Context, filter ListFilter) ([]Session, int, error)
	Totals(ctx context.Context, filter ListFilter) (Totals, error)
	ActiveWeekID(ctx context.Context) (int64, error)
}

// TxRepository exposes the statements of a session closing.
type TxRepository interface {
	LockSession(ctx context.Context, id int64) (Session, error)
	ActiveWeekForShare(ctx context.Context) (int64, error)
	EmployeeRole(ctx context.Context, userID int64) (payroll.Role, error)
	Close(ctx context.Context, id int64, c Closing) error
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

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const selectSession = `SELECT c.id, c.week_id, w.week_number, c.user_id, u.display_name, c.status, c.started_at, c.ended_at,
	c.service_count, c.unit_price, c.total_revenue, c.commission_rate, c.commission_amount
	FROM cleaning_services c JOIN users u ON u.id = c.user_id LEFT JOIN weeks w ON w.id = c.week_id`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	var status string
	err := row.Scan(&s.ID, &s.WeekID, &s.WeekNumber, &s.UserID, &s.EmployeeName, &status, &s.StartedAt, &s.EndedAt,
		&s.ServiceCount, &s.UnitPrice, &s.Revenue, &s.CommissionRate, &s.Commission)
	s.Status = Status(status)
	return s, err
}

func (r *pgRepository) Open(ctx context.Context, userID int64) (Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, selectSession+` WHERE c.user_id = $1 AND c.status = 'OPEN'`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

func (r *pgRepository) Insert(ctx context.Context, userID int64, startedAt time.Time) (Session, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO cleaning_services (user_id, status, started_at) VALUES ($1, 'OPEN', $2) RETURNING id`,
		userID, startedAt).Scan(&id)
	if db.IsUniqueViolation(err) {
		return Session{}, ErrSessionOpen
	}
	if db.IsForeignKeyViolation(err) {
		return Session{}, ErrUnknownSeller
	}
	if err != nil {
		return Session{}, fmt.Errorf("cleaning: insert: %w", err)
	}
	return Session{ID: id, UserID: userID, Status: StatusOpen, StartedAt: startedAt}, nil
}

func (r *pgRepository) CancelStale(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE cleaning_services SET status = 'CANCELLED', ended_at = NOW()
		WHERE status = 'OPEN' AND started_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func whereClause(filter ListFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.WeekID != nil {
		args = append(args, *filter.WeekID)
		conds = append(conds, fmt.Sprintf("c.week_id = $%d", len(args)))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		conds = append(conds, fmt.Sprintf("c.user_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter) ([]Session, int, error) {
	where, args := whereClause(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cleaning_services c`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, selectSession+where+
		fmt.Sprintf(" ORDER BY c.started_at DESC, c.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *pgRepository) Totals(ctx context.Context, filter ListFilter) (Totals, error) {
	where, args := whereClause(filter)
	if where == "" {
		where = " WHERE c.status = 'CLOSED'"
	} else {
		where += " AND c.status = 'CLOSED'"
	}
	var t Totals
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(c.service_count), 0), COALESCE(SUM(c.total_revenue), 0),
			COALESCE(SUM(c.commission_amount), 0),
			COALESCE(SUM(EXTRACT(EPOCH FROM (c.ended_at - c.started_at)) / 60), 0)::int
		FROM cleaning_services c`+where, args...).
		Scan(&t.Sessions, &t.Services, &t.Revenue, &t.Commission, &t.Minutes)
	return t, err
}

func (r *pgRepository) ActiveWeekID(ctx context.Context) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM weeks WHERE status = 'ACTIVE'`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, weeks.ErrNoActiveWeek
	}
	return id, err
}

func (t *txRepo) LockSession(ctx context.Context, id int64) (Session, error) {
	s, err := scanSession(t.tx.QueryRow(ctx, selectSession+` WHERE c.id = $1 FOR UPDATE OF c`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

func (t *txRepo) ActiveWeekForShare(ctx context.Context) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM weeks WHERE status = 'ACTIVE' FOR SHARE`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, weeks.ErrNoActiveWeek
	}
	return id, err
}

func (t *txRepo) EmployeeRole(ctx context.Context, userID int64) (payroll.Role, error) {
	var role string
	err := t.tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUnknownSeller
	}
	if err != nil {
		return "", err
	}
	return payroll.ParseRole(role)
}

func (t *txRepo) Close(ctx context.Context, id int64, c Closing) error {
	tag, err := t.tx.Exec(ctx, `UPDATE cleaning_services SET status = 'CLOSED', week_id = $2, ended_at = $3,
			service_count = $4, unit_price = $5, total_revenue = $6, commission_rate = $7, commission_amount = $8
		WHERE id = $1 AND status = 'OPEN'`,
		id, c.WeekID, c.EndedAt, c.ServiceCount, c.UnitPrice, c.Revenue, c.CommissionRate, c.Commission)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotOpen
	}
	return nil
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/platform/db"
)

// Repository persists ledger transactions.
type Repository interface {
	ActiveWeekID(ctx context.Context) (*int64, error)
	InsertOnActiveWeek(ctx context.Context, t Transaction) (Transaction, error)
	DeleteUnlocked(ctx context.Context, id int64) error
	List(ctx context.Context, filter ListFilter) ([]Transaction, int, error)
	Summary(ctx context.Context, weekID *int64) (Summary, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) ActiveWeekID(ctx context.Context) (*int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM weeks WHERE status = 'ACTIVE'`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// InsertOnActiveWeek attaches t to the active week, holding FOR SHARE on it so
// a concurrent rollover cannot freeze the week before t is committed.
func (r *pgRepository) InsertOnActiveWeek(ctx context.Context, t Transaction) (Transaction, error) {
	err := db.WithTxOptions(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		t.WeekID = nil
		// A rollover committing while we wait hides its new week from this
		// statement's snapshot; the second read sees it.
		for attempt := 0; attempt < 2 && t.WeekID == nil; attempt++ {
			var id int64
			err := tx.QueryRow(ctx, `SELECT id FROM weeks WHERE status = 'ACTIVE' FOR SHARE`).Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("ledger: lock active week: %w", err)
			}
			t.WeekID = &id
		}
		id, err := InsertTx(ctx, tx, t)
		if err != nil {
			return err
		}
		t.ID = id
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}

// InsertTx writes t through q so the rollover can book expenses inside its transaction.
func InsertTx(ctx context.Context, q db.Querier, t Transaction) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO financial_transactions (week_id, kind, category, amount, description, created_by)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		t.WeekID, string(t.Kind), t.Category, payroll.RoundCents(t.Amount), t.Description, t.CreatedBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert: %w", err)
	}
	return id, nil
}

func (r *pgRepository) DeleteUnlocked(ctx context.Context, id int64) error {
	return db.WithTxOptions(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		var weekID *int64
		err := tx.QueryRow(ctx, `SELECT week_id FROM financial_transactions WHERE id = $1 FOR UPDATE`, id).Scan(&weekID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if weekID != nil {
			// The share lock waits out a running rollover and reads the status it committed.
			var status string
			if err := tx.QueryRow(ctx, `SELECT status FROM weeks WHERE id = $1 FOR SHARE`, *weekID).Scan(&status); err != nil {
				return err
			}
			if status != "ACTIVE" {
				return ErrLocked
			}
		}
		_, err = tx.Exec(ctx, `DELETE FROM financial_transactions WHERE id = $1`, id)
		return err
	})
}

func whereClause(filter ListFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.WeekID != nil {
		args = append(args, *filter.WeekID)
		conds = append(conds, fmt.Sprintf("t.week_id = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conds = append(conds, fmt.Sprintf("t.kind = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter) ([]Transaction, int, error) {
	where, args := whereClause(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM financial_transactions t`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 25
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT t.id, t.week_id, w.week_number, t.kind, t.category, t.amount, t.description,
			t.created_by, COALESCE(u.display_name, ''), t.created_at
		FROM financial_transactions t
		LEFT JOIN weeks w ON w.id = t.week_id
		LEFT JOIN users u ON u.id = t.created_by%s
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		var kind string
		if err := rows.Scan(&t.ID, &t.WeekID, &t.WeekNumber, &kind, &t.Category, &t.Amount, &t.Description,
			&t.CreatedBy, &t.CreatedByName, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		t.Kind = Kind(kind)
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *pgRepository) Summary(ctx context.Context, weekID *int64) (Summary, error) {
	where, args := whereClause(ListFilter{WeekID: weekID})
	var s Summary
	err := r.pool.QueryRow(ctx, `SELECT
			COALESCE(SUM(t.amount) FILTER (WHERE t.kind = 'INCOME'), 0),
			COALESCE(SUM(t.amount) FILTER (WHERE t.kind = 'EXPENSE'), 0),
			COUNT(*)
		FROM financial_transactions t`+where, args...).Scan(&s.Income, &s.Expense, &s.Count)
	if err != nil {
		return Summary{}, err
	}
	s.Balance = payroll.RoundCents(s.Income - s.Expense)
	return s, nil
}

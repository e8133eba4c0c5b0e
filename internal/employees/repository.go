package employees

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
)

// RepositoryPort defines data access methods for employees.
type RepositoryPort interface {
	List(ctx context.Context, filter ListFilter) ([]Employee, int, error)
	Get(ctx context.Context, id int64) (Employee, error)
	ByUsername(ctx context.Context, username string) (Employee, error)
	Create(ctx context.Context, e Employee, passwordHash string, actorID int64) (int64, error)
	Update(ctx context.Context, id int64, displayName string, role payroll.Role, actorID int64) error
	SetActive(ctx context.Context, id int64, active bool, actorID int64) error
	SetPassword(ctx context.Context, id int64, passwordHash string, actorID int64) error
	ActiveByRole(ctx context.Context) (map[payroll.Role]int, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectEmployee = `SELECT id, username, display_name, role, is_active, hired_at, last_login_at, created_at, updated_at FROM users`

func scanEmployee(row pgx.Row) (Employee, error) {
	var e Employee
	var role string
	err := row.Scan(&e.ID, &e.Username, &e.DisplayName, &role, &e.IsActive, &e.HiredAt, &e.LastLoginAt, &e.CreatedAt, &e.UpdatedAt)
	e.Role = payroll.Role(role)
	return e, err
}

// List returns a page of employees matching filter.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Employee, int, error) {
	var conds []string
	var args []any
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+strings.ToLower(s)+"%")
		conds = append(conds, fmt.Sprintf("(lower(username) LIKE $%d OR lower(display_name) LIKE $%d)", len(args), len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, selectEmployee+where+
		fmt.Sprintf(" ORDER BY is_active DESC, display_name LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Get returns one employee.
func (r *Repository) Get(ctx context.Context, id int64) (Employee, error) {
	e, err := scanEmployee(r.pool.QueryRow(ctx, selectEmployee+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Employee{}, ErrNotFound
	}
	return e, err
}

// ByUsername returns the employee with the given login name.
func (r *Repository) ByUsername(ctx context.Context, username string) (Employee, error) {
	e, err := scanEmployee(r.pool.QueryRow(ctx, selectEmployee+` WHERE username = $1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return Employee{}, ErrNotFound
	}
	return e, err
}

// Create inserts an employee and audits it.
func (r *Repository) Create(ctx context.Context, e Employee, passwordHash string, actorID int64) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO users (username, display_name, password_hash, role, hired_at)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			e.Username, e.DisplayName, passwordHash, string(e.Role), e.HiredAt).Scan(&id)
		if db.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		if err != nil {
			return err
		}
		return audit(ctx, tx, actorID, "employee.create", id, map[string]any{"username": e.Username, "role": e.Role})
	})
	return id, err
}

// Update changes display name and role.
func (r *Repository) Update(ctx context.Context, id int64, displayName string, role payroll.Role, actorID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE users SET display_name = $2, role = $3, updated_at = NOW() WHERE id = $1`, id, displayName, string(role))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return audit(ctx, tx, actorID, "employee.update", id, map[string]any{"display_name": displayName, "role": role})
	})
}

// SetActive activates or deactivates an account.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool, actorID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return audit(ctx, tx, actorID, "employee.active", id, map[string]any{"active": active})
	})
}

// SetPassword replaces the password hash.
func (r *Repository) SetPassword(ctx context.Context, id int64, passwordHash string, actorID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return audit(ctx, tx, actorID, "employee.password_reset", id, nil)
	})
}

// ActiveByRole counts active employees per role.
func (r *Repository) ActiveByRole(ctx context.Context) (map[payroll.Role]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT role, COUNT(*) FROM users WHERE is_active GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[payroll.Role]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		out[payroll.Role(role)] = n
	}
	return out, rows.Err()
}

func audit(ctx context.Context, tx pgx.Tx, actorID int64, action string, id int64, meta map[string]any) error {
	return shared.RecordAudit(ctx, tx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "employee",
		EntityID: fmt.Sprint(id),
		Meta:     meta,
		At:       time.Now(),
	})
}

package settings

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/platform/db"
	"github.com/tavern-panel/panel/internal/shared"
)

// Repository persists settings and tax brackets.
type Repository interface {
	Values(ctx context.Context) (map[string]string, error)
	Brackets(ctx context.Context) ([]payroll.Bracket, error)
	SaveValues(ctx context.Context, values map[string]string, actorID int64) error
	ReplaceBrackets(ctx context.Context, brackets []payroll.Bracket, actorID int64) error
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) Values(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM system_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

func (r *pgRepository) Brackets(ctx context.Context) ([]payroll.Bracket, error) {
	return LoadBrackets(ctx, r.pool)
}

// LoadBrackets reads the tax brackets with q, ordered by lower bound.
func LoadBrackets(ctx context.Context, q db.Querier) ([]payroll.Bracket, error) {
	rows, err := q.Query(ctx, `SELECT id, min_amount, max_amount, rate FROM tax_brackets ORDER BY min_amount`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var brackets []payroll.Bracket
	for rows.Next() {
		var b payroll.Bracket
		if err := rows.Scan(&b.ID, &b.Min, &b.Max, &b.Rate); err != nil {
			return nil, err
		}
		brackets = append(brackets, b)
	}
	return brackets, rows.Err()
}

func (r *pgRepository) SaveValues(ctx context.Context, values map[string]string, actorID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for key, value := range values {
			if _, err := tx.Exec(ctx, `INSERT INTO system_settings (key, value, updated_by, updated_at)
				VALUES ($1, $2, $3, NOW())
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = NOW()`,
				key, value, nullableActor(actorID)); err != nil {
				return fmt.Errorf("settings: save %s: %w", key, err)
			}
		}
		return shared.RecordAudit(ctx, tx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "settings.update",
			Entity:   "system_settings",
			EntityID: "-",
			Meta:     map[string]any{"values": values},
		})
	})
}

func (r *pgRepository) ReplaceBrackets(ctx context.Context, brackets []payroll.Bracket, actorID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tax_brackets`); err != nil {
			return err
		}
		for _, b := range brackets {
			if _, err := tx.Exec(ctx, `INSERT INTO tax_brackets (min_amount, max_amount, rate) VALUES ($1, $2, $3)`,
				b.Min, b.Max, b.Rate); err != nil {
				return fmt.Errorf("settings: insert bracket: %w", err)
			}
		}
		return shared.RecordAudit(ctx, tx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "settings.brackets.replace",
			Entity:   "tax_brackets",
			EntityID: "-",
			Meta:     map[string]any{"brackets": brackets},
		})
	})
}

func nullableActor(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

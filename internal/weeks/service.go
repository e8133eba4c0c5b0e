package weeks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tavern-panel/panel/internal/ledger"
	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/platform/db"
	"github.com/tavern-panel/panel/internal/shared"
)

// TaxSource yields the configured tax brackets.
type TaxSource interface {
	Brackets(ctx context.Context) ([]payroll.Bracket, error)
}

// RolloverObserver is notified after a week has been finalized.
type RolloverObserver interface {
	WeekFinalized()
}

// Service drives the weekly period lifecycle.
type Service struct {
	repo     Repository
	taxes    TaxSource
	length   int
	logger   *slog.Logger
	observer RolloverObserver
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithLength sets the number of days of newly created weeks.
func WithLength(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.length = days
		}
	}
}

// WithObserver registers a rollover observer, typically the metrics registry.
func WithObserver(o RolloverObserver) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs a Service.
func NewService(repo Repository, taxes TaxSource, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, taxes: taxes, length: DefaultLength, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Length returns the configured week length in days.
func (s *Service) Length() int { return s.length }

// Active returns the active week.
func (s *Service) Active(ctx context.Context) (Week, error) {
	return s.repo.Active(ctx)
}

// EnsureActive creates week #1 starting today when no week exists yet.
func (s *Service) EnsureActive(ctx context.Context, today time.Time) (Week, error) {
	week, err := s.repo.Active(ctx)
	if err == nil {
		return week, nil
	}
	if !errors.Is(err, ErrNoActiveWeek) {
		return Week{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		latest, found, err := tx.Latest(ctx)
		if err != nil {
			return err
		}
		if found {
			// Weeks exist but none is active: resume after the last one.
			start, end := NextRange(latest, today, s.length)
			week, err = tx.InsertWeek(ctx, latest.Number+1, start, end)
			return err
		}
		start, end := FirstRange(today, s.length)
		week, err = tx.InsertWeek(ctx, 1, start, end)
		return err
	})
	if db.IsUniqueViolation(err) {
		return s.repo.Active(ctx)
	}
	if err != nil {
		return Week{}, fmt.Errorf("weeks: ensure active: %w", err)
	}
	s.logger.Info("week opened", slog.Int("number", week.Number), slog.Time("start", week.Start))
	return week, nil
}

// Refresh recomputes the per-employee aggregates and running totals of a week.
func (s *Service) Refresh(ctx context.Context, weekID int64) (Week, error) {
	var out Week
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		week, err := tx.LoadForUpdate(ctx, weekID)
		if err != nil {
			return err
		}
		if !week.IsActive() {
			return ErrWeekFinalized
		}
		totals, err := refresh(ctx, tx, week.ID)
		if err != nil {
			return err
		}
		out = applyTotals(week, totals)
		return nil
	})
	if err != nil {
		return Week{}, err
	}
	return out, nil
}

// RefreshActive refreshes the active week.
func (s *Service) RefreshActive(ctx context.Context) (Week, error) {
	week, err := s.repo.Active(ctx)
	if err != nil {
		return Week{}, err
	}
	return s.Refresh(ctx, week.ID)
}

// Preview computes the running totals and projected tax of the active week without writing.
func (s *Service) Preview(ctx context.Context) (Preview, error) {
	week, err := s.repo.Active(ctx)
	if err != nil {
		return Preview{}, err
	}
	rows, err := s.repo.Aggregate(ctx, week.ID)
	if err != nil {
		return Preview{}, err
	}
	brackets, err := s.taxes.Brackets(ctx)
	if err != nil {
		return Preview{}, fmt.Errorf("weeks: load brackets: %w", err)
	}
	totals := Summarize(rows)
	tax := payroll.ProgressiveTax(totals.Revenue, brackets)
	return Preview{
		Week:        applyTotals(week, totals),
		Totals:      totals,
		Tax:         tax,
		Net:         NetRevenue(totals, tax.Total),
		Performance: rows,
	}, nil
}

// Finalize freezes the active week, books tax and commissions to the ledger
// and opens the next week, all in one transaction.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (FinalizeResult, error) {
	if in.ActorID <= 0 {
		return FinalizeResult{}, ErrActorRequired
	}
	if in.Today.IsZero() {
		in.Today = s.now()
	}
	brackets, err := s.taxes.Brackets(ctx)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("weeks: load brackets: %w", err)
	}

	var result FinalizeResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		week, err := tx.ActiveForUpdate(ctx)
		if err != nil {
			return err
		}
		totals, err := refresh(ctx, tx, week.ID)
		if err != nil {
			return err
		}
		tax := payroll.ProgressiveTax(totals.Revenue, brackets)
		frozen := Frozen{
			Totals:  totals,
			Tax:     tax.Total,
			Net:     NetRevenue(totals, tax.Total),
			Notes:   in.Notes,
			ActorID: in.ActorID,
			At:      s.now(),
		}
		if err := tx.MarkFinalized(ctx, week.ID, frozen); err != nil {
			return err
		}
		if err := bookExpenses(ctx, tx, week, frozen); err != nil {
			return err
		}

		start, end := NextRange(week, in.Today, s.length)
		next, err := tx.InsertWeek(ctx, week.Number+1, start, end)
		if err != nil {
			return err
		}

		finalized := applyTotals(week, totals)
		finalized.Status = StatusFinalized
		finalized.Tax = frozen.Tax
		finalized.Net = frozen.Net
		finalized.Notes = frozen.Notes
		finalized.FinalizedAt = &frozen.At
		finalized.FinalizedBy = &frozen.ActorID

		if err := tx.Audit(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "week.finalize",
			Entity:   "week",
			EntityID: fmt.Sprint(week.ID),
			Meta: map[string]any{
				"number":      week.Number,
				"revenue":     totals.Revenue,
				"commissions": totals.Commissions,
				"tax":         frozen.Tax,
				"net":         frozen.Net,
				"next_week":   next.Number,
			},
			At: frozen.At,
		}); err != nil {
			return err
		}
		result = FinalizeResult{Finalized: finalized, Next: next, Tax: tax}
		return nil
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	if s.observer != nil {
		s.observer.WeekFinalized()
	}
	s.logger.Info("week finalized",
		slog.Int("number", result.Finalized.Number),
		slog.Float64("revenue", result.Finalized.Revenue),
		slog.Float64("tax", result.Finalized.Tax),
		slog.Int("next", result.Next.Number))
	return result, nil
}

// List returns weeks, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Week, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// Recent returns the last n weeks in chronological order.
func (s *Service) Recent(ctx context.Context, n int) ([]Week, error) {
	if n <= 0 {
		n = 8
	}
	return s.repo.Recent(ctx, n)
}

// Get returns one week.
func (s *Service) Get(ctx context.Context, id int64) (Week, error) {
	return s.repo.Get(ctx, id)
}

// Performance returns the stored per-employee figures of a week. For the
// active week they are computed live so they never lag behind sales.
func (s *Service) Performance(ctx context.Context, weekID int64) ([]Performance, error) {
	week, err := s.repo.Get(ctx, weekID)
	if err != nil {
		return nil, err
	}
	if week.IsActive() {
		return s.repo.Aggregate(ctx, weekID)
	}
	return s.repo.Performance(ctx, weekID)
}

func refresh(ctx context.Context, tx TxRepository, weekID int64) (Totals, error) {
	rows, err := tx.Aggregate(ctx, weekID)
	if err != nil {
		return Totals{}, err
	}
	if err := tx.ReplacePerformance(ctx, weekID, rows); err != nil {
		return Totals{}, fmt.Errorf("weeks: replace performance: %w", err)
	}
	totals := Summarize(rows)
	if err := tx.UpdateTotals(ctx, weekID, totals); err != nil {
		return Totals{}, fmt.Errorf("weeks: update totals: %w", err)
	}
	return totals, nil
}

func bookExpenses(ctx context.Context, tx TxRepository, week Week, f Frozen) error {
	weekID := week.ID
	actor := f.ActorID
	entries := []ledger.Transaction{
		{Category: ledger.CategoryTax, Amount: f.Tax, Description: fmt.Sprintf("Impôt %s", week.Label())},
		{Category: ledger.CategoryCommissions, Amount: f.Totals.Commissions, Description: fmt.Sprintf("Commissions %s", week.Label())},
	}
	for _, e := range entries {
		if e.Amount <= 0 {
			continue
		}
		e.WeekID = &weekID
		e.Kind = ledger.KindExpense
		e.CreatedBy = &actor
		if _, err := tx.InsertTransaction(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func applyTotals(w Week, t Totals) Week {
	w.SalesCount = t.SalesCount
	w.CleaningCount = t.CleaningCount
	w.SalesRevenue = t.SalesRevenue
	w.CleaningRevenue = t.CleaningRevenue
	w.Revenue = t.Revenue
	w.Commissions = t.Commissions
	return w
}

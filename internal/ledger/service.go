package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/shared"
)

// Service records and lists financial transactions.
type Service struct {
	repo     Repository
	validate *validator.Validate
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New()}
}

// Record books a manual transaction on the active week, or week-less when none is active.
func (s *Service) Record(ctx context.Context, in RecordInput) (Transaction, error) {
	in.Category = strings.ToUpper(strings.TrimSpace(in.Category))
	in.Description = strings.TrimSpace(in.Description)
	in.Amount = payroll.RoundCents(in.Amount)
	if err := s.validate.Struct(in); err != nil {
		return Transaction{}, shared.NewUserError("Transaction invalide : vérifiez le type, la catégorie et le montant", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	t := Transaction{
		Kind:        in.Kind,
		Category:    in.Category,
		Amount:      in.Amount,
		Description: in.Description,
	}
	if in.ActorID > 0 {
		actor := in.ActorID
		t.CreatedBy = &actor
	}
	return s.repo.InsertOnActiveWeek(ctx, t)
}

// Delete removes a transaction unless its week is finalized.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.DeleteUnlocked(ctx, id)
}

// List returns a page of transactions and the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transaction, int, error) {
	return s.repo.List(ctx, filter)
}

// Summary returns income, expense and balance, for one week or overall when weekID is nil.
func (s *Service) Summary(ctx context.Context, weekID *int64) (Summary, error) {
	return s.repo.Summary(ctx, weekID)
}

// ActiveWeekID returns the active week, nil when none.
func (s *Service) ActiveWeekID(ctx context.Context) (*int64, error) {
	return s.repo.ActiveWeekID(ctx)
}

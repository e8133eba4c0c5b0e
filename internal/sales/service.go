package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/weeks"
)

// RateSource yields the commission rate of each role.
type RateSource interface {
	Rates(ctx context.Context) (payroll.RoleRates, error)
}

// SaleObserver is notified for every recorded sale.
type SaleObserver interface {
	SaleRecorded()
}

// Service provides business logic for the till.
type Service struct {
	repo     Repository
	rates    RateSource
	logger   *slog.Logger
	validate *validator.Validate
	observer SaleObserver
	newRef   func() uuid.UUID
}

// NewService constructs a sales service.
func NewService(repo Repository, rates RateSource, logger *slog.Logger, observer SaleObserver) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		rates:    rates,
		logger:   logger,
		validate: validator.New(),
		observer: observer,
		newRef:   uuid.New,
	}
}

// Record prices the cart, computes the seller's commission and stores the
// sale on the active week.
func (s *Service) Record(ctx context.Context, in RecordInput) (Sale, error) {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	if in.PaymentMethod == "" {
		in.PaymentMethod = PaymentCash
	}
	in.Lines = MergeLines(in.Lines)
	if len(in.Lines) == 0 {
		return Sale{}, shared.NewUserError("Le panier est vide", ErrEmptyCart)
	}
	if err := s.validate.Struct(in); err != nil {
		return Sale{}, shared.NewUserError(fmt.Sprintf("Vente invalide : quantités entre 1 et %d", MaxQuantity), fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	rates, err := s.rates.Rates(ctx)
	if err != nil {
		return Sale{}, fmt.Errorf("sales: load rates: %w", err)
	}

	sale := Sale{
		Reference:     s.newRef(),
		UserID:        in.SellerID,
		CustomerName:  in.CustomerName,
		PaymentMethod: in.PaymentMethod,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		weekID, err := tx.ActiveWeekForShare(ctx)
		if err != nil {
			return err
		}
		role, err := tx.SellerRole(ctx, in.SellerID)
		if err != nil {
			return err
		}
		ids := make([]int64, len(in.Lines))
		for i, l := range in.Lines {
			ids[i] = l.ProductID
		}
		catalogue, err := tx.ProductsByID(ctx, ids)
		if err != nil {
			return err
		}
		items, total, err := BuildItems(in.Lines, catalogue)
		if err != nil {
			return err
		}
		sale.WeekID = weekID
		sale.Items = items
		sale.Total = total
		sale.CommissionRate = rates.RateFor(role)
		sale.Commission = payroll.Commission(total, sale.CommissionRate)

		id, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = id
		return tx.InsertItems(ctx, id, items)
	})
	if err != nil {
		return Sale{}, translate(err)
	}
	if s.observer != nil {
		s.observer.SaleRecorded()
	}
	s.logger.Info("sale recorded",
		slog.Int64("sale_id", sale.ID),
		slog.Int64("seller", sale.UserID),
		slog.Float64("total", sale.Total),
		slog.Float64("commission", sale.Commission))
	return sale, nil
}

// Cancel deletes a sale of the active week. Only managers may cancel.
func (s *Service) Cancel(ctx context.Context, in CancelInput) error {
	if in.ActorRole.Grade() < payroll.RoleResponsable.Grade() {
		return shared.NewUserError("Seuls les responsables peuvent annuler une vente", ErrForbidden)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, status, err := tx.LockSale(ctx, in.SaleID)
		if err != nil {
			return err
		}
		if status != weeks.StatusActive {
			return weeks.ErrWeekFinalized
		}
		if err := tx.DeleteSale(ctx, sale.ID); err != nil {
			return err
		}
		return tx.Audit(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "sale.cancel",
			Entity:   "sale",
			EntityID: sale.Reference.String(),
			Meta: map[string]any{
				"seller":     sale.UserID,
				"week":       sale.WeekNumber,
				"total":      sale.Total,
				"commission": sale.Commission,
			},
		})
	})
	if err != nil {
		return translate(err)
	}
	s.logger.Info("sale cancelled", slog.Int64("sale_id", in.SaleID), slog.Int64("actor", in.ActorID))
	return nil
}

// List returns a page of sales and the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	return s.repo.ListSales(ctx, filter)
}

// Totals sums the sales matching filter, ignoring pagination.
func (s *Service) Totals(ctx context.Context, filter ListFilter) (Totals, error) {
	return s.repo.Totals(ctx, filter)
}

// Get returns one sale with its items.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// ActiveWeekID returns the week sales are currently attached to.
func (s *Service) ActiveWeekID(ctx context.Context) (int64, error) {
	return s.repo.ActiveWeekID(ctx)
}

// Products lists the catalogue.
func (s *Service) Products(ctx context.Context, activeOnly bool) ([]Product, error) {
	return s.repo.ListProducts(ctx, activeOnly)
}

// CreateProduct adds a product to the menu.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	in, err := s.normalizeProduct(in)
	if err != nil {
		return Product{}, err
	}
	id, err := s.repo.CreateProduct(ctx, in)
	if err != nil {
		return Product{}, translate(err)
	}
	return Product{ID: id, Name: in.Name, Category: in.Category, Price: in.Price, IsActive: true}, nil
}

// UpdateProduct renames or reprices a product. Past sales keep their prices.
func (s *Service) UpdateProduct(ctx context.Context, id int64, in ProductInput) error {
	in, err := s.normalizeProduct(in)
	if err != nil {
		return err
	}
	return translate(s.repo.UpdateProduct(ctx, id, in))
}

// ToggleProduct flips availability and returns the new state.
func (s *Service) ToggleProduct(ctx context.Context, id int64) (bool, error) {
	active, err := s.repo.ToggleProduct(ctx, id)
	return active, translate(err)
}

func (s *Service) normalizeProduct(in ProductInput) (ProductInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	in.Price = payroll.RoundCents(in.Price)
	if err := s.validate.Struct(in); err != nil {
		return in, shared.NewUserError("Produit invalide : nom requis et prix positif", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	return in, nil
}

// translate attaches French messages to the errors a user can cause.
func translate(err error) error {
	var ue *shared.UserError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ue):
		return err
	case errors.Is(err, weeks.ErrNoActiveWeek):
		return shared.NewUserError("Aucune semaine active, contactez un responsable", err)
	case errors.Is(err, weeks.ErrWeekFinalized):
		return shared.NewUserError("Cette vente appartient à une semaine clôturée", err)
	case errors.Is(err, ErrProductNotFound):
		return shared.NewUserError("Produit introuvable", err)
	case errors.Is(err, ErrProductInactive):
		return shared.NewUserError("Un produit du panier n'est plus disponible", err)
	case errors.Is(err, ErrInvalidInput):
		return shared.NewUserError(fmt.Sprintf("Quantité invalide (1 à %d)", MaxQuantity), err)
	case errors.Is(err, ErrDuplicate):
		return shared.NewUserError("Un produit porte déjà ce nom", err)
	case errors.Is(err, ErrNotFound):
		return shared.NewUserError("Vente introuvable", err)
	case errors.Is(err, ErrForbidden):
		return shared.NewUserError("Compte vendeur inactif", err)
	default:
		return err
	}
}

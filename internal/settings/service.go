package settings

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/platform/cache"
	"github.com/tavern-panel/panel/internal/shared"
)

// Service reads and writes panel settings through a versioned cache.
type Service struct {
	repo   Repository
	cache  *cache.Versioned
	logger *slog.Logger
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, c *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, logger: logger}
}

// Current returns the typed settings.
func (s *Service) Current(ctx context.Context) (Settings, error) {
	key, err := s.cache.BuildKey(ctx, "values")
	if err != nil {
		return Settings{}, err
	}
	var values map[string]string
	err = s.cache.FetchJSON(ctx, key, &values, func(ctx context.Context) (any, error) {
		return s.repo.Values(ctx)
	})
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}
	return FromValues(values), nil
}

// Rates returns the commission rate per role.
func (s *Service) Rates(ctx context.Context) (payroll.RoleRates, error) {
	current, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return current.Rates, nil
}

// CleaningUnitPrice returns the revenue of a single cleaning service.
func (s *Service) CleaningUnitPrice(ctx context.Context) (float64, error) {
	current, err := s.Current(ctx)
	if err != nil {
		return 0, err
	}
	return current.CleaningUnitPrice, nil
}

// Brackets returns the tax brackets ordered by lower bound.
func (s *Service) Brackets(ctx context.Context) ([]payroll.Bracket, error) {
	key, err := s.cache.BuildKey(ctx, "brackets")
	if err != nil {
		return nil, err
	}
	var brackets []payroll.Bracket
	err = s.cache.FetchJSON(ctx, key, &brackets, func(ctx context.Context) (any, error) {
		return s.repo.Brackets(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("settings: load brackets: %w", err)
	}
	return payroll.SortBrackets(brackets), nil
}

// UpdateCommissionRates stores a rate per role. Rates apply to future sales only.
func (s *Service) UpdateCommissionRates(ctx context.Context, rates payroll.RoleRates, actorID int64) error {
	values := make(map[string]string, len(rates))
	for role, rate := range rates {
		if role.Grade() == 0 {
			return shared.NewUserError("Rôle inconnu : "+string(role), ErrInvalidValue)
		}
		if math.IsNaN(rate) || rate < 0 || rate > 100 {
			return shared.NewUserError("Le taux "+role.Label()+" doit être compris entre 0 et 100", ErrInvalidValue)
		}
		values[RateKey(role)] = formatAmount(rate)
	}
	if len(values) == 0 {
		return nil
	}
	return s.save(ctx, values, actorID)
}

// UpdateGeneral stores the business name and the cleaning unit price.
func (s *Service) UpdateGeneral(ctx context.Context, businessName string, cleaningUnitPrice float64, actorID int64) error {
	businessName = strings.TrimSpace(businessName)
	if businessName == "" || len(businessName) > 80 {
		return shared.NewUserError("Le nom de l'établissement doit faire 1 à 80 caractères", ErrInvalidValue)
	}
	if math.IsNaN(cleaningUnitPrice) || cleaningUnitPrice < 0 || cleaningUnitPrice > 100000 {
		return shared.NewUserError("Prix du ménage hors limites", ErrInvalidValue)
	}
	return s.save(ctx, map[string]string{
		KeyBusinessName:      businessName,
		KeyCleaningUnitPrice: formatAmount(cleaningUnitPrice),
	}, actorID)
}

// ReplaceBrackets validates and swaps the whole bracket set.
func (s *Service) ReplaceBrackets(ctx context.Context, brackets []payroll.Bracket, actorID int64) error {
	if err := payroll.ValidateBrackets(brackets); err != nil {
		return err
	}
	if err := s.repo.ReplaceBrackets(ctx, payroll.SortBrackets(brackets), actorID); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) save(ctx context.Context, values map[string]string, actorID int64) error {
	if err := s.repo.SaveValues(ctx, values, actorID); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// invalidate never fails the write; stale entries expire with the cache TTL.
func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("settings cache bump", slog.Any("error", err))
	}
}

package cleaning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/weeks"
)

// Pricing yields the configured cleaning price and commission rates.
type Pricing interface {
	CleaningUnitPrice(ctx context.Context) (float64, error)
	Rates(ctx context.Context) (payroll.RoleRates, error)
}

// Service tracks cleaning sessions.
type Service struct {
	repo    Repository
	pricing Pricing
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, pricing Pricing, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pricing: pricing, logger: logger, now: time.Now}
}

// Start opens a session for the employee. Only one may be open at a time.
func (s *Service) Start(ctx context.Context, userID int64, now time.Time) (Session, error) {
	if now.IsZero() {
		now = s.now()
	}
	if _, err := s.repo.Open(ctx, userID); err == nil {
		return Session{}, userErr(ErrSessionOpen)
	} else if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}
	sess, err := s.repo.Insert(ctx, userID, now)
	if err != nil {
		return Session{}, userErr(err)
	}
	s.logger.Info("cleaning started", slog.Int64("user_id", userID), slog.Int64("session_id", sess.ID))
	return sess, nil
}

// Finish closes an open session, prices the declared services and attaches
// the session to the active week.
func (s *Service) Finish(ctx context.Context, in FinishInput) (Session, error) {
	if in.ServiceCount < 0 || in.ServiceCount > MaxServices {
		return Session{}, userErr(ErrInvalidCount)
	}
	if in.Now.IsZero() {
		in.Now = s.now()
	}
	unitPrice, err := s.pricing.CleaningUnitPrice(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("cleaning: unit price: %w", err)
	}
	rates, err := s.pricing.Rates(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("cleaning: rates: %w", err)
	}

	var out Session
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.LockSession(ctx, in.SessionID)
		if err != nil {
			return err
		}
		if sess.UserID != in.UserID {
			return ErrNotOwner
		}
		if !sess.IsOpen() {
			return ErrNotOpen
		}
		weekID, err := tx.ActiveWeekForShare(ctx)
		if err != nil {
			return err
		}
		role, err := tx.EmployeeRole(ctx, sess.UserID)
		if err != nil {
			return err
		}
		rate := rates.RateFor(role)
		revenue, commission := Price(in.ServiceCount, unitPrice, rate)
		closing := Closing{
			WeekID:         weekID,
			EndedAt:        in.Now,
			ServiceCount:   in.ServiceCount,
			UnitPrice:      unitPrice,
			Revenue:        revenue,
			CommissionRate: rate,
			Commission:     commission,
		}
		if err := tx.Close(ctx, sess.ID, closing); err != nil {
			return err
		}
		sess.Status = StatusClosed
		sess.WeekID = &closing.WeekID
		sess.EndedAt = &closing.EndedAt
		sess.ServiceCount = closing.ServiceCount
		sess.UnitPrice = unitPrice
		sess.Revenue = revenue
		sess.CommissionRate = rate
		sess.Commission = commission
		out = sess
		return nil
	})
	if err != nil {
		return Session{}, userErr(err)
	}
	s.logger.Info("cleaning finished",
		slog.Int64("session_id", out.ID),
		slog.Int("services", out.ServiceCount),
		slog.Float64("revenue", out.Revenue),
		slog.Int("minutes", out.Minutes(in.Now)))
	return out, nil
}

// CloseStale cancels sessions opened before now - olderThan.
func (s *Service) CloseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("cleaning: stale threshold must be positive")
	}
	n, err := s.repo.CancelStale(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("stale cleaning sessions cancelled", slog.Int64("count", n))
	}
	return n, nil
}

// Current returns the employee's open session, ErrNotFound when none.
func (s *Service) Current(ctx context.Context, userID int64) (Session, error) {
	return s.repo.Open(ctx, userID)
}

// List returns a page of sessions.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Session, int, error) {
	return s.repo.List(ctx, filter)
}

// Totals sums the closed sessions matching filter.
func (s *Service) Totals(ctx context.Context, filter ListFilter) (Totals, error) {
	return s.repo.Totals(ctx, filter)
}

// ActiveWeekID returns the week closed sessions are attached to.
func (s *Service) ActiveWeekID(ctx context.Context) (int64, error) {
	return s.repo.ActiveWeekID(ctx)
}

func userErr(err error) error {
	switch {
	case errors.Is(err, ErrSessionOpen):
		return shared.NewUserError("Un ménage est déjà en cours", err)
	case errors.Is(err, ErrInvalidCount):
		return shared.NewUserError(fmt.Sprintf("Nombre de ménages invalide (0 à %d)", MaxServices), err)
	case errors.Is(err, ErrNotFound):
		return shared.NewUserError("Session de ménage introuvable", err)
	case errors.Is(err, ErrNotOpen):
		return shared.NewUserError("Cette session est déjà terminée", err)
	case errors.Is(err, ErrNotOwner):
		return shared.NewUserError("Cette session appartient à un autre employé", err)
	case errors.Is(err, ErrUnknownSeller):
		return shared.NewUserError("Employé inconnu", err)
	case errors.Is(err, weeks.ErrNoActiveWeek):
		return shared.NewUserError("Aucune semaine active, contactez un responsable", err)
	default:
		return err
	}
}

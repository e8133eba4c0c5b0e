package employees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tavern-panel/panel/internal/auth"
	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/shared"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Service handles employee business logic.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	validate *validator.Validate
	hash     func(string) (string, error)
	now      func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return &Service{repo: repo, logger: logger, validate: v, hash: auth.HashPassword, now: time.Now}
}

// List returns a page of employees.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Employee, int, error) {
	return s.repo.List(ctx, filter)
}

// Get returns one employee.
func (s *Service) Get(ctx context.Context, id int64) (Employee, error) {
	return s.repo.Get(ctx, id)
}

// ByUsername returns an active employee by login name.
func (s *Service) ByUsername(ctx context.Context, username string) (Employee, error) {
	e, err := s.repo.ByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return Employee{}, err
	}
	if !e.IsActive {
		return Employee{}, ErrNotFound
	}
	return e, nil
}

// Create validates and registers an employee with a bcrypt password hash.
func (s *Service) Create(ctx context.Context, in CreateInput) (Employee, error) {
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Role = strings.ToUpper(strings.TrimSpace(in.Role))
	if err := s.validate.Struct(in); err != nil {
		return Employee{}, shared.NewUserError(createMessage(err), fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return Employee{}, fmt.Errorf("employees: hash password: %w", err)
	}
	hired := in.HiredAt
	if hired.IsZero() {
		hired = s.now()
	}
	e := Employee{
		Username:    in.Username,
		DisplayName: in.DisplayName,
		Role:        payroll.Role(in.Role),
		IsActive:    true,
		HiredAt:     hired,
	}
	id, err := s.repo.Create(ctx, e, hash, in.ActorID)
	if errors.Is(err, ErrDuplicate) {
		return Employee{}, shared.NewUserError("Cet identifiant est déjà utilisé", err)
	}
	if err != nil {
		return Employee{}, err
	}
	e.ID = id
	s.logger.Info("employee created", slog.Int64("id", id), slog.String("role", in.Role), slog.Int64("actor", in.ActorID))
	return e, nil
}

// Update changes display name and role.
func (s *Service) Update(ctx context.Context, in UpdateInput) error {
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Role = strings.ToUpper(strings.TrimSpace(in.Role))
	if err := s.validate.Struct(in); err != nil {
		return shared.NewUserError("Nom affiché et rôle requis", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	if in.ID == in.ActorID {
		current, err := s.repo.Get(ctx, in.ID)
		if err != nil {
			return notFound(err)
		}
		if payroll.Role(in.Role).Grade() < current.Role.Grade() {
			return shared.NewUserError("Vous ne pouvez pas vous rétrograder", ErrSelfChange)
		}
	}
	return notFound(s.repo.Update(ctx, in.ID, in.DisplayName, payroll.Role(in.Role), in.ActorID))
}

// SetActive activates or deactivates an account. Deactivated employees are
// logged out on their next request.
func (s *Service) SetActive(ctx context.Context, id int64, active bool, actorID int64) error {
	if !active && id == actorID {
		return shared.NewUserError("Vous ne pouvez pas désactiver votre propre compte", ErrSelfChange)
	}
	return notFound(s.repo.SetActive(ctx, id, active, actorID))
}

// ResetPassword sets a new password.
func (s *Service) ResetPassword(ctx context.Context, id int64, password string, actorID int64) error {
	if len(password) < 8 || len(password) > 72 {
		return shared.NewUserError("Le mot de passe doit contenir au moins 8 caractères", ErrInvalidInput)
	}
	hash, err := s.hash(password)
	if err != nil {
		return fmt.Errorf("employees: hash password: %w", err)
	}
	return notFound(s.repo.SetPassword(ctx, id, hash, actorID))
}

// Headcount counts active employees per role.
func (s *Service) Headcount(ctx context.Context) (map[payroll.Role]int, error) {
	return s.repo.ActiveByRole(ctx)
}

func notFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return shared.NewUserError("Employé introuvable", err)
	}
	return err
}

func createMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "Username":
			return "Identifiant invalide : 3 à 32 lettres, chiffres ou _"
		case "Password":
			return "Le mot de passe doit contenir au moins 8 caractères"
		case "Role":
			return "Rôle inconnu"
		case "DisplayName":
			return "Nom affiché requis"
		}
	}
	return "Employé invalide"
}

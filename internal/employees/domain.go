package employees

import (
	"errors"
	"time"

	"github.com/tavern-panel/panel/internal/payroll"
)

var (
	ErrNotFound     = errors.New("employees: not found")
	ErrDuplicate    = errors.New("employees: username already taken")
	ErrInvalidInput = errors.New("employees: invalid input")
	ErrSelfChange   = errors.New("employees: cannot demote or deactivate yourself")
)

// Employee is a staff account.
type Employee struct {
	ID          int64
	Username    string
	DisplayName string
	Role        payroll.Role
	IsActive    bool
	HiredAt     time.Time
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateInput registers a new employee.
type CreateInput struct {
	Username    string `validate:"required,min=3,max=32,username"`
	DisplayName string `validate:"required,max=64"`
	Password    string `validate:"required,min=8,max=72"`
	Role        string `validate:"required,oneof=CDD CDI RESPONSABLE PATRON"`
	HiredAt     time.Time
	ActorID     int64
}

// UpdateInput changes the display name and role. Role changes only affect
// future sales and cleaning sessions.
type UpdateInput struct {
	ID          int64  `validate:"gt=0"`
	DisplayName string `validate:"required,max=64"`
	Role        string `validate:"required,oneof=CDD CDI RESPONSABLE PATRON"`
	ActorID     int64
}

// ListFilter selects employees.
type ListFilter struct {
	Search  string
	Active  *bool
	Page    int
	PerPage int
}

package payroll

import (
	"fmt"
	"strings"
)

// Role is the contract level of an employee. It drives the commission rate.
type Role string

const (
	RoleCDD         Role = "CDD"
	RoleCDI         Role = "CDI"
	RoleResponsable Role = "RESPONSABLE"
	RolePatron      Role = "PATRON"
)

// Roles lists every role from the lowest to the highest grade.
var Roles = []Role{RoleCDD, RoleCDI, RoleResponsable, RolePatron}

// ParseRole normalises user input into a Role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Roles {
		if role == known {
			return role, nil
		}
	}
	return "", fmt.Errorf("payroll: unknown role %q", raw)
}

// Label returns the display label of the role.
func (r Role) Label() string {
	switch r {
	case RoleCDD:
		return "CDD"
	case RoleCDI:
		return "CDI"
	case RoleResponsable:
		return "Responsable"
	case RolePatron:
		return "Patron"
	default:
		return string(r)
	}
}

// Grade orders roles, higher is more senior. Unknown roles rank below CDD.
func (r Role) Grade() int {
	for i, known := range Roles {
		if r == known {
			return i + 1
		}
	}
	return 0
}

// RoleRates maps a role to its commission percentage.
type RoleRates map[Role]float64

// DefaultRoleRates apply when no rate is configured.
func DefaultRoleRates() RoleRates {
	return RoleRates{
		RoleCDD:         15,
		RoleCDI:         20,
		RoleResponsable: 25,
		RolePatron:      30,
	}
}

// RateFor returns the configured rate for role, 0 when unknown.
func (r RoleRates) RateFor(role Role) float64 {
	if r == nil {
		return 0
	}
	return r[role]
}

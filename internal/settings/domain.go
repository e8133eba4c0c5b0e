package settings

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tavern-panel/panel/internal/payroll"
)

// Keys stored in system_settings.
const (
	KeyBusinessName      = "business_name"
	KeyCleaningUnitPrice = "cleaning_unit_price"
	rateKeyPrefix        = "commission_rate_"

	DefaultBusinessName      = "Le Comptoir"
	DefaultCleaningUnitPrice = 60.0
)

// ErrInvalidValue is returned when a submitted setting is out of range.
var ErrInvalidValue = errors.New("settings: invalid value")

// Settings is the typed view over system_settings.
type Settings struct {
	BusinessName      string            `json:"business_name"`
	CleaningUnitPrice float64           `json:"cleaning_unit_price"`
	Rates             payroll.RoleRates `json:"rates"`
}

// RateKey returns the system_settings key holding the commission rate of role.
func RateKey(role payroll.Role) string {
	return rateKeyPrefix + strings.ToLower(string(role))
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		BusinessName:      DefaultBusinessName,
		CleaningUnitPrice: DefaultCleaningUnitPrice,
		Rates:             payroll.DefaultRoleRates(),
	}
}

// FromValues parses raw key/value rows; missing or malformed values keep their default.
func FromValues(values map[string]string) Settings {
	s := Defaults()
	if v := strings.TrimSpace(values[KeyBusinessName]); v != "" {
		s.BusinessName = v
	}
	if v, ok := parseAmount(values[KeyCleaningUnitPrice]); ok {
		s.CleaningUnitPrice = v
	}
	for _, role := range payroll.Roles {
		if v, ok := parseAmount(values[RateKey(role)]); ok && v <= 100 {
			s.Rates[role] = v
		}
	}
	return s
}

func parseAmount(raw string) (float64, bool) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(payroll.RoundCents(v), 'f', -1, 64)
}

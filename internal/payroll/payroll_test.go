package payroll

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func standardBrackets() []Bracket {
	return []Bracket{
		{Min: 50000, Max: nil, Rate: 20},
		{Min: 0, Max: ptr(10000), Rate: 0},
		{Min: 10000, Max: ptr(50000), Rate: 10},
	}
}

func TestCommission(t *testing.T) {
	assert.Equal(t, 150.0, Commission(1000, 15))
	assert.Equal(t, 33.33, Commission(111.1, 30))
	assert.Equal(t, 0.0, Commission(-50, 20))
	assert.Equal(t, 0.0, Commission(500, 0))
	assert.Equal(t, 0.01, Commission(0.05, 12.5))
}

func TestLineTotal(t *testing.T) {
	assert.Equal(t, 37.5, LineTotal(3, 12.5))
	assert.Equal(t, 0.0, LineTotal(0, 12.5))
}

func TestProgressiveTaxAcrossBrackets(t *testing.T) {
	res := ProgressiveTax(60000, standardBrackets())

	assert.Equal(t, 6000.0, res.Total)
	assert.Equal(t, 10.0, res.EffectiveRate)
	require.Len(t, res.Lines, 3)
	assert.Equal(t, 10000.0, res.Lines[0].Taxable)
	assert.Equal(t, 40000.0, res.Lines[1].Taxable)
	assert.Equal(t, 4000.0, res.Lines[1].Amount)
	assert.Equal(t, 10000.0, res.Lines[2].Taxable)
	assert.Equal(t, 2000.0, res.Lines[2].Amount)
}

func TestProgressiveTaxInsideFirstBracket(t *testing.T) {
	res := ProgressiveTax(8000, standardBrackets())
	assert.Equal(t, 0.0, res.Total)
	require.Len(t, res.Lines, 1)
}

func TestProgressiveTaxOnBoundary(t *testing.T) {
	res := ProgressiveTax(50000, standardBrackets())
	assert.Equal(t, 4000.0, res.Total)
	assert.Len(t, res.Lines, 2)
}

func TestProgressiveTaxNoRevenueOrBrackets(t *testing.T) {
	assert.Equal(t, 0.0, ProgressiveTax(0, standardBrackets()).Total)
	assert.Equal(t, 0.0, ProgressiveTax(1000, nil).Total)
}

func TestProgressiveTaxGapBetweenBrackets(t *testing.T) {
	brackets := []Bracket{
		{Min: 1000, Max: ptr(2000), Rate: 10},
		{Min: 5000, Rate: 50},
	}
	res := ProgressiveTax(6000, brackets)
	assert.Equal(t, 100.0+500.0, res.Total)
}

func TestProgressiveTaxDoesNotMutateInput(t *testing.T) {
	brackets := standardBrackets()
	_ = ProgressiveTax(60000, brackets)
	assert.Equal(t, 50000.0, brackets[0].Min)
}

func TestValidateBrackets(t *testing.T) {
	require.NoError(t, ValidateBrackets(standardBrackets()))

	cases := map[string][]Bracket{
		"negative min":   {{Min: -1, Max: ptr(10), Rate: 5}},
		"rate too high":  {{Min: 0, Max: ptr(10), Rate: 101}},
		"inverted range": {{Min: 10, Max: ptr(5), Rate: 5}},
		"overlap":        {{Min: 0, Max: ptr(100), Rate: 5}, {Min: 50, Max: ptr(200), Rate: 10}},
		"open not last":  {{Min: 0, Rate: 5}, {Min: 100, Max: ptr(200), Rate: 10}},
		"nan max":        {{Min: 0, Max: ptr(math.NaN()), Rate: 5}},
		"nan rate":       {{Min: 0, Rate: math.NaN()}},
		"infinite min":   {{Min: math.Inf(1), Rate: 5}},
		"infinite max":   {{Min: 0, Max: ptr(math.Inf(1)), Rate: 5}},
	}
	for name, brackets := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateBrackets(brackets), ErrInvalidBrackets)
		})
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" responsable ")
	require.NoError(t, err)
	assert.Equal(t, RoleResponsable, role)
	assert.Equal(t, "Responsable", role.Label())

	_, err = ParseRole("intern")
	assert.Error(t, err)
}

func TestRoleRates(t *testing.T) {
	rates := DefaultRoleRates()
	assert.Equal(t, 25.0, rates.RateFor(RoleResponsable))
	assert.Equal(t, 0.0, rates.RateFor(Role("GHOST")))
	assert.Equal(t, 0.0, RoleRates(nil).RateFor(RoleCDD))
	assert.Greater(t, RolePatron.Grade(), RoleCDI.Grade())
}

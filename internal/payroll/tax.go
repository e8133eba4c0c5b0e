package payroll

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Bracket is a revenue range taxed at Rate percent. A nil Max means unbounded.
type Bracket struct {
	ID   int64
	Min  float64
	Max  *float64
	Rate float64
}

// Width returns the taxable width of the bracket; unbounded brackets report -1.
func (b Bracket) Width() float64 {
	if b.Max == nil {
		return -1
	}
	return *b.Max - b.Min
}

// TaxLine is the contribution of a single bracket.
type TaxLine struct {
	Bracket Bracket
	Taxable float64
	Amount  float64
}

// TaxBreakdown is the result of a progressive tax computation.
type TaxBreakdown struct {
	Revenue       float64
	Total         float64
	EffectiveRate float64
	Lines         []TaxLine
}

// ErrInvalidBrackets is returned when a bracket set is incoherent.
var ErrInvalidBrackets = errors.New("payroll: invalid tax brackets")

// SortBrackets returns a copy ordered by lower bound.
func SortBrackets(brackets []Bracket) []Bracket {
	sorted := make([]Bracket, len(brackets))
	copy(sorted, brackets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Min < sorted[j].Min
	})
	return sorted
}

// ValidateBrackets checks bounds, rates and overlap of a bracket set.
func ValidateBrackets(brackets []Bracket) error {
	sorted := SortBrackets(brackets)
	for i, b := range sorted {
		if !finite(b.Min) || !finite(b.Rate) || (b.Max != nil && !finite(*b.Max)) {
			return fmt.Errorf("%w: bracket %d has a non-numeric bound or rate", ErrInvalidBrackets, i+1)
		}
		if b.Min < 0 {
			return fmt.Errorf("%w: bracket %d starts below zero", ErrInvalidBrackets, i+1)
		}
		if b.Rate < 0 || b.Rate > 100 {
			return fmt.Errorf("%w: bracket %d rate must be between 0 and 100", ErrInvalidBrackets, i+1)
		}
		if b.Max != nil && *b.Max <= b.Min {
			return fmt.Errorf("%w: bracket %d upper bound must exceed lower bound", ErrInvalidBrackets, i+1)
		}
		if b.Max == nil && i != len(sorted)-1 {
			return fmt.Errorf("%w: only the last bracket may be open-ended", ErrInvalidBrackets)
		}
		if i > 0 {
			prev := sorted[i-1]
			if prev.Max != nil && b.Min < *prev.Max {
				return fmt.Errorf("%w: bracket %d overlaps bracket %d", ErrInvalidBrackets, i+1, i)
			}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ProgressiveTax applies each bracket's rate to the slice of revenue falling
// inside it. Brackets need not be sorted.
func ProgressiveTax(revenue float64, brackets []Bracket) TaxBreakdown {
	out := TaxBreakdown{Revenue: revenue}
	if revenue <= 0 || len(brackets) == 0 {
		return out
	}
	var total float64
	for _, b := range SortBrackets(brackets) {
		taxable := revenue - b.Min
		if taxable <= 0 {
			continue
		}
		if width := b.Width(); width >= 0 && taxable > width {
			taxable = width
		}
		amount := taxable * b.Rate / 100
		total += amount
		out.Lines = append(out.Lines, TaxLine{
			Bracket: b,
			Taxable: RoundCents(taxable),
			Amount:  RoundCents(amount),
		})
	}
	out.Total = RoundCents(total)
	out.EffectiveRate = RoundCents(out.Total / revenue * 100)
	return out
}

package payroll

import "math"

// Commission returns revenue * ratePercent / 100 rounded to cents.
// Negative inputs never produce a negative commission.
func Commission(revenue, ratePercent float64) float64 {
	if revenue <= 0 || ratePercent <= 0 {
		return 0
	}
	return RoundCents(revenue * ratePercent / 100)
}

// RoundCents rounds half away from zero to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// LineTotal multiplies a unit price by a quantity, rounded to cents.
func LineTotal(quantity int, unitPrice float64) float64 {
	if quantity <= 0 || unitPrice <= 0 {
		return 0
	}
	return RoundCents(float64(quantity) * unitPrice)
}

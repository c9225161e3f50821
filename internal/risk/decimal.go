package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// Stop ratchet comparisons go through decimal so a stop never regresses by
// a float rounding hair.

func decFromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func decimalGT(a, b float64) bool { return decFromFloat(a).Cmp(decFromFloat(b)) > 0 }
func decimalLT(a, b float64) bool { return decFromFloat(a).Cmp(decFromFloat(b)) < 0 }

// roundDownToStep truncates qty to the exchange quantity step. A zero step
// leaves qty untouched.
func roundDownToStep(qty, step float64) float64 {
	if step <= 0 || qty <= 0 {
		return qty
	}
	q := decFromFloat(qty)
	s := decFromFloat(step)
	f, _ := q.Div(s).Floor().Mul(s).Float64()
	return f
}

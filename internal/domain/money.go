package domain

import (
	"github.com/shopspring/decimal"
)

// ============================================================
// Money
// ============================================================

// Round2 rounds a monetary value to cents, half away from zero.
// Every amount entering the ledger passes through here exactly once.
func Round2(x decimal.Decimal) decimal.Decimal {
	return x.Round(2)
}

// SplitInstallments divides total into n parts. The first n-1 parts are
// Round2(total/n); the last one absorbs the remainder so the parts always
// add up to Round2(total).
func SplitInstallments(total decimal.Decimal, n int) ([]decimal.Decimal, error) {
	if n < 1 {
		return nil, &ErrValidation{Field: "installmentCount", Message: "must be at least 1"}
	}
	total = Round2(total)
	if n == 1 {
		return []decimal.Decimal{total}, nil
	}

	part := Round2(total.Div(decimal.NewFromInt(int64(n))))
	parts := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		parts[i] = part
		allocated = allocated.Add(part)
	}
	parts[n-1] = total.Sub(allocated)
	return parts, nil
}

// SumAmounts adds a list of amounts.
func SumAmounts(amounts []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return sum
}

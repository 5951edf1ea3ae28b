// Package loan holds the pure lending domain: EMI arithmetic, the
// underwriting decision table, and the KYC/credit verification provider.
package loan

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Monetary values are decimal end-to-end; float64 appears only inside the
// compounding factor, which is then rounded back to 2 decimal places.

var (
	hundred       = decimal.NewFromInt(100)
	worstCaseDTI  = decimal.NewFromInt(100)
	croreRupees   = decimal.NewFromInt(10_000_000)
	lakhRupees    = decimal.NewFromInt(100_000)
)

// CalculateEMI computes the fixed monthly installment for an amortized loan.
//
//	monthlyRate = annualRatePct / 1200
//	emi         = P * r * (1+r)^n / ((1+r)^n - 1)
//
// Any non-positive input returns zero rather than an error; callers treat
// zero as "not computable".
func CalculateEMI(principal decimal.Decimal, annualRatePct float64, tenureMonths int) decimal.Decimal {
	if principal.LessThanOrEqual(decimal.Zero) || annualRatePct <= 0 || tenureMonths <= 0 {
		return decimal.Zero
	}

	monthlyRate := annualRatePct / (12 * 100)
	factor := math.Pow(1+monthlyRate, float64(tenureMonths))
	emi := principal.InexactFloat64() * monthlyRate * factor / (factor - 1)

	return decimal.NewFromFloat(emi).Round(2)
}

// CalculateTotalInterest returns the interest paid over the full tenure.
func CalculateTotalInterest(principal, emi decimal.Decimal, tenureMonths int) decimal.Decimal {
	if emi.LessThanOrEqual(decimal.Zero) || tenureMonths <= 0 {
		return decimal.Zero
	}
	return emi.Mul(decimal.NewFromInt(int64(tenureMonths))).Sub(principal).Round(2)
}

// CalculateTotalPayment returns the total amount repaid over the full tenure.
func CalculateTotalPayment(emi decimal.Decimal, tenureMonths int) decimal.Decimal {
	return emi.Mul(decimal.NewFromInt(int64(tenureMonths))).Round(2)
}

// CalculateDTIRatio expresses the EMI as a percentage of monthly salary.
// A non-positive salary yields the worst-case sentinel of 100.00, not an error.
func CalculateDTIRatio(emi, monthlySalary decimal.Decimal) decimal.Decimal {
	if monthlySalary.LessThanOrEqual(decimal.Zero) {
		return worstCaseDTI
	}
	return emi.Div(monthlySalary).Mul(hundred).Round(2)
}

// SuggestInterestRate maps a credit score to the per-annum rate tier.
// The mapping is monotonic non-increasing in score.
func SuggestInterestRate(creditScore int) float64 {
	switch {
	case creditScore >= 800:
		return 10.5
	case creditScore >= 750:
		return 11.0
	case creditScore >= 700:
		return 12.0
	case creditScore >= 650:
		return 14.0
	default:
		return 16.0
	}
}

// MaxEligibleLoan inverts the EMI formula: the largest principal whose EMI
// stays within the DTI ceiling for the given salary. Degenerates to
// maxEMI * tenure at a zero rate.
func MaxEligibleLoan(monthlySalary decimal.Decimal, tenureMonths int, annualRatePct float64) decimal.Decimal {
	if monthlySalary.LessThanOrEqual(decimal.Zero) || tenureMonths <= 0 {
		return decimal.Zero
	}

	maxEMI := monthlySalary.Mul(decimal.NewFromFloat(MaxDTIRatio / 100))

	monthlyRate := annualRatePct / (12 * 100)
	if monthlyRate <= 0 {
		return maxEMI.Mul(decimal.NewFromInt(int64(tenureMonths))).Round(2)
	}

	factor := math.Pow(1+monthlyRate, float64(tenureMonths))
	principal := maxEMI.InexactFloat64() * (factor - 1) / (monthlyRate * factor)

	return decimal.NewFromFloat(principal).Round(2)
}

// FormatCurrency renders a display amount with Indian Cr/L suffixes.
// Display only; never used in decision logic.
func FormatCurrency(amount decimal.Decimal) string {
	switch {
	case amount.GreaterThanOrEqual(croreRupees):
		return fmt.Sprintf("Rs. %s Cr", amount.Div(croreRupees).StringFixed(2))
	case amount.GreaterThanOrEqual(lakhRupees):
		return fmt.Sprintf("Rs. %s L", amount.Div(lakhRupees).StringFixed(2))
	default:
		return "Rs. " + GroupAmount(amount)
	}
}

// GroupAmount renders a 2-decimal amount with thousands separators,
// e.g. 1000000 -> "1,000,000.00".
func GroupAmount(amount decimal.Decimal) string {
	s := amount.StringFixed(2)

	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

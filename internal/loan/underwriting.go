package loan

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Underwriting policy constants.
const (
	// MinCreditScore is the hard gate below which every application is rejected.
	MinCreditScore = 700
	// MaxDTIRatio is the EMI-to-salary ceiling, in percent.
	MaxDTIRatio = 50.0
	// MaxLimitMultiplier bounds how far past the pre-approved limit an
	// application may go with salary proof.
	MaxLimitMultiplier = 2.0
)

// Outcome is the terminal classification of an underwriting evaluation.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomePending  Outcome = "pending"
)

// EvaluateInput carries everything the decision table consumes. Zero-valued
// loan terms and credit fields are treated as missing; Salary distinguishes
// absent (nil) from a stated zero income.
type EvaluateInput struct {
	LoanAmount       decimal.Decimal
	TenureMonths     int
	InterestRate     float64
	CreditScore      int
	PreApprovedLimit decimal.Decimal
	Salary           *decimal.Decimal
}

// Decision is the evaluator's verdict with its supporting figures. EMI is nil
// whenever the policy never computed one or discarded it.
type Decision struct {
	Outcome           Outcome
	Reason            string
	EMI               *decimal.Decimal
	RequiresSalary    bool
	RequiredMinSalary *decimal.Decimal
	DTIRatio          *decimal.Decimal
	Suggestion        string
}

// Evaluate runs the sequential underwriting policy. The first matching rule
// wins; the rule order is part of the contract. The function is pure and
// idempotent: identical inputs always produce identical decisions.
func Evaluate(in EvaluateInput) Decision {
	if in.LoanAmount.LessThanOrEqual(decimal.Zero) || in.TenureMonths <= 0 || in.InterestRate <= 0 {
		return Decision{
			Outcome: OutcomePending,
			Reason:  "Missing loan details",
		}
	}

	if in.CreditScore <= 0 || in.PreApprovedLimit.LessThanOrEqual(decimal.Zero) {
		return Decision{
			Outcome: OutcomePending,
			Reason:  "Missing credit information",
		}
	}

	// Credit gate short-circuits before any EMI math.
	if in.CreditScore < MinCreditScore {
		return Decision{
			Outcome: OutcomeRejected,
			Reason: fmt.Sprintf("Credit score (%d) is below the minimum required score of %d.",
				in.CreditScore, MinCreditScore),
		}
	}

	emi := CalculateEMI(in.LoanAmount, in.InterestRate, in.TenureMonths)

	if in.LoanAmount.LessThanOrEqual(in.PreApprovedLimit) {
		return Decision{
			Outcome: OutcomeApproved,
			Reason: fmt.Sprintf("Loan amount (Rs. %s) is within your pre-approved limit of Rs. %s.",
				GroupAmount(in.LoanAmount), GroupAmount(in.PreApprovedLimit)),
			EMI: &emi,
		}
	}

	maxAllowed := in.PreApprovedLimit.Mul(decimal.NewFromFloat(MaxLimitMultiplier))

	if in.LoanAmount.GreaterThan(maxAllowed) {
		return Decision{
			Outcome: OutcomeRejected,
			Reason: fmt.Sprintf("Loan amount (Rs. %s) exceeds the maximum allowed limit of Rs. %s (2x your pre-approved limit).",
				GroupAmount(in.LoanAmount), GroupAmount(maxAllowed)),
		}
	}

	if in.Salary == nil {
		required := requiredMinSalary(emi)
		return Decision{
			Outcome: OutcomePending,
			Reason: fmt.Sprintf("Loan amount exceeds pre-approved limit. Salary verification required for amounts between Rs. %s and Rs. %s.",
				GroupAmount(in.PreApprovedLimit), GroupAmount(maxAllowed)),
			EMI:               &emi,
			RequiresSalary:    true,
			RequiredMinSalary: &required,
		}
	}

	dti := CalculateDTIRatio(emi, *in.Salary)

	if dti.LessThanOrEqual(decimal.NewFromFloat(MaxDTIRatio)) {
		return Decision{
			Outcome: OutcomeApproved,
			Reason: fmt.Sprintf("Loan approved based on salary verification. Your EMI of Rs. %s is %s%% of your monthly salary, which is within the acceptable limit of %.1f%%.",
				GroupAmount(emi), dti.StringFixed(1), MaxDTIRatio),
			EMI:      &emi,
			DTIRatio: &dti,
		}
	}

	return Decision{
		Outcome: OutcomeRejected,
		Reason: fmt.Sprintf("EMI of Rs. %s represents %s%% of your monthly salary, exceeding our maximum limit of %.1f%%.",
			GroupAmount(emi), dti.StringFixed(1), MaxDTIRatio),
		EMI:        &emi,
		DTIRatio:   &dti,
		Suggestion: "Consider a lower loan amount or longer tenure to reduce EMI.",
	}
}

// requiredMinSalary is the smallest monthly salary that keeps the given EMI
// at or under the DTI ceiling.
func requiredMinSalary(emi decimal.Decimal) decimal.Decimal {
	return emi.Div(decimal.NewFromFloat(MaxDTIRatio / 100)).Round(2)
}

// Package agent contains the stage orchestrator that walks a customer
// through the loan journey, and the Assistant boundary it talks through.
package agent

import (
	"context"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"

	"github.com/horizon-finance-poc/server/internal/session"
)

// Extraction is the structured record an Assistant recognizes from the
// conversation. Nil pointers and empty strings mean "not mentioned"; the
// Assistant is responsible for unit normalization (lakhs to rupees, years to
// months) before values land here.
type Extraction struct {
	CustomerName string           `json:"customer_name"`
	PhoneNumber  string           `json:"phone_number"`
	LoanAmount   *decimal.Decimal `json:"loan_amount"`
	TenureMonths *int             `json:"tenure_months"`
	InterestRate *float64         `json:"interest_rate"`
	Salary       *decimal.Decimal `json:"salary"`
}

// Assistant is the language collaborator. Both operations may fail; the
// orchestrator degrades to fixed fallbacks and never surfaces the error to
// the customer.
type Assistant interface {
	// Extract pulls recognized loan fields out of the recent conversation.
	Extract(ctx context.Context, history []*schema.Message, state session.Snapshot) (*Extraction, error)

	// Reply generates a short natural-language response for the given task
	// description, grounded in the conversation and current state.
	Reply(ctx context.Context, history []*schema.Message, state session.Snapshot, task string) (string, error)
}

// Fixed user-safe fallbacks used when the Assistant is unavailable.
const (
	FallbackReply = "I apologize, but I'm having trouble processing your request. Could you please try again?"

	fallbackGreeting = "Welcome to Horizon Finance Limited! I'm your personal loan assistant. May I know your name please?"

	fallbackAskAmount = "How much would you like to borrow? Please share the loan amount you have in mind."
	fallbackAskTenure = "Over how many months would you like to repay the loan? We offer tenures between 12 and 60 months."
	fallbackAskPhone  = "Could you share your 10-digit phone number so we can complete KYC verification?"
	fallbackAskName   = "May I know your name please?"

	fallbackAskSalary   = "To proceed, could you please share your monthly salary in rupees?"
	fallbackReconfirm   = "Processing your application. Could you please re-confirm your loan requirements?"
	fallbackKYCComplete = "Your KYC verification is complete. We are now evaluating your loan application."

	sanctionFailureMessage = "We've approved your loan, but there was an issue generating the sanction letter. Our team will send it to you shortly."
)

// WelcomeMessage opens every new session.
const WelcomeMessage = `Welcome to Horizon Finance Limited!

I'm your personal loan assistant, and I'm here to help you with your financing needs today.

To get started, may I know your name please?`

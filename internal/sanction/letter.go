// Package sanction issues the formal approval document and formats the
// customer-facing decision messages.
package sanction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/horizon-finance-poc/server/internal/loan"
	logx "github.com/horizon-finance-poc/server/pkg/logger"
)

// Letter carries the finalized terms for a sanction document.
type Letter struct {
	SessionID    string
	CustomerName string
	LoanAmount   decimal.Decimal
	TenureMonths int
	InterestRate float64
	EMI          decimal.Decimal
}

// Issuer produces a durable sanction document and returns its retrieval
// handle. Issuance must be idempotent per session id: reissuing for the same
// session overwrites and returns the same handle.
type Issuer interface {
	Issue(ctx context.Context, letter Letter) (string, error)
}

// FileIssuer writes sanction letters to a configured output directory, named
// deterministically from a prefix of the session id.
type FileIssuer struct {
	outputDir string
}

// NewFileIssuer constructs a FileIssuer, creating the output directory if
// needed.
func NewFileIssuer(outputDir string) (*FileIssuer, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create letter output dir: %w", err)
	}
	return &FileIssuer{outputDir: outputDir}, nil
}

func (f *FileIssuer) Issue(_ context.Context, letter Letter) (string, error) {
	if letter.SessionID == "" || letter.CustomerName == "" ||
		letter.LoanAmount.LessThanOrEqual(decimal.Zero) || letter.TenureMonths <= 0 ||
		letter.InterestRate <= 0 || letter.EMI.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("incomplete terms for sanction letter")
	}

	path := f.LetterPath(letter.SessionID)
	if err := os.WriteFile(path, []byte(renderLetter(letter, time.Now())), 0o644); err != nil {
		logx.Error().Err(err).Str("path", path).Msg("failed to write sanction letter")
		return "", fmt.Errorf("write sanction letter: %w", err)
	}

	logx.Info().
		Str("session_id", letter.SessionID).
		Str("path", path).
		Msg("sanction letter issued")
	return path, nil
}

// LetterPath returns the deterministic document path for a session.
func (f *FileIssuer) LetterPath(sessionID string) string {
	return filepath.Join(f.outputDir, LetterFileName(sessionID))
}

// LetterFileName returns the deterministic document file name for a session.
func LetterFileName(sessionID string) string {
	return fmt.Sprintf("sanction_letter_%s.txt", shortID(sessionID))
}

var _ Issuer = (*FileIssuer)(nil)

func shortID(sessionID string) string {
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}

func renderLetter(l Letter, issuedAt time.Time) string {
	totalPayment := loan.CalculateTotalPayment(l.EMI, l.TenureMonths)
	totalInterest := loan.CalculateTotalInterest(l.LoanAmount, l.EMI, l.TenureMonths)

	var b strings.Builder
	b.WriteString("HORIZON FINANCE LIMITED\n")
	b.WriteString("PERSONAL LOAN SANCTION LETTER\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
	fmt.Fprintf(&b, "Date: %s\n", issuedAt.Format("02 Jan 2006"))
	fmt.Fprintf(&b, "Reference: HFL/%s\n\n", shortID(l.SessionID))
	fmt.Fprintf(&b, "Dear %s,\n\n", l.CustomerName)
	b.WriteString("We are pleased to inform you that your personal loan application has been approved on the following terms:\n\n")
	fmt.Fprintf(&b, "  Sanctioned Amount : Rs. %s\n", loan.GroupAmount(l.LoanAmount))
	fmt.Fprintf(&b, "  Interest Rate     : %.2f%% per annum\n", l.InterestRate)
	fmt.Fprintf(&b, "  Tenure            : %d months\n", l.TenureMonths)
	fmt.Fprintf(&b, "  Monthly EMI       : Rs. %s\n", loan.GroupAmount(l.EMI))
	fmt.Fprintf(&b, "  Total Interest    : Rs. %s\n", loan.GroupAmount(totalInterest))
	fmt.Fprintf(&b, "  Total Payable     : Rs. %s\n\n", loan.GroupAmount(totalPayment))
	b.WriteString("This sanction is valid for 30 days from the date of issue and is subject to execution of the loan agreement.\n\n")
	b.WriteString("Sincerely,\nCredit Operations\nHorizon Finance Limited\n")
	return b.String()
}

// FormatApproval builds the congratulatory approval message shown in chat.
func FormatApproval(customerName string, loanAmount decimal.Decimal, tenureMonths int, interestRate float64, emi decimal.Decimal) string {
	totalPayment := loan.CalculateTotalPayment(emi, tenureMonths)
	totalInterest := loan.CalculateTotalInterest(loanAmount, emi, tenureMonths)

	return strings.TrimSpace(fmt.Sprintf(`
Congratulations, %s!

Your Personal Loan has been APPROVED!

Loan Details:
- Loan Amount: Rs. %s
- Interest Rate: %g%% per annum
- Tenure: %d months
- Monthly EMI: Rs. %s
- Total Interest: Rs. %s
- Total Payable: Rs. %s

Your sanction letter has been generated and is ready for download.

Thank you for choosing Horizon Finance Limited!`,
		customerName,
		loan.GroupAmount(loanAmount),
		interestRate,
		tenureMonths,
		loan.GroupAmount(emi),
		loan.GroupAmount(totalInterest),
		loan.GroupAmount(totalPayment),
	))
}

// FormatRejection builds the customer-facing rejection message.
func FormatRejection(customerName, reason string) string {
	return strings.TrimSpace(fmt.Sprintf(`
Dear %s,

We regret to inform you that we are unable to approve your loan application at this time.

Reason: %s

We encourage you to:
- Review your credit profile
- Consider applying for a lower amount
- Contact our customer support for more details

Thank you for considering Horizon Finance Limited. We hope to serve you in the future.`,
		customerName, reason))
}

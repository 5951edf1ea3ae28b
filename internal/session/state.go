// Package session owns the per-customer loan application state and its
// stores. A State is mutated only by the orchestrator while it holds that
// session's lock; stores never hand out detached copies to concurrent turns.
package session

import (
	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
)

// Stage enumerates the conversation stages. The set is closed; the
// orchestrator dispatches on it exhaustively.
type Stage string

const (
	StageGreeting         Stage = "greeting"
	StageCollectingInfo   Stage = "collecting_info"
	StageKYCVerification  Stage = "kyc_verification"
	StageUnderwriting     Stage = "underwriting"
	StageSalaryCollection Stage = "salary_collection"
	StageDecision         Stage = "decision"
	StageSanctionLetter   Stage = "sanction_letter"
	StageCompleted        Stage = "completed"
)

// UnderwritingStatus tracks where the application sits in the decision flow.
type UnderwritingStatus string

const (
	StatusPending        UnderwritingStatus = "pending"
	StatusRequiresSalary UnderwritingStatus = "requires_salary"
	StatusApproved       UnderwritingStatus = "approved"
	StatusRejected       UnderwritingStatus = "rejected"
)

// State is one customer's loan application session.
//
// Zero values mean "not yet collected" for the loan terms and credit fields,
// mirroring how the evaluator treats them. Salary and EMI are pointers
// because nil-versus-zero is load-bearing: a stated salary of zero must still
// be evaluated, and EMI must be nil unless underwriting computed one for the
// current terms.
type State struct {
	SessionID          string             `json:"session_id"`
	CustomerName       string             `json:"customer_name"`
	PhoneNumber        string             `json:"phone_number"`
	LoanAmount         decimal.Decimal    `json:"loan_amount"`
	TenureMonths       int                `json:"tenure_months"`
	InterestRate       float64            `json:"interest_rate"`
	CreditScore        int                `json:"credit_score"`
	Salary             *decimal.Decimal   `json:"salary"`
	EMI                *decimal.Decimal   `json:"emi"`
	PreApprovedLimit   decimal.Decimal    `json:"pre_approved_limit"`
	KYCVerified        bool               `json:"kyc_verified"`
	PhoneVerified      bool               `json:"phone_verified"`
	AddressVerified    bool               `json:"address_verified"`
	UnderwritingStatus UnderwritingStatus `json:"underwriting_status"`
	FinalDecision      string             `json:"final_decision,omitempty"`
	RejectionReason    string             `json:"rejection_reason,omitempty"`
	Stage              Stage              `json:"conversation_stage"`
	History            []*schema.Message  `json:"conversation_history"`
	SanctionLetterPath string             `json:"sanction_letter_path,omitempty"`
}

// NewState returns a fresh application at the greeting stage.
func NewState(sessionID string) *State {
	return &State{
		SessionID:          sessionID,
		Stage:              StageGreeting,
		UnderwritingStatus: StatusPending,
		History:            []*schema.Message{},
	}
}

// AddUserMessage appends a customer turn to the conversation history.
func (s *State) AddUserMessage(content string) {
	s.History = append(s.History, schema.UserMessage(content))
}

// AddAssistantMessage appends an assistant turn to the conversation history.
func (s *State) AddAssistantMessage(content string) {
	s.History = append(s.History, schema.AssistantMessage(content, nil))
}

// Snapshot is the read-only summary handed to prompts and the inspection
// endpoint. Optional money fields are nil until supplied or derived.
type Snapshot struct {
	CustomerName       string             `json:"customer_name,omitempty"`
	PhoneNumber        string             `json:"phone_number,omitempty"`
	LoanAmount         *decimal.Decimal   `json:"loan_amount"`
	TenureMonths       int                `json:"tenure_months"`
	InterestRate       float64            `json:"interest_rate"`
	CreditScore        int                `json:"credit_score"`
	Salary             *decimal.Decimal   `json:"salary"`
	EMI                *decimal.Decimal   `json:"emi"`
	PreApprovedLimit   *decimal.Decimal   `json:"pre_approved_limit"`
	KYCVerified        bool               `json:"kyc_verified"`
	UnderwritingStatus UnderwritingStatus `json:"underwriting_status"`
	FinalDecision      string             `json:"final_decision,omitempty"`
	Stage              Stage              `json:"conversation_stage"`
}

// Summary produces the current snapshot of the application.
func (s *State) Summary() Snapshot {
	snap := Snapshot{
		CustomerName:       s.CustomerName,
		PhoneNumber:        s.PhoneNumber,
		TenureMonths:       s.TenureMonths,
		InterestRate:       s.InterestRate,
		CreditScore:        s.CreditScore,
		Salary:             s.Salary,
		EMI:                s.EMI,
		KYCVerified:        s.KYCVerified,
		UnderwritingStatus: s.UnderwritingStatus,
		FinalDecision:      s.FinalDecision,
		Stage:              s.Stage,
	}
	if s.LoanAmount.IsPositive() {
		amount := s.LoanAmount
		snap.LoanAmount = &amount
	}
	if s.PreApprovedLimit.IsPositive() {
		limit := s.PreApprovedLimit
		snap.PreApprovedLimit = &limit
	}
	return snap
}

// HistoryEntry is the transport form of one conversation turn.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryEntries flattens the conversation history for API responses.
func (s *State) HistoryEntries() []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(s.History))
	for _, msg := range s.History {
		if msg == nil {
			continue
		}
		entries = append(entries, HistoryEntry{Role: string(msg.Role), Content: msg.Content})
	}
	return entries
}

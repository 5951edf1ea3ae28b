package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/horizon-finance-poc/server/internal/events"
	"github.com/horizon-finance-poc/server/internal/loan"
	"github.com/horizon-finance-poc/server/internal/metrics"
	"github.com/horizon-finance-poc/server/internal/sanction"
	"github.com/horizon-finance-poc/server/internal/session"
	logx "github.com/horizon-finance-poc/server/pkg/logger"
)

// TurnResult is the single consolidated response for one inbound message,
// regardless of how many internal stage transitions the turn chained through.
type TurnResult struct {
	SessionID         string
	Message           string
	Stage             session.Stage
	Actions           []string
	DownloadAvailable bool
	DownloadPath      string
}

// Deps wires the orchestrator's collaborators. Store, Verifier, Assistant and
// Issuer are required; Metrics and Events may be nil.
type Deps struct {
	Store     session.Store
	Verifier  *loan.Verifier
	Assistant Assistant
	Issuer    sanction.Issuer
	Metrics   *metrics.Metrics
	Events    *events.Publisher
}

// Orchestrator drives the conversation stage machine. Each inbound message is
// processed to completion under that session's lock; sessions never share
// locks, so distinct customers proceed fully in parallel.
type Orchestrator struct {
	store     session.Store
	verifier  *loan.Verifier
	assistant Assistant
	issuer    sanction.Issuer
	metrics   *metrics.Metrics
	events    *events.Publisher
	locks     *session.KeyedMutex
}

// New constructs an Orchestrator, validating required collaborators.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("session store is nil")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("verifier is nil")
	}
	if deps.Assistant == nil {
		return nil, fmt.Errorf("assistant is nil")
	}
	if deps.Issuer == nil {
		return nil, fmt.Errorf("issuer is nil")
	}
	return &Orchestrator{
		store:     deps.Store,
		verifier:  deps.Verifier,
		assistant: deps.Assistant,
		issuer:    deps.Issuer,
		metrics:   deps.Metrics,
		events:    deps.Events,
		locks:     session.NewKeyedMutex(),
	}, nil
}

// StartSession creates a fresh application and returns the opening greeting.
func (o *Orchestrator) StartSession(ctx context.Context) (*TurnResult, error) {
	state, err := o.store.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	state.AddAssistantMessage(WelcomeMessage)
	if err := o.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	logx.Info().Str("session_id", state.SessionID).Msg("session started")
	return &TurnResult{
		SessionID: state.SessionID,
		Message:   WelcomeMessage,
		Stage:     state.Stage,
	}, nil
}

// ProcessMessage runs one full turn for the session. An unknown or empty
// session id transparently starts a new session rather than failing.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID, message string) (*TurnResult, error) {
	state, err := o.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(state.SessionID)
	defer unlock()

	// Re-read under the lock so chained turns observe each other's writes.
	if state, err = o.store.Get(ctx, state.SessionID); err != nil {
		return nil, err
	}

	start := time.Now()
	stageIn := state.Stage

	state.AddUserMessage(message)
	result := o.dispatch(ctx, state, message)
	state.AddAssistantMessage(result.Message)

	if err := o.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	result.SessionID = state.SessionID
	result.Stage = state.Stage

	logx.Info().
		Str("session_id", state.SessionID).
		Str("stage_in", string(stageIn)).
		Str("stage_out", string(state.Stage)).
		Dur("duration", time.Since(start)).
		Msg("turn processed")
	return result, nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, sessionID string) (*session.State, error) {
	if sessionID != "" {
		state, err := o.store.Get(ctx, sessionID)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
	}

	state, err := o.store.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return state, nil
}

// dispatch routes on the closed stage enum. Every stage has a case; an
// unrecognized value from a stored payload falls back to info collection.
func (o *Orchestrator) dispatch(ctx context.Context, state *session.State, message string) *TurnResult {
	switch state.Stage {
	case session.StageGreeting:
		return o.handleGreeting(ctx, state)
	case session.StageCollectingInfo:
		return o.handleCollectingInfo(ctx, state, message)
	case session.StageKYCVerification:
		return o.handleKYC(ctx, state, message)
	case session.StageUnderwriting:
		return o.handleUnderwriting(ctx, state, message)
	case session.StageSalaryCollection:
		return o.handleSalaryCollection(ctx, state, message)
	case session.StageDecision:
		return o.handleDecision()
	case session.StageSanctionLetter:
		return o.handleSanctionLetter(ctx, state)
	case session.StageCompleted:
		return o.handleCompleted(ctx, state)
	default:
		logx.Warn().Str("stage", string(state.Stage)).Msg("unrecognized stage; treating as info collection")
		return o.handleCollectingInfo(ctx, state, message)
	}
}

func (o *Orchestrator) handleGreeting(ctx context.Context, state *session.State) *TurnResult {
	o.transition(state, session.StageCollectingInfo)

	msg := o.reply(ctx, state,
		"This is the first message. Greet the customer warmly and ask how you can help with their loan needs. Ask for their name.",
		fallbackGreeting)
	return &TurnResult{Message: msg, Actions: []string{"greeting_complete"}}
}

func (o *Orchestrator) handleCollectingInfo(ctx context.Context, state *session.State, message string) *TurnResult {
	ext, err := o.assistant.Extract(ctx, state.History, state.Summary())
	if err != nil {
		logx.Warn().Err(err).Str("session_id", state.SessionID).Msg("extraction failed; continuing with known state")
	} else if ext != nil {
		mergeExtraction(state, ext)
	}

	field, missing := nextMissingField(state)
	if !missing {
		o.transition(state, session.StageKYCVerification)
		return o.handleKYC(ctx, state, message)
	}

	msg := o.reply(ctx, state,
		fmt.Sprintf("Missing information: %s. Ask only for the customer's %s, naturally and politely. Do not ask for anything else.", field.label, field.label),
		field.fallback)
	return &TurnResult{Message: msg, Actions: []string{"collecting_info"}}
}

func (o *Orchestrator) handleKYC(ctx context.Context, state *session.State, message string) *TurnResult {
	profile := o.verifier.Verify(state.PhoneNumber, state.CustomerName)

	state.KYCVerified = true
	state.PhoneVerified = profile.PhoneVerified
	state.AddressVerified = profile.AddressVerified
	state.CreditScore = profile.CreditScore
	state.PreApprovedLimit = profile.PreApprovedLimit

	if state.InterestRate <= 0 {
		state.InterestRate = loan.SuggestInterestRate(state.CreditScore)
	}

	// The congratulatory framing is worded before underwriting runs, so it is
	// rendered against the pre-decision state.
	kycMsg := o.reply(ctx, state,
		fmt.Sprintf("KYC verification completed successfully. Credit score: %d. Pre-approved limit: Rs. %s. Now proceeding to evaluate the loan application. Be encouraging but don't promise approval.",
			state.CreditScore, loan.GroupAmount(state.PreApprovedLimit)),
		fallbackKYCComplete)

	o.transition(state, session.StageUnderwriting)
	result := o.handleUnderwriting(ctx, state, message)

	// A rejection discovered in the same turn skips the congratulatory
	// KYC framing entirely.
	if state.UnderwritingStatus == session.StatusRejected {
		return result
	}

	result.Message = kycMsg + "\n\n" + result.Message
	return result
}

func (o *Orchestrator) handleUnderwriting(ctx context.Context, state *session.State, message string) *TurnResult {
	decision := loan.Evaluate(loan.EvaluateInput{
		LoanAmount:       state.LoanAmount,
		TenureMonths:     state.TenureMonths,
		InterestRate:     state.InterestRate,
		CreditScore:      state.CreditScore,
		PreApprovedLimit: state.PreApprovedLimit,
		Salary:           state.Salary,
	})

	switch decision.Outcome {
	case loan.OutcomeApproved:
		state.UnderwritingStatus = session.StatusApproved
		if state.FinalDecision == "" {
			state.FinalDecision = "approved"
		}
		state.EMI = decision.EMI

		o.metrics.ObserveDecision(string(decision.Outcome))
		o.publishDecision(ctx, state, decision)
		o.transition(state, session.StageSanctionLetter)
		return o.handleSanctionLetter(ctx, state)

	case loan.OutcomeRejected:
		state.UnderwritingStatus = session.StatusRejected
		if state.FinalDecision == "" {
			state.FinalDecision = "rejected"
		}
		state.RejectionReason = decision.Reason
		state.EMI = decision.EMI

		o.metrics.ObserveDecision(string(decision.Outcome))
		o.publishDecision(ctx, state, decision)
		o.transition(state, session.StageCompleted)

		return &TurnResult{
			Message: sanction.FormatRejection(customerNameOr(state), decision.Reason),
			Actions: []string{"application_rejected"},
		}

	default: // pending
		if decision.RequiresSalary {
			state.UnderwritingStatus = session.StatusRequiresSalary
			state.EMI = decision.EMI
			o.transition(state, session.StageSalaryCollection)

			msg := o.reply(ctx, state,
				fmt.Sprintf("The loan amount exceeds the pre-approved limit. Need salary verification. Required minimum salary: Rs. %s. Ask for the customer's monthly salary politely.",
					loan.GroupAmount(*decision.RequiredMinSalary)),
				fallbackAskSalary)
			return &TurnResult{Message: msg, Actions: []string{"salary_required"}}
		}

		// Missing data: stay in underwriting and re-prompt.
		state.UnderwritingStatus = session.StatusPending
		state.EMI = decision.EMI
		msg := o.reply(ctx, state,
			"Some application details are missing. Ask the customer to re-confirm their loan requirements.",
			fallbackReconfirm)
		return &TurnResult{Message: msg, Actions: []string{"underwriting_pending"}}
	}
}

func (o *Orchestrator) handleSalaryCollection(ctx context.Context, state *session.State, message string) *TurnResult {
	var salary *decimal.Decimal

	ext, err := o.assistant.Extract(ctx, state.History, state.Summary())
	if err == nil && ext != nil && ext.Salary != nil && ext.Salary.IsPositive() {
		salary = ext.Salary
	} else if parsed, ok := parseSalary(message); ok {
		salary = &parsed
	}

	if salary != nil {
		state.Salary = salary
		o.transition(state, session.StageUnderwriting)
		return o.handleUnderwriting(ctx, state, message)
	}

	msg := o.reply(ctx, state,
		"Need to collect monthly salary. Ask again politely. Accept a numeric value in INR.",
		fallbackAskSalary)
	return &TurnResult{Message: msg, Actions: []string{"awaiting_salary"}}
}

func (o *Orchestrator) handleSanctionLetter(ctx context.Context, state *session.State) *TurnResult {
	var emi decimal.Decimal
	if state.EMI != nil {
		emi = *state.EMI
	}

	path, err := o.issuer.Issue(ctx, sanction.Letter{
		SessionID:    state.SessionID,
		CustomerName: customerNameOr(state),
		LoanAmount:   state.LoanAmount,
		TenureMonths: state.TenureMonths,
		InterestRate: state.InterestRate,
		EMI:          emi,
	})

	if err != nil {
		logx.Error().Err(err).Str("session_id", state.SessionID).Msg("sanction letter issuance failed")
		o.metrics.ObserveLetter("error")
		// The approval stands even when the document cannot be produced.
		o.transition(state, session.StageCompleted)
		return &TurnResult{
			Message: sanctionFailureMessage,
			Actions: []string{"sanction_letter_error"},
		}
	}

	state.SanctionLetterPath = path
	o.metrics.ObserveLetter("ok")
	o.transition(state, session.StageCompleted)

	return &TurnResult{
		Message:           sanction.FormatApproval(customerNameOr(state), state.LoanAmount, state.TenureMonths, state.InterestRate, emi),
		Actions:           []string{"application_approved", "sanction_letter_generated"},
		DownloadAvailable: true,
		DownloadPath:      downloadPath(state.SessionID),
	}
}

// handleDecision is a dead pass-through: nothing in the transition graph sets
// the decision stage, and no trigger is invented for it.
func (o *Orchestrator) handleDecision() *TurnResult {
	return &TurnResult{Message: "Your application has been processed."}
}

func (o *Orchestrator) handleCompleted(ctx context.Context, state *session.State) *TurnResult {
	msg := o.reply(ctx, state,
		"The loan application process is complete. Answer any follow-up questions. If they want to start a new application, tell them to start a new session.",
		FallbackReply)

	download := state.FinalDecision == "approved" && state.SanctionLetterPath != ""
	result := &TurnResult{
		Message:           msg,
		Actions:           []string{"conversation_complete"},
		DownloadAvailable: download,
	}
	if download {
		result.DownloadPath = downloadPath(state.SessionID)
	}
	return result
}

// reply asks the Assistant for a task-directed response and degrades to the
// given fallback on any failure.
func (o *Orchestrator) reply(ctx context.Context, state *session.State, task, fallback string) string {
	msg, err := o.assistant.Reply(ctx, state.History, state.Summary(), task)
	if err != nil || strings.TrimSpace(msg) == "" {
		logx.Warn().Err(err).Str("session_id", state.SessionID).Msg("assistant reply failed; using fallback")
		o.metrics.ObserveFallback()
		return fallback
	}
	return msg
}

func (o *Orchestrator) transition(state *session.State, to session.Stage) {
	o.metrics.ObserveTransition(string(state.Stage), string(to))
	logx.Debug().
		Str("session_id", state.SessionID).
		Str("from", string(state.Stage)).
		Str("to", string(to)).
		Msg("stage transition")
	state.Stage = to
}

func (o *Orchestrator) publishDecision(ctx context.Context, state *session.State, decision loan.Decision) {
	event := events.DecisionEvent{
		SessionID:    state.SessionID,
		Decision:     string(decision.Outcome),
		Reason:       decision.Reason,
		LoanAmount:   state.LoanAmount.StringFixed(2),
		TenureMonths: state.TenureMonths,
		InterestRate: state.InterestRate,
		CreditScore:  state.CreditScore,
		DecidedAt:    time.Now().UTC(),
	}
	if decision.EMI != nil {
		event.EMI = decision.EMI.StringFixed(2)
	}
	o.events.PublishDecision(ctx, event)
}

// mergeExtraction folds recognized values into state; only present values
// overwrite.
func mergeExtraction(state *session.State, ext *Extraction) {
	if ext.CustomerName != "" {
		state.CustomerName = ext.CustomerName
	}
	if ext.PhoneNumber != "" {
		state.PhoneNumber = ext.PhoneNumber
	}
	if ext.LoanAmount != nil && ext.LoanAmount.IsPositive() {
		state.LoanAmount = *ext.LoanAmount
	}
	if ext.TenureMonths != nil && *ext.TenureMonths > 0 {
		state.TenureMonths = *ext.TenureMonths
	}
	if ext.InterestRate != nil && *ext.InterestRate > 0 {
		state.InterestRate = *ext.InterestRate
	}
	if ext.Salary != nil && ext.Salary.IsPositive() {
		salary := *ext.Salary
		state.Salary = &salary
	}
}

type promptField struct {
	label    string
	fallback string
}

// nextMissingField picks the single highest-priority field still missing.
// Priority: loan amount, then tenure, then phone, then name.
func nextMissingField(state *session.State) (promptField, bool) {
	switch {
	case !state.LoanAmount.IsPositive():
		return promptField{label: "loan amount", fallback: fallbackAskAmount}, true
	case state.TenureMonths <= 0:
		return promptField{label: "loan tenure", fallback: fallbackAskTenure}, true
	case state.PhoneNumber == "":
		return promptField{label: "phone number", fallback: fallbackAskPhone}, true
	case state.CustomerName == "":
		return promptField{label: "name", fallback: fallbackAskName}, true
	default:
		return promptField{}, false
	}
}

// parseSalary recovers a salary figure from free text by keeping only digits
// and the decimal point, e.g. "around Rs. 55,000 per month" -> 55000.
func parseSalary(message string) (decimal.Decimal, bool) {
	var b strings.Builder
	for _, r := range message {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return decimal.Decimal{}, false
	}
	v, err := decimal.NewFromString(b.String())
	if err != nil || !v.IsPositive() {
		return decimal.Decimal{}, false
	}
	return v, true
}

func customerNameOr(state *session.State) string {
	if state.CustomerName != "" {
		return state.CustomerName
	}
	return "Valued Customer"
}

func downloadPath(sessionID string) string {
	return "/api/download/" + sessionID
}

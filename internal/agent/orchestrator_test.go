package agent

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizon-finance-poc/server/internal/loan"
	"github.com/horizon-finance-poc/server/internal/sanction"
	"github.com/horizon-finance-poc/server/internal/session"
)

// fakeAssistant pops one scripted extraction per Extract call and always fails
// Reply, so every customer-facing message is the deterministic fallback copy.
type fakeAssistant struct {
	extractions []*Extraction
	extractErr  error
}

func (f *fakeAssistant) Extract(_ context.Context, _ []*schema.Message, _ session.Snapshot) (*Extraction, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	if len(f.extractions) == 0 {
		return &Extraction{}, nil
	}
	ext := f.extractions[0]
	f.extractions = f.extractions[1:]
	return ext, nil
}

func (f *fakeAssistant) Reply(_ context.Context, _ []*schema.Message, _ session.Snapshot, _ string) (string, error) {
	return "", errors.New("assistant offline")
}

// recordingAssistant behaves like fakeAssistant but captures the snapshot and
// task handed to every Reply call.
type recordingAssistant struct {
	fakeAssistant
	replySnapshots []session.Snapshot
	replyTasks     []string
}

func (r *recordingAssistant) Reply(_ context.Context, _ []*schema.Message, state session.Snapshot, task string) (string, error) {
	r.replySnapshots = append(r.replySnapshots, state)
	r.replyTasks = append(r.replyTasks, task)
	return "", errors.New("assistant offline")
}

type fakeIssuer struct {
	path   string
	err    error
	issued []sanction.Letter
}

func (f *fakeIssuer) Issue(_ context.Context, letter sanction.Letter) (string, error) {
	f.issued = append(f.issued, letter)
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

func dp(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func ip(v int) *int { return &v }

func newTestOrchestrator(t *testing.T, assistant Assistant, issuer sanction.Issuer) (*Orchestrator, session.Store) {
	t.Helper()
	store := session.NewMemoryStore()
	o, err := New(Deps{
		Store:     store,
		Verifier:  loan.NewVerifierWithRand(rand.New(rand.NewSource(1))),
		Assistant: assistant,
		Issuer:    issuer,
	})
	require.NoError(t, err)
	return o, store
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	_, err = New(Deps{Store: session.NewMemoryStore()})
	assert.Error(t, err)
}

func TestStartSession(t *testing.T) {
	o, store := newTestOrchestrator(t, &fakeAssistant{}, &fakeIssuer{path: "letters/x.txt"})

	result, err := o.StartSession(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, WelcomeMessage, result.Message)
	assert.Equal(t, session.StageGreeting, result.Stage)

	state, err := store.Get(context.Background(), result.SessionID)
	require.NoError(t, err)
	entries := state.HistoryEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "assistant", entries[0].Role)
}

func TestProcessMessageCreatesSessionOnDemand(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeAssistant{}, &fakeIssuer{path: "letters/x.txt"})

	result, err := o.ProcessMessage(context.Background(), "", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	// The greeting stage consumes the first message and moves on.
	assert.Equal(t, session.StageCollectingInfo, result.Stage)
}

func TestProcessMessageUnknownSessionStartsNew(t *testing.T) {
	o, store := newTestOrchestrator(t, &fakeAssistant{}, &fakeIssuer{path: "letters/x.txt"})

	result, err := o.ProcessMessage(context.Background(), "no-such-session", "hi")
	require.NoError(t, err)
	assert.NotEqual(t, "no-such-session", result.SessionID)

	_, err = store.Get(context.Background(), result.SessionID)
	assert.NoError(t, err)
}

func TestGreetingAdvancesToCollectingInfo(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeAssistant{}, &fakeIssuer{path: "letters/x.txt"})

	start, err := o.StartSession(context.Background())
	require.NoError(t, err)

	result, err := o.ProcessMessage(context.Background(), start.SessionID, "hello")
	require.NoError(t, err)
	assert.Equal(t, session.StageCollectingInfo, result.Stage)
	assert.Equal(t, fallbackGreeting, result.Message)
	assert.Contains(t, result.Actions, "greeting_complete")
}

func TestCollectingInfoAsksForSingleMissingField(t *testing.T) {
	tests := []struct {
		name     string
		ext      *Extraction
		fallback string
	}{
		{"nothing known asks amount", &Extraction{}, fallbackAskAmount},
		{"amount known asks tenure", &Extraction{LoanAmount: dp("500000")}, fallbackAskTenure},
		{"amount and tenure ask phone", &Extraction{LoanAmount: dp("500000"), TenureMonths: ip(24)}, fallbackAskPhone},
		{"phone known asks name", &Extraction{LoanAmount: dp("500000"), TenureMonths: ip(24), PhoneNumber: "5550001234"}, fallbackAskName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOrchestrator(t, &fakeAssistant{extractions: []*Extraction{tt.ext}}, &fakeIssuer{path: "letters/x.txt"})

			start, err := o.StartSession(context.Background())
			require.NoError(t, err)
			_, err = o.ProcessMessage(context.Background(), start.SessionID, "hi")
			require.NoError(t, err)

			result, err := o.ProcessMessage(context.Background(), start.SessionID, "details")
			require.NoError(t, err)
			assert.Equal(t, session.StageCollectingInfo, result.Stage)
			assert.Equal(t, tt.fallback, result.Message)
			assert.Contains(t, result.Actions, "collecting_info")
		})
	}
}

// Extraction failure keeps the turn alive on the known state instead of erroring.
func TestCollectingInfoSurvivesExtractionFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeAssistant{extractErr: errors.New("model down")}, &fakeIssuer{path: "letters/x.txt"})

	start, err := o.StartSession(context.Background())
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "hi")
	require.NoError(t, err)

	result, err := o.ProcessMessage(context.Background(), start.SessionID, "I want a loan")
	require.NoError(t, err)
	assert.Equal(t, session.StageCollectingInfo, result.Stage)
	assert.Equal(t, fallbackAskAmount, result.Message)
}

// A single message carrying every field rides the chain all the way to a
// sanction letter: KYC, underwriting and issuance happen in one turn.
func TestFullApprovalFlowWithDemoPhone(t *testing.T) {
	issuer := &fakeIssuer{path: "letters/sanction_letter_demo.txt"}
	assistant := &fakeAssistant{extractions: []*Extraction{{
		CustomerName: "Asha Rao",
		PhoneNumber:  loan.DemoPhoneNumber,
		LoanAmount:   dp("500000"),
		TenureMonths: ip(24),
	}}}
	o, store := newTestOrchestrator(t, assistant, issuer)

	start, err := o.StartSession(context.Background())
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "hi")
	require.NoError(t, err)

	result, err := o.ProcessMessage(context.Background(), start.SessionID,
		"I'm Asha Rao, I need 5 lakhs for 2 years, my number is 7982130057")
	require.NoError(t, err)

	assert.Equal(t, session.StageCompleted, result.Stage)
	assert.Contains(t, result.Message, fallbackKYCComplete)
	assert.Contains(t, result.Message, "Your Personal Loan has been APPROVED!")
	assert.Contains(t, result.Actions, "application_approved")
	assert.Contains(t, result.Actions, "sanction_letter_generated")
	assert.True(t, result.DownloadAvailable)
	assert.Equal(t, "/api/download/"+start.SessionID, result.DownloadPath)

	state, err := store.Get(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "approved", state.FinalDecision)
	assert.Equal(t, session.StatusApproved, state.UnderwritingStatus)
	assert.True(t, state.KYCVerified)
	assert.Equal(t, 800, state.CreditScore)
	assert.Equal(t, 10.5, state.InterestRate)
	require.NotNil(t, state.EMI)
	assert.Equal(t, "23188.02", state.EMI.StringFixed(2))
	assert.Equal(t, issuer.path, state.SanctionLetterPath)

	require.Len(t, issuer.issued, 1)
	assert.Equal(t, "Asha Rao", issuer.issued[0].CustomerName)
}

// The KYC congratulation is worded before underwriting decides, so its prompt
// sees the pre-decision state.
func TestKYCReplySeesPreDecisionState(t *testing.T) {
	assistant := &recordingAssistant{fakeAssistant: fakeAssistant{extractions: []*Extraction{{
		CustomerName: "Asha Rao",
		PhoneNumber:  loan.DemoPhoneNumber,
		LoanAmount:   dp("500000"),
		TenureMonths: ip(24),
	}}}}
	o, _ := newTestOrchestrator(t, assistant, &fakeIssuer{path: "letters/x.txt"})

	start, err := o.StartSession(context.Background())
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "hi")
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "all my details")
	require.NoError(t, err)

	var kycSnap *session.Snapshot
	for i, task := range assistant.replyTasks {
		if strings.Contains(task, "KYC verification completed") {
			kycSnap = &assistant.replySnapshots[i]
			break
		}
	}
	require.NotNil(t, kycSnap)
	assert.Equal(t, session.StageKYCVerification, kycSnap.Stage)
	assert.Equal(t, session.StatusPending, kycSnap.UnderwritingStatus)
	assert.Empty(t, kycSnap.FinalDecision)
	assert.Nil(t, kycSnap.EMI)
}

// A directory customer below the credit floor is rejected in the same turn,
// and the congratulatory KYC framing is skipped.
func TestRejectionBelowCreditFloor(t *testing.T) {
	assistant := &fakeAssistant{extractions: []*Extraction{{
		CustomerName: "Priya Patel",
		PhoneNumber:  "9876543211",
		LoanAmount:   dp("100000"),
		TenureMonths: ip(12),
	}}}
	o, store := newTestOrchestrator(t, assistant, &fakeIssuer{path: "letters/x.txt"})

	start, err := o.StartSession(context.Background())
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "hi")
	require.NoError(t, err)

	result, err := o.ProcessMessage(context.Background(), start.SessionID, "all my details")
	require.NoError(t, err)

	assert.Equal(t, session.StageCompleted, result.Stage)
	assert.Contains(t, result.Message, "below the minimum required score of 700")
	assert.NotContains(t, result.Message, fallbackKYCComplete)
	assert.Contains(t, result.Actions, "application_rejected")
	assert.False(t, result.DownloadAvailable)

	state, err := store.Get(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "rejected", state.FinalDecision)
	assert.Equal(t, session.StatusRejected, state.UnderwritingStatus)
	assert.NotEmpty(t, state.RejectionReason)
	assert.Nil(t, state.EMI)
}

func TestHardLimitRejection(t *testing.T) {
	// Amit Kumar: score 820, pre-approved limit 500,000. Asking for more than
	// 2x lands in outright rejection.
	assistant := &fakeAssistant{extractions: []*Extraction{{
		CustomerName: "Amit Kumar",
		PhoneNumber:  "9876543212",
		LoanAmount:   dp("1500000"),
		TenureMonths: ip(36),
	}}}
	o, _ := newTestOrchestrator(t, assistant, &fakeIssuer{path: "letters/x.txt"})

	start, err := o.StartSession(context.Background())
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "hi")
	require.NoError(t, err)

	result, err := o.ProcessMessage(context.Background(), start.SessionID, "details")
	require.NoError(t, err)

	assert.Equal(t, session.StageCompleted, result.Stage)
	assert.Contains(t, result.Message, "exceeds the maximum allowed limit")
	assert.Contains(t, result.Actions, "application_rejected")
}

func TestSalaryRequiredThenApproved(t *testing.T) {
	// 800,000 against Amit's 500,000 limit sits in the stretch band.
	assistant := &fakeAssistant{extractions: []*Extraction{{
		CustomerName: "Amit Kumar",
		PhoneNumber:  "9876543212",
		LoanAmount:   dp("800000"),
		TenureMonths: ip(36),
	}}}
	issuer := &fakeIssuer{path: "letters/sanction_letter_amit.txt"}
	o, store := newTestOrchestrator(t, assistant, issuer)

	start, err := o.StartSession(context.Background())
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "hi")
	require.NoError(t, err)

	result, err := o.ProcessMessage(context.Background(), start.SessionID, "details")
	require.NoError(t, err)
	assert.Equal(t, session.StageSalaryCollection, result.Stage)
	assert.Equal(t, fallbackAskSalary, result.Message)
	assert.Contains(t, result.Actions, "salary_required")

	state, err := store.Get(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusRequiresSalary, state.UnderwritingStatus)
	require.NotNil(t, state.EMI)
	assert.Equal(t, "26001.95", state.EMI.StringFixed(2))

	// The salary arrives as free text; the numeric fallback parser handles it
	// because the scripted extractor has nothing left to say.
	result, err = o.ProcessMessage(context.Background(), start.SessionID, "I earn 100000 a month")
	require.NoError(t, err)

	assert.Equal(t, session.StageCompleted, result.Stage)
	assert.Contains(t, result.Message, "Your Personal Loan has been APPROVED!")
	assert.True(t, result.DownloadAvailable)

	state, err = store.Get(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusApproved, state.UnderwritingStatus)
	require.NotNil(t, state.Salary)
	assert.Equal(t, "100000", state.Salary.String())
}

func TestSalaryRequiredThenDTIRejected(t *testing.T) {
	assistant := &fakeAssistant{extractions: []*Extraction{{
		CustomerName: "Amit Kumar",
		PhoneNumber:  "9876543212",
		LoanAmount:   dp("800000"),
		TenureMonths: ip(36),
	}}}
	o, _ := newTestOrchestrator(t, assistant, &fakeIssuer{path: "letters/x.txt"})

	start, err := o.StartSession(context.Background())
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "hi")
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "details")
	require.NoError(t, err)

	// EMI is about 26,002, so 40,000 a month breaches the 50% ceiling.
	result, err := o.ProcessMessage(context.Background(), start.SessionID, "I make 40000")
	require.NoError(t, err)

	assert.Equal(t, session.StageCompleted, result.Stage)
	assert.Contains(t, result.Message, "exceeding our maximum limit")
	assert.Contains(t, result.Actions, "application_rejected")
}

func TestSalaryRepromptOnUnparsableAnswer(t *testing.T) {
	assistant := &fakeAssistant{extractions: []*Extraction{{
		CustomerName: "Amit Kumar",
		PhoneNumber:  "9876543212",
		LoanAmount:   dp("800000"),
		TenureMonths: ip(36),
	}}}
	o, _ := newTestOrchestrator(t, assistant, &fakeIssuer{path: "letters/x.txt"})

	start, err := o.StartSession(context.Background())
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "hi")
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "details")
	require.NoError(t, err)

	result, err := o.ProcessMessage(context.Background(), start.SessionID, "why do you need that?")
	require.NoError(t, err)

	assert.Equal(t, session.StageSalaryCollection, result.Stage)
	assert.Equal(t, fallbackAskSalary, result.Message)
	assert.Contains(t, result.Actions, "awaiting_salary")
}

// Issuance failure never takes the approval back.
func TestSanctionLetterFailureKeepsApproval(t *testing.T) {
	assistant := &fakeAssistant{extractions: []*Extraction{{
		CustomerName: "Asha Rao",
		PhoneNumber:  loan.DemoPhoneNumber,
		LoanAmount:   dp("500000"),
		TenureMonths: ip(24),
	}}}
	issuer := &fakeIssuer{err: errors.New("disk full")}
	o, store := newTestOrchestrator(t, assistant, issuer)

	start, err := o.StartSession(context.Background())
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "hi")
	require.NoError(t, err)

	result, err := o.ProcessMessage(context.Background(), start.SessionID, "all details")
	require.NoError(t, err)

	assert.Equal(t, session.StageCompleted, result.Stage)
	assert.Contains(t, result.Message, sanctionFailureMessage)
	assert.Contains(t, result.Actions, "sanction_letter_error")
	assert.False(t, result.DownloadAvailable)

	state, err := store.Get(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "approved", state.FinalDecision)
	assert.Empty(t, state.SanctionLetterPath)
}

func TestCompletedFollowUp(t *testing.T) {
	assistant := &fakeAssistant{extractions: []*Extraction{{
		CustomerName: "Asha Rao",
		PhoneNumber:  loan.DemoPhoneNumber,
		LoanAmount:   dp("500000"),
		TenureMonths: ip(24),
	}}}
	o, _ := newTestOrchestrator(t, assistant, &fakeIssuer{path: "letters/x.txt"})

	start, err := o.StartSession(context.Background())
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "hi")
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "all details")
	require.NoError(t, err)

	result, err := o.ProcessMessage(context.Background(), start.SessionID, "what now?")
	require.NoError(t, err)

	assert.Equal(t, session.StageCompleted, result.Stage)
	assert.Equal(t, FallbackReply, result.Message)
	assert.Contains(t, result.Actions, "conversation_complete")
	assert.True(t, result.DownloadAvailable)
	assert.Equal(t, "/api/download/"+start.SessionID, result.DownloadPath)
}

func TestVerifiedNameIsNotOverwrittenByDirectory(t *testing.T) {
	// The customer said a different name than the directory record; the
	// directory profile wins only for credit data, while a known-customer
	// lookup replaces the name on the profile it returns.
	assistant := &fakeAssistant{extractions: []*Extraction{{
		CustomerName: "A. Kumar",
		PhoneNumber:  "9876543212",
		LoanAmount:   dp("400000"),
		TenureMonths: ip(24),
	}}}
	o, store := newTestOrchestrator(t, assistant, &fakeIssuer{path: "letters/x.txt"})

	start, err := o.StartSession(context.Background())
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "hi")
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), start.SessionID, "details")
	require.NoError(t, err)

	state, err := store.Get(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "A. Kumar", state.CustomerName)
	assert.Equal(t, 820, state.CreditScore)
}

func TestMergeExtraction(t *testing.T) {
	state := session.NewState("s-1")
	state.CustomerName = "Existing Name"

	mergeExtraction(state, &Extraction{
		PhoneNumber:  "5550001234",
		LoanAmount:   dp("250000"),
		TenureMonths: ip(18),
	})

	assert.Equal(t, "Existing Name", state.CustomerName)
	assert.Equal(t, "5550001234", state.PhoneNumber)
	assert.Equal(t, 18, state.TenureMonths)
	assert.True(t, state.LoanAmount.Equal(decimal.RequireFromString("250000")))

	// Absent values never clear what is already known.
	mergeExtraction(state, &Extraction{})
	assert.Equal(t, "5550001234", state.PhoneNumber)
	assert.Equal(t, 18, state.TenureMonths)
}

func TestNextMissingFieldPriority(t *testing.T) {
	state := session.NewState("s-1")

	field, missing := nextMissingField(state)
	require.True(t, missing)
	assert.Equal(t, "loan amount", field.label)

	state.LoanAmount = decimal.NewFromInt(500_000)
	field, _ = nextMissingField(state)
	assert.Equal(t, "loan tenure", field.label)

	state.TenureMonths = 24
	field, _ = nextMissingField(state)
	assert.Equal(t, "phone number", field.label)

	state.PhoneNumber = "5550001234"
	field, _ = nextMissingField(state)
	assert.Equal(t, "name", field.label)

	state.CustomerName = "Asha Rao"
	_, missing = nextMissingField(state)
	assert.False(t, missing)
}

func TestParseSalary(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"55000", "55000", true},
		{"around Rs. 55,000 per month", "55000", true},
		{"1.5", "1.5", true},
		{"none of your business", "", false},
		{"", "", false},
		{"zero, 0", "0", false},
	}
	for _, tt := range tests {
		got, ok := parseSalary(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got.String(), "input %q", tt.in)
		}
	}
}

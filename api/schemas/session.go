// File: api/schemas/session.go
package schemas

import "time"

// SessionState names a state of the active-interaction state machine.
type SessionState string

const (
	StateInit          SessionState = "INIT"
	StateLoadSite      SessionState = "LOAD_SITE"
	StateFindRegister  SessionState = "FIND_REGISTER"
	StateFillRegister  SessionState = "FILL_REGISTER"
	StateSubmitReg     SessionState = "SUBMIT_REGISTER"
	StateCheckEmail    SessionState = "CHECK_EMAIL_VERIFICATION"
	StateNavDeposit    SessionState = "NAVIGATE_DEPOSIT"
	StateExtractWallet SessionState = "EXTRACT_WALLETS"
	StateGuidance      SessionState = "GUIDANCE_NEEDED"
	StateComplete      SessionState = "COMPLETE"
	StateSkipped       SessionState = "SKIPPED"
	StateManualReview  SessionState = "NEEDS_MANUAL_REVIEW"
	StateFailed        SessionState = "FAILED"
)

// Outcome is the terminal result of a session.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeManualReview   Outcome = "needs_manual_review"
	OutcomeBudgetExceeded Outcome = "budget_exceeded"
	OutcomeFailed         Outcome = "failed"
)

// Step is one observe-decide-act cycle. Steps are append-only: once recorded
// they are never mutated, and sequence numbers are strictly increasing with
// no gaps. The step log is the canonical audit timeline for a session.
type Step struct {
	Seq           int            `json:"seq"`
	State         SessionState   `json:"state"`
	Action        Action         `json:"action"`
	Tier          ResolutionTier `json:"tier"`
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	ScreenshotRef string         `json:"screenshot_ref,omitempty"`
	DurationMS    int64          `json:"duration_ms"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Session is the complete record of one active-interaction run: the step
// log, collected wallets, the PII field names submitted to the target, and
// the terminal outcome. It is owned exclusively by its state machine while
// running and handed to evidence packaging afterwards.
type Session struct {
	ID            string          `json:"id"`
	TargetURL     string          `json:"target_url"`
	State         SessionState    `json:"state"`
	Outcome       Outcome         `json:"outcome,omitempty"`
	Steps         []Step          `json:"steps"`
	Wallets       []WalletAddress `json:"wallets"`
	PIISubmitted  []string        `json:"pii_submitted,omitempty"`
	PagesVisited  []string        `json:"pages_visited,omitempty"`
	IdentityID    string          `json:"identity_id,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	EndedAt       time.Time       `json:"ended_at,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// NextSeq returns the sequence number the next step must carry.
func (s *Session) NextSeq() int { return len(s.Steps) + 1 }

// StepCount reports how many steps have been recorded.
func (s *Session) StepCount() int { return len(s.Steps) }

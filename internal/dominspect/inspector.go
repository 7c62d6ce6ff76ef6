package dominspect

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/observability"
)

const maxConfidence = 100

// Outcome is what the inspection tells the cascade to do.
type Outcome string

const (
	// OutcomeDirect means the scored evidence is strong enough to execute
	// the built action without any reasoning call.
	OutcomeDirect Outcome = "direct"
	// OutcomeAssisted means the evidence is injected as prompt context for
	// the text reasoner.
	OutcomeAssisted Outcome = "assisted"
	// OutcomeFallback means the scan found nothing useful.
	OutcomeFallback Outcome = "fallback"
)

// Signal is one weighted piece of evidence.
type Signal struct {
	Source   string `json:"source"`
	Weight   int    `json:"weight"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
}

// Inspection is the scored result for one state.
type Inspection struct {
	State          schemas.SessionState `json:"state"`
	Confidence     int                  `json:"confidence"`
	Outcome        Outcome              `json:"outcome"`
	Signals        []Signal             `json:"signals"`
	DirectAction   *schemas.Action      `json:"direct_action,omitempty"`
	ContextSummary string               `json:"context_summary,omitempty"`
	ScanDuration   time.Duration        `json:"scan_duration_ns"`
}

type detector interface {
	detect(scan *ScanResult) []Signal
	buildAction(signals []Signal) *schemas.Action
}

// Inspector scores scan results against configured thresholds.
type Inspector struct {
	directThreshold   int
	assistedThreshold int
	detectors         map[schemas.SessionState]detector
	logger            *zap.Logger
}

// NewInspector creates an Inspector with the given thresholds.
func NewInspector(directThreshold, assistedThreshold int) *Inspector {
	return &Inspector{
		directThreshold:   directThreshold,
		assistedThreshold: assistedThreshold,
		detectors: map[schemas.SessionState]detector{
			schemas.StateFindRegister: findRegisterDetector{},
			schemas.StateNavDeposit:   navigateDepositDetector{},
			schemas.StateCheckEmail:   checkEmailDetector{},
		},
		logger: observability.GetLogger().Named("dominspect"),
	}
}

// Inspect scores the scan evidence for the state. States without a
// detector always fall through to the reasoning tiers.
//
// A score exactly on a threshold takes the cheaper tier: 75 is direct,
// 40 is assisted.
func (i *Inspector) Inspect(state schemas.SessionState, scan *ScanResult, scanDuration time.Duration) *Inspection {
	det, ok := i.detectors[state]
	if !ok || scan == nil {
		return &Inspection{State: state, Outcome: OutcomeFallback, ScanDuration: scanDuration}
	}

	signals := det.detect(scan)
	confidence := 0
	for _, s := range signals {
		confidence += s.Weight
	}
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	insp := &Inspection{
		State:        state,
		Confidence:   confidence,
		Signals:      signals,
		ScanDuration: scanDuration,
	}

	switch {
	case state == schemas.StateCheckEmail:
		// Email verification is always decided structurally. The detector
		// returns a definitive action even with zero signals.
		insp.Outcome = OutcomeDirect
		insp.DirectAction = det.buildAction(signals)
		if confidence < i.directThreshold {
			insp.Confidence = i.directThreshold
		}
	case confidence >= i.directThreshold:
		insp.Outcome = OutcomeDirect
		insp.DirectAction = det.buildAction(signals)
		if insp.DirectAction == nil {
			insp.Outcome = OutcomeAssisted
		}
	case confidence >= i.assistedThreshold:
		insp.Outcome = OutcomeAssisted
	default:
		insp.Outcome = OutcomeFallback
	}

	if insp.Outcome == OutcomeAssisted {
		insp.ContextSummary = formatContext(state, insp.Confidence, signals)
	}

	i.logger.Info("DOM inspection",
		zap.String("state", string(state)),
		zap.Int("confidence", insp.Confidence),
		zap.String("outcome", string(insp.Outcome)),
		zap.Int("signals", len(signals)),
		zap.Duration("scan_duration", scanDuration))
	return insp
}

// findRegisterDetector scores evidence that a registration form is on
// screen or one click away.
//
// Weights: registration form 60, register link 40, URL pattern 25,
// modal with form 20.
type findRegisterDetector struct{}

func (findRegisterDetector) detect(scan *ScanResult) []Signal {
	var signals []Signal
	if scan.HasRegistrationForm {
		signals = append(signals, Signal{
			Source:   "registration_form_present",
			Weight:   60,
			Selector: scan.FormSelector,
			Value:    scan.FieldSummary,
		})
	}
	if len(scan.RegisterLinks) > 0 {
		best := scan.RegisterLinks[0]
		signals = append(signals, Signal{
			Source:   "register_link_found",
			Weight:   40,
			Selector: best.Selector,
			Value:    best.Text,
		})
	}
	if scan.URLIsRegisterPage {
		signals = append(signals, Signal{Source: "url_pattern_match", Weight: 25, Value: scan.CurrentURL})
	}
	if scan.ModalHasForm {
		signals = append(signals, Signal{Source: "modal_form_detected", Weight: 20, Selector: scan.ModalSelector})
	}
	return signals
}

func (findRegisterDetector) buildAction(signals []Signal) *schemas.Action {
	for _, s := range signals {
		if s.Source == "registration_form_present" {
			return &schemas.Action{
				Type:       schemas.ActionDone,
				Rationale:  fmt.Sprintf("registration form detected (%s)", s.Value),
				Confidence: 0.9,
			}
		}
	}
	for _, s := range signals {
		if s.Source == "register_link_found" && s.Selector != "" {
			return &schemas.Action{
				Type:       schemas.ActionClick,
				Selector:   s.Selector,
				Rationale:  fmt.Sprintf("register link found: %q", s.Value),
				Confidence: 0.8,
			}
		}
	}
	for _, s := range signals {
		if s.Source == "register_link_found" && s.Value != "" {
			return &schemas.Action{
				Type:       schemas.ActionClick,
				Selector:   s.Value,
				Rationale:  fmt.Sprintf("register link found by text: %q", s.Value),
				Confidence: 0.75,
			}
		}
	}
	return nil
}

// navigateDepositDetector scores evidence of a deposit or funding section.
//
// Weights: deposit link 40, URL pattern 35, CSS class match 20.
type navigateDepositDetector struct{}

func (navigateDepositDetector) detect(scan *ScanResult) []Signal {
	var signals []Signal
	if len(scan.DepositLinks) > 0 {
		best := scan.DepositLinks[0]
		signals = append(signals, Signal{
			Source:   "deposit_link_found",
			Weight:   40,
			Selector: best.Selector,
			Value:    best.Text,
		})
	}
	if scan.URLIsDepositPage {
		signals = append(signals, Signal{Source: "url_pattern_match", Weight: 35, Value: scan.CurrentURL})
	}
	if scan.DepositClassMatch {
		signals = append(signals, Signal{Source: "css_class_match", Weight: 20, Selector: scan.DepositClassSelector})
	}
	return signals
}

func (navigateDepositDetector) buildAction(signals []Signal) *schemas.Action {
	// Already on the deposit page: clicking again only causes loops.
	for _, s := range signals {
		if s.Source == "url_pattern_match" {
			return &schemas.Action{
				Type:       schemas.ActionDone,
				Rationale:  "already on deposit page",
				Confidence: 0.85,
			}
		}
	}
	for _, s := range signals {
		if s.Source == "deposit_link_found" && s.Selector != "" {
			return &schemas.Action{
				Type:       schemas.ActionClick,
				Selector:   s.Selector,
				Rationale:  fmt.Sprintf("deposit link found: %q", s.Value),
				Confidence: 0.8,
			}
		}
	}
	for _, s := range signals {
		if s.Source == "deposit_link_found" && s.Value != "" {
			return &schemas.Action{
				Type:       schemas.ActionClick,
				Selector:   s.Value,
				Rationale:  fmt.Sprintf("deposit link found by text: %q", s.Value),
				Confidence: 0.75,
			}
		}
	}
	for _, s := range signals {
		if s.Source == "css_class_match" && s.Selector != "" {
			return &schemas.Action{
				Type:       schemas.ActionClick,
				Selector:   s.Selector,
				Rationale:  "deposit element found via class match",
				Confidence: 0.6,
			}
		}
	}
	return nil
}

// checkEmailDetector decides whether the site demands email verification.
// Always produces a definitive action.
type checkEmailDetector struct{}

func (checkEmailDetector) detect(scan *ScanResult) []Signal {
	var signals []Signal
	if scan.EmailVerifyTextFound {
		signals = append(signals, Signal{Source: "email_verify_text", Weight: 80, Value: scan.EmailVerifySnippet})
	}
	if scan.DashboardTextFound {
		signals = append(signals, Signal{Source: "dashboard_text", Weight: 60, Value: scan.DashboardSnippet})
	}
	if scan.URLIsVerifyPage {
		signals = append(signals, Signal{Source: "url_verify_pattern", Weight: 40})
	}
	return signals
}

func (checkEmailDetector) buildAction(signals []Signal) *schemas.Action {
	for _, s := range signals {
		if s.Source == "email_verify_text" {
			return &schemas.Action{
				Type:       schemas.ActionStuck,
				Rationale:  fmt.Sprintf("email verification required: %q", s.Value),
				Confidence: 0.95,
			}
		}
	}
	// Dashboard text beats the URL pattern; URLs lag after redirects.
	for _, s := range signals {
		if s.Source == "dashboard_text" {
			return &schemas.Action{
				Type:       schemas.ActionDone,
				Rationale:  fmt.Sprintf("dashboard detected (%s), no verification gate", s.Value),
				Confidence: 0.90,
			}
		}
	}
	for _, s := range signals {
		if s.Source == "url_verify_pattern" {
			return &schemas.Action{
				Type:       schemas.ActionStuck,
				Rationale:  "URL matches an email verification pattern",
				Confidence: 0.85,
			}
		}
	}
	return &schemas.Action{
		Type:       schemas.ActionDone,
		Rationale:  "no email verification signals, proceeding",
		Confidence: 0.75,
	}
}

func formatContext(state schemas.SessionState, confidence int, signals []Signal) string {
	if len(signals) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "DOM PRE-SCAN [%s] confidence=%d/100:\n", state, confidence)
	for _, s := range signals {
		detail := fmt.Sprintf("value=%q", s.Value)
		if s.Selector != "" {
			detail = fmt.Sprintf("selector=%q", s.Selector)
		}
		fmt.Fprintf(&b, "  - %s (+%dpts): %s\n", s.Source, s.Weight, detail)
	}
	return strings.TrimRight(b.String(), "\n")
}

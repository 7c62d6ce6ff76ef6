package agent

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/api/schemas"
	"github.com/vexlabs-io/lurehound/internal/config"
)

// PreFilter is the outcome of the cheap pre-reasoning checks run on every
// observation.
type PreFilter string

const (
	// PreFilterBlankPage means the page rendered almost nothing; wait and
	// re-observe instead of burning a reasoning call.
	PreFilterBlankPage PreFilter = "blank_page"
	// PreFilterDuplicate means the screenshot hash has not changed since the
	// last step.
	PreFilterDuplicate PreFilter = "duplicate_screenshot"
	// PreFilterProceed means the observation is worth deciding on.
	PreFilterProceed PreFilter = "proceed"
)

const (
	blankTextThreshold     = 20
	blankScreenshotBytes   = 5000
	repeatedActionLimit    = 3
	blankPageMaxRetries    = 3
	blankDepositMaxRetries = 2
)

// Detector tracks per-state progress signals: attempts in the current
// state, duplicate-screenshot streaks, blank-page retries, and repeated
// identical actions. All counters reset on state transition.
type Detector struct {
	cfg config.AgentConfig

	actionsInState int
	lastHash       string
	dupeStreak     int
	blankRetries   int
	forcedStuck    bool
	recentSigs     []string
	typeMismatches []string
	logger         *zap.Logger
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(cfg config.AgentConfig, logger *zap.Logger) *Detector {
	return &Detector{cfg: cfg, logger: logger.Named("stuck")}
}

// ResetState clears every per-state counter. Called on each transition.
func (d *Detector) ResetState() {
	d.actionsInState = 0
	d.lastHash = ""
	d.dupeStreak = 0
	d.blankRetries = 0
	d.forcedStuck = false
	d.recentSigs = nil
	d.typeMismatches = nil
}

// ResetAttempts zeroes the attempt counter without losing the other
// signals. Called after guidance so the human's fix gets a fresh window.
func (d *Detector) ResetAttempts() {
	d.actionsInState = 0
	d.forcedStuck = false
}

// Check runs the pre-reasoning filters on an observation.
func (d *Detector) Check(state schemas.SessionState, pageText string, screenshotBytes int, hash string) PreFilter {
	if len(strings.TrimSpace(pageText)) < blankTextThreshold && screenshotBytes < blankScreenshotBytes {
		d.blankRetries++
		return PreFilterBlankPage
	}
	d.blankRetries = 0

	if hash != "" && hash == d.lastHash {
		d.dupeStreak++
		limit := d.cfg.DuplicateScreenshotLimit
		if limit <= 0 {
			limit = 5
		}
		if d.dupeStreak >= limit {
			d.logger.Warn("Duplicate screenshot streak hit limit",
				zap.String("state", string(state)), zap.Int("streak", d.dupeStreak))
			d.forcedStuck = true
		}
		return PreFilterDuplicate
	}
	d.lastHash = hash
	d.dupeStreak = 0
	return PreFilterProceed
}

// BlankRetries reports the current blank-page retry count.
func (d *Detector) BlankRetries() int { return d.blankRetries }

// BlankExhausted reports whether the blank-page retry budget for this
// state is spent. The deposit page gets a shorter budget since a blank
// deposit page almost always means a broken funnel, not a slow one.
func (d *Detector) BlankExhausted(state schemas.SessionState) bool {
	if state == schemas.StateNavDeposit {
		return d.blankRetries >= blankDepositMaxRetries
	}
	return d.blankRetries > blankPageMaxRetries
}

// InvalidateHash forgets the last screenshot hash so the next observation
// is never treated as a duplicate. Called after a failed action, which
// leaves the page unchanged for a legitimate reason.
func (d *Detector) InvalidateHash() { d.lastHash = "" }

// RecordAction counts one attempt and watches for the same action being
// issued repeatedly.
func (d *Detector) RecordAction(a schemas.Action) {
	d.actionsInState++

	sig := fmt.Sprintf("%s:%s:%s", a.Type, a.Selector, a.Value)
	d.recentSigs = append(d.recentSigs, sig)
	if len(d.recentSigs) > repeatedActionLimit {
		d.recentSigs = d.recentSigs[len(d.recentSigs)-repeatedActionLimit:]
	}
	if len(d.recentSigs) == repeatedActionLimit && allEqual(d.recentSigs) {
		d.logger.Warn("Repeated identical action", zap.String("signature", truncate(sig, 120)))
		d.forcedStuck = true
	}
}

// CountAttempt counts an attempt that produced no action signature, such
// as a blank-page wait.
func (d *Detector) CountAttempt() { d.actionsInState++ }

// AttemptsInState reports attempts since the last transition.
func (d *Detector) AttemptsInState() int { return d.actionsInState }

// IsStuck reports whether the session should escalate to guidance.
func (d *Detector) IsStuck(state schemas.SessionState) bool {
	if d.forcedStuck {
		return true
	}
	return d.actionsInState >= d.cfg.StuckThreshold(string(state))
}

// Threshold resolves the configured stuck threshold for a state.
func (d *Detector) Threshold(state schemas.SessionState) int {
	return d.cfg.StuckThreshold(string(state))
}

// RecordTypeMismatch remembers a read-back failure so the next reasoning
// prompt can see it. A later successful type on the same selector clears it.
func (d *Detector) RecordTypeMismatch(selector, expected, actual string) {
	msg := fmt.Sprintf("field %q was set to %q but contains %q", selector, expected, actual)
	d.typeMismatches = append(d.typeMismatches, msg)
}

// ClearTypeMismatch drops mismatches for a selector that has since been
// typed successfully.
func (d *Detector) ClearTypeMismatch(selector string) {
	kept := d.typeMismatches[:0]
	needle := fmt.Sprintf("field %q", selector)
	for _, m := range d.typeMismatches {
		if !strings.Contains(m, needle) {
			kept = append(kept, m)
		}
	}
	d.typeMismatches = kept
}

// TypeMismatches returns the unresolved read-back failures.
func (d *Detector) TypeMismatches() []string { return d.typeMismatches }

func allEqual(ss []string) bool {
	for _, s := range ss[1:] {
		if s != ss[0] {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

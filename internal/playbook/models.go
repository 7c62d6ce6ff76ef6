// Package playbook provides deterministic, scripted interaction flows for
// known site families. A playbook matched against a target URL is always
// preferred over reasoning because it costs nothing to run.
package playbook

import (
	"fmt"
	"regexp"
	"time"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

var idPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Step is one deterministic action in a playbook. Template placeholders in
// Value and Selector (e.g. "{identity.email}") are resolved at run time.
type Step struct {
	Action   schemas.ActionType `json:"action"`
	Selector string             `json:"selector,omitempty"`
	Value    string             `json:"value,omitempty"`

	Description string `json:"description,omitempty"`

	// RetryOnFailure is the number of extra attempts after the first.
	RetryOnFailure int `json:"retry_on_failure,omitempty"`
	// FallbackToLLM hands control back to the reasoning cascade when the
	// step exhausts its retries.
	FallbackToLLM bool `json:"fallback_to_llm"`
}

// Playbook is a complete scripted flow for a site or cluster of sites.
type Playbook struct {
	ID          string `json:"playbook_id"`
	URLPattern  string `json:"url_pattern"`
	Description string `json:"description,omitempty"`
	Steps       []Step `json:"steps"`

	FallbackToLLM  bool `json:"fallback_to_llm"`
	MaxDurationSec int  `json:"max_duration_sec,omitempty"`

	Author     string   `json:"author,omitempty"`
	Version    string   `json:"version,omitempty"`
	TestedURLs []string `json:"tested_urls,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Enabled    bool     `json:"enabled"`

	compiled *regexp.Regexp
}

// MaxDuration returns the wall-clock budget, defaulting to two minutes.
func (p *Playbook) MaxDuration() time.Duration {
	if p.MaxDurationSec <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(p.MaxDurationSec) * time.Second
}

// Validate checks the playbook definition and compiles its URL pattern.
func (p *Playbook) Validate() error {
	if !idPattern.MatchString(p.ID) {
		return fmt.Errorf("playbook id %q must match %s", p.ID, idPattern)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("playbook %s has no steps", p.ID)
	}
	if p.MaxDurationSec != 0 && (p.MaxDurationSec < 10 || p.MaxDurationSec > 600) {
		return fmt.Errorf("playbook %s: max_duration_sec %d outside [10, 600]", p.ID, p.MaxDurationSec)
	}
	// URL matching is case-insensitive; hostnames arrive in mixed case.
	re, err := regexp.Compile("(?i)" + p.URLPattern)
	if err != nil {
		return fmt.Errorf("playbook %s: invalid url_pattern: %w", p.ID, err)
	}
	p.compiled = re

	for i, s := range p.Steps {
		if err := validateStep(s); err != nil {
			return fmt.Errorf("playbook %s step %d: %w", p.ID, i+1, err)
		}
	}
	return nil
}

func validateStep(s Step) error {
	switch s.Action {
	case schemas.ActionClick, schemas.ActionTypeText, schemas.ActionSelect:
		if s.Selector == "" {
			return fmt.Errorf("%s step requires a selector", s.Action)
		}
	case schemas.ActionNavigate:
		if s.Value == "" {
			return fmt.Errorf("navigate step requires a value")
		}
	case schemas.ActionWait, schemas.ActionScroll, schemas.ActionExtract:
		// value is optional for these
	default:
		return fmt.Errorf("unsupported step action %q", s.Action)
	}
	if s.RetryOnFailure < 0 || s.RetryOnFailure > 10 {
		return fmt.Errorf("retry_on_failure %d outside [0, 10]", s.RetryOnFailure)
	}
	return nil
}

// MatchesURL reports whether the compiled URL pattern matches the given
// URL. Validate must have been called first.
func (p *Playbook) MatchesURL(url string) bool {
	if p.compiled == nil {
		return false
	}
	return p.compiled.MatchString(url)
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	StepIndex int                `json:"step_index"`
	Action    schemas.ActionType `json:"action"`
	Selector  string             `json:"selector,omitempty"`
	Value     string             `json:"value,omitempty"`
	Success   bool               `json:"success"`
	Attempts  int                `json:"attempts"`
	Error     string             `json:"error,omitempty"`
	Duration  time.Duration      `json:"duration_ns"`
}

// Result is the structured outcome of a full playbook run.
type Result struct {
	PlaybookID     string        `json:"playbook_id"`
	URL            string        `json:"url"`
	Success        bool          `json:"success"`
	CompletedSteps int           `json:"completed_steps"`
	TotalSteps     int           `json:"total_steps"`
	StepResults    []StepResult  `json:"step_results"`
	FellBack       bool          `json:"fell_back"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
}

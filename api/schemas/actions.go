// File: api/schemas/actions.go
package schemas

// ActionType is an enumeration of the browser actions the active agent can
// perform against a target page. These values travel over the wire (reasoner
// responses, playbook files, session logs) so they are stable strings.
type ActionType string

const (
	ActionClick    ActionType = "click"    // Click a UI element.
	ActionTypeText ActionType = "type"     // Type text into an input field.
	ActionSelect   ActionType = "select"   // Pick an option in a <select>.
	ActionScroll   ActionType = "scroll"   // Scroll the page by a pixel delta.
	ActionNavigate ActionType = "navigate" // Navigate to an absolute URL.
	ActionWait     ActionType = "wait"     // Pause and re-observe.
	ActionExtract  ActionType = "extract"  // Harvest content from the page.
	ActionDone     ActionType = "done"     // Current intent is satisfied; advance.
	ActionStuck    ActionType = "stuck"    // The decider cannot make progress.
)

// ResolutionTier names the cascade tier that produced an action, ordered by
// cost. Recorded on every Step for audit.
type ResolutionTier string

const (
	TierPlaybook    ResolutionTier = "playbook"
	TierDOMDirect   ResolutionTier = "dom_direct"
	TierDOMAssisted ResolutionTier = "dom_assisted"
	TierTextLLM     ResolutionTier = "text_llm"
	TierVisionLLM   ResolutionTier = "vision_llm"
	TierHuman       ResolutionTier = "human"
)

// Action is a single concrete browser step decided by a cascade tier. The
// Rationale field carries the reasoner's free-text justification when the
// action was LLM-resolved; deterministic tiers fill it with a short label.
type Action struct {
	Type       ActionType `json:"action"`
	Selector   string     `json:"selector,omitempty"`
	Value      string     `json:"value,omitempty"`
	Rationale  string     `json:"rationale,omitempty"`
	Confidence float64    `json:"confidence"`
}

// ClampConfidence bounds the confidence into [0, 1]. Reasoner output is
// untrusted and occasionally returns values like 90 instead of 0.9.
func (a *Action) ClampConfidence() {
	if a.Confidence > 1 {
		a.Confidence = a.Confidence / 100
	}
	if a.Confidence > 1 {
		a.Confidence = 1
	}
	if a.Confidence < 0 {
		a.Confidence = 0
	}
}

// File: api/schemas/reason.go
package schemas

import "context"

// ReasonMode selects the reasoning modality for a gateway call. Text mode is
// strictly cheaper; the cascade escalates to vision only when text fails or
// the DOM is unreliable.
type ReasonMode string

const (
	ReasonText   ReasonMode = "text"
	ReasonVision ReasonMode = "vision"
)

// Usage reports the token accounting of one reasoning call, used by the cost
// ledger to price the call.
type Usage struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// PageRequest is the uniform request shape submitted to the reasoning
// gateway. ScreenshotPNG is only set in vision mode. ExtraContext carries
// narrowed DOM candidates, stuck diagnostics, or read-back mismatches from
// prior actions.
type PageRequest struct {
	Mode          ReasonMode
	SystemPrompt  string
	PageText      string
	Elements      []InteractiveElement
	ScreenshotPNG []byte
	ExtraContext  string
	Intent        string
}

// Reasoner is the abstract reasoning-service contract. Implementations wrap a
// concrete provider (cloud model, local model, or a mock) with retry/backoff;
// the core depends only on this shape.
type Reasoner interface {
	// AnalyzePage returns one structured action decision for the given page.
	AnalyzePage(ctx context.Context, req PageRequest) (Action, Usage, error)
	// BatchFill returns an ordered action list filling a whole form in one
	// call. Actions still execute and are recorded sequentially.
	BatchFill(ctx context.Context, req PageRequest, identity Identity) ([]Action, Usage, error)
	// Close releases any provider resources.
	Close() error
}

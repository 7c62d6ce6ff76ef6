// Package budget meters per-investigation spend and bounds process-wide
// concurrency. Every reasoning call is priced before its result is used;
// once a ledger trips its ceiling it never untrips.
package budget

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

// llmCostPer1KTokens prices models per 1000 tokens. Local models are
// free; unknown models fall back to the most expensive known rate so an
// unrecognized model can never silently burn budget.
var llmCostPer1KTokens = map[string]struct{ input, output float64 }{
	// Local models
	"ollama":   {0, 0},
	"llama3.1": {0, 0},
	"llama3.2": {0, 0},
	"mistral":  {0, 0},
	// Gemini
	"gemini-1.5-flash": {0.000075, 0.0003},
	"gemini-1.5-pro":   {0.00125, 0.005},
	"gemini-2.0-flash": {0.0001, 0.0004},
	"gemini-2.5-flash": {0.0003, 0.0025},
	"gemini-2.5-pro":   {0.00125, 0.01},
}

var fallbackRate = struct{ input, output float64 }{0.00125, 0.01}

func rateFor(model string) struct{ input, output float64 } {
	if r, ok := llmCostPer1KTokens[model]; ok {
		return r
	}
	// Version-suffixed model names still match their base entry.
	for name, r := range llmCostPer1KTokens {
		if strings.HasPrefix(model, name) {
			return r
		}
	}
	return fallbackRate
}

// LineItem is one priced entry in the ledger.
type LineItem struct {
	Category  string    `json:"category"` // "llm" or "compute"
	Label     string    `json:"label"`
	Quantity  float64   `json:"quantity"`
	Unit      string    `json:"unit"`
	UnitUSD   float64   `json:"unit_cost_usd"`
	TotalUSD  float64   `json:"total_cost_usd"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is a point-in-time aggregate of a ledger.
type Summary struct {
	TotalUSD          float64    `json:"total_usd"`
	LLMUSD            float64    `json:"llm_usd"`
	ComputeUSD        float64    `json:"compute_usd"`
	BudgetUSD         float64    `json:"budget_usd"`
	RemainingUSD      float64    `json:"budget_remaining_usd"`
	Exceeded          bool       `json:"budget_exceeded"`
	TotalInputTokens  int        `json:"total_input_tokens"`
	TotalOutputTokens int        `json:"total_output_tokens"`
	ReasoningCalls    int        `json:"reasoning_calls"`
	LineItems         []LineItem `json:"line_items,omitempty"`
}

// Ledger tracks one investigation's spend against a USD ceiling.
// A ceiling of zero means unlimited.
type Ledger struct {
	mu           sync.Mutex
	ceilingUSD   float64
	totalUSD     float64
	llmUSD       float64
	computeUSD   float64
	inputTokens  int
	outputTokens int
	calls        int
	items        []LineItem
	exceeded     bool
	logger       *zap.Logger
}

// NewLedger creates a ledger with the given ceiling.
func NewLedger(ceilingUSD float64, logger *zap.Logger) *Ledger {
	return &Ledger{ceilingUSD: ceilingUSD, logger: logger.Named("budget")}
}

// AddUsage prices one reasoning call and records it.
func (l *Ledger) AddUsage(u schemas.Usage) {
	rates := rateFor(u.Model)
	inputCost := float64(u.InputTokens) / 1000 * rates.input
	outputCost := float64(u.OutputTokens) / 1000 * rates.output

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if u.InputTokens > 0 {
		l.items = append(l.items, LineItem{
			Category: "llm", Label: u.Model + " input tokens",
			Quantity: float64(u.InputTokens), Unit: "tokens",
			UnitUSD: rates.input / 1000, TotalUSD: inputCost, Timestamp: now,
		})
	}
	if u.OutputTokens > 0 {
		l.items = append(l.items, LineItem{
			Category: "llm", Label: u.Model + " output tokens",
			Quantity: float64(u.OutputTokens), Unit: "tokens",
			UnitUSD: rates.output / 1000, TotalUSD: outputCost, Timestamp: now,
		})
	}

	l.inputTokens += u.InputTokens
	l.outputTokens += u.OutputTokens
	l.calls++
	l.llmUSD += inputCost + outputCost
	l.totalUSD += inputCost + outputCost
	l.checkCeilingLocked()
}

// AddCompute records browser/compute time at a flat per-second rate.
const computeCostPerSecond = 0.0000265 // 1 vCPU + 1 GiB, Cloud Run pricing

func (l *Ledger) AddCompute(d time.Duration) {
	seconds := d.Seconds()
	cost := seconds * computeCostPerSecond

	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, LineItem{
		Category: "compute", Label: "browser session",
		Quantity: seconds, Unit: "seconds",
		UnitUSD: computeCostPerSecond, TotalUSD: cost, Timestamp: time.Now().UTC(),
	})
	l.computeUSD += cost
	l.totalUSD += cost
	l.checkCeilingLocked()
}

func (l *Ledger) checkCeilingLocked() {
	if l.exceeded || l.ceilingUSD <= 0 {
		return
	}
	if l.totalUSD >= l.ceilingUSD {
		l.exceeded = true
		l.logger.Warn("Cost ceiling exceeded",
			zap.Float64("total_usd", l.totalUSD),
			zap.Float64("ceiling_usd", l.ceilingUSD),
			zap.Int("reasoning_calls", l.calls))
	}
}

// Exceeded reports whether the ceiling has been hit. Once true it stays
// true for the life of the ledger.
func (l *Ledger) Exceeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exceeded
}

// TotalUSD returns the current spend.
func (l *Ledger) TotalUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalUSD
}

// RemainingUSD returns headroom below the ceiling, or 0 when unlimited.
func (l *Ledger) RemainingUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ceilingUSD <= 0 {
		return 0
	}
	if rem := l.ceilingUSD - l.totalUSD; rem > 0 {
		return rem
	}
	return 0
}

// Calls returns the number of priced reasoning calls.
func (l *Ledger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Summarize returns an aggregate snapshot, with line items when detailed.
func (l *Ledger) Summarize(detailed bool) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{
		TotalUSD:          l.totalUSD,
		LLMUSD:            l.llmUSD,
		ComputeUSD:        l.computeUSD,
		BudgetUSD:         l.ceilingUSD,
		Exceeded:          l.exceeded,
		TotalInputTokens:  l.inputTokens,
		TotalOutputTokens: l.outputTokens,
		ReasoningCalls:    l.calls,
	}
	if l.ceilingUSD > 0 {
		if rem := l.ceilingUSD - l.totalUSD; rem > 0 {
			s.RemainingUSD = rem
		}
	}
	if detailed {
		s.LineItems = make([]LineItem, len(l.items))
		copy(s.LineItems, l.items)
	}
	return s
}

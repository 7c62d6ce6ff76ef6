package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GuidanceAction names what a human operator asked the session to do.
type GuidanceAction string

const (
	GuidanceClick    GuidanceAction = "click"
	GuidanceType     GuidanceAction = "type"
	GuidanceGoto     GuidanceAction = "goto"
	GuidanceSkip     GuidanceAction = "skip"
	GuidanceContinue GuidanceAction = "continue"
)

// GuidanceCommand is an operator instruction submitted through the monitor
// API or the CLI.
type GuidanceCommand struct {
	Action GuidanceAction `json:"action"`
	Value  string         `json:"value,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// Validate rejects unknown actions and commands missing a required value.
func (g GuidanceCommand) Validate() error {
	switch g.Action {
	case GuidanceClick, GuidanceType, GuidanceGoto:
		if g.Value == "" {
			return fmt.Errorf("guidance action %q requires a value", g.Action)
		}
	case GuidanceSkip, GuidanceContinue:
	default:
		return fmt.Errorf("unknown guidance action %q", g.Action)
	}
	return nil
}

// GuidanceRequest is the context shown to the operator when a session is
// stuck and waiting.
type GuidanceRequest struct {
	SiteURL      string `json:"site_url"`
	State        string `json:"state"`
	ActionsTaken int    `json:"actions_taken"`
	Threshold    int    `json:"threshold"`
	CurrentURL   string `json:"current_url,omitempty"`
	PageSnippet  string `json:"page_snippet,omitempty"`
}

// Snapshot is the latest observed state, served to late-joining monitor
// clients.
type Snapshot struct {
	InvestigationID string           `json:"investigation_id"`
	URL             string           `json:"url"`
	State           string           `json:"state"`
	UptimeSec       float64          `json:"uptime_sec"`
	AwaitingHuman   bool             `json:"awaiting_guidance"`
	Pending         *GuidanceRequest `json:"pending_guidance,omitempty"`
}

// Bus fans events out to registered sinks and carries guidance back to the
// session. One bus serves one investigation.
type Bus struct {
	mu        sync.Mutex
	id        string
	sinks     []Sink
	guidance  chan GuidanceCommand
	interject chan GuidanceCommand
	pending   *GuidanceRequest
	state     string
	url       string
	startedAt time.Time
	logger    *zap.Logger
}

// NewBus creates a bus for one investigation.
func NewBus(investigationID string, logger *zap.Logger) *Bus {
	return &Bus{
		id:        investigationID,
		guidance:  make(chan GuidanceCommand, 4),
		interject: make(chan GuidanceCommand, 16),
		startedAt: time.Now(),
		logger:    logger.Named("bus"),
	}
}

// ID returns the investigation ID this bus was created for.
func (b *Bus) ID() string { return b.id }

// AddSink registers an event consumer.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// SinkCount reports the number of registered sinks.
func (b *Bus) SinkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sinks)
}

// Emit delivers an event to every sink. Sink failures are logged and
// swallowed so one broken consumer cannot stall the session.
func (b *Bus) Emit(t EventType, data map[string]any) {
	ev := Event{Type: t, Timestamp: time.Now().UTC(), InvestigationID: b.id, Data: data}

	b.mu.Lock()
	switch t {
	case EventSiteStarted:
		if u, ok := data["url"].(string); ok {
			b.url = u
		}
		b.state = "LOAD_SITE"
		b.startedAt = time.Now()
	case EventStateChanged:
		if s, ok := data["new_state"].(string); ok {
			b.state = s
		}
	}
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	for _, s := range sinks {
		if err := s.HandleEvent(ev); err != nil {
			b.logger.Warn("Event sink failed", zap.String("type", string(t)), zap.Error(err))
		}
	}
}

// RequestGuidance emits guidance_needed and blocks until an operator
// responds or the context ends. Stale responses from a previous request
// are drained first.
func (b *Bus) RequestGuidance(ctx context.Context, req GuidanceRequest) (GuidanceCommand, error) {
	draining := true
	for draining {
		select {
		case <-b.guidance:
		default:
			draining = false
		}
	}

	b.mu.Lock()
	b.pending = &req
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.pending = nil
		b.mu.Unlock()
	}()

	b.Emit(EventGuidanceNeeded, map[string]any{
		"site_url":      req.SiteURL,
		"state":         req.State,
		"actions_taken": req.ActionsTaken,
		"threshold":     req.Threshold,
		"current_url":   req.CurrentURL,
		"page_snippet":  truncate(req.PageSnippet, 500),
	})
	b.logger.Info("Awaiting guidance",
		zap.String("site_url", req.SiteURL), zap.String("state", req.State))

	select {
	case cmd := <-b.guidance:
		b.Emit(EventGuidanceReceived, map[string]any{
			"action": string(cmd.Action), "value": cmd.Value, "reason": cmd.Reason,
		})
		return cmd, nil
	case <-ctx.Done():
		return GuidanceCommand{}, ctx.Err()
	}
}

// ProvideGuidance submits an operator response. It fails when no session
// is waiting and the queue is full.
func (b *Bus) ProvideGuidance(cmd GuidanceCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	select {
	case b.guidance <- cmd:
		return nil
	default:
		return fmt.Errorf("guidance queue full")
	}
}

// AwaitingGuidance reports whether a session is currently blocked on a
// human, with the pending request when one exists.
func (b *Bus) AwaitingGuidance() (*GuidanceRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return nil, false
	}
	cp := *b.pending
	return &cp, true
}

// Interject queues a command applied between steps without the session
// having asked for one.
func (b *Bus) Interject(cmd GuidanceCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	select {
	case b.interject <- cmd:
		return nil
	default:
		return fmt.Errorf("interject queue full")
	}
}

// CheckInterject drains the interject queue and returns the most recent
// command, or false when none is pending.
func (b *Bus) CheckInterject() (GuidanceCommand, bool) {
	var (
		last  GuidanceCommand
		found bool
	)
	for {
		select {
		case cmd := <-b.interject:
			last, found = cmd, true
		default:
			return last, found
		}
	}
}

// GetSnapshot returns the latest state for monitor clients.
func (b *Bus) GetSnapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		InvestigationID: b.id,
		URL:             b.url,
		State:           b.state,
		UptimeSec:       time.Since(b.startedAt).Seconds(),
		AwaitingHuman:   b.pending != nil,
	}
	if b.pending != nil {
		cp := *b.pending
		s.Pending = &cp
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

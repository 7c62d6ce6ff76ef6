// Package monitor decouples the session state machine from its consumers.
// A bus fans typed events out to pluggable sinks and carries human guidance
// back in through a blocking request/response channel.
package monitor

import (
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventType names an event emitted during an investigation.
type EventType string

const (
	EventSiteStarted       EventType = "site_started"
	EventSiteCompleted     EventType = "site_completed"
	EventStateChanged      EventType = "state_changed"
	EventActionExecuted    EventType = "action_executed"
	EventScreenshotUpdate  EventType = "screenshot_update"
	EventWalletFound       EventType = "wallet_found"
	EventPlaybookMatched   EventType = "playbook_matched"
	EventPlaybookCompleted EventType = "playbook_completed"
	EventGuidanceNeeded    EventType = "guidance_needed"
	EventGuidanceReceived  EventType = "guidance_received"
	EventBudgetExceeded    EventType = "budget_exceeded"
	EventError             EventType = "error"
	EventLog               EventType = "log"
)

// Event is one structured entry on the bus.
type Event struct {
	Type            EventType      `json:"event_type"`
	Timestamp       time.Time      `json:"timestamp"`
	InvestigationID string         `json:"investigation_id,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
}

// Sink consumes events. Implementations must be safe for concurrent use;
// a sink error is logged by the bus and never propagates to the emitter.
type Sink interface {
	HandleEvent(ev Event) error
}

// LoggingSink writes events to a zap logger at debug level.
type LoggingSink struct {
	logger *zap.Logger
}

func NewLoggingSink(logger *zap.Logger) *LoggingSink {
	return &LoggingSink{logger: logger.Named("events")}
}

func (s *LoggingSink) HandleEvent(ev Event) error {
	s.logger.Debug("Event",
		zap.String("type", string(ev.Type)),
		zap.String("investigation_id", ev.InvestigationID),
		zap.Any("data", ev.Data))
	return nil
}

// MemorySink collects events in order. Used by the monitor API snapshot
// endpoint and by tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) HandleEvent(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything collected so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemorySink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *MemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
}

// JSONLSink writes one JSON line per event to a stream.
type JSONLSink struct {
	w io.Writer
}

func NewJSONLSink(w io.Writer) *JSONLSink { return &JSONLSink{w: w} }

func (s *JSONLSink) HandleEvent(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return err
	}
	if f, ok := s.w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	return nil
}

package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server exposes the monitoring and guidance boundary over HTTP. Buses are
// registered per investigation and looked up by ID; everything else is
// read-only except guidance and interject submission.
type Server struct {
	mu     sync.RWMutex
	buses  map[string]*Bus
	events *MemorySink
	logger *zap.Logger
}

// NewServer creates an empty monitor server. The shared memory sink is
// attached to every registered bus so /events serves a merged timeline.
func NewServer(logger *zap.Logger) *Server {
	return &Server{
		buses:  make(map[string]*Bus),
		events: NewMemorySink(),
		logger: logger.Named("monitor"),
	}
}

// Register attaches a bus under its investigation ID.
func (s *Server) Register(id string, bus *Bus) {
	bus.AddSink(s.events)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buses[id] = bus
}

// Unregister removes a finished investigation. Collected events remain
// queryable.
func (s *Server) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buses, id)
}

func (s *Server) bus(id string) (*Bus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buses[id]
	return b, ok
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/investigations", s.listInvestigations)
	r.Get("/investigations/{id}", s.getSnapshot)
	r.Get("/events", s.listEvents)
	r.Post("/investigations/{id}/guidance", s.submitGuidance)
	r.Post("/investigations/{id}/interject", s.submitInterject)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listInvestigations(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snapshots := make([]Snapshot, 0, len(s.buses))
	for _, b := range s.buses {
		snapshots = append(snapshots, b.GetSnapshot())
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"investigations": snapshots})
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bus(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "unknown investigation", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b.GetSnapshot())
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": s.events.Events()})
}

func (s *Server) submitGuidance(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bus(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "unknown investigation", http.StatusNotFound)
		return
	}
	var cmd GuidanceCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, waiting := b.AwaitingGuidance(); !waiting {
		http.Error(w, "investigation is not awaiting guidance", http.StatusConflict)
		return
	}
	if err := b.ProvideGuidance(cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("Guidance submitted",
		zap.String("investigation_id", chi.URLParam(r, "id")),
		zap.String("action", string(cmd.Action)))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) submitInterject(w http.ResponseWriter, r *http.Request) {
	b, ok := s.bus(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "unknown investigation", http.StatusNotFound)
		return
	}
	var cmd GuidanceCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := b.Interject(cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// Start serves until the context ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("Monitor API listening", zap.String("addr", addr))
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

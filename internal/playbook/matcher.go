package playbook

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vexlabs-io/lurehound/internal/observability"
)

// Matcher holds a registry of playbooks and resolves target URLs to the
// first enabled playbook whose pattern matches. Registration order is
// match order.
type Matcher struct {
	mu        sync.RWMutex
	playbooks []*Playbook
	logger    *zap.Logger
}

// NewMatcher creates an empty Matcher.
func NewMatcher() *Matcher {
	return &Matcher{logger: observability.GetLogger().Named("playbook")}
}

// Register adds a validated playbook to the registry. Playbooks that fail
// validation are rejected with the error returned.
func (m *Matcher) Register(pb *Playbook) error {
	if err := pb.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.playbooks = append(m.playbooks, pb)
	m.mu.Unlock()
	return nil
}

// RegisterMany registers all given playbooks, skipping invalid ones, and
// returns how many were accepted.
func (m *Matcher) RegisterMany(pbs []*Playbook) int {
	n := 0
	for _, pb := range pbs {
		if err := m.Register(pb); err != nil {
			m.logger.Warn("Rejected playbook", zap.String("playbook_id", pb.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// Match returns the first enabled playbook matching the URL, or nil.
func (m *Matcher) Match(siteURL string) *Playbook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pb := range m.playbooks {
		if !pb.Enabled {
			continue
		}
		if pb.MatchesURL(siteURL) {
			m.logger.Info("Playbook matched",
				zap.String("url", siteURL),
				zap.String("playbook_id", pb.ID))
			return pb
		}
	}
	return nil
}

// Get returns the playbook with the given ID, or nil.
func (m *Matcher) Get(id string) *Playbook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pb := range m.playbooks {
		if pb.ID == id {
			return pb
		}
	}
	return nil
}

// Remove deletes a playbook by ID and reports whether it was present.
func (m *Matcher) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, pb := range m.playbooks {
		if pb.ID == id {
			m.playbooks = append(m.playbooks[:i], m.playbooks[i+1:]...)
			return true
		}
	}
	return false
}

// Count returns the number of registered playbooks.
func (m *Matcher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.playbooks)
}

// All returns a copy of the registry.
func (m *Matcher) All() []*Playbook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Playbook, len(m.playbooks))
	copy(out, m.playbooks)
	return out
}

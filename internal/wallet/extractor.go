// File: internal/wallet/extractor.go
//
// The wallet extraction engine scans arbitrary text blocks (page text,
// decoded QR payloads, reasoner transcripts) for cryptocurrency address
// shapes. It is a pure function of its input: text in, classified addresses
// out. The allowlist is an injected lookup table, never read mid-scan.
package wallet

import (
	"sort"
	"time"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

// Base confidences per extraction method. QR-sourced matches are boosted
// because a QR code implies deliberate display; reasoner corroboration
// boosts further but never reaches certainty.
const (
	confRegex    = 0.50
	confQRBoost  = 0.25
	confLLMBoost = 0.30
	confCeiling  = 0.98
)

// Extractor classifies wallet addresses in text against a pattern registry.
type Extractor struct {
	patterns []Pattern
}

// NewExtractor builds an extractor over the given patterns, falling back to
// the built-in registry when none are supplied.
func NewExtractor(patterns ...Pattern) *Extractor {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return &Extractor{patterns: patterns}
}

// Scan finds all wallet addresses in text. The source label is recorded on
// each hit; method determines the base confidence. Within a single scan an
// address string is classified once, by the first pattern that matches it.
func (e *Extractor) Scan(text, source string, method schemas.ExtractionMethod) []schemas.WalletAddress {
	if text == "" {
		return nil
	}
	now := time.Now().UTC()
	claimed := make(map[string]struct{})
	var out []schemas.WalletAddress
	for _, p := range e.patterns {
		for _, addr := range p.FindAll(text) {
			if _, ok := claimed[addr]; ok {
				continue
			}
			claimed[addr] = struct{}{}
			out = append(out, schemas.WalletAddress{
				Symbol:       p.Symbol,
				Network:      p.Network,
				Address:      addr,
				Source:       source,
				Method:       method,
				Confidence:   confidenceFor(method),
				DiscoveredAt: now,
			})
		}
	}
	return out
}

// Classify validates a single candidate address and returns its first
// matching pattern, if any. Used to verify reasoner-provided wallet entries.
func (e *Extractor) Classify(candidate string) (Pattern, bool) {
	for _, p := range e.patterns {
		if p.Match(candidate) {
			return p, true
		}
	}
	return Pattern{}, false
}

func confidenceFor(method schemas.ExtractionMethod) float64 {
	switch method {
	case schemas.MethodQR:
		return capConf(confRegex + confQRBoost)
	case schemas.MethodLLMVerified:
		return capConf(confRegex + confLLMBoost)
	default:
		return confRegex
	}
}

func capConf(v float64) float64 {
	if v > confCeiling {
		return confCeiling
	}
	return v
}

// Harvest accumulates wallet addresses for one session, deduplicating by
// (network, address). On a duplicate the higher-confidence record wins; on a
// confidence tie the later corroboration wins.
type Harvest struct {
	byKey map[string]schemas.WalletAddress
}

// NewHarvest returns an empty harvest.
func NewHarvest() *Harvest {
	return &Harvest{byKey: make(map[string]schemas.WalletAddress)}
}

// Add merges one address into the harvest. It reports whether the record was
// kept (new, or replacing a lower-confidence duplicate).
func (h *Harvest) Add(w schemas.WalletAddress) bool {
	key := w.Key()
	existing, ok := h.byKey[key]
	if !ok || w.Confidence >= existing.Confidence {
		h.byKey[key] = w
		return true
	}
	return false
}

// AddAll merges a batch and returns how many records were kept.
func (h *Harvest) AddAll(ws []schemas.WalletAddress) int {
	kept := 0
	for _, w := range ws {
		if h.Add(w) {
			kept++
		}
	}
	return kept
}

// Corroborate upgrades an already-harvested address with reasoner
// verification, boosting its confidence and stamping the method.
func (h *Harvest) Corroborate(network, address string) bool {
	key := network + ":" + address
	w, ok := h.byKey[key]
	if !ok {
		return false
	}
	w.Method = schemas.MethodLLMVerified
	w.Confidence = capConf(w.Confidence + confLLMBoost)
	w.DiscoveredAt = time.Now().UTC()
	h.byKey[key] = w
	return true
}

// Len reports the number of distinct (network, address) pairs.
func (h *Harvest) Len() int { return len(h.byKey) }

// List returns the deduplicated records in a stable order (network, then
// address) so repeated extractions over the same corpus compare equal.
func (h *Harvest) List() []schemas.WalletAddress {
	out := make([]schemas.WalletAddress, 0, len(h.byKey))
	for _, w := range h.byKey {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// File: api/schemas/wallet.go
package schemas

import "time"

// ExtractionMethod records how a wallet address was discovered.
type ExtractionMethod string

const (
	MethodRegex       ExtractionMethod = "regex"
	MethodQR          ExtractionMethod = "qr"
	MethodLLMVerified ExtractionMethod = "llm_verified"
)

// WalletAddress is a classified cryptocurrency address harvested during a
// session. Uniqueness within a session is by (Network, Address); when the
// same pair is seen twice the higher-confidence record wins.
type WalletAddress struct {
	Symbol       string           `json:"symbol"`  // Token symbol, e.g. "BTC".
	Network      string           `json:"network"` // Short network code, e.g. "btc", "trx".
	Address      string           `json:"address"` // Raw address string.
	Source       string           `json:"source"`  // Where it was seen: "page_text", "qr", "llm".
	Method       ExtractionMethod `json:"method"`
	Confidence   float64          `json:"confidence"` // 0-1.
	DiscoveredAt time.Time        `json:"discovered_at"`
}

// Key returns the dedup key for this address.
func (w WalletAddress) Key() string { return w.Network + ":" + w.Address }

// File: internal/wallet/allowlist.go
package wallet

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

// TokenNetwork is one approved (token, network) pair in the allowlist.
type TokenNetwork struct {
	TokenName    string `json:"token_name"`
	TokenSymbol  string `json:"token_symbol"`
	Network      string `json:"network"`
	NetworkShort string `json:"network_short"`
}

// DefaultTokenNetworks is the compiled-in 26-pair allowlist: 12 native
// tokens plus the USDT and USDC multi-chain variants.
var DefaultTokenNetworks = []TokenNetwork{
	// Native tokens.
	{TokenName: "BNB", TokenSymbol: "BNB", Network: "BNB Smart Chain BEP-20", NetworkShort: "bsc"},
	{TokenName: "Bitcoin", TokenSymbol: "BTC", Network: "Bitcoin", NetworkShort: "btc"},
	{TokenName: "Bitcoin Cash", TokenSymbol: "BCH", Network: "Bitcoin Cash", NetworkShort: "bch"},
	{TokenName: "Cardano", TokenSymbol: "ADA", Network: "Cardano", NetworkShort: "ada"},
	{TokenName: "Dash", TokenSymbol: "DASH", Network: "Dash", NetworkShort: "dash"},
	{TokenName: "Dogecoin", TokenSymbol: "DOGE", Network: "Dogecoin", NetworkShort: "doge"},
	{TokenName: "Ethereum", TokenSymbol: "ETH", Network: "Ethereum", NetworkShort: "eth"},
	{TokenName: "Litecoin", TokenSymbol: "LTC", Network: "Litecoin", NetworkShort: "ltc"},
	{TokenName: "Polygon", TokenSymbol: "MATIC", Network: "Polygon PoS", NetworkShort: "matic"},
	{TokenName: "Ripple", TokenSymbol: "XRP", Network: "XRP Ledger", NetworkShort: "xrp"},
	{TokenName: "Solana", TokenSymbol: "SOL", Network: "Solana", NetworkShort: "sol"},
	{TokenName: "Tron", TokenSymbol: "TRX", Network: "Tron", NetworkShort: "trx"},
	// USDT variants.
	{TokenName: "Tether", TokenSymbol: "USDT", Network: "Arbitrum One", NetworkShort: "arb"},
	{TokenName: "Tether", TokenSymbol: "USDT", Network: "Avalanche C-Chain", NetworkShort: "avax"},
	{TokenName: "Tether", TokenSymbol: "USDT", Network: "BNB Smart Chain BEP-20", NetworkShort: "bsc"},
	{TokenName: "Tether", TokenSymbol: "USDT", Network: "Ethereum ERC-20", NetworkShort: "eth"},
	{TokenName: "Tether", TokenSymbol: "USDT", Network: "Optimism", NetworkShort: "op"},
	{TokenName: "Tether", TokenSymbol: "USDT", Network: "Polygon PoS", NetworkShort: "matic"},
	{TokenName: "Tether", TokenSymbol: "USDT", Network: "Solana SPL", NetworkShort: "sol"},
	{TokenName: "Tether", TokenSymbol: "USDT", Network: "Tron TRC-20", NetworkShort: "trx"},
	// USDC variants.
	{TokenName: "USD Coin", TokenSymbol: "USDC", Network: "Arbitrum One", NetworkShort: "arb"},
	{TokenName: "USD Coin", TokenSymbol: "USDC", Network: "Avalanche C-Chain", NetworkShort: "avax"},
	{TokenName: "USD Coin", TokenSymbol: "USDC", Network: "Ethereum ERC-20", NetworkShort: "eth"},
	{TokenName: "USD Coin", TokenSymbol: "USDC", Network: "Optimism", NetworkShort: "op"},
	{TokenName: "USD Coin", TokenSymbol: "USDC", Network: "Polygon PoS", NetworkShort: "matic"},
	{TokenName: "USD Coin", TokenSymbol: "USDC", Network: "Solana SPL", NetworkShort: "sol"},
}

// Allowlist filters harvested wallet records against a set of approved
// (token_symbol, network_short) pairs. The agent collects everything it
// finds; the allowlist applies downstream. Matching stays pure: the table is
// injected at construction and never re-read from disk.
type Allowlist struct {
	pairs    map[[2]string]struct{}
	bySymbol map[string][]TokenNetwork
}

// NewAllowlist builds an allowlist over the given pairs, falling back to the
// compiled-in default table when none are supplied.
func NewAllowlist(networks []TokenNetwork) *Allowlist {
	if len(networks) == 0 {
		networks = DefaultTokenNetworks
	}
	a := &Allowlist{
		pairs:    make(map[[2]string]struct{}, len(networks)),
		bySymbol: make(map[string][]TokenNetwork),
	}
	for _, tn := range networks {
		sym := strings.ToUpper(strings.TrimSpace(tn.TokenSymbol))
		net := strings.ToLower(strings.TrimSpace(tn.NetworkShort))
		a.pairs[[2]string{sym, net}] = struct{}{}
		a.bySymbol[sym] = append(a.bySymbol[sym], tn)
	}
	return a
}

// LoadAllowlist reads a JSON allowlist file of the form
// {"token_networks": [{...}]}. A missing path returns the default table; a
// malformed file is an error rather than a silent fallback.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return NewAllowlist(nil), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewAllowlist(nil), nil
		}
		return nil, fmt.Errorf("reading allowlist: %w", err)
	}
	var doc struct {
		TokenNetworks []TokenNetwork `json:"token_networks"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing allowlist %s: %w", path, err)
	}
	return NewAllowlist(doc.TokenNetworks), nil
}

// Count reports the number of approved pairs.
func (a *Allowlist) Count() int { return len(a.pairs) }

// IsAllowed checks a single (symbol, network) pair.
func (a *Allowlist) IsAllowed(symbol, network string) bool {
	_, ok := a.pairs[[2]string{strings.ToUpper(symbol), strings.ToLower(network)}]
	return ok
}

// NetworksFor returns all approved networks for a token symbol.
func (a *Allowlist) NetworksFor(symbol string) []TokenNetwork {
	return a.bySymbol[strings.ToUpper(symbol)]
}

// Symbols returns the sorted set of approved token symbols.
func (a *Allowlist) Symbols() []string {
	out := make([]string, 0, len(a.bySymbol))
	for s := range a.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Filter splits records into accepted and discarded. Records with an empty
// symbol or network are always discarded; they need enrichment first.
func (a *Allowlist) Filter(records []schemas.WalletAddress) (accepted, discarded []schemas.WalletAddress) {
	for _, w := range records {
		if w.Symbol == "" || w.Network == "" || !a.IsAllowed(w.Symbol, w.Network) {
			discarded = append(discarded, w)
			continue
		}
		accepted = append(accepted, w)
	}
	return accepted, discarded
}

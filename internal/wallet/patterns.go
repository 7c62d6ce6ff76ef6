// File: internal/wallet/patterns.go
package wallet

import "regexp"

// Pattern maps a regex to a blockchain, enabling address classification.
// Patterns are matched in registry order; for an address string that
// satisfies several shapes (base58 is ambiguous) the first match wins, so
// the more specific patterns come first.
type Pattern struct {
	Name    string
	Symbol  string
	Network string // short network code used as the dedup key
	Regex   *regexp.Regexp
	MinLen  int
	MaxLen  int
	Example string
}

// FindAll returns all distinct substrings of text matching this pattern
// within the sane length bounds.
func (p Pattern) FindAll(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range p.Regex.FindAllString(text, -1) {
		if len(m) < p.MinLen || len(m) > p.MaxLen {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Match reports whether the whole candidate string matches this pattern.
func (p Pattern) Match(candidate string) bool {
	if len(candidate) < p.MinLen || len(candidate) > p.MaxLen {
		return false
	}
	loc := p.Regex.FindStringIndex(candidate)
	return loc != nil && loc[0] == 0 && loc[1] == len(candidate)
}

// DefaultPatterns is the built-in per-network address-shape registry.
// Ordering matters: generic base58 (SOL) must come after the prefixed
// base58 shapes it would otherwise swallow.
var DefaultPatterns = []Pattern{
	{
		Name:    "Ethereum / ERC-20",
		Symbol:  "ETH",
		Network: "eth",
		Regex:   regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`),
		MinLen:  42, MaxLen: 42,
		Example: "0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe",
	},
	{
		Name:    "Tron / TRC-20",
		Symbol:  "TRX",
		Network: "trx",
		Regex:   regexp.MustCompile(`\bT[A-HJ-NP-Za-km-z1-9]{33}\b`),
		MinLen:  34, MaxLen: 34,
		Example: "TJYqaPn323M2C7x7E5E3ypEGVgKYxxrWW1",
	},
	{
		Name:    "Bitcoin (bech32)",
		Symbol:  "BTC",
		Network: "btc",
		Regex:   regexp.MustCompile(`\bbc1[a-z0-9]{39,59}\b`),
		MinLen:  42, MaxLen: 62,
		Example: "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq",
	},
	{
		Name:    "Bitcoin (legacy)",
		Symbol:  "BTC",
		Network: "btc",
		Regex:   regexp.MustCompile(`\b[13][a-km-zA-HJ-NP-Z1-9]{25,34}\b`),
		MinLen:  26, MaxLen: 35,
		Example: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
	},
	{
		Name:    "XRP Ledger",
		Symbol:  "XRP",
		Network: "xrp",
		Regex:   regexp.MustCompile(`\br[0-9a-zA-Z]{24,34}\b`),
		MinLen:  25, MaxLen: 35,
		Example: "rN7n3473SaZBCG4dFL83w7p1W9cgZw6ihn",
	},
	{
		Name:    "Cardano",
		Symbol:  "ADA",
		Network: "ada",
		Regex:   regexp.MustCompile(`\baddr1[a-z0-9]{50,120}\b`),
		MinLen:  55, MaxLen: 130,
		Example: "addr1qxy2k5c2n5qfr9z7a3ggvpfqfkpt78eczgmd26qjqkmpv6lr2g7v5sc3wg0nfgfsdvlaq5g82dkyn5wsydmhqgemhd6kxegraeel",
	},
	{
		Name:    "Litecoin (legacy)",
		Symbol:  "LTC",
		Network: "ltc",
		Regex:   regexp.MustCompile(`\bL[a-km-zA-HJ-NP-Z1-9]{26,33}\b`),
		MinLen:  27, MaxLen: 34,
		Example: "LaMT348PWRnrqeeWArpwQPbuanpXDZGEUz",
	},
	{
		Name:    "Litecoin (bech32)",
		Symbol:  "LTC",
		Network: "ltc",
		Regex:   regexp.MustCompile(`\bltc1[a-z0-9]{39,59}\b`),
		MinLen:  43, MaxLen: 63,
		Example: "ltc1qg42tkwuuxefutzentevevhfhv0tyersh5z46vu",
	},
	{
		Name:    "Dogecoin",
		Symbol:  "DOGE",
		Network: "doge",
		Regex:   regexp.MustCompile(`\bD[5-9A-HJ-NP-U][1-9A-HJ-NP-Za-km-z]{32}\b`),
		MinLen:  34, MaxLen: 34,
		Example: "DH5yaieqoZN36fDVciNyRueRGvGLR3mr7L",
	},
	{
		Name:    "Bitcoin Cash (cashaddr)",
		Symbol:  "BCH",
		Network: "bch",
		Regex:   regexp.MustCompile(`\bbitcoincash:[qp][a-z0-9]{41}\b`),
		MinLen:  54, MaxLen: 54,
		Example: "bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a",
	},
	{
		Name:    "Dash",
		Symbol:  "DASH",
		Network: "dash",
		Regex:   regexp.MustCompile(`\bX[1-9A-HJ-NP-Za-km-z]{33}\b`),
		MinLen:  34, MaxLen: 34,
		Example: "XyzSoLEFQxWUf3Nd83s2GFzTpPNdBi7LGG",
	},
	{
		Name:    "Solana / Generic Base58",
		Symbol:  "SOL",
		Network: "sol",
		Regex:   regexp.MustCompile(`\b[A-HJ-NP-Za-km-z1-9]{32,44}\b`),
		MinLen:  32, MaxLen: 44,
		Example: "7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2",
	},
}

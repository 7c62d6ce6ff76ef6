package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexlabs-io/lurehound/api/schemas"
)

func TestAllowlist_Defaults(t *testing.T) {
	al := NewAllowlist(DefaultTokenNetworks)

	assert.True(t, al.IsAllowed("BTC", "btc"))
	assert.True(t, al.IsAllowed("USDT", "trx"))
	assert.True(t, al.IsAllowed("usdt", "TRX"), "lookups are case-insensitive")
	assert.False(t, al.IsAllowed("USDT", "btc"))
	assert.False(t, al.IsAllowed("SHIB", "eth"))
}

func TestAllowlist_NetworksFor(t *testing.T) {
	al := NewAllowlist(DefaultTokenNetworks)

	nets := al.NetworksFor("USDC")
	assert.Contains(t, nets, "eth")
	assert.Contains(t, nets, "sol")
	assert.Empty(t, al.NetworksFor("NOPE"))
}

func TestAllowlist_Filter(t *testing.T) {
	al := NewAllowlist(DefaultTokenNetworks)

	in := []schemas.WalletAddress{
		{Symbol: "BTC", Network: "btc", Address: "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"},
		{Symbol: "USDT", Network: "btc", Address: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"},
	}

	accepted, discarded := al.Filter(in)
	require.Len(t, accepted, 1)
	require.Len(t, discarded, 1)
	assert.Equal(t, "BTC", accepted[0].Symbol)
	assert.Equal(t, "USDT", discarded[0].Symbol)
}

func TestLoadAllowlist_MissingFileFallsBack(t *testing.T) {
	al, err := LoadAllowlist(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.True(t, al.IsAllowed("ETH", "eth"))
}

func TestLoadAllowlist_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pairs.json")
	body := `[{"token_name":"Testcoin","token_symbol":"TST","network":"Testnet","network_short":"tst"}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	al, err := LoadAllowlist(path)
	require.NoError(t, err)
	assert.True(t, al.IsAllowed("TST", "tst"))
	assert.False(t, al.IsAllowed("BTC", "btc"), "file replaces defaults entirely")
}

func TestLoadAllowlist_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadAllowlist(path)
	assert.Error(t, err)
}

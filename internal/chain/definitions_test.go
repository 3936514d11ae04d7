package chain

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	cases := map[string]Chain{
		"SOL":   Solana,
		"sol":   Solana,
		" eth ": Ethereum,
		"Ton":   Ton,
	}
	for raw, want := range cases {
		got, ok := Parse(raw)
		if !ok || got != want {
			t.Fatalf("parse %q: got %q ok=%v", raw, got, ok)
		}
	}
	if _, ok := Parse("DOGE"); ok {
		t.Fatalf("unknown chain must not parse")
	}
}

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	content := `chains:
  SOL:
    enabled: true
    rpc_url: "https://api.mainnet-beta.solana.com"
    collection_address: "central-sol"
  TON:
    enabled: false
    rpc_url: "https://toncenter.com/api/v2/jsonRPC"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write definitions: %v", err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if len(defs.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(defs.Chains))
	}
	if !defs.Chains["SOL"].Enabled || defs.Chains["TON"].Enabled {
		t.Fatalf("enabled flags wrong: %+v", defs.Chains)
	}

	addresses := defs.CollectionAddresses()
	if len(addresses) != 1 || addresses[Solana] != "central-sol" {
		t.Fatalf("unexpected collection addresses: %v", addresses)
	}
}

func TestLoadDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadDefinitions("")
	if err != nil {
		t.Fatalf("empty path must not fail: %v", err)
	}
	if len(defs.Chains) != 0 {
		t.Fatalf("expected empty definitions")
	}
}

package ton

import (
	"crypto/ed25519"
	"strings"
	"testing"

	xerrors "chain-custody/internal/errors"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := New(Config{RPCURL: "http://127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestValidateAddress(t *testing.T) {
	adapter := newTestAdapter(t)

	valid := []string{
		"0:" + strings.Repeat("ab", 32),
		"-1:" + strings.Repeat("0f", 32),
	}
	for _, address := range valid {
		if err := adapter.ValidateAddress(address); err != nil {
			t.Fatalf("address %q rejected: %v", address, err)
		}
	}

	invalid := []string{
		"",
		"0:tooshort",
		"abc:" + strings.Repeat("zz", 32),
		"0x52908400098527886E0F7030069857D2E4169EE7",
	}
	for _, address := range invalid {
		err := adapter.ValidateAddress(address)
		if xerrors.CodeOf(err) != xerrors.CodeAddressInvalid {
			t.Fatalf("address %q: expected ADDRESS_INVALID, got %v", address, err)
		}
	}
}

func TestCreateWalletRoundTrip(t *testing.T) {
	adapter := newTestAdapter(t)

	wallet, err := adapter.CreateWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if err := adapter.ValidateAddress(wallet.Address); err != nil {
		t.Fatalf("generated address invalid: %v", err)
	}
	if !strings.HasPrefix(wallet.Address, "0:") {
		t.Fatalf("expected basechain raw address, got %q", wallet.Address)
	}

	derived, err := DeriveAddress(wallet.Secret)
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}
	if derived != wallet.Address {
		t.Fatalf("derived %q, want %q", derived, wallet.Address)
	}
}

func TestDeriveAddressRejectsBadSecret(t *testing.T) {
	for _, secret := range []string{"", "zz", "abcd"} {
		if _, err := DeriveAddress(secret); xerrors.CodeOf(err) != xerrors.CodeSigningFailure {
			t.Fatalf("secret %q: expected SIGNING_FAILURE, got %v", secret, err)
		}
	}
}

func TestSignedEnvelopeVerifies(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	recipient := "0:" + strings.Repeat("ab", 32)

	envelope, hash := buildSignedEnvelope(priv, recipient, 1_500_000_000)
	if len(hash) != 64 {
		t.Fatalf("expected 32-byte hex digest, got %d chars", len(hash))
	}

	signature := envelope[:ed25519.SignatureSize]
	payload := envelope[ed25519.SignatureSize:]
	if !ed25519.Verify(priv.Public().(ed25519.PublicKey), payload, signature) {
		t.Fatalf("envelope signature does not verify")
	}

	// Same inputs must produce the same handle.
	_, again := buildSignedEnvelope(priv, recipient, 1_500_000_000)
	if again != hash {
		t.Fatalf("envelope hash not deterministic: %s vs %s", hash, again)
	}
}

func TestToNanotonsRoundsDecimalAmounts(t *testing.T) {
	cases := map[float64]uint64{
		2.01: 2_010_000_000,
		0.29: 290_000_000,
		1.5:  1_500_000_000,
	}
	for amount, want := range cases {
		if got := toNanotons(amount); got != want {
			t.Fatalf("amount %v: got %d nanotons, want %d", amount, got, want)
		}
	}
}

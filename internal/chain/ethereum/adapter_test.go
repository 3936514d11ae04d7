package ethereum

import (
	"context"
	"strings"
	"testing"

	xerrors "chain-custody/internal/errors"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := New(context.Background(), Config{RPCURL: "http://127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	t.Cleanup(adapter.Close)
	return adapter
}

func TestValidateAddress(t *testing.T) {
	adapter := newTestAdapter(t)

	valid := []string{
		"0x52908400098527886E0F7030069857D2E4169EE7",
		"0x0000000000000000000000000000000000000000",
		"0xde709f2102306220921060314715629080e2fb77",
	}
	for _, address := range valid {
		if err := adapter.ValidateAddress(address); err != nil {
			t.Fatalf("address %q rejected: %v", address, err)
		}
	}

	invalid := []string{
		"",
		"0x123",
		"52908400098527886E0F7030069857D2E4169EE7XX",
		"11111111111111111111111111111111",
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
	if strings.HasPrefix(wallet.Secret, "0x") {
		t.Fatalf("secret stored without 0x prefix, got %q", wallet.Secret)
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
	if _, err := DeriveAddress("zz-not-hex"); xerrors.CodeOf(err) != xerrors.CodeSigningFailure {
		t.Fatalf("expected SIGNING_FAILURE, got %v", err)
	}
}

func TestTransferRejectsInvalidRecipientWithoutNetwork(t *testing.T) {
	adapter := newTestAdapter(t)

	_, err := adapter.Transfer(context.Background(), "irrelevant", "not-an-address", 1.0)
	if xerrors.CodeOf(err) != xerrors.CodeAddressInvalid {
		t.Fatalf("expected ADDRESS_INVALID before any RPC call, got %v", err)
	}
}

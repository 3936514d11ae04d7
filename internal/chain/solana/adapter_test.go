package solana

import (
	"encoding/binary"
	"testing"

	xerrors "chain-custody/internal/errors"

	"github.com/mr-tron/base58"
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
		"11111111111111111111111111111111",
		"Vote111111111111111111111111111111111111111",
	}
	for _, address := range valid {
		if err := adapter.ValidateAddress(address); err != nil {
			t.Fatalf("address %q rejected: %v", address, err)
		}
	}

	invalid := []string{
		"",
		"not-base58-0OIl",
		"abc",
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

	derived, err := DeriveAddress(wallet.Secret)
	if err != nil {
		t.Fatalf("derive address: %v", err)
	}
	if derived != wallet.Address {
		t.Fatalf("derived %q, want %q", derived, wallet.Address)
	}
}

func TestDeriveAddressRejectsBadSecret(t *testing.T) {
	if _, err := DeriveAddress("nonsense"); xerrors.CodeOf(err) != xerrors.CodeSigningFailure {
		t.Fatalf("expected SIGNING_FAILURE, got %v", err)
	}
}

func TestBuildTransferMessage(t *testing.T) {
	from := make([]byte, 32)
	to := make([]byte, 32)
	blockhash := make([]byte, 32)
	for i := range from {
		from[i] = 0x01
		to[i] = 0x02
		blockhash[i] = 0x03
	}

	msg := buildTransferMessage(from, to, blockhash, 500_000_000)

	if msg[0] != 1 || msg[1] != 0 || msg[2] != 1 {
		t.Fatalf("unexpected header: %v", msg[:3])
	}
	if msg[3] != 3 {
		t.Fatalf("expected 3 account keys, got %d", msg[3])
	}
	keys := msg[4 : 4+96]
	if keys[0] != 0x01 || keys[32] != 0x02 || keys[64] != 0x00 {
		t.Fatalf("account keys out of order")
	}
	if msg[100] != 0x03 {
		t.Fatalf("blockhash misplaced")
	}

	// Instruction data: u32 transfer index then u64 lamports.
	data := msg[len(msg)-12:]
	if binary.LittleEndian.Uint32(data[0:4]) != 2 {
		t.Fatalf("wrong instruction index: %d", binary.LittleEndian.Uint32(data[0:4]))
	}
	if binary.LittleEndian.Uint64(data[4:12]) != 500_000_000 {
		t.Fatalf("wrong lamports: %d", binary.LittleEndian.Uint64(data[4:12]))
	}
}

func TestSerializeTransaction(t *testing.T) {
	signature := make([]byte, 64)
	message := []byte{0xAA, 0xBB}

	raw := serializeTransaction(signature, message)
	if raw[0] != 1 {
		t.Fatalf("expected one signature, got %d", raw[0])
	}
	if len(raw) != 1+64+2 {
		t.Fatalf("unexpected length: %d", len(raw))
	}
}

func TestAppendCompactU16(t *testing.T) {
	cases := map[uint16][]byte{
		0:     {0x00},
		1:     {0x01},
		127:   {0x7f},
		128:   {0x80, 0x01},
		255:   {0xff, 0x01},
		16384: {0x80, 0x80, 0x01},
	}
	for v, want := range cases {
		got := appendCompactU16(nil, v)
		if len(got) != len(want) {
			t.Fatalf("value %d: got %v, want %v", v, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("value %d: got %v, want %v", v, got, want)
			}
		}
	}
}

func TestSecretEncodingMatchesKeypair(t *testing.T) {
	adapter := newTestAdapter(t)
	wallet, err := adapter.CreateWallet()
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	raw, err := base58.Decode(wallet.Secret)
	if err != nil {
		t.Fatalf("secret is not base58: %v", err)
	}
	if len(raw) != 64 {
		t.Fatalf("expected 64-byte keypair, got %d", len(raw))
	}
}

func TestToLamportsRoundsDecimalAmounts(t *testing.T) {
	cases := map[float64]uint64{
		2.01:  2_010_000_000,
		0.1:   100_000_000,
		1.5:   1_500_000_000,
		29.03: 29_030_000_000,
	}
	for amount, want := range cases {
		if got := toLamports(amount); got != want {
			t.Fatalf("amount %v: got %d lamports, want %d", amount, got, want)
		}
	}
}

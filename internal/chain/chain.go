package chain

import (
	"context"
	"strings"
)

// Chain identifies a supported blockchain.
type Chain string

const (
	Solana   Chain = "SOL"
	Ethereum Chain = "ETH"
	Ton      Chain = "TON"
)

// All lists every chain the engine knows about, enabled or not.
func All() []Chain {
	return []Chain{Solana, Ethereum, Ton}
}

// Parse normalises a chain identifier. The boolean reports whether the
// identifier names a known chain.
func Parse(raw string) (Chain, bool) {
	switch Chain(strings.ToUpper(strings.TrimSpace(raw))) {
	case Solana:
		return Solana, true
	case Ethereum:
		return Ethereum, true
	case Ton:
		return Ton, true
	default:
		return "", false
	}
}

// Wallet holds a freshly generated custody keypair. The secret never leaves
// the ledger except through an adapter's signing path.
type Wallet struct {
	Address string
	Secret  string
}

// TxStatus is the chain-reported state of a broadcast transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// Adapter hides one blockchain's RPC and signing specifics behind a uniform
// contract. Network calls take a context and are expected to honour its
// deadline; every failure crossing this boundary is a typed error from
// internal/errors, never a raw transport error.
type Adapter interface {
	// Chain returns the identifier the adapter serves.
	Chain() Chain

	// ValidateAddress performs a purely syntactic check. It must reject
	// malformed input before any network call is made.
	ValidateAddress(address string) error

	// GetBalance returns the native-unit balance of the address. On any RPC
	// failure the returned error is non-nil and the amount must be ignored;
	// a failed lookup is "unknown", never zero.
	GetBalance(ctx context.Context, address string) (float64, error)

	// Transfer signs and broadcasts a native transfer from the custody
	// wallet identified by secret to the recipient, returning the
	// transaction hash accepted by the chain. Timeouts are reported as
	// RPC_TIMEOUT and are retryable; an explicit on-chain rejection is not.
	Transfer(ctx context.Context, secret, recipient string, amount float64) (string, error)

	// CreateWallet generates a keypair using the chain's native scheme. The
	// address is deterministically derivable from the secret.
	CreateWallet() (Wallet, error)

	// Close releases any network resources held by the adapter.
	Close()
}

// StatusChecker is an optional adapter capability used by the confirmation
// pass to resolve submitted transactions to a final state. Adapters that
// cannot report finality simply do not implement it.
type StatusChecker interface {
	TransactionStatus(ctx context.Context, hash string) (TxStatus, error)
}

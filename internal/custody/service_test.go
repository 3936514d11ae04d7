package custody

import (
	"context"
	"testing"

	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"
	"chain-custody/internal/ledger"
)

func TestCreateWalletsAllEnabledChains(t *testing.T) {
	store := ledger.NewMemoryStore()
	resolver := newFakeResolver(
		&fakeAdapter{id: chain.Solana},
		&fakeAdapter{id: chain.Ethereum},
	)
	service := NewService(store, resolver, nil)

	record, err := service.CreateWallets(context.Background(), 7, 0)
	if err != nil {
		t.Fatalf("create wallets: %v", err)
	}
	if len(record.Accounts) != 2 {
		t.Fatalf("expected one wallet per enabled chain, got %d", len(record.Accounts))
	}
	if record.ActiveChain != chain.Solana {
		t.Fatalf("expected first enabled chain active, got %s", record.ActiveChain)
	}
	if record.Accounts[chain.Solana].Address != "addr-SOL" {
		t.Fatalf("unexpected solana address: %s", record.Accounts[chain.Solana].Address)
	}

	stored, err := store.Get(context.Background(), 7)
	if err != nil {
		t.Fatalf("get stored record: %v", err)
	}
	if stored.Accounts[chain.Ethereum].Secret != "secret-ETH" {
		t.Fatalf("secret not persisted for signing path")
	}
}

func TestCreateWalletsDuplicateUser(t *testing.T) {
	store := ledger.NewMemoryStore()
	service := NewService(store, newFakeResolver(&fakeAdapter{id: chain.Solana}), nil)

	if _, err := service.CreateWallets(context.Background(), 7, 0); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := service.CreateWallets(context.Background(), 7, 0)
	if xerrors.CodeOf(err) != xerrors.CodeAlreadyExists {
		t.Fatalf("expected ALREADY_EXISTS, got %v", err)
	}
}

func TestCreateWalletsKeygenFailureCreatesNothing(t *testing.T) {
	store := ledger.NewMemoryStore()
	resolver := newFakeResolver(
		&fakeAdapter{id: chain.Solana},
		&fakeAdapter{
			id: chain.Ethereum,
			walletFn: func() (chain.Wallet, error) {
				return chain.Wallet{}, xerrors.New(xerrors.CodeSigningFailure, "entropy exhausted")
			},
		},
	)
	service := NewService(store, resolver, nil)

	_, err := service.CreateWallets(context.Background(), 7, 0)
	if xerrors.CodeOf(err) != xerrors.CodeSigningFailure {
		t.Fatalf("expected SIGNING_FAILURE, got %v", err)
	}
	if _, err := store.Get(context.Background(), 7); err == nil {
		t.Fatalf("partial record must not be persisted")
	}
}

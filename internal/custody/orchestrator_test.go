package custody

import (
	"context"
	"sync"
	"testing"
	"time"

	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"
	"chain-custody/internal/ledger"
)

type fakeAdapter struct {
	id         chain.Chain
	transferFn func(ctx context.Context, secret, recipient string, amount float64) (string, error)
	balanceFn  func(ctx context.Context, address string) (float64, error)
	walletFn   func() (chain.Wallet, error)
}

func (f *fakeAdapter) Chain() chain.Chain { return f.id }

func (f *fakeAdapter) ValidateAddress(address string) error { return nil }

func (f *fakeAdapter) Close() {}

func (f *fakeAdapter) GetBalance(ctx context.Context, address string) (float64, error) {
	if f.balanceFn != nil {
		return f.balanceFn(ctx, address)
	}
	return 0, nil
}

func (f *fakeAdapter) Transfer(ctx context.Context, secret, recipient string, amount float64) (string, error) {
	if f.transferFn != nil {
		return f.transferFn(ctx, secret, recipient, amount)
	}
	return "fake-hash", nil
}

func (f *fakeAdapter) CreateWallet() (chain.Wallet, error) {
	if f.walletFn != nil {
		return f.walletFn()
	}
	return chain.Wallet{Address: "addr-" + string(f.id), Secret: "secret-" + string(f.id)}, nil
}

type fakeResolver struct {
	adapters map[chain.Chain]chain.Adapter
	order    []chain.Chain
}

func newFakeResolver(adapters ...chain.Adapter) *fakeResolver {
	r := &fakeResolver{adapters: make(map[chain.Chain]chain.Adapter)}
	for _, a := range adapters {
		r.adapters[a.Chain()] = a
		r.order = append(r.order, a.Chain())
	}
	return r
}

func (r *fakeResolver) Adapter(id chain.Chain) (chain.Adapter, error) {
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnsupportedChain, "chain is not enabled")
	}
	return adapter, nil
}

func (r *fakeResolver) Chains() []chain.Chain { return r.order }

func seedStore(t *testing.T, balance float64) ledger.Store {
	t.Helper()
	store := ledger.NewMemoryStore()
	err := store.Create(context.Background(), &ledger.CustodyRecord{
		UserID:      42,
		ActiveChain: chain.Solana,
		Accounts: map[chain.Chain]ledger.ChainAccount{
			chain.Solana: {Address: "sol-addr", Secret: "sol-secret", CachedBalance: balance},
		},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

func collection() map[chain.Chain]string {
	return map[chain.Chain]string{chain.Solana: "central-sol"}
}

func TestWithdrawHappyPath(t *testing.T) {
	store := seedStore(t, 1.5)
	var gotSecret, gotRecipient string
	adapter := &fakeAdapter{
		id: chain.Solana,
		transferFn: func(ctx context.Context, secret, recipient string, amount float64) (string, error) {
			gotSecret, gotRecipient = secret, recipient
			return "abc123", nil
		},
	}
	o := NewOrchestrator(store, newFakeResolver(adapter), collection())

	receipt, err := o.Withdraw(context.Background(), 42, chain.Solana, 0.5)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if receipt.TxHash != "abc123" {
		t.Fatalf("unexpected hash: %s", receipt.TxHash)
	}
	if receipt.NewBalance != 1.0 {
		t.Fatalf("expected new balance 1.0, got %f", receipt.NewBalance)
	}
	if gotSecret != "sol-secret" || gotRecipient != "central-sol" {
		t.Fatalf("transfer called with secret=%q recipient=%q", gotSecret, gotRecipient)
	}

	record, _ := store.Get(context.Background(), 42)
	if record.Accounts[chain.Solana].CachedBalance != 1.0 {
		t.Fatalf("ledger balance not decremented: %f", record.Accounts[chain.Solana].CachedBalance)
	}
	txs, _ := store.Transactions(context.Background(), 42, 10)
	if len(txs) != 1 {
		t.Fatalf("expected exactly one transaction, got %d", len(txs))
	}
	if txs[0].Status != ledger.TxStatusSubmitted || txs[0].TxHash != "abc123" || txs[0].Amount != 0.5 {
		t.Fatalf("unexpected transaction row: %+v", txs[0])
	}
}

func TestWithdrawRejectsNonPositiveAmount(t *testing.T) {
	store := seedStore(t, 1.5)
	o := NewOrchestrator(store, newFakeResolver(&fakeAdapter{id: chain.Solana}), collection())

	for _, amount := range []float64{0, -0.1} {
		_, err := o.Withdraw(context.Background(), 42, chain.Solana, amount)
		if xerrors.CodeOf(err) != xerrors.CodeInvalidAmount {
			t.Fatalf("amount %f: expected INVALID_AMOUNT, got %v", amount, err)
		}
	}
	assertNoMutation(t, store, 1.5)
}

func TestWithdrawInsufficientCachedBalance(t *testing.T) {
	store := seedStore(t, 1.5)
	transferCalled := false
	adapter := &fakeAdapter{
		id: chain.Solana,
		transferFn: func(ctx context.Context, secret, recipient string, amount float64) (string, error) {
			transferCalled = true
			return "should-not-happen", nil
		},
	}
	o := NewOrchestrator(store, newFakeResolver(adapter), collection())

	_, err := o.Withdraw(context.Background(), 42, chain.Solana, 2.0)
	if xerrors.CodeOf(err) != xerrors.CodeInsufficientCachedBalance {
		t.Fatalf("expected INSUFFICIENT_CACHED_BALANCE, got %v", err)
	}
	if transferCalled {
		t.Fatalf("transfer must not run when cached balance is insufficient")
	}
	assertNoMutation(t, store, 1.5)
}

func TestWithdrawUnsupportedChain(t *testing.T) {
	store := seedStore(t, 1.5)
	o := NewOrchestrator(store, newFakeResolver(&fakeAdapter{id: chain.Solana}), collection())

	_, err := o.Withdraw(context.Background(), 42, chain.Ton, 0.5)
	if xerrors.CodeOf(err) != xerrors.CodeUnsupportedChain {
		t.Fatalf("expected UNSUPPORTED_CHAIN, got %v", err)
	}
	assertNoMutation(t, store, 1.5)
}

func TestWithdrawTransferFailureLeavesLedgerUntouched(t *testing.T) {
	store := seedStore(t, 1.5)
	adapter := &fakeAdapter{
		id: chain.Solana,
		transferFn: func(ctx context.Context, secret, recipient string, amount float64) (string, error) {
			return "", xerrors.New(xerrors.CodeRPCTimeout, "rpc deadline exceeded")
		},
	}
	o := NewOrchestrator(store, newFakeResolver(adapter), collection())

	_, err := o.Withdraw(context.Background(), 42, chain.Solana, 0.5)
	if xerrors.CodeOf(err) != xerrors.CodeRPCTimeout {
		t.Fatalf("expected RPC_TIMEOUT, got %v", err)
	}
	// 结果未知时不写流水，交给对账器纠正真实余额。
	assertNoMutation(t, store, 1.5)
}

func TestWithdrawPersistenceFailureSurfaces(t *testing.T) {
	store := &failingStore{Store: seedStore(t, 1.5)}
	adapter := &fakeAdapter{id: chain.Solana}
	o := NewOrchestrator(store, newFakeResolver(adapter), collection())

	_, err := o.Withdraw(context.Background(), 42, chain.Solana, 0.5)
	if xerrors.CodeOf(err) != xerrors.CodePersistenceFailure {
		t.Fatalf("expected PERSISTENCE_FAILURE, got %v", err)
	}
}

func TestWithdrawConcurrentRequestsSerialized(t *testing.T) {
	store := seedStore(t, 1.5)
	adapter := &fakeAdapter{
		id: chain.Solana,
		transferFn: func(ctx context.Context, secret, recipient string, amount float64) (string, error) {
			time.Sleep(20 * time.Millisecond)
			return "hash-serialized", nil
		},
	}
	o := NewOrchestrator(store, newFakeResolver(adapter), collection())

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = o.Withdraw(context.Background(), 42, chain.Solana, 1.0)
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case xerrors.CodeOf(err) == xerrors.CodeInsufficientCachedBalance:
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one success and one rejection, got %d/%d", succeeded, insufficient)
	}

	record, _ := store.Get(context.Background(), 42)
	if got := record.Accounts[chain.Solana].CachedBalance; got != 0.5 {
		t.Fatalf("expected final balance 0.5, got %f", got)
	}
	txs, _ := store.Transactions(context.Background(), 42, 10)
	if len(txs) != 1 {
		t.Fatalf("expected a single withdrawal row, got %d", len(txs))
	}
}

func assertNoMutation(t *testing.T, store ledger.Store, balance float64) {
	t.Helper()
	record, err := store.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got := record.Accounts[chain.Solana].CachedBalance; got != balance {
		t.Fatalf("balance mutated: expected %f, got %f", balance, got)
	}
	txs, err := store.Transactions(context.Background(), 42, 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no transaction rows, got %d", len(txs))
	}
}

type failingStore struct {
	ledger.Store
}

func (s *failingStore) ApplyWithdrawal(ctx context.Context, userID int64, id chain.Chain, amount float64, record *ledger.TransactionRecord) (int64, float64, error) {
	return 0, 0, xerrors.New(xerrors.CodePersistenceFailure, "disk full")
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chain-custody/internal/chain"
	"chain-custody/internal/custody"
	xerrors "chain-custody/internal/errors"
	"chain-custody/internal/ledger"
)

type stubAdapter struct {
	id chain.Chain
}

func (s *stubAdapter) Chain() chain.Chain { return s.id }

func (s *stubAdapter) ValidateAddress(address string) error { return nil }

func (s *stubAdapter) Close() {}

func (s *stubAdapter) GetBalance(ctx context.Context, address string) (float64, error) {
	return 0, nil
}

func (s *stubAdapter) Transfer(ctx context.Context, secret, recipient string, amount float64) (string, error) {
	return "stub-hash", nil
}

func (s *stubAdapter) CreateWallet() (chain.Wallet, error) {
	return chain.Wallet{Address: "addr-" + string(s.id), Secret: "secret-" + string(s.id)}, nil
}

type stubResolver struct {
	adapters map[chain.Chain]chain.Adapter
	order    []chain.Chain
}

func (r *stubResolver) Adapter(id chain.Chain) (chain.Adapter, error) {
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnsupportedChain, "chain is not enabled")
	}
	return adapter, nil
}

func (r *stubResolver) Chains() []chain.Chain { return r.order }

func newTestServer(t *testing.T) (*Server, ledger.Store) {
	t.Helper()
	store := ledger.NewMemoryStore()
	resolver := &stubResolver{
		adapters: map[chain.Chain]chain.Adapter{chain.Solana: &stubAdapter{id: chain.Solana}},
		order:    []chain.Chain{chain.Solana},
	}
	service := custody.NewService(store, resolver, nil)
	orchestrator := custody.NewOrchestrator(store, resolver,
		map[chain.Chain]string{chain.Solana: "central-sol"})
	return NewServer(":0", service, orchestrator), store
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateUserEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users", `{"user_id": 7}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var record ledger.CustodyRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if record.UserID != 7 {
		t.Fatalf("unexpected user: %d", record.UserID)
	}
	if record.Accounts[chain.Solana].Address != "addr-SOL" {
		t.Fatalf("unexpected address: %+v", record.Accounts)
	}
	// 私钥绝不允许出现在任何 API 响应里。
	if strings.Contains(rec.Body.String(), "secret-SOL") {
		t.Fatalf("secret leaked in response: %s", rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users", `{"user_id": 7}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}
}

func TestGetUserEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	doJSON(t, handler, http.MethodPost, "/api/v1/users", `{"user_id": 7}`)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/users/7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/999", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWithdrawEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.Handler()

	doJSON(t, handler, http.MethodPost, "/api/v1/users", `{"user_id": 7}`)
	if err := store.UpdateCachedBalance(context.Background(), 7, chain.Solana, 1.5); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/withdrawals",
		`{"user_id": 7, "chain": "SOL", "amount": 0.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var receipt custody.Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.TxHash != "stub-hash" || receipt.NewBalance != 1.0 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestWithdrawEndpointErrorMapping(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.Handler()

	doJSON(t, handler, http.MethodPost, "/api/v1/users", `{"user_id": 7}`)
	if err := store.UpdateCachedBalance(context.Background(), 7, chain.Solana, 1.5); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	cases := []struct {
		body   string
		status int
		code   string
	}{
		{`{"user_id": 7, "chain": "SOL", "amount": 0}`, http.StatusBadRequest, "INVALID_AMOUNT"},
		{`{"user_id": 7, "chain": "SOL", "amount": 2.0}`, http.StatusUnprocessableEntity, "INSUFFICIENT_CACHED_BALANCE"},
		{`{"user_id": 7, "chain": "DOGE", "amount": 1.0}`, http.StatusBadRequest, "UNSUPPORTED_CHAIN"},
		{`{"user_id": 999, "chain": "SOL", "amount": 1.0}`, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/withdrawals", tc.body)
		if rec.Code != tc.status {
			t.Fatalf("body %s: expected %d, got %d", tc.body, tc.status, rec.Code)
		}
		var resp errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode error response: %v", err)
		}
		if resp.Code != tc.code {
			t.Fatalf("body %s: expected code %s, got %s", tc.body, tc.code, resp.Code)
		}
	}
}

func TestTransactionsEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.Handler()

	doJSON(t, handler, http.MethodPost, "/api/v1/users", `{"user_id": 7}`)
	if err := store.UpdateCachedBalance(context.Background(), 7, chain.Solana, 1.5); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	doJSON(t, handler, http.MethodPost, "/api/v1/withdrawals",
		`{"user_id": 7, "chain": "SOL", "amount": 0.5}`)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/users/7/transactions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var txs []*ledger.TransactionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &txs); err != nil {
		t.Fatalf("decode transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].TxHash != "stub-hash" {
		t.Fatalf("unexpected transactions: %+v", txs)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	doJSON(t, handler, http.MethodPost, "/api/v1/users", `{"user_id": 7}`)

	rec := doJSON(t, handler, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "custody_http_requests_total") {
		t.Fatalf("request counters missing from exposition:\n%s", rec.Body.String())
	}
}

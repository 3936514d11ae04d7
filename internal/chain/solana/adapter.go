package solana

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"math"
	"strings"
	"time"

	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"

	"github.com/mr-tron/base58"
)

const lamportsPerSol = 1_000_000_000

// toLamports rounds to the nearest lamport so decimal amounts are not
// truncated by their float representation.
func toLamports(amount float64) uint64 {
	return uint64(math.Round(amount * lamportsPerSol))
}

// Config describes how to construct the Solana adapter.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// Adapter implements chain.Adapter for Solana over the public JSON-RPC API.
type Adapter struct {
	rpc *rpcClient
}

// New returns an adapter bound to the configured RPC endpoint.
func New(cfg Config) (*Adapter, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeRPCUnavailable, "未配置 Solana RPC 地址")
	}
	return &Adapter{rpc: newRPCClient(rpcURL, cfg.Timeout)}, nil
}

// Chain returns the identifier the adapter serves.
func (a *Adapter) Chain() chain.Chain { return chain.Solana }

// Close is a no-op; the adapter holds no persistent connection.
func (a *Adapter) Close() {}

// ValidateAddress requires a base58 string decoding to exactly 32 bytes.
func (a *Adapter) ValidateAddress(address string) error {
	raw, err := base58.Decode(strings.TrimSpace(address))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return xerrors.New(xerrors.CodeAddressInvalid, "不是合法的 Solana 地址",
			xerrors.WithMetadata("address", address))
	}
	return nil
}

// GetBalance returns the address balance in SOL.
func (a *Adapter) GetBalance(ctx context.Context, address string) (float64, error) {
	if err := a.ValidateAddress(address); err != nil {
		return 0, err
	}

	result, err := a.rpc.call(ctx, "getBalance", []any{address})
	if err != nil {
		return 0, err
	}
	var balance struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(result, &balance); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "解析 Solana 余额失败")
	}
	return float64(balance.Value) / lamportsPerSol, nil
}

// Transfer builds a system-program transfer, signs it locally with the
// custody key and broadcasts the raw transaction.
func (a *Adapter) Transfer(ctx context.Context, secret, recipient string, amount float64) (string, error) {
	if err := a.ValidateAddress(recipient); err != nil {
		return "", err
	}

	priv, from, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	to, err := base58.Decode(strings.TrimSpace(recipient))
	if err != nil {
		return "", xerrors.New(xerrors.CodeAddressInvalid, "不是合法的 Solana 地址")
	}

	blockhash, err := a.latestBlockhash(ctx)
	if err != nil {
		return "", err
	}

	lamports := toLamports(amount)
	message := buildTransferMessage(from, to, blockhash, lamports)
	signature := ed25519.Sign(priv, message)
	raw := serializeTransaction(signature, message)

	result, err := a.rpc.call(ctx, "sendTransaction", []any{
		base64.StdEncoding.EncodeToString(raw),
		map[string]any{"encoding": "base64"},
	})
	if err != nil {
		return "", err
	}
	var txSig string
	if err := json.Unmarshal(result, &txSig); err != nil {
		return "", xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "解析 Solana 交易签名失败")
	}
	return txSig, nil
}

// CreateWallet generates an ed25519 keypair. The secret is the base58
// encoding of the 64-byte private key, so the address is derivable from it.
func (a *Adapter) CreateWallet() (chain.Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return chain.Wallet{}, xerrors.Wrap(xerrors.CodeSigningFailure, err, "生成 Solana 密钥失败")
	}
	return chain.Wallet{
		Address: base58.Encode(pub),
		Secret:  base58.Encode(priv),
	}, nil
}

// DeriveAddress recomputes the public address for a stored secret.
func DeriveAddress(secret string) (string, error) {
	_, pub, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return base58.Encode(pub), nil
}

// TransactionStatus resolves a submitted signature through
// getSignatureStatuses.
func (a *Adapter) TransactionStatus(ctx context.Context, hash string) (chain.TxStatus, error) {
	result, err := a.rpc.call(ctx, "getSignatureStatuses", []any{
		[]string{hash},
		map[string]any{"searchTransactionHistory": true},
	})
	if err != nil {
		return "", err
	}
	var statuses struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &statuses); err != nil {
		return "", xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "解析 Solana 交易状态失败")
	}
	if len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return chain.TxStatusPending, nil
	}
	entry := statuses.Value[0]
	if len(entry.Err) > 0 && string(entry.Err) != "null" {
		return chain.TxStatusFailed, nil
	}
	switch entry.ConfirmationStatus {
	case "confirmed", "finalized":
		return chain.TxStatusConfirmed, nil
	default:
		return chain.TxStatusPending, nil
	}
}

func (a *Adapter) latestBlockhash(ctx context.Context) ([]byte, error) {
	result, err := a.rpc.call(ctx, "getLatestBlockhash", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "解析 Solana blockhash 失败")
	}
	raw, err := base58.Decode(payload.Value.Blockhash)
	if err != nil || len(raw) != 32 {
		return nil, xerrors.New(xerrors.CodeRPCUnavailable, "Solana 节点返回非法 blockhash")
	}
	return raw, nil
}

func decodeSecret(secret string) (ed25519.PrivateKey, []byte, error) {
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return nil, nil, xerrors.New(xerrors.CodeSigningFailure, "解析 Solana 私钥失败")
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return priv, pub, nil
}

var _ chain.Adapter = (*Adapter)(nil)
var _ chain.StatusChecker = (*Adapter)(nil)

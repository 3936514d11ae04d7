package ethereum

import (
	"context"
	stdErrors "errors"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const weiPerEther = 1e18

// Config describes how to construct the Ethereum adapter.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// Adapter implements chain.Adapter for Ethereum using go-ethereum's client.
type Adapter struct {
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	timeout   time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

// New dials the configured RPC endpoint and returns a ready-to-use adapter.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeRPCUnavailable, "未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "连接以太坊节点失败")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Adapter{
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
		timeout:   timeout,
	}, nil
}

// Chain returns the identifier the adapter serves.
func (a *Adapter) Chain() chain.Chain { return chain.Ethereum }

// Close releases the network connection held by the adapter.
func (a *Adapter) Close() {
	if a.rpcClient != nil {
		a.rpcClient.Close()
	}
}

// ValidateAddress checks the 0x + 40 hex character form without touching the
// network.
func (a *Adapter) ValidateAddress(address string) error {
	if !common.IsHexAddress(strings.TrimSpace(address)) {
		return xerrors.New(xerrors.CodeAddressInvalid, "不是合法的以太坊地址",
			xerrors.WithMetadata("address", address))
	}
	return nil
}

// GetBalance returns the address balance in ether.
func (a *Adapter) GetBalance(ctx context.Context, address string) (float64, error) {
	if err := a.ValidateAddress(address); err != nil {
		return 0, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	wei, err := a.eth.BalanceAt(callCtx, common.HexToAddress(address), nil)
	if err != nil {
		return 0, classifyRPCError(err, "查询以太坊余额失败")
	}
	ether, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(weiPerEther)).Float64()
	return ether, nil
}

// Transfer signs a plain value transfer with the custody key and broadcasts
// it, returning the transaction hash.
func (a *Adapter) Transfer(ctx context.Context, secret, recipient string, amount float64) (string, error) {
	if err := a.ValidateAddress(recipient); err != nil {
		return "", err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(secret), "0x"))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeSigningFailure, err, "解析以太坊私钥失败")
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	chainID, err := a.networkID(callCtx)
	if err != nil {
		return "", err
	}

	nonce, err := a.eth.PendingNonceAt(callCtx, from)
	if err != nil {
		return "", classifyRPCError(err, "查询以太坊 nonce 失败")
	}
	gasPrice, err := a.eth.SuggestGasPrice(callCtx)
	if err != nil {
		return "", classifyRPCError(err, "查询以太坊 gas 价格失败")
	}

	wei, _ := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(weiPerEther)).Int(nil)
	tx := coretypes.NewTransaction(nonce, common.HexToAddress(recipient), wei, 21000, gasPrice, nil)

	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeSigningFailure, err, "签名以太坊交易失败")
	}

	if err := a.eth.SendTransaction(callCtx, signed); err != nil {
		return "", classifyRPCError(err, "广播以太坊交易失败")
	}
	return signed.Hash().Hex(), nil
}

// CreateWallet generates a secp256k1 keypair. The address is derived from
// the secret and the pairing is testable via DeriveAddress.
func (a *Adapter) CreateWallet() (chain.Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return chain.Wallet{}, xerrors.Wrap(xerrors.CodeSigningFailure, err, "生成以太坊密钥失败")
	}
	return chain.Wallet{
		Address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Secret:  common.Bytes2Hex(crypto.FromECDSA(key)),
	}, nil
}

// DeriveAddress recomputes the public address for a stored secret.
func DeriveAddress(secret string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(secret), "0x"))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeSigningFailure, err, "解析以太坊私钥失败")
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// TransactionStatus resolves a broadcast transaction via its receipt.
func (a *Adapter) TransactionStatus(ctx context.Context, hash string) (chain.TxStatus, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	receipt, err := a.eth.TransactionReceipt(callCtx, common.HexToHash(hash))
	if err != nil {
		if stdErrors.Is(err, gethcore.NotFound) {
			return chain.TxStatusPending, nil
		}
		return "", classifyRPCError(err, "查询以太坊交易回执失败")
	}
	if receipt.Status == coretypes.ReceiptStatusSuccessful {
		return chain.TxStatusConfirmed, nil
	}
	return chain.TxStatusFailed, nil
}

func (a *Adapter) networkID(ctx context.Context) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.chainID != nil {
		return a.chainID, nil
	}
	id, err := a.eth.ChainID(ctx)
	if err != nil {
		return nil, classifyRPCError(err, "查询以太坊链 ID 失败")
	}
	a.chainID = id
	return id, nil
}

// classifyRPCError converts go-ethereum errors into the typed taxonomy so
// raw transport failures never cross the adapter boundary.
func classifyRPCError(err error, message string) error {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return xerrors.Wrap(xerrors.CodeRPCTimeout, err, message)
	case strings.Contains(err.Error(), "insufficient funds"):
		return xerrors.Wrap(xerrors.CodeInsufficientChainBalance, err, message)
	}
	var rpcErr gethrpc.Error
	if stdErrors.As(err, &rpcErr) {
		return xerrors.Wrap(xerrors.CodeRPCRejected, err, message,
			xerrors.WithMetadata("rpc_code", strconv.Itoa(rpcErr.ErrorCode())))
	}
	return xerrors.Wrap(xerrors.CodeRPCUnavailable, err, message)
}

var _ chain.Adapter = (*Adapter)(nil)
var _ chain.StatusChecker = (*Adapter)(nil)

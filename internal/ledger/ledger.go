package ledger

import (
	"context"

	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"
)

// TxType 区分入金与出金两类流水。
type TxType string

const (
	TxTypeDeposit    TxType = "deposit"
	TxTypeWithdrawal TxType = "withdrawal"
)

// TxStatus 表示流水记录在生命周期中的状态。failed 是终态。
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusSubmitted TxStatus = "submitted"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// ChainAccount 保存某条链上的托管账户。Secret 只在签名路径上离开台账。
type ChainAccount struct {
	Address       string  `json:"address"`
	Secret        string  `json:"-"`
	CachedBalance float64 `json:"cached_balance"`
}

// CustodyRecord 描述一个用户的全部托管钱包。地址与私钥生成后不再变更，
// 缓存余额仅由对账器与出金流程更新。
type CustodyRecord struct {
	UserID       int64                        `json:"user_id"`
	Accounts     map[chain.Chain]ChainAccount `json:"accounts"`
	ActiveChain  chain.Chain                  `json:"active_chain"`
	ReferredBy   int64                        `json:"referred_by,omitempty"`
	CreatedAt    int64                        `json:"created_at"`
	LastActivity int64                        `json:"last_activity"`
}

// TransactionRecord 是追加写入的流水记录。
type TransactionRecord struct {
	ID           int64       `json:"id"`
	UserID       int64       `json:"user_id"`
	Chain        chain.Chain `json:"chain"`
	TxHash       string      `json:"tx_hash,omitempty"`
	Type         TxType      `json:"type"`
	Amount       float64     `json:"amount"`
	TokenAddress string      `json:"token_address,omitempty"`
	Status       TxStatus    `json:"status"`
	Timestamp    int64       `json:"timestamp"`
}

// CustodyAddress 是对账清单中的一项。
type CustodyAddress struct {
	UserID  int64
	Chain   chain.Chain
	Address string
}

var (
	// ErrUserNotFound 表示托管记录不存在。
	ErrUserNotFound = xerrors.New(xerrors.CodeNotFound, "custody record not found")
	// ErrUserExists 表示用户已经创建过托管钱包。
	ErrUserExists = xerrors.New(xerrors.CodeAlreadyExists, "custody record already exists")
	// ErrTransactionNotFound 表示流水记录不存在或状态不匹配。
	ErrTransactionNotFound = xerrors.New(xerrors.CodeNotFound, "transaction record not found")
)

// Store 拥有全部持久化状态：托管目录、缓存余额与流水日志。
// 所有写操作在单次调用内保持原子。
type Store interface {
	// Get 返回用户的托管记录。
	Get(ctx context.Context, userID int64) (*CustodyRecord, error)

	// Create 原子落库一条新的托管记录，重复创建返回 ALREADY_EXISTS。
	Create(ctx context.Context, record *CustodyRecord) error

	// UpdateCachedBalance 写入对账得到的最新余额，绝不触碰流水。
	UpdateCachedBalance(ctx context.Context, userID int64, id chain.Chain, amount float64) error

	// AppendTransaction 追加一条流水并返回单调递增的 ID。
	AppendTransaction(ctx context.Context, record *TransactionRecord) (int64, error)

	// ApplyWithdrawal 在一个原子单元内追加 submitted 流水并扣减缓存余额，
	// 返回流水 ID 和扣减后的余额。
	ApplyWithdrawal(ctx context.Context, userID int64, id chain.Chain, amount float64, record *TransactionRecord) (int64, float64, error)

	// ListCustodyAddresses 返回对账器扫描所需的 (user, chain, address) 清单。
	ListCustodyAddresses(ctx context.Context) ([]CustodyAddress, error)

	// Transactions 返回用户最近的流水记录。
	Transactions(ctx context.Context, userID int64, limit int) ([]*TransactionRecord, error)

	// ListTransactionsByStatus 返回处于指定状态的流水，供确认轮询使用。
	ListTransactionsByStatus(ctx context.Context, status TxStatus, limit int) ([]*TransactionRecord, error)

	// UpdateTransactionStatus 在 from 状态匹配时迁移到 to。failed 记录不再变更。
	UpdateTransactionStatus(ctx context.Context, id int64, from, to TxStatus) error

	// Close 释放底层资源。
	Close() error
}

package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"
)

// MemoryStore 在内存中维护台账，用于测试与本地开发。
type MemoryStore struct {
	mu           sync.Mutex
	records      map[int64]*CustodyRecord
	transactions map[int64]*TransactionRecord
	nextTxID     int64
}

// NewMemoryStore 创建一个空的内存台账。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:      make(map[int64]*CustodyRecord),
		transactions: make(map[int64]*TransactionRecord),
	}
}

// Get 返回用户的托管记录。
func (s *MemoryStore) Get(ctx context.Context, userID int64) (*CustodyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneRecord(record), nil
}

// Create 原子落库一条新的托管记录。
func (s *MemoryStore) Create(ctx context.Context, record *CustodyRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodePersistenceFailure, "custody record 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.UserID]; ok {
		return ErrUserExists
	}

	now := time.Now().Unix()
	record.CreatedAt = now
	record.LastActivity = now
	s.records[record.UserID] = cloneRecord(record)
	return nil
}

// UpdateCachedBalance 写入最新的缓存余额。
func (s *MemoryStore) UpdateCachedBalance(ctx context.Context, userID int64, id chain.Chain, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[userID]
	if !ok {
		return ErrUserNotFound
	}
	account, ok := record.Accounts[id]
	if !ok {
		return ErrUserNotFound
	}
	account.CachedBalance = amount
	record.Accounts[id] = account
	record.LastActivity = time.Now().Unix()
	return nil
}

// AppendTransaction 追加一条流水。
func (s *MemoryStore) AppendTransaction(ctx context.Context, record *TransactionRecord) (int64, error) {
	if record == nil {
		return 0, xerrors.New(xerrors.CodePersistenceFailure, "transaction record 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(record), nil
}

// ApplyWithdrawal 在同一把锁内追加流水并扣减余额，模拟存储引擎事务。
func (s *MemoryStore) ApplyWithdrawal(ctx context.Context, userID int64, id chain.Chain, amount float64, record *TransactionRecord) (int64, float64, error) {
	if record == nil {
		return 0, 0, xerrors.New(xerrors.CodePersistenceFailure, "transaction record 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	custody, ok := s.records[userID]
	if !ok {
		return 0, 0, ErrUserNotFound
	}
	account, ok := custody.Accounts[id]
	if !ok {
		return 0, 0, ErrUserNotFound
	}

	txID := s.appendLocked(record)
	account.CachedBalance -= amount
	custody.Accounts[id] = account
	custody.LastActivity = time.Now().Unix()
	return txID, account.CachedBalance, nil
}

// ListCustodyAddresses 返回全部托管地址。
func (s *MemoryStore) ListCustodyAddresses(ctx context.Context) ([]CustodyAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CustodyAddress, 0, len(s.records))
	for _, record := range s.records {
		for id, account := range record.Accounts {
			if account.Address == "" {
				continue
			}
			out = append(out, CustodyAddress{UserID: record.UserID, Chain: id, Address: account.Address})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Chain < out[j].Chain
	})
	return out, nil
}

// Transactions 返回用户最近的流水，按 ID 倒序。
func (s *MemoryStore) Transactions(ctx context.Context, userID int64, limit int) ([]*TransactionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*TransactionRecord, 0, limit)
	for _, record := range s.transactions {
		if record.UserID == userID {
			clone := *record
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListTransactionsByStatus 返回处于指定状态的流水，按 ID 升序。
func (s *MemoryStore) ListTransactionsByStatus(ctx context.Context, status TxStatus, limit int) ([]*TransactionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*TransactionRecord, 0, limit)
	for _, record := range s.transactions {
		if record.Status == status {
			clone := *record
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateTransactionStatus 在状态匹配时迁移流水状态。
func (s *MemoryStore) UpdateTransactionStatus(ctx context.Context, id int64, from, to TxStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.transactions[id]
	if !ok || record.Status != from || record.Status == TxStatusFailed {
		return ErrTransactionNotFound
	}
	record.Status = to
	return nil
}

// Close 实现 Store 接口。
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) appendLocked(record *TransactionRecord) int64 {
	s.nextTxID++
	record.ID = s.nextTxID
	if record.Timestamp == 0 {
		record.Timestamp = time.Now().Unix()
	}
	clone := *record
	s.transactions[clone.ID] = &clone
	return clone.ID
}

func cloneRecord(record *CustodyRecord) *CustodyRecord {
	clone := *record
	clone.Accounts = make(map[chain.Chain]ChainAccount, len(record.Accounts))
	for id, account := range record.Accounts {
		clone.Accounts[id] = account
	}
	return &clone
}

var _ Store = (*MemoryStore)(nil)

package ledger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore 使用嵌入式 SQLite 持久化台账，是默认的存储驱动。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 打开（必要时创建）数据库文件并初始化表结构。
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodePersistenceFailure, "SQLite 路径不能为空")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "打开 SQLite 失败")
	}
	// 嵌入式驱动对并发写敏感，串行化写连接。
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "无法连接 SQLite")
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS custody_users (
        user_id INTEGER PRIMARY KEY,
        active_chain TEXT NOT NULL DEFAULT 'SOL',
        referred_by INTEGER NOT NULL DEFAULT 0,
        created_at INTEGER NOT NULL,
        last_activity INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS custody_accounts (
        user_id INTEGER NOT NULL,
        chain TEXT NOT NULL,
        address TEXT NOT NULL,
        secret TEXT NOT NULL,
        cached_balance REAL NOT NULL DEFAULT 0,
        PRIMARY KEY (user_id, chain)
);
CREATE TABLE IF NOT EXISTS transactions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        chain TEXT NOT NULL,
        tx_hash TEXT NOT NULL DEFAULT '',
        tx_type TEXT NOT NULL,
        amount REAL NOT NULL,
        token_address TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL,
        timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, id);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "初始化 SQLite 表结构失败")
	}
	return nil
}

// Get 返回用户的托管记录。
func (s *SQLiteStore) Get(ctx context.Context, userID int64) (*CustodyRecord, error) {
	const userStmt = `SELECT user_id, active_chain, referred_by, created_at, last_activity
        FROM custody_users WHERE user_id = ?`

	var record CustodyRecord
	var activeChain string
	if err := s.db.QueryRowContext(ctx, userStmt, userID).Scan(
		&record.UserID,
		&activeChain,
		&record.ReferredBy,
		&record.CreatedAt,
		&record.LastActivity,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "查询托管记录失败")
	}
	record.ActiveChain = chain.Chain(activeChain)

	const accountStmt = `SELECT chain, address, secret, cached_balance
        FROM custody_accounts WHERE user_id = ?`
	rows, err := s.db.QueryContext(ctx, accountStmt, userID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "查询托管账户失败")
	}
	defer rows.Close()

	record.Accounts = make(map[chain.Chain]ChainAccount)
	for rows.Next() {
		var id string
		var account ChainAccount
		if err := rows.Scan(&id, &account.Address, &account.Secret, &account.CachedBalance); err != nil {
			return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "解析托管账户失败")
		}
		record.Accounts[chain.Chain(id)] = account
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "遍历托管账户失败")
	}
	return &record, nil
}

// Create 在一个事务内落库用户与全部链上账户。
func (s *SQLiteStore) Create(ctx context.Context, record *CustodyRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodePersistenceFailure, "custody record 不能为空")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM custody_users WHERE user_id = ?`, record.UserID).Scan(&exists); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "检查托管记录失败")
	}
	if exists > 0 {
		return ErrUserExists
	}

	now := time.Now().Unix()
	record.CreatedAt = now
	record.LastActivity = now
	if record.ActiveChain == "" {
		record.ActiveChain = chain.Solana
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO custody_users (user_id, active_chain, referred_by, created_at, last_activity)
         VALUES (?, ?, ?, ?, ?)`,
		record.UserID, string(record.ActiveChain), record.ReferredBy, record.CreatedAt, record.LastActivity,
	); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "插入托管记录失败")
	}

	for id, account := range record.Accounts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO custody_accounts (user_id, chain, address, secret, cached_balance)
             VALUES (?, ?, ?, ?, ?)`,
			record.UserID, string(id), account.Address, account.Secret, account.CachedBalance,
		); err != nil {
			return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "插入托管账户失败")
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "提交托管记录失败")
	}
	return nil
}

// UpdateCachedBalance 写入最新的缓存余额。
func (s *SQLiteStore) UpdateCachedBalance(ctx context.Context, userID int64, id chain.Chain, amount float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE custody_accounts SET cached_balance = ? WHERE user_id = ? AND chain = ?`,
		amount, userID, string(id))
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "更新缓存余额失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AppendTransaction 追加一条流水。
func (s *SQLiteStore) AppendTransaction(ctx context.Context, record *TransactionRecord) (int64, error) {
	if record == nil {
		return 0, xerrors.New(xerrors.CodePersistenceFailure, "transaction record 不能为空")
	}
	if record.Timestamp == 0 {
		record.Timestamp = time.Now().Unix()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (user_id, chain, tx_hash, tx_type, amount, token_address, status, timestamp)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.UserID, string(record.Chain), record.TxHash, string(record.Type),
		record.Amount, record.TokenAddress, string(record.Status), record.Timestamp,
	)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "插入流水失败")
	}
	txID, err := res.LastInsertId()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "读取流水 ID 失败")
	}
	record.ID = txID
	return txID, nil
}

// ApplyWithdrawal 在一个事务内追加流水并扣减缓存余额。
func (s *SQLiteStore) ApplyWithdrawal(ctx context.Context, userID int64, id chain.Chain, amount float64, record *TransactionRecord) (int64, float64, error) {
	if record == nil {
		return 0, 0, xerrors.New(xerrors.CodePersistenceFailure, "transaction record 不能为空")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	var balance float64
	if err := tx.QueryRowContext(ctx,
		`SELECT cached_balance FROM custody_accounts WHERE user_id = ? AND chain = ?`,
		userID, string(id)).Scan(&balance); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "读取缓存余额失败")
	}

	if record.Timestamp == 0 {
		record.Timestamp = time.Now().Unix()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (user_id, chain, tx_hash, tx_type, amount, token_address, status, timestamp)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.UserID, string(record.Chain), record.TxHash, string(record.Type),
		record.Amount, record.TokenAddress, string(record.Status), record.Timestamp,
	)
	if err != nil {
		return 0, 0, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "插入流水失败")
	}
	txID, err := res.LastInsertId()
	if err != nil {
		return 0, 0, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "读取流水 ID 失败")
	}

	newBalance := balance - amount
	if _, err := tx.ExecContext(ctx,
		`UPDATE custody_accounts SET cached_balance = ? WHERE user_id = ? AND chain = ?`,
		newBalance, userID, string(id)); err != nil {
		return 0, 0, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "扣减缓存余额失败")
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "提交出金事务失败")
	}
	record.ID = txID
	return txID, newBalance, nil
}

// ListCustodyAddresses 返回对账器扫描所需的地址清单。
func (s *SQLiteStore) ListCustodyAddresses(ctx context.Context) ([]CustodyAddress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, chain, address FROM custody_accounts WHERE address <> '' ORDER BY user_id, chain`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "查询托管地址失败")
	}
	defer rows.Close()

	var out []CustodyAddress
	for rows.Next() {
		var entry CustodyAddress
		var id string
		if err := rows.Scan(&entry.UserID, &id, &entry.Address); err != nil {
			return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "解析托管地址失败")
		}
		entry.Chain = chain.Chain(id)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "遍历托管地址失败")
	}
	return out, nil
}

// Transactions 返回用户最近的流水。
func (s *SQLiteStore) Transactions(ctx context.Context, userID int64, limit int) ([]*TransactionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chain, tx_hash, tx_type, amount, token_address, status, timestamp
         FROM transactions WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "查询流水失败")
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListTransactionsByStatus 返回处于指定状态的流水。
func (s *SQLiteStore) ListTransactionsByStatus(ctx context.Context, status TxStatus, limit int) ([]*TransactionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chain, tx_hash, tx_type, amount, token_address, status, timestamp
         FROM transactions WHERE status = ? ORDER BY id ASC LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "按状态查询流水失败")
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// UpdateTransactionStatus 在 from 状态匹配时迁移流水状态。
func (s *SQLiteStore) UpdateTransactionStatus(ctx context.Context, id int64, from, to TxStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = ? WHERE id = ? AND status = ? AND status <> ?`,
		string(to), id, string(from), string(TxStatusFailed))
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "更新流水状态失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanTransactions(rows *sql.Rows) ([]*TransactionRecord, error) {
	var out []*TransactionRecord
	for rows.Next() {
		var record TransactionRecord
		var id, txType, status string
		if err := rows.Scan(
			&record.ID,
			&record.UserID,
			&id,
			&record.TxHash,
			&txType,
			&record.Amount,
			&record.TokenAddress,
			&status,
			&record.Timestamp,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "解析流水记录失败")
		}
		record.Chain = chain.Chain(id)
		record.Type = TxType(txType)
		record.Status = TxStatus(status)
		out = append(out, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "遍历流水失败")
	}
	return out, nil
}

var _ Store = (*SQLiteStore)(nil)

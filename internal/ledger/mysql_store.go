package ledger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 持久化台账，适合多实例部署。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接并初始化表结构。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodePersistenceFailure, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS custody_users (
        user_id BIGINT PRIMARY KEY,
        active_chain VARCHAR(8) NOT NULL DEFAULT 'SOL',
        referred_by BIGINT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        last_activity BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS custody_accounts (
        user_id BIGINT NOT NULL,
        chain VARCHAR(8) NOT NULL,
        address VARCHAR(128) NOT NULL,
        secret VARCHAR(256) NOT NULL,
        cached_balance DECIMAL(30, 12) NOT NULL DEFAULT 0,
        PRIMARY KEY (user_id, chain)
)`,
		`CREATE TABLE IF NOT EXISTS transactions (
        id BIGINT PRIMARY KEY AUTO_INCREMENT,
        user_id BIGINT NOT NULL,
        chain VARCHAR(8) NOT NULL,
        tx_hash VARCHAR(160) NOT NULL DEFAULT '',
        tx_type VARCHAR(16) NOT NULL,
        amount DECIMAL(30, 12) NOT NULL,
        token_address VARCHAR(128) NOT NULL DEFAULT '',
        status VARCHAR(16) NOT NULL,
        timestamp BIGINT NOT NULL,
        INDEX idx_transactions_user (user_id, id),
        INDEX idx_transactions_status (status)
)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "初始化 MySQL 表结构失败")
		}
	}
	return nil
}

// Get 返回用户的托管记录。
func (s *MySQLStore) Get(ctx context.Context, userID int64) (*CustodyRecord, error) {
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

	rows, err := s.db.QueryContext(ctx,
		`SELECT chain, address, secret, cached_balance FROM custody_accounts WHERE user_id = ?`, userID)
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

// Create 在一个事务内落库用户与全部链上账户。重复创建返回 ALREADY_EXISTS。
func (s *MySQLStore) Create(ctx context.Context, record *CustodyRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodePersistenceFailure, "custody record 不能为空")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

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
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrUserExists
		}
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
func (s *MySQLStore) UpdateCachedBalance(ctx context.Context, userID int64, id chain.Chain, amount float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE custody_accounts SET cached_balance = ? WHERE user_id = ? AND chain = ?`,
		amount, userID, string(id))
	if err != nil {
		return xerrors.Wrap(xerrors.CodePersistenceFailure, err, "更新缓存余额失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		// MySQL 在值未变化时也返回 0 行，需要区分记录缺失。
		var exists int
		if checkErr := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM custody_accounts WHERE user_id = ? AND chain = ?`,
			userID, string(id)).Scan(&exists); checkErr == nil && exists == 0 {
			return ErrUserNotFound
		}
	}
	return nil
}

// AppendTransaction 追加一条流水。
func (s *MySQLStore) AppendTransaction(ctx context.Context, record *TransactionRecord) (int64, error) {
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

// ApplyWithdrawal 在一个事务内追加流水并扣减缓存余额，余额行加排它锁。
func (s *MySQLStore) ApplyWithdrawal(ctx context.Context, userID int64, id chain.Chain, amount float64, record *TransactionRecord) (int64, float64, error) {
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
		`SELECT cached_balance FROM custody_accounts WHERE user_id = ? AND chain = ? FOR UPDATE`,
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
func (s *MySQLStore) ListCustodyAddresses(ctx context.Context) ([]CustodyAddress, error) {
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
func (s *MySQLStore) Transactions(ctx context.Context, userID int64, limit int) ([]*TransactionRecord, error) {
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
func (s *MySQLStore) ListTransactionsByStatus(ctx context.Context, status TxStatus, limit int) ([]*TransactionRecord, error) {
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
func (s *MySQLStore) UpdateTransactionStatus(ctx context.Context, id int64, from, to TxStatus) error {
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
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)

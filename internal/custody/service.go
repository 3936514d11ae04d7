package custody

import (
	"context"
	"log/slog"
	"time"

	"chain-custody/internal/audit"
	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"
	"chain-custody/internal/ledger"
	"chain-custody/pkg/logger"
)

// Service 聚合托管账户的创建与查询入口。
type Service struct {
	store    ledger.Store
	resolver AdapterResolver
	trail    *audit.Trail
	log      *slog.Logger
}

// NewService 构造托管服务。trail 为 nil 时使用默认日志审计流。
func NewService(store ledger.Store, resolver AdapterResolver, trail *audit.Trail) *Service {
	if trail == nil {
		trail = audit.NewTrail(nil)
	}
	return &Service{
		store:    store,
		resolver: resolver,
		trail:    trail,
		log:      logger.Named("custody"),
	}
}

// CreateWallets 为用户在每条启用的链上生成托管钱包并原子落库。
// 用户已存在时返回 ALREADY_EXISTS，不生成任何新密钥落库。
func (s *Service) CreateWallets(ctx context.Context, userID int64, referredBy int64) (*ledger.CustodyRecord, error) {
	chains := s.resolver.Chains()
	if len(chains) == 0 {
		return nil, xerrors.New(xerrors.CodeUnsupportedChain, "no chains enabled")
	}

	now := time.Now().Unix()
	record := &ledger.CustodyRecord{
		UserID:       userID,
		Accounts:     make(map[chain.Chain]ledger.ChainAccount, len(chains)),
		ActiveChain:  chains[0],
		ReferredBy:   referredBy,
		CreatedAt:    now,
		LastActivity: now,
	}

	for _, id := range chains {
		adapter, err := s.resolver.Adapter(id)
		if err != nil {
			return nil, s.rejectCreate(ctx, userID, id, err)
		}
		wallet, err := adapter.CreateWallet()
		if err != nil {
			return nil, s.rejectCreate(ctx, userID, id, err)
		}
		record.Accounts[id] = ledger.ChainAccount{
			Address: wallet.Address,
			Secret:  wallet.Secret,
		}
	}

	if err := s.store.Create(ctx, record); err != nil {
		return nil, s.rejectCreate(ctx, userID, "", err)
	}

	s.trail.Record(ctx, audit.Event{
		Action:  audit.ActionCreateWallets,
		Outcome: audit.OutcomeOK,
		UserID:  userID,
	})
	s.log.Info("custody wallets created",
		slog.Int64("user_id", userID),
		slog.Int("chains", len(record.Accounts)))
	return record, nil
}

// Get 返回用户的托管记录。
func (s *Service) Get(ctx context.Context, userID int64) (*ledger.CustodyRecord, error) {
	return s.store.Get(ctx, userID)
}

// Transactions 返回用户最近的流水。
func (s *Service) Transactions(ctx context.Context, userID int64, limit int) ([]*ledger.TransactionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.Transactions(ctx, userID, limit)
}

func (s *Service) rejectCreate(ctx context.Context, userID int64, id chain.Chain, err error) error {
	s.trail.Record(ctx, audit.Event{
		Action:    audit.ActionCreateWallets,
		Outcome:   audit.OutcomeFailed,
		UserID:    userID,
		Chain:     id,
		ErrorCode: xerrors.CodeOf(err),
		Detail:    err.Error(),
	})
	return err
}

package custody

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"chain-custody/internal/audit"
	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"
	"chain-custody/internal/ledger"
	"chain-custody/internal/observability/alerting"
	"chain-custody/pkg/logger"
)

// AdapterResolver 按链标识解析适配器。禁用或未知的链返回 UNSUPPORTED_CHAIN。
type AdapterResolver interface {
	Adapter(id chain.Chain) (chain.Adapter, error)
	Chains() []chain.Chain
}

// Receipt 是一次出金成功后的回执。
type Receipt struct {
	TransactionID int64       `json:"transaction_id"`
	Chain         chain.Chain `json:"chain"`
	Amount        float64     `json:"amount"`
	TxHash        string      `json:"tx_hash"`
	NewBalance    float64     `json:"new_balance"`
}

// Orchestrator 驱动出金的完整状态机：校验、串行化、链上转账、原子落账。
type Orchestrator struct {
	store      ledger.Store
	resolver   AdapterResolver
	collection map[chain.Chain]string
	timeout    time.Duration
	locks      *keyedLocks
	trail      *audit.Trail
	alerts     alerting.Dispatcher
	log        *slog.Logger
}

// Option 用于调整 Orchestrator 的可选行为。
type Option func(*Orchestrator)

// WithTimeout 设置单次链上调用的超时时间。
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithAuditTrail 注入审计流。
func WithAuditTrail(trail *audit.Trail) Option {
	return func(o *Orchestrator) {
		if trail != nil {
			o.trail = trail
		}
	}
}

// WithAlerts 注入告警派发器。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(o *Orchestrator) {
		if d != nil {
			o.alerts = d
		}
	}
}

// NewOrchestrator 构造出金编排器。collection 是每条链的归集地址。
func NewOrchestrator(store ledger.Store, resolver AdapterResolver, collection map[chain.Chain]string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		resolver:   resolver,
		collection: collection,
		timeout:    15 * time.Second,
		locks:      newKeyedLocks(),
		trail:      audit.NewTrail(nil),
		log:        logger.Named("custody"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Withdraw 执行一次出金。任何校验失败都发生在持锁与链上调用之前，
// 不会留下任何台账痕迹。
func (o *Orchestrator) Withdraw(ctx context.Context, userID int64, id chain.Chain, amount float64) (*Receipt, error) {
	if amount <= 0 {
		return nil, o.reject(ctx, userID, id, amount,
			xerrors.New(xerrors.CodeInvalidAmount, "withdrawal amount must be positive"))
	}

	destination, ok := o.collection[id]
	if !ok || destination == "" {
		return nil, o.reject(ctx, userID, id, amount,
			xerrors.New(xerrors.CodeUnsupportedChain, "no collection address configured",
				xerrors.WithMetadata("chain", string(id))))
	}

	adapter, err := o.resolver.Adapter(id)
	if err != nil {
		return nil, o.reject(ctx, userID, id, amount, err)
	}

	// 同一 (user, chain) 的请求全程持锁，后到的请求必须观察到先到
	// 请求的扣减结果。
	release := o.locks.acquire(userID, id)
	defer release()

	record, err := o.store.Get(ctx, userID)
	if err != nil {
		return nil, o.reject(ctx, userID, id, amount, err)
	}
	account, ok := record.Accounts[id]
	if !ok {
		return nil, o.reject(ctx, userID, id, amount,
			xerrors.New(xerrors.CodeUnsupportedChain, "user has no wallet on this chain"))
	}
	if amount > account.CachedBalance {
		return nil, o.reject(ctx, userID, id, amount,
			xerrors.New(xerrors.CodeInsufficientCachedBalance, "insufficient balance",
				xerrors.WithMetadata("cached_balance", strconv.FormatFloat(account.CachedBalance, 'f', -1, 64))))
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	txHash, err := adapter.Transfer(callCtx, account.Secret, destination, amount)
	cancel()
	if err != nil {
		// 超时属于结果未知的情形，保守处理：不落任何流水，
		// 留给对账器纠正链上真实余额。
		return nil, o.reject(ctx, userID, id, amount, err)
	}

	txID, newBalance, err := o.store.ApplyWithdrawal(ctx, userID, id, amount, &ledger.TransactionRecord{
		UserID:    userID,
		Chain:     id,
		TxHash:    txHash,
		Type:      ledger.TxTypeWithdrawal,
		Amount:    amount,
		Status:    ledger.TxStatusSubmitted,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		// 链上已广播但落账失败。这是最严重的一类故障，必须告警，
		// 错误原样上抛。
		persistErr := xerrors.Wrap(xerrors.CodePersistenceFailure, err,
			"链上转账已广播但台账写入失败",
			xerrors.WithMetadata("tx_hash", txHash))
		o.audit(ctx, audit.Event{
			Action:    audit.ActionWithdraw,
			Outcome:   audit.OutcomeFailed,
			UserID:    userID,
			Chain:     id,
			Amount:    amount,
			TxHash:    txHash,
			ErrorCode: xerrors.CodePersistenceFailure,
			Detail:    err.Error(),
		})
		o.alert(ctx, persistErr, userID, id, amount)
		return nil, persistErr
	}

	o.audit(ctx, audit.Event{
		Action:  audit.ActionWithdraw,
		Outcome: audit.OutcomeOK,
		UserID:  userID,
		Chain:   id,
		Amount:  amount,
		TxHash:  txHash,
	})
	o.log.Info("withdrawal submitted",
		slog.Int64("user_id", userID),
		slog.String("chain", string(id)),
		slog.Float64("amount", amount),
		slog.String("tx_hash", txHash),
		slog.Float64("new_balance", newBalance))

	return &Receipt{
		TransactionID: txID,
		Chain:         id,
		Amount:        amount,
		TxHash:        txHash,
		NewBalance:    newBalance,
	}, nil
}

// reject 统一处理失败路径：审计、必要时告警，然后把错误原样返回。
func (o *Orchestrator) reject(ctx context.Context, userID int64, id chain.Chain, amount float64, err error) error {
	o.audit(ctx, audit.Event{
		Action:    audit.ActionWithdraw,
		Outcome:   audit.OutcomeFailed,
		UserID:    userID,
		Chain:     id,
		Amount:    amount,
		ErrorCode: xerrors.CodeOf(err),
		Detail:    err.Error(),
	})
	if xerrors.ShouldAlert(err) {
		o.alert(ctx, err, userID, id, amount)
	}
	return err
}

func (o *Orchestrator) audit(ctx context.Context, event audit.Event) {
	if o.trail != nil {
		o.trail.Record(ctx, event)
	}
}

func (o *Orchestrator) alert(ctx context.Context, err error, userID int64, id chain.Chain, amount float64) {
	if o.alerts == nil {
		return
	}
	if dispatchErr := o.alerts.Notify(ctx, alerting.FromError(err, userID, id, amount)); dispatchErr != nil {
		o.log.Error("告警派发失败", slog.Any("error", dispatchErr))
	}
}

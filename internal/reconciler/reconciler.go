package reconciler

import (
	"context"
	"log/slog"
	"time"

	"chain-custody/internal/audit"
	"chain-custody/internal/chain"
	"chain-custody/internal/ledger"
	"chain-custody/pkg/logger"
)

// AdapterResolver 按链标识解析适配器。
type AdapterResolver interface {
	Adapter(id chain.Chain) (chain.Adapter, error)
}

// Reconciler 周期性地把链上余额同步回台账缓存，并轮询已提交流水的终态。
// 下一轮扫描在本轮完全结束后才开始计时，扫描之间不会重叠。
type Reconciler struct {
	store      ledger.Store
	resolver   AdapterResolver
	interval   time.Duration
	rpcTimeout time.Duration
	trail      *audit.Trail
	log        *slog.Logger
}

// Option 用于调整 Reconciler 的可选行为。
type Option func(*Reconciler)

// WithInterval 设置两轮扫描之间的间隔。
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithRPCTimeout 设置单次链上查询的超时。
func WithRPCTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.rpcTimeout = d
		}
	}
}

// WithAuditTrail 注入审计流。
func WithAuditTrail(trail *audit.Trail) Option {
	return func(r *Reconciler) {
		if trail != nil {
			r.trail = trail
		}
	}
}

// New 构造对账器。默认间隔 300 秒，单次查询超时 15 秒。
func New(store ledger.Store, resolver AdapterResolver, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:      store,
		resolver:   resolver,
		interval:   5 * time.Minute,
		rpcTimeout: 15 * time.Second,
		trail:      audit.NewTrail(nil),
		log:        logger.Named("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 启动对账循环，直到 ctx 取消才返回。启动后立即执行第一轮。
func (r *Reconciler) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		r.Sweep(ctx)
		r.ConfirmSubmitted(ctx)

		// 间隔从本轮结束时刻起算。
		timer.Reset(r.interval)
	}
}

// Sweep 执行一轮余额对账。单个地址的失败只记录日志并跳过，
// 不影响其余地址，也绝不写入流水。
func (r *Reconciler) Sweep(ctx context.Context) {
	entries, err := r.store.ListCustodyAddresses(ctx)
	if err != nil {
		r.log.Error("加载托管地址清单失败", slog.Any("error", err))
		return
	}

	var updated, skipped int
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if err := r.reconcileOne(ctx, entry); err != nil {
			skipped++
			r.log.Warn("余额对账跳过该地址",
				slog.Int64("user_id", entry.UserID),
				slog.String("chain", string(entry.Chain)),
				slog.String("address", entry.Address),
				slog.Any("error", err))
			continue
		}
		updated++
	}

	r.trail.Record(ctx, audit.Event{
		Action:  audit.ActionReconcile,
		Outcome: audit.OutcomeOK,
	})
	r.log.Info("balance sweep finished",
		slog.Int("updated", updated),
		slog.Int("skipped", skipped))
}

func (r *Reconciler) reconcileOne(ctx context.Context, entry ledger.CustodyAddress) error {
	adapter, err := r.resolver.Adapter(entry.Chain)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.rpcTimeout)
	balance, err := adapter.GetBalance(callCtx, entry.Address)
	cancel()
	if err != nil {
		// 查询失败意味着余额未知，保留上一次的缓存值。
		return err
	}

	return r.store.UpdateCachedBalance(ctx, entry.UserID, entry.Chain, balance)
}

// ConfirmSubmitted 轮询 submitted 状态的流水，通过支持状态查询的
// 适配器把它们迁移到 confirmed 或 failed。不支持状态查询的链跳过。
func (r *Reconciler) ConfirmSubmitted(ctx context.Context) {
	records, err := r.store.ListTransactionsByStatus(ctx, ledger.TxStatusSubmitted, 200)
	if err != nil {
		r.log.Error("加载待确认流水失败", slog.Any("error", err))
		return
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		r.confirmOne(ctx, record)
	}
}

func (r *Reconciler) confirmOne(ctx context.Context, record *ledger.TransactionRecord) {
	adapter, err := r.resolver.Adapter(record.Chain)
	if err != nil {
		return
	}
	checker, ok := adapter.(chain.StatusChecker)
	if !ok {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, r.rpcTimeout)
	status, err := checker.TransactionStatus(callCtx, record.TxHash)
	cancel()
	if err != nil {
		r.log.Warn("查询交易状态失败",
			slog.Int64("tx_id", record.ID),
			slog.String("chain", string(record.Chain)),
			slog.Any("error", err))
		return
	}

	var next ledger.TxStatus
	switch status {
	case chain.TxStatusConfirmed:
		next = ledger.TxStatusConfirmed
	case chain.TxStatusFailed:
		next = ledger.TxStatusFailed
	default:
		return
	}

	if err := r.store.UpdateTransactionStatus(ctx, record.ID, ledger.TxStatusSubmitted, next); err != nil {
		r.log.Error("更新流水状态失败",
			slog.Int64("tx_id", record.ID),
			slog.Any("error", err))
		return
	}

	outcome := audit.OutcomeOK
	if next == ledger.TxStatusFailed {
		outcome = audit.OutcomeFailed
	}
	r.trail.Record(ctx, audit.Event{
		Action:  audit.ActionConfirm,
		Outcome: outcome,
		UserID:  record.UserID,
		Chain:   record.Chain,
		Amount:  record.Amount,
		TxHash:  record.TxHash,
	})
}

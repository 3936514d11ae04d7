package audit

import (
	"context"
	"log/slog"
	"time"

	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"
	"chain-custody/pkg/logger"

	"github.com/google/uuid"
)

// Action 标识审计事件对应的业务动作。
type Action string

const (
	ActionCreateWallets Action = "create_wallets"
	ActionWithdraw      Action = "withdraw"
	ActionReconcile     Action = "reconcile"
	ActionConfirm       Action = "confirm"
)

// Outcome 标识动作的结果。
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeFailed Outcome = "failed"
)

// Event 是一条审计记录。无论用户看到什么提示，每次失败都会带着
// (user, chain, amount, errorKind) 进入审计流。
type Event struct {
	ID         string       `json:"id"`
	Action     Action       `json:"action"`
	Outcome    Outcome      `json:"outcome"`
	UserID     int64        `json:"user_id,omitempty"`
	Chain      chain.Chain  `json:"chain,omitempty"`
	Amount     float64      `json:"amount,omitempty"`
	TxHash     string       `json:"tx_hash,omitempty"`
	ErrorCode  xerrors.Code `json:"error_code,omitempty"`
	Detail     string       `json:"detail,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Sink 接收审计事件。写入失败只记录日志，绝不影响业务请求。
type Sink interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// Trail 为事件补齐 ID 与时间戳后派发给底层 Sink。
type Trail struct {
	sink Sink
}

// NewTrail 构造审计流。sink 为 nil 时退化为结构化日志输出。
func NewTrail(sink Sink) *Trail {
	if sink == nil {
		sink = NewLogSink()
	}
	return &Trail{sink: sink}
}

// Record 派发一条审计事件。
func (t *Trail) Record(ctx context.Context, event Event) {
	if t == nil || t.sink == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := t.sink.Emit(ctx, event); err != nil {
		logger.L().Error("审计事件写入失败",
			slog.Any("error", err),
			slog.String("event_id", event.ID),
			slog.String("action", string(event.Action)))
	}
}

// Close 关闭底层 Sink。
func (t *Trail) Close() error {
	if t == nil || t.sink == nil {
		return nil
	}
	return t.sink.Close()
}

// LogSink 将审计事件写入专用审计日志通道。
type LogSink struct{}

// NewLogSink 构造日志 Sink。
func NewLogSink() *LogSink { return &LogSink{} }

// Emit 写入审计日志。
func (s *LogSink) Emit(ctx context.Context, event Event) error {
	logger.Audit().Info("audit",
		slog.String("event_id", event.ID),
		slog.String("action", string(event.Action)),
		slog.String("outcome", string(event.Outcome)),
		slog.Int64("user_id", event.UserID),
		slog.String("chain", string(event.Chain)),
		slog.Float64("amount", event.Amount),
		slog.String("tx_hash", event.TxHash),
		slog.String("error_code", string(event.ErrorCode)),
		slog.String("detail", event.Detail),
		slog.Time("occurred_at", event.OccurredAt))
	return nil
}

// Close 实现 Sink 接口。
func (s *LogSink) Close() error { return nil }

var _ Sink = (*LogSink)(nil)

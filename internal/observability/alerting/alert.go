package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chain-custody/internal/chain"
	xerrors "chain-custody/internal/errors"
	"chain-custody/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	UserID     int64
	Chain      chain.Chain
	Amount     float64
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// FromError 由带错误码的失败构造告警事件。
func FromError(err error, userID int64, id chain.Chain, amount float64) Event {
	e, ok := xerrors.From(err)
	message := e.Message()
	if !ok && err != nil {
		message = err.Error()
	}
	return Event{
		Code:       e.Code(),
		Message:    message,
		Severity:   e.Severity(),
		UserID:     userID,
		Chain:      id,
		Amount:     amount,
		Metadata:   e.Metadata(),
		OccurredAt: time.Now(),
	}
}

// LogNotifier 把告警落到主日志，是默认渠道。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 输出结构化告警日志。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	logger.L().Warn("custody alert",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.Int64("user_id", event.UserID),
		slog.String("chain", string(event.Chain)),
		slog.Float64("amount", event.Amount),
		slog.String("message", event.Message))
	return nil
}

// WebhookSender 定义发送 webhook 所需的能力。
type WebhookSender interface {
	Send(ctx context.Context, content string) error
}

// WebhookNotifier 通过外部 webhook 推送告警。
type WebhookNotifier struct {
	Sender WebhookSender
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送 webhook 消息。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("code", string(event.Code)))
		return nil
	}
	payload := fmt.Sprintf("[%s] %s user=%d chain=%s amount=%f: %s",
		event.Severity, event.Code, event.UserID, event.Chain, event.Amount, event.Message)
	return n.Sender.Send(ctx, payload)
}

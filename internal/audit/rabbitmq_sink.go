package audit

import (
	"context"
	"encoding/json"
	"fmt"

	xerrors "chain-custody/internal/errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQSinkConfig 描述 RabbitMQ 审计流的连接参数。
type RabbitMQSinkConfig struct {
	URL      string
	Exchange string
	Durable  bool
}

// RabbitMQSink 把审计事件发布到一个 fanout exchange。
type RabbitMQSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewRabbitMQSink 创建 RabbitMQ 审计 Sink。
func NewRabbitMQSink(cfg RabbitMQSinkConfig) (*RabbitMQSink, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodePersistenceFailure, "RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "custody.audit"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "创建 RabbitMQ channel 失败")
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "声明 RabbitMQ exchange 失败")
	}
	return &RabbitMQSink{conn: conn, ch: ch, exchange: exchange}, nil
}

// Emit 发布一条审计事件。
func (s *RabbitMQSink) Emit(ctx context.Context, event Event) error {
	if s == nil || s.ch == nil {
		return xerrors.New(xerrors.CodePersistenceFailure, "RabbitMQ 审计流未初始化")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("编码审计事件失败: %w", err)
	}
	return s.ch.PublishWithContext(ctx, s.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}

// Close 关闭 RabbitMQ 连接。
func (s *RabbitMQSink) Close() error {
	if s == nil {
		return nil
	}
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

var _ Sink = (*RabbitMQSink)(nil)

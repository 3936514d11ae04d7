package audit

import (
	"context"
	"encoding/json"
	"fmt"

	xerrors "chain-custody/internal/errors"

	"github.com/redis/go-redis/v9"
)

// RedisSinkConfig 描述 Redis 审计流的连接参数。
type RedisSinkConfig struct {
	Address   string
	Password  string
	DB        int
	Key       string
	MaxEvents int64
}

// RedisSink 把审计事件 LPUSH 到一个定长的 Redis list，供外部审计
// 系统消费。
type RedisSink struct {
	client    *redis.Client
	key       string
	maxEvents int64
}

// NewRedisSink 创建 Redis 审计 Sink。
func NewRedisSink(cfg RedisSinkConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodePersistenceFailure, "Redis address 不能为空")
	}
	key := cfg.Key
	if key == "" {
		key = "custody:audit"
	}
	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 100_000
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "连接 Redis 失败")
	}
	return &RedisSink{client: client, key: key, maxEvents: maxEvents}, nil
}

// Emit 写入一条审计事件并裁剪超出上限的旧事件。
func (s *RedisSink) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("编码审计事件失败: %w", err)
	}
	if err := s.client.LPush(ctx, s.key, payload).Err(); err != nil {
		return fmt.Errorf("Redis 写入审计事件失败: %w", err)
	}
	if err := s.client.LTrim(ctx, s.key, 0, s.maxEvents-1).Err(); err != nil {
		return fmt.Errorf("Redis 裁剪审计事件失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Sink = (*RedisSink)(nil)

package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus 使用 Redis pub/sub 转发房间广播
type RedisBus struct {
	rdb     *redis.Client
	channel string
}

func NewRedisBus(cfg config.RedisConfig) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisBus{rdb: rdb, channel: cfg.Channel}, nil
}

func (b *RedisBus) Publish(ctx context.Context, env BusEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal bus envelope: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBus) Consume(ctx context.Context, deliver func(BusEnvelope)) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription %s closed", b.channel)
			}
			var env BusEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.L.Warn("Dropping malformed bus envelope", zap.Error(err))
				continue
			}
			deliver(env)
		}
	}
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

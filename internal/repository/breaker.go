package repository

import (
	"context"
	"errors"
	"time"

	"skillswap-chat/internal/interfaces"
	"skillswap-chat/internal/model"
	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrStoreUnavailable 表示熔断器处于打开状态，请求未发往存储
var ErrStoreUnavailable = errors.New("message store unavailable")

// BreakerStore 在存储连续失败后快速失败，不做自动重试
type BreakerStore struct {
	next interfaces.MessageStore
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerStore(next interfaces.MessageStore, cfg config.BreakerConfig) *BreakerStore {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
		logger.L.Warn("Invalid breaker max_failures, using default", zap.Uint32("default", maxFailures))
	}
	st := gobreaker.Settings{
		Name:        "message-store",
		MaxRequests: 1,
		Interval:    time.Duration(cfg.IntervalSec) * time.Second,
		Timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.L.Warn("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func execute[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	var zero T
	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrStoreUnavailable
		}
		return zero, err
	}
	return out.(T), nil
}

func (b *BreakerStore) Insert(ctx context.Context, msg *model.Message) error {
	_, err := execute(b, func() (struct{}, error) {
		return struct{}{}, b.next.Insert(ctx, msg)
	})
	return err
}

func (b *BreakerStore) FindByID(ctx context.Context, id string) (*model.Message, error) {
	return execute(b, func() (*model.Message, error) { return b.next.FindByID(ctx, id) })
}

func (b *BreakerStore) FindByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	return execute(b, func() ([]model.Message, error) {
		return b.next.FindByConversation(ctx, conversationID, limit, offset)
	})
}

func (b *BreakerStore) FindByGroup(ctx context.Context, groupID string, limit, offset int) ([]model.Message, error) {
	return execute(b, func() ([]model.Message, error) {
		return b.next.FindByGroup(ctx, groupID, limit, offset)
	})
}

func (b *BreakerStore) FindByFilePath(ctx context.Context, filePath string) (*model.Message, error) {
	return execute(b, func() (*model.Message, error) { return b.next.FindByFilePath(ctx, filePath) })
}

func (b *BreakerStore) MarkRead(ctx context.Context, conversationID, receiverID string) (int64, error) {
	return execute(b, func() (int64, error) { return b.next.MarkRead(ctx, conversationID, receiverID) })
}

func (b *BreakerStore) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	return execute(b, func() ([]model.ConversationSummary, error) { return b.next.ListConversations(ctx, userID) })
}

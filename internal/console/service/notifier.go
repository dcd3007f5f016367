package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/system-policy-control/internal/engine"
	"github.com/xela07ax/system-policy-control/internal/infra"
	"go.uber.org/zap"
)

// Notifier сообщает подписчикам, что активная политика изменилась.
// Ошибки доставки не влияют на результат операции.
type Notifier interface {
	Notify(ctx context.Context, action, identifier string)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string) {}

// Publisher — часть redis.Client, нужная для публикации.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

const notifyTimeout = 2 * time.Second

// RedisNotifier публикует "<action>:<identifier>" в канал spc:policy-update.
type RedisNotifier struct {
	rdb    Publisher
	retry  engine.RetryPolicy
	logger *zap.Logger
}

func NewRedisNotifier(rdb Publisher, retry engine.RetryPolicy, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{
		rdb:    rdb,
		retry:  retry,
		logger: logger.Named("policy-notifier"),
	}
}

func (n *RedisNotifier) Notify(ctx context.Context, action, identifier string) {
	// Изменение уже применено агентом, уход клиента не должен терять сигнал
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	payload := fmt.Sprintf("%s:%s", action, identifier)
	err := n.retry.Do(ctx, func() error {
		return n.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, payload).Err()
	})
	if err != nil {
		n.logger.Warn("policy update signal delivery failed",
			zap.String("channel", infra.RedisChanPolicyUpdate),
			zap.String("payload", payload),
			zap.Error(err))
		return
	}
	n.logger.Debug("policy update published",
		zap.String("channel", infra.RedisChanPolicyUpdate),
		zap.String("payload", payload))
}

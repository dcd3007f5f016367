package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xela07ax/system-policy-control/internal/console/service"
	"github.com/xela07ax/system-policy-control/internal/engine"
	"github.com/xela07ax/system-policy-control/internal/infra"
)

type flakyPublisher struct {
	failures int
	channel  string
	messages []interface{}
	attempts int
}

func (p *flakyPublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	p.attempts++
	if p.attempts <= p.failures {
		return redis.NewIntResult(0, errors.New("dial tcp: connection refused"))
	}
	p.channel = channel
	p.messages = append(p.messages, message)
	return redis.NewIntResult(1, nil)
}

func TestRedisNotifier_RetriesThenPublishes(t *testing.T) {
	pub := &flakyPublisher{failures: 2}
	n := service.NewRedisNotifier(pub, engine.RetryPolicy{Attempts: 3, Delay: time.Millisecond}, zap.NewNop())

	n.Notify(context.Background(), "apply", "corp.gk")

	assert.Equal(t, 3, pub.attempts)
	assert.Equal(t, infra.RedisChanPolicyUpdate, pub.channel)
	assert.Equal(t, []interface{}{"apply:corp.gk"}, pub.messages)
}

func TestRedisNotifier_GivesUpQuietly(t *testing.T) {
	pub := &flakyPublisher{failures: 100}
	n := service.NewRedisNotifier(pub, engine.RetryPolicy{Attempts: 2, Delay: time.Millisecond}, zap.NewNop())

	n.Notify(context.Background(), "remove", "corp.gk")

	assert.Equal(t, 2, pub.attempts)
	assert.Empty(t, pub.messages)
}

func TestRedisNotifier_SurvivesCancelledCaller(t *testing.T) {
	pub := &flakyPublisher{}
	n := service.NewRedisNotifier(pub, engine.DefaultRetryPolicy(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Notify(ctx, "apply", "corp.gk")

	assert.Len(t, pub.messages, 1)
}

package engine

import (
	"context"
	"time"

	"github.com/avast/retry-go/v5"
)

// RetryPolicy повторы для вспомогательных сетевых операций (уведомления, и т.п.).
// Вызовы агента через него НЕ проходят: упавшая привилегированная операция не повторяется.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 100 * time.Millisecond}
}

// Do выполняет fn с экспоненциальным бэкоффом, пока не кончатся попытки или контекст.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(p.Attempts),
		retry.Delay(p.Delay),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
	)
	return r.Do(fn)
}

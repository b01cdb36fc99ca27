// Package lock — взаимоисключение по ключу (заказ, планировщик) между запросами и экземплярами.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout — блокировку не удалось получить за отведённое время.
var ErrTimeout = errors.New("lock: wait timeout")

// Release освобождает блокировку. Повторный вызов безопасен.
type Release func(ctx context.Context) error

type Locker interface {
	// Acquire ждёт блокировку не дольше настроенного времени ожидания.
	Acquire(ctx context.Context, key string) (Release, error)
	// TryAcquire пытается взять блокировку один раз.
	TryAcquire(ctx context.Context, key string) (Release, bool, error)
}

func OrderKey(orderID string) string {
	return "order:" + orderID
}

const SchedulerKey = "scheduler"

func backoff(attempt int) time.Duration {
	d := 10 * time.Millisecond << attempt
	if d > 200*time.Millisecond || d <= 0 {
		return 200 * time.Millisecond
	}
	return d
}

// acquireLoop повторяет try до успеха, истечения wait или отмены ctx.
func acquireLoop(ctx context.Context, wait time.Duration, try func() (Release, bool, error)) (Release, error) {
	deadline := time.Now().Add(wait)
	for attempt := 0; ; attempt++ {
		release, ok, err := try()
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		pause := backoff(attempt)
		if remaining := time.Until(deadline); remaining <= 0 {
			return nil, ErrTimeout
		} else if pause > remaining {
			pause = remaining
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

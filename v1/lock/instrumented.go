package lock

import (
	"context"
	"time"

	"github.com/mirkobrombin/go-reserve/v1/metrics"
)

// Instrumented wraps a Locker and records every call on LockMetrics.
type Instrumented struct {
	next Locker
	m    *metrics.LockMetrics
}

// NewInstrumented decorates next with metrics.
func NewInstrumented(next Locker, m *metrics.LockMetrics) *Instrumented {
	return &Instrumented{next: next, m: m}
}

// TryLock implements Locker.TryLock.
func (i *Instrumented) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := i.next.TryLock(ctx, key, token, ttl)
	switch {
	case err != nil:
		i.m.Acquired(metrics.ResultError)
	case ok:
		i.m.Acquired(metrics.ResultAcquired)
	default:
		i.m.Acquired(metrics.ResultContended)
	}
	return ok, err
}

// Release implements Locker.Release.
func (i *Instrumented) Release(ctx context.Context, key, token string) error {
	err := i.next.Release(ctx, key, token)
	i.m.Released(err)
	return err
}

// Holder implements Inspector.Holder when the wrapped locker supports it.
func (i *Instrumented) Holder(ctx context.Context, key string) (string, bool, error) {
	in, ok := i.next.(Inspector)
	if !ok {
		return "", false, nil
	}
	return in.Holder(ctx, key)
}

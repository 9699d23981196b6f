package lock

import (
	"context"
	"errors"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	warperrors "github.com/mirkobrombin/go-reserve/v1/errors"
)

var (
	// ErrInvalidTTL is returned when a non-positive TTL is provided.
	ErrInvalidTTL = errors.New("reserve: lock ttl must be positive")
	// ErrEmptyToken is returned when TryLock is called without a holder token.
	ErrEmptyToken = errors.New("reserve: lock token must not be empty")
)

// Locker grants exclusive, expiring ownership of string keys.
type Locker interface {
	// TryLock records token as the holder of key for ttl and reports true
	// when no live entry exists. A live entry held by any token, the same
	// token included, yields false without mutation.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Release removes the entry for key. It is idempotent and never fails
	// for missing or expired keys.
	Release(ctx context.Context, key, token string) error
}

// Inspector is implemented by lockers that can report the live holder of a key.
type Inspector interface {
	Holder(ctx context.Context, key string) (string, bool, error)
}

// Option configures the release policy shared by every backend.
type Option func(*options)

type options struct {
	unfenced bool
	now      func() time.Time
}

// WithUnfencedRelease makes Release delete a key regardless of the token
// passed in, so any caller can free any lock.
func WithUnfencedRelease() Option {
	return func(o *options) {
		o.unfenced = true
	}
}

// WithClock overrides the time source used to compute and check expiries.
// Only the in-memory and SQL backends consult it; Redis expires keys on the
// server clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewToken returns a fresh holder token for one reservation attempt.
func NewToken() (string, error) {
	return uuid.GenerateUUID()
}

// Wait polls TryLock every interval until the key is obtained or ctx ends.
// It is a caller side policy; the Locker itself never blocks.
func Wait(ctx context.Context, l Locker, key, token string, ttl, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		ok, err := l.TryLock(ctx, key, token, ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctxErr(ctx.Err())
		case <-t.C:
		}
	}
}

func validate(token string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if token == "" {
		return ErrEmptyToken
	}
	return nil
}

func ctxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return warperrors.ErrTimeout
	}
	return err
}

package lock

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis implements Locker using a Redis backend shared by every node.
type Redis struct {
	client redis.UniversalClient
	prefix string
	opts   options
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithRedisPrefix namespaces every key stored by the locker.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithRedisLockOptions applies the shared release policy options.
func WithRedisLockOptions(opts ...Option) RedisOption {
	return func(r *Redis) {
		for _, opt := range opts {
			opt(&r.opts)
		}
	}
}

// NewRedis returns a new Redis locker using the provided client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, opts: buildOptions(nil)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

// TryLock implements Locker.TryLock.
func (r *Redis) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := validate(token, ttl); err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, r.key(key), token, ttl).Result()
	if err != nil {
		return false, ctxErr(err)
	}
	return ok, nil
}

// Release implements Locker.Release.
func (r *Redis) Release(ctx context.Context, key, token string) error {
	var err error
	if r.opts.unfenced {
		err = r.client.Del(ctx, r.key(key)).Err()
	} else {
		err = delScript.Run(ctx, r.client, []string{r.key(key)}, token).Err()
	}
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return ctxErr(err)
}

// Holder implements Inspector.Holder.
func (r *Redis) Holder(ctx context.Context, key string) (string, bool, error) {
	token, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ctxErr(err)
	}
	return token, true, nil
}

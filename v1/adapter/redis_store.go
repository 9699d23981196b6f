package adapter

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-reserve/v1/booking"
	warperrors "github.com/mirkobrombin/go-reserve/v1/errors"
)

const (
	defaultRedisKeyPrefix = "booking:"
	defaultRedisIndexKey  = "bookings"
)

// RedisStore implements booking.Store on Redis. Each record is stored as
// JSON under prefix+id and its id is added to an index set used by List and
// to a per-show set index+":"+showID used by ListByShow.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	index   string
	timeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithKeyPrefix sets the prefix of record keys and names the index set
// after it.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
		s.index = prefix + "index"
	}
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:  client,
		prefix:  defaultRedisKeyPrefix,
		index:   defaultRedisIndexKey,
		timeout: defaultOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func redisErr(err error) error {
	if stdErrors.Is(err, redis.ErrClosed) {
		return warperrors.ErrConnectionClosed
	}
	return mapErr(err)
}

// Save implements booking.Store.Save. The record and its index entry are
// written in one MULTI/EXEC transaction.
func (s *RedisStore) Save(ctx context.Context, r booking.Record) error {
	if err := ctx.Err(); err != nil {
		return mapErr(err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode booking %s: %w", r.ID, err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Set(cctx, s.prefix+r.ID, data, 0)
	pipe.SAdd(cctx, s.index, r.ID)
	pipe.SAdd(cctx, s.showIndex(r.ShowID), r.ID)
	if _, err := pipe.Exec(cctx); err != nil {
		return redisErr(err)
	}
	return nil
}

func (s *RedisStore) showIndex(showID string) string {
	return s.index + ":" + showID
}

// Get implements booking.Store.Get.
func (s *RedisStore) Get(ctx context.Context, id string) (booking.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return booking.Record{}, false, mapErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.client.Get(cctx, s.prefix+id).Bytes()
	if err == redis.Nil {
		return booking.Record{}, false, nil
	}
	if err != nil {
		return booking.Record{}, false, redisErr(err)
	}
	var r booking.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return booking.Record{}, false, fmt.Errorf("decode booking %s: %w", id, err)
	}
	return r, true, nil
}

// List implements booking.Store.List. Index entries whose record has
// disappeared are skipped.
func (s *RedisStore) List(ctx context.Context) ([]booking.Record, error) {
	return s.members(ctx, s.index)
}

// ListByShow implements booking.Store.ListByShow.
func (s *RedisStore) ListByShow(ctx context.Context, showID string) ([]booking.Record, error) {
	return s.members(ctx, s.showIndex(showID))
}

// members loads the records whose ids are in the set at key.
func (s *RedisStore) members(ctx context.Context, key string) ([]booking.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ids, err := s.client.SMembers(cctx, key).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	if len(ids) == 0 {
		return []booking.Record{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.prefix + id
	}
	vals, err := s.client.MGet(cctx, keys...).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	out := make([]booking.Record, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var r booking.Record
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, fmt.Errorf("decode booking %s: %w", ids[i], err)
		}
		out = append(out, r)
	}
	return out, nil
}

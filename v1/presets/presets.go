// Package presets assembles orchestrators for the common deployments.
package presets

import (
	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/mirkobrombin/go-reserve/v1/adapter"
	"github.com/mirkobrombin/go-reserve/v1/booking"
	"github.com/mirkobrombin/go-reserve/v1/lock"
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis creates an orchestrator using Redis for both seat locks and the
// booking registry. Every process pointing at the same Redis shares locks
// and bookings.
func NewRedis(opts RedisOptions, bopts ...booking.Option) (*booking.Orchestrator, *redis.Client) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisWithClient(client, bopts...), client
}

// NewRedisWithClient is NewRedis for an existing client.
func NewRedisWithClient(client redis.UniversalClient, bopts ...booking.Option) *booking.Orchestrator {
	return booking.NewOrchestrator(lock.NewRedis(client), adapter.NewRedisStore(client), bopts...)
}

// NewSQL creates an orchestrator keeping seat leases and bookings in the
// database behind db. Tables are created when missing.
func NewSQL(db *gorm.DB, bopts ...booking.Option) (*booking.Orchestrator, error) {
	l, err := lock.NewGorm(db)
	if err != nil {
		return nil, err
	}
	s, err := adapter.NewGormStore(db)
	if err != nil {
		return nil, err
	}
	return booking.NewOrchestrator(l, s, bopts...), nil
}

// NewInMemoryStandalone creates an orchestrator that runs entirely in
// memory with no external dependencies. Useful for local development and
// single process deployments.
func NewInMemoryStandalone(bopts ...booking.Option) *booking.Orchestrator {
	return booking.NewOrchestrator(lock.NewInMemory(), booking.NewInMemoryStore(), bopts...)
}

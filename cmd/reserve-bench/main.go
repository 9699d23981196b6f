package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-reserve/v1/adapter"
	"github.com/mirkobrombin/go-reserve/v1/booking"
	"github.com/mirkobrombin/go-reserve/v1/lock"
)

var (
	concurrency = flag.Int("c", 32, "Concurrent customers")
	requests    = flag.Int("n", 2000, "Booking attempts")
	seats       = flag.Int("seats", 60, "Seats on the screen")
	perRequest  = flag.Int("k", 3, "Seats per request")
	wait        = flag.Duration("wait", 0, "Per seat lock wait, 0 fails fast on contention")
	cancelRate  = flag.Float64("cancel", 0.3, "Probability of cancelling a confirmed booking")
	target      = flag.String("target", "memory", "Targets: memory, miniredis, redis, sqlite (comma separated or all)")
	redisAddr   = flag.String("redis-addr", "localhost:6379", "Redis Address")
)

type result struct {
	confirmed   atomic.Int64
	contended   atomic.Int64
	unavailable atomic.Int64
	cancelled   atomic.Int64
	failed      atomic.Int64
}

func main() {
	flag.Parse()
	if *perRequest < 1 || *perRequest > *seats {
		log.Fatalf("-k must be between 1 and %d", *seats)
	}

	targets := strings.Split(*target, ",")
	if *target == "all" {
		targets = []string{"memory", "miniredis", "redis", "sqlite"}
	}

	fmt.Printf("%-10s %10s %10s %10s %10s %10s %10s %12s\n",
		"target", "attempts", "confirmed", "contended", "taken", "cancelled", "errors", "ops/sec")
	failed := false
	for _, t := range targets {
		locker, store, cleanup, err := setup(strings.TrimSpace(t))
		if err != nil {
			log.Printf("skip %s: %v", t, err)
			continue
		}
		if err := bench(t, locker, store); err != nil {
			log.Printf("%s: %v", t, err)
			failed = true
		}
		cleanup()
	}
	if failed {
		os.Exit(1)
	}
}

func setup(target string) (lock.Locker, booking.Store, func(), error) {
	switch target {
	case "memory":
		return lock.NewInMemory(), booking.NewInMemoryStore(), func() {}, nil
	case "miniredis":
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, nil, err
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return lock.NewRedis(client), adapter.NewRedisStore(client), func() {
			_ = client.Close()
			mr.Close()
		}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		prefix := fmt.Sprintf("bench:%d:", time.Now().UnixNano())
		return lock.NewRedis(client, lock.WithRedisPrefix(prefix)),
			adapter.NewRedisStore(client, adapter.WithKeyPrefix(prefix)),
			func() { _ = client.Close() }, nil
	case "sqlite":
		db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		l, err := lock.NewGorm(db)
		if err != nil {
			return nil, nil, nil, err
		}
		s, err := adapter.NewGormStore(db)
		if err != nil {
			return nil, nil, nil, err
		}
		return l, s, func() { _ = sqlDB.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown target %q", target)
}

func newShow() *booking.Show {
	all := make([]*booking.Seat, *seats)
	for i := range all {
		id := fmt.Sprintf("S%03d", i+1)
		all[i] = booking.NewSeat(id, id)
	}
	return &booking.Show{
		ID:           "bench-show",
		Screen:       booking.NewScreen("bench-screen", "Bench", all...),
		PricePerSeat: 100,
	}
}

func bench(name string, locker lock.Locker, store booking.Store) error {
	ctx := context.Background()
	show := newShow()
	o := booking.NewOrchestrator(locker, store, booking.WithLockWait(*wait, time.Millisecond))
	ids := make([]string, *seats)
	for i, s := range show.Screen.Seats() {
		ids[i] = s.ID
	}

	var res result
	var next atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w)))
			user := &booking.User{ID: fmt.Sprintf("user-%d", w)}
			for next.Add(1) <= int64(*requests) {
				pick := make([]string, 0, *perRequest)
				for _, i := range rng.Perm(len(ids))[:*perRequest] {
					pick = append(pick, ids[i])
				}
				b, err := o.BookSeats(ctx, user, show, pick)
				var busy *booking.SeatLockContentionError
				var gone *booking.SeatUnavailableError
				switch {
				case err == nil:
					res.confirmed.Add(1)
					if rng.Float64() < *cancelRate {
						if err := o.CancelBooking(ctx, b.ID); err == nil {
							res.cancelled.Add(1)
						}
					}
				case errors.As(err, &busy):
					res.contended.Add(1)
				case errors.As(err, &gone):
					res.unavailable.Add(1)
				default:
					res.failed.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("%-10s %10d %10d %10d %10d %10d %10d %12.0f\n",
		name, *requests, res.confirmed.Load(), res.contended.Load(), res.unavailable.Load(),
		res.cancelled.Load(), res.failed.Load(), float64(*requests)/elapsed.Seconds())

	return verify(ctx, o, show)
}

// verify checks that no seat belongs to two confirmed bookings and that the
// seat states match the stored bookings.
func verify(ctx context.Context, o *booking.Orchestrator, show *booking.Show) error {
	recs, err := o.ListBookings(ctx)
	if err != nil {
		return err
	}
	owner := make(map[string]string)
	for _, r := range recs {
		if r.Status != booking.StatusConfirmed {
			continue
		}
		for _, sid := range r.SeatIDs {
			if prev, dup := owner[sid]; dup {
				return fmt.Errorf("seat %s double booked by %s and %s", sid, prev, r.ID)
			}
			owner[sid] = r.ID
		}
	}
	for _, s := range show.Screen.Seats() {
		_, owned := owner[s.ID]
		if owned == s.Available() {
			return fmt.Errorf("seat %s state %s does not match stored bookings", s.ID, s.Status())
		}
	}
	return nil
}

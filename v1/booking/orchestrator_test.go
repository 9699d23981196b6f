package booking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-reserve/v1/events"
	"github.com/mirkobrombin/go-reserve/v1/lock"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestShow(id string, price int64, seatIDs ...string) *Show {
	seats := make([]*Seat, len(seatIDs))
	for i, sid := range seatIDs {
		seats[i] = NewSeat(sid, sid)
	}
	return &Show{
		ID:           id,
		Movie:        &Movie{ID: "m1", Title: "Heat", Duration: 170 * time.Minute},
		Screen:       NewScreen("screen-1", "Screen 1", seats...),
		StartsAt:     time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC),
		PricePerSeat: price,
	}
}

type failingStore struct {
	*InMemoryStore
	fail     atomic.Bool
	failList atomic.Bool
}

func (s *failingStore) ListByShow(ctx context.Context, showID string) ([]Record, error) {
	if s.failList.Load() {
		return nil, errors.New("connection reset")
	}
	return s.InMemoryStore.ListByShow(ctx, showID)
}

func (s *failingStore) Save(ctx context.Context, r Record) error {
	if s.fail.Load() {
		return errors.New("disk full")
	}
	return s.InMemoryStore.Save(ctx, r)
}

type brokenLocker struct{}

func (brokenLocker) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (brokenLocker) Release(ctx context.Context, key, token string) error { return nil }

func assertNoLocks(t *testing.T, l *lock.InMemory) {
	t.Helper()
	if n := l.Len(); n != 0 {
		t.Fatalf("expected every seat lock released, %d still held", n)
	}
}

func TestBookSeatsConfirms(t *testing.T) {
	ctx := context.Background()
	l := lock.NewInMemory()
	store := NewInMemoryStore()
	o := NewOrchestrator(l, store)
	show := newTestShow("s1", 200, "A1", "A2", "A3", "A4")
	user := &User{ID: "u1", Name: "Ada"}

	b, err := o.BookSeats(ctx, user, show, []string{"A1", "A2", "A3"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if b.Status() != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", b.Status())
	}
	if b.TotalPrice != 600 {
		t.Fatalf("expected total 600, got %d", b.TotalPrice)
	}
	for _, id := range []string{"A1", "A2", "A3"} {
		s, _ := show.Seat(id)
		if s.Available() {
			t.Fatalf("seat %s should be booked", id)
		}
	}
	if s, _ := show.Seat("A4"); !s.Available() {
		t.Fatal("A4 should remain available")
	}
	rec, ok, err := store.Get(ctx, b.ID)
	if err != nil || !ok {
		t.Fatalf("get: %v ok %v", err, ok)
	}
	if rec.Status != StatusConfirmed || rec.TotalPrice != 600 || rec.UserID != "u1" || rec.ShowID != "s1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	assertNoLocks(t, l)
}

func TestBookSeatsConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	l := lock.NewInMemory()
	o := NewOrchestrator(l, NewInMemoryStore())
	show := newTestShow("s1", 100, "A1", "A2", "A3")

	const n = 50
	var wins, contended, unavailable atomic.Int32
	var g errgroup.Group
	for i := 0; i < n; i++ {
		user := &User{ID: fmt.Sprintf("u%d", i)}
		g.Go(func() error {
			_, err := o.BookSeats(ctx, user, show, []string{"A1", "A2", "A3"})
			var busy *SeatLockContentionError
			var gone *SeatUnavailableError
			switch {
			case err == nil:
				wins.Add(1)
			case errors.As(err, &busy):
				contended.Add(1)
			case errors.As(err, &gone):
				unavailable.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	if got := wins.Load() + contended.Load() + unavailable.Load(); got != n {
		t.Fatalf("expected %d outcomes, got %d", n, got)
	}
	recs, err := o.ListBookings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one stored booking, got %d", len(recs))
	}
	assertNoLocks(t, l)
}

func TestBookSeatsOppositeOrderWaitDoesNotDeadlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l := lock.NewInMemory()
	o := NewOrchestrator(l, NewInMemoryStore(), WithLockWait(time.Second, time.Millisecond))
	show := newTestShow("s1", 100, "A1", "A2")

	var wins, unavailable atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		ids := []string{"A1", "A2"}
		if i%2 == 1 {
			ids = []string{"A2", "A1"}
		}
		user := &User{ID: fmt.Sprintf("u%d", i)}
		g.Go(func() error {
			_, err := o.BookSeats(ctx, user, show, ids)
			var gone *SeatUnavailableError
			switch {
			case err == nil:
				wins.Add(1)
			case errors.As(err, &gone):
				unavailable.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wins.Load() != 1 || unavailable.Load() != 19 {
		t.Fatalf("expected 1 win and 19 unavailable, got %d and %d", wins.Load(), unavailable.Load())
	}
	assertNoLocks(t, l)
}

func TestBookSeatsContentionReleasesHeldLocks(t *testing.T) {
	ctx := context.Background()
	l := lock.NewInMemory()
	o := NewOrchestrator(l, NewInMemoryStore())
	show := newTestShow("s1", 100, "A1", "A2")

	if ok, err := l.TryLock(ctx, LockKey("s1", "A2"), "other", time.Minute); err != nil || !ok {
		t.Fatalf("prelock: %v ok %v", err, ok)
	}
	_, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1", "A2"})
	var busy *SeatLockContentionError
	if !errors.As(err, &busy) {
		t.Fatalf("expected contention, got %v", err)
	}
	if busy.SeatID != "A2" || busy.ShowID != "s1" {
		t.Fatalf("unexpected contention detail %+v", busy)
	}
	if _, held, _ := l.Holder(ctx, LockKey("s1", "A1")); held {
		t.Fatal("A1 lock should have been rolled back")
	}
	if tok, held, _ := l.Holder(ctx, LockKey("s1", "A2")); !held || tok != "other" {
		t.Fatalf("foreign lock on A2 must survive, holder %q held %v", tok, held)
	}
	for _, id := range []string{"A1", "A2"} {
		if s, _ := show.Seat(id); !s.Available() {
			t.Fatalf("seat %s must stay available", id)
		}
	}
}

func TestBookSeatsWaitTimeoutIsContention(t *testing.T) {
	ctx := context.Background()
	l := lock.NewInMemory()
	o := NewOrchestrator(l, NewInMemoryStore(), WithLockWait(20*time.Millisecond, 5*time.Millisecond))
	show := newTestShow("s1", 100, "A1")

	if ok, _ := l.TryLock(ctx, LockKey("s1", "A1"), "other", time.Minute); !ok {
		t.Fatal("prelock failed")
	}
	_, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1"})
	var busy *SeatLockContentionError
	if !errors.As(err, &busy) {
		t.Fatalf("expected contention after wait, got %v", err)
	}
}

func TestBookSeatsUnavailableLeavesOthersUntouched(t *testing.T) {
	ctx := context.Background()
	l := lock.NewInMemory()
	o := NewOrchestrator(l, NewInMemoryStore())
	show := newTestShow("s1", 100, "A1", "A2", "A3")

	if _, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A2"}); err != nil {
		t.Fatalf("first book: %v", err)
	}
	_, err := o.BookSeats(ctx, &User{ID: "u2"}, show, []string{"A1", "A2", "A3"})
	var gone *SeatUnavailableError
	if !errors.As(err, &gone) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if len(gone.SeatIDs) != 1 || gone.SeatIDs[0] != "A2" {
		t.Fatalf("unexpected unavailable seats %v", gone.SeatIDs)
	}
	for _, id := range []string{"A1", "A3"} {
		if s, _ := show.Seat(id); !s.Available() {
			t.Fatalf("seat %s must stay available", id)
		}
	}
	assertNoLocks(t, l)
}

func TestBookSeatsValidation(t *testing.T) {
	ctx := context.Background()
	l := lock.NewInMemory()
	o := NewOrchestrator(l, NewInMemoryStore())
	show := newTestShow("s1", 100, "A1", "A2")
	user := &User{ID: "u1"}

	if _, err := o.BookSeats(ctx, nil, show, []string{"A1"}); !errors.Is(err, ErrNilUser) {
		t.Fatalf("expected ErrNilUser, got %v", err)
	}
	if _, err := o.BookSeats(ctx, user, nil, []string{"A1"}); !errors.Is(err, ErrNilShow) {
		t.Fatalf("expected ErrNilShow, got %v", err)
	}
	if _, err := o.BookSeats(ctx, user, show, nil); !errors.Is(err, ErrNoSeats) {
		t.Fatalf("expected ErrNoSeats, got %v", err)
	}
	if _, err := o.BookSeats(ctx, user, show, []string{"A1", "A1"}); !errors.Is(err, ErrDuplicateSeat) {
		t.Fatalf("expected ErrDuplicateSeat, got %v", err)
	}
	_, err := o.BookSeats(ctx, user, show, []string{"A1", "Z9"})
	var unknown *UnknownSeatError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected unknown seat, got %v", err)
	}
	if len(unknown.SeatIDs) != 1 || unknown.SeatIDs[0] != "Z9" {
		t.Fatalf("unexpected unknown seats %v", unknown.SeatIDs)
	}
	if s, _ := show.Seat("A1"); !s.Available() {
		t.Fatal("A1 must stay available after a rejected request")
	}
	assertNoLocks(t, l)
}

func TestBookSeatsStoreFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	l := lock.NewInMemory()
	store := &failingStore{InMemoryStore: NewInMemoryStore()}
	store.fail.Store(true)
	o := NewOrchestrator(l, store)
	show := newTestShow("s1", 100, "A1", "A2")

	if _, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1", "A2"}); err == nil {
		t.Fatal("expected store error")
	}
	for _, id := range []string{"A1", "A2"} {
		if s, _ := show.Seat(id); !s.Available() {
			t.Fatalf("seat %s must be rolled back", id)
		}
	}
	assertNoLocks(t, l)

	store.fail.Store(false)
	if _, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1", "A2"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestBookSeatsLockError(t *testing.T) {
	o := NewOrchestrator(brokenLocker{}, NewInMemoryStore())
	show := newTestShow("s1", 100, "A1")
	_, err := o.BookSeats(context.Background(), &User{ID: "u1"}, show, []string{"A1"})
	if err == nil {
		t.Fatal("expected lock error")
	}
	var busy *SeatLockContentionError
	if errors.As(err, &busy) {
		t.Fatalf("backend failure must not look like contention: %v", err)
	}
	if s, _ := show.Seat("A1"); !s.Available() {
		t.Fatal("A1 must stay available")
	}
}

func TestBookSeatsRecoversAfterLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := lock.NewInMemory(lock.WithClock(clock.Now))
	o := NewOrchestrator(l, NewInMemoryStore(), WithLockTTL(time.Second))
	show := newTestShow("s1", 100, "A1")

	// a holder that died without releasing
	if ok, _ := l.TryLock(ctx, LockKey("s1", "A1"), "crashed", time.Second); !ok {
		t.Fatal("prelock failed")
	}
	if _, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1"}); err == nil {
		t.Fatal("expected contention while lease is live")
	}
	clock.Advance(2 * time.Second)
	if _, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1"}); err != nil {
		t.Fatalf("book after expiry: %v", err)
	}
}

func TestCancelBooking(t *testing.T) {
	ctx := context.Background()
	l := lock.NewInMemory()
	store := NewInMemoryStore()
	o := NewOrchestrator(l, store)
	show := newTestShow("s1", 150, "A1", "A2")

	b, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1", "A2"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if err := o.CancelBooking(ctx, b.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	rec, err := o.Booking(ctx, b.ID)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if rec.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", rec.Status)
	}
	for _, id := range []string{"A1", "A2"} {
		if s, _ := show.Seat(id); !s.Available() {
			t.Fatalf("seat %s should be available after cancel", id)
		}
	}
	assertNoLocks(t, l)

	var bad *InvalidTransitionError
	if err := o.CancelBooking(ctx, b.ID); !errors.As(err, &bad) {
		t.Fatalf("expected invalid transition on second cancel, got %v", err)
	}
	var missing *BookingNotFoundError
	if err := o.CancelBooking(ctx, "nope"); !errors.As(err, &missing) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := o.BookSeats(ctx, &User{ID: "u2"}, show, []string{"A2", "A1"}); err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}
}

func TestCancelBookingContention(t *testing.T) {
	ctx := context.Background()
	l := lock.NewInMemory()
	o := NewOrchestrator(l, NewInMemoryStore())
	show := newTestShow("s1", 100, "A1")

	b, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if ok, _ := l.TryLock(ctx, LockKey("s1", "A1"), "other", time.Minute); !ok {
		t.Fatal("prelock failed")
	}
	var busy *SeatLockContentionError
	if err := o.CancelBooking(ctx, b.ID); !errors.As(err, &busy) {
		t.Fatalf("expected contention, got %v", err)
	}
	if rec, _ := o.Booking(ctx, b.ID); rec.Status != StatusConfirmed {
		t.Fatalf("booking must stay confirmed, got %s", rec.Status)
	}
	if s, _ := show.Seat("A1"); s.Available() {
		t.Fatal("A1 must stay booked")
	}
}

func TestCancelBookingStoreFailureKeepsSeats(t *testing.T) {
	ctx := context.Background()
	l := lock.NewInMemory()
	store := &failingStore{InMemoryStore: NewInMemoryStore()}
	o := NewOrchestrator(l, store)
	show := newTestShow("s1", 100, "A1")

	b, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	store.fail.Store(true)
	if err := o.CancelBooking(ctx, b.ID); err == nil {
		t.Fatal("expected store error")
	}
	if s, _ := show.Seat("A1"); s.Available() {
		t.Fatal("A1 must stay booked when the cancel is not persisted")
	}
	assertNoLocks(t, l)
}

func TestCancelBookingUnknownShow(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	o := NewOrchestrator(lock.NewInMemory(), store)
	if err := store.Save(ctx, Record{ID: "b1", ShowID: "ghost", SeatIDs: []string{"A1"}, Status: StatusConfirmed}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := o.CancelBooking(ctx, "b1"); !errors.Is(err, ErrShowNotFound) {
		t.Fatalf("expected ErrShowNotFound, got %v", err)
	}
}

func TestListBookingsOrdered(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ids := []string{"b-c", "b-a", "b-b"}
	var next atomic.Int32
	o := NewOrchestrator(lock.NewInMemory(), NewInMemoryStore(),
		WithClock(clock.Now),
		WithIDGenerator(func() string { return ids[next.Add(1)-1] }),
	)
	show := newTestShow("s1", 100, "A1", "A2", "A3")
	for _, seat := range []string{"A1", "A2", "A3"} {
		if _, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{seat}); err != nil {
			t.Fatalf("book %s: %v", seat, err)
		}
		clock.Advance(time.Minute)
	}
	recs, err := o.ListBookings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 bookings, got %d", len(recs))
	}
	for i, want := range ids {
		if recs[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, recs[i].ID)
		}
	}
}

func TestBookingEventsPublished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := events.NewInMemoryBus()
	o := NewOrchestrator(lock.NewInMemory(), NewInMemoryStore(), WithPublisher(bus))
	show := newTestShow("s1", 250, "A1", "A2")

	ch, err := bus.Watch(ctx, "s1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	b, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1", "A2"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	select {
	case e := <-ch:
		if e.Type != events.TypeBookingConfirmed || e.BookingID != b.ID || e.Total != 500 {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for confirmed event")
	}
	if err := o.CancelBooking(ctx, b.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	select {
	case e := <-ch:
		if e.Type != events.TypeBookingCancelled || e.BookingID != b.ID {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cancelled event")
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestOrchestratorMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	o := NewOrchestrator(lock.NewInMemory(), NewInMemoryStore(), WithMetrics(reg))
	show := newTestShow("s1", 100, "A1", "A2")

	b, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	_, _ = o.BookSeats(ctx, &User{ID: "u2"}, show, []string{"A1"})
	_, _ = o.BookSeats(ctx, &User{ID: "u2"}, show, nil)
	if err := o.CancelBooking(ctx, b.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if v := counterValue(t, reg, "reserve_booking_attempts_total", "outcome", "confirmed"); v != 1 {
		t.Fatalf("expected 1 confirmed, got %v", v)
	}
	if v := counterValue(t, reg, "reserve_booking_attempts_total", "outcome", "unavailable"); v != 1 {
		t.Fatalf("expected 1 unavailable, got %v", v)
	}
	if v := counterValue(t, reg, "reserve_booking_attempts_total", "outcome", "invalid"); v != 1 {
		t.Fatalf("expected 1 invalid, got %v", v)
	}
	if v := counterValue(t, reg, "reserve_booking_cancellations_total", "", ""); v != 1 {
		t.Fatalf("expected 1 cancellation, got %v", v)
	}
}

func TestBookSeatsSharedStoreAcrossOrchestrators(t *testing.T) {
	ctx := context.Background()
	l := lock.NewInMemory()
	store := NewInMemoryStore()
	// each orchestrator keeps its own seat state, as separate processes do
	o1 := NewOrchestrator(l, store)
	o2 := NewOrchestrator(l, store)
	show1 := newTestShow("s1", 100, "A1", "A2")
	show2 := newTestShow("s1", 100, "A1", "A2")

	b, err := o1.BookSeats(ctx, &User{ID: "u1"}, show1, []string{"A1"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	var gone *SeatUnavailableError
	if _, err := o2.BookSeats(ctx, &User{ID: "u2"}, show2, []string{"A2", "A1"}); !errors.As(err, &gone) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if len(gone.SeatIDs) != 1 || gone.SeatIDs[0] != "A1" {
		t.Fatalf("unexpected unavailable seats %v", gone.SeatIDs)
	}
	if s, _ := show2.Seat("A1"); s.Available() {
		t.Fatal("A1 should follow the store and read as booked")
	}
	if s, _ := show2.Seat("A2"); !s.Available() {
		t.Fatal("A2 must stay available")
	}
	assertNoLocks(t, l)

	// a cancel through the second orchestrator frees the seat for the first
	if err := o2.CancelBooking(ctx, b.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := o1.BookSeats(ctx, &User{ID: "u3"}, show1, []string{"A1"}); err != nil {
		t.Fatalf("rebook after remote cancel: %v", err)
	}
	confirmed := 0
	recs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, r := range recs {
		if r.Status == StatusConfirmed {
			confirmed++
		}
	}
	if confirmed != 1 {
		t.Fatalf("expected 1 confirmed booking, got %d", confirmed)
	}
}

func TestBookSeatsStoreLookupFailure(t *testing.T) {
	ctx := context.Background()
	l := lock.NewInMemory()
	store := &failingStore{InMemoryStore: NewInMemoryStore()}
	o := NewOrchestrator(l, store)
	show := newTestShow("s1", 100, "A1")

	store.failList.Store(true)
	_, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1"})
	var gone *SeatUnavailableError
	if err == nil || errors.As(err, &gone) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if s, _ := show.Seat("A1"); !s.Available() {
		t.Fatal("A1 must stay available")
	}
	assertNoLocks(t, l)
}

func TestBookingTimestampsFollowClock(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	o := NewOrchestrator(lock.NewInMemory(), NewInMemoryStore(), WithClock(clock.Now))
	show := newTestShow("s1", 100, "A1")

	b, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	rec, err := o.Booking(ctx, b.ID)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if !rec.CreatedAt.Equal(clock.Now()) || !rec.UpdatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("unexpected timestamps created %v updated %v", rec.CreatedAt, rec.UpdatedAt)
	}

	clock.Advance(time.Hour)
	if err := o.CancelBooking(ctx, b.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	rec, err = o.Booking(ctx, b.ID)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if !rec.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected updated %v, got %v", clock.Now(), rec.UpdatedAt)
	}
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func TestRehydrateSeedsSeatsGauge(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	if err := store.Save(ctx, Record{ID: "b1", ShowID: "s1", SeatIDs: []string{"A1", "A2"}, Status: StatusConfirmed}); err != nil {
		t.Fatalf("save: %v", err)
	}
	reg := prometheus.NewRegistry()
	show := newTestShow("s1", 100, "A1", "A2", "A3")
	o := NewOrchestrator(lock.NewInMemory(), store,
		WithCatalog(NewInMemoryCatalog(show)), WithMetrics(reg))

	n, err := o.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 booking restored, got %d", n)
	}
	if v := gaugeValue(t, reg, "reserve_seats_booked"); v != 2 {
		t.Fatalf("expected 2 seats booked, got %v", v)
	}
	if err := o.CancelBooking(ctx, "b1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if v := gaugeValue(t, reg, "reserve_seats_booked"); v != 0 {
		t.Fatalf("expected gauge back to 0, got %v", v)
	}
}

// hookStore fails every Save after running onSave, once onSave is set.
type hookStore struct {
	*InMemoryStore
	onSave func()
}

func (s *hookStore) Save(ctx context.Context, r Record) error {
	if s.onSave != nil {
		s.onSave()
		return errors.New("disk full")
	}
	return s.InMemoryStore.Save(ctx, r)
}

func TestCancelBookingLogsUnrestoredSeats(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	store := &hookStore{InMemoryStore: NewInMemoryStore()}
	o := NewOrchestrator(lock.NewInMemory(), store, WithLogger(logger))
	show := newTestShow("s1", 100, "A1")

	b, err := o.BookSeats(ctx, &User{ID: "u1"}, show, []string{"A1"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	a1, _ := show.Seat("A1")
	// the seat is taken again before the failed cancel can restore it
	store.onSave = func() { _ = a1.Book() }
	if err := o.CancelBooking(ctx, b.ID); err == nil {
		t.Fatal("expected store error")
	}
	out := buf.String()
	if !strings.Contains(out, "seat not restored after failed cancel") || !strings.Contains(out, "seat_id=A1") {
		t.Fatalf("expected unrestored seat logged, got %q", out)
	}
}

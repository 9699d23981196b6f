package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	warperrors "github.com/mirkobrombin/go-reserve/v1/errors"
	"github.com/mirkobrombin/go-reserve/v1/events"
	"github.com/mirkobrombin/go-reserve/v1/lock"
	"github.com/mirkobrombin/go-reserve/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-reserve/v1/booking")

const (
	defaultLockTTL        = 10 * time.Second
	defaultReleaseTimeout = 5 * time.Second
	lockKeyPrefix         = "seat_lock:"
)

// LockKey returns the lock key guarding seatID of showID.
func LockKey(showID, seatID string) string {
	return lockKeyPrefix + showID + ":" + seatID
}

// Orchestrator books and cancels seats under per-seat locks.
type Orchestrator struct {
	locker    lock.Locker
	store     Store
	catalog   Catalog
	publisher events.Publisher
	metrics   *metrics.BookingMetrics
	logger    *slog.Logger

	ttl            time.Duration
	wait           time.Duration
	waitInterval   time.Duration
	releaseTimeout time.Duration

	newID    func() string
	newToken func() (string, error)
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLockTTL sets the lease of every seat lock taken by an attempt.
func WithLockTTL(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithLockWait lets an attempt wait up to timeout for each busy seat lock,
// polling every interval, before reporting contention. Waiting is safe
// because every attempt takes its keys in the same order.
func WithLockWait(timeout, interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.wait = timeout
		o.waitInterval = interval
	}
}

// WithReleaseTimeout bounds the release of an attempt's locks. Releases run
// detached from the caller's context so a cancelled request still frees
// its seats.
func WithReleaseTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.releaseTimeout = d
		}
	}
}

// WithCatalog sets the catalog used to resolve shows when cancelling.
func WithCatalog(c Catalog) Option {
	return func(o *Orchestrator) {
		o.catalog = c
	}
}

// WithPublisher sets where booking events are sent.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics.NewBookingMetrics(reg)
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithIDGenerator overrides how booking ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithTokenGenerator overrides how attempt tokens are generated.
func WithTokenGenerator(fn func() (string, error)) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newToken = fn
		}
	}
}

// WithClock overrides the time source for booking timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator returns an orchestrator reserving seats through locker and
// persisting bookings in store.
func NewOrchestrator(locker lock.Locker, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		locker:         locker,
		store:          store,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		ttl:            defaultLockTTL,
		releaseTimeout: defaultReleaseTimeout,
		newID:          uuid.NewString,
		newToken:       lock.NewToken,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = NewInMemoryStore()
	}
	if o.catalog == nil {
		o.catalog = NewInMemoryCatalog()
	}
	return o
}

// seatLock pairs a seat with its lock key.
type seatLock struct {
	key  string
	seat *Seat
}

func lockOrder(showID string, seats []*Seat) []seatLock {
	out := make([]seatLock, len(seats))
	for i, s := range seats {
		out[i] = seatLock{key: LockKey(showID, s.ID), seat: s}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// BookSeats reserves seatIDs of show for user. It returns the confirmed
// booking, or one of *UnknownSeatError, *SeatLockContentionError,
// *SeatUnavailableError or a wrapped lock/store error. Seats held by a
// confirmed record in the store count as taken even when another process
// booked them. No seat changes state
// unless every requested seat is booked, and every lock taken by the attempt
// is released before BookSeats returns.
func (o *Orchestrator) BookSeats(ctx context.Context, user *User, show *Show, seatIDs []string) (*Booking, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Orchestrator.BookSeats", trace.WithAttributes(
		attribute.Int("reserve.seats", len(seatIDs)),
	))
	defer span.End()

	b, outcome, err := o.bookSeats(ctx, user, show, seatIDs)
	o.metrics.Observe(outcome, len(seatIDs), time.Since(start))
	span.SetAttributes(attribute.String("reserve.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("reserve.booking_id", b.ID))
	o.publish(ctx, events.TypeBookingConfirmed, b.Record())
	return b, nil
}

func (o *Orchestrator) bookSeats(ctx context.Context, user *User, show *Show, seatIDs []string) (*Booking, string, error) {
	seats, err := resolve(user, show, seatIDs)
	if err != nil {
		return nil, metrics.OutcomeInvalid, err
	}
	if c, ok := o.catalog.(*InMemoryCatalog); ok {
		c.addIfMissing(show)
	}
	log := o.logger.With(slog.String("show_id", show.ID), slog.String("user_id", user.ID))

	token, err := o.newToken()
	if err != nil {
		return nil, metrics.OutcomeError, fmt.Errorf("reserve: generate lock token: %w", err)
	}
	order := lockOrder(show.ID, seats)
	if err := o.acquire(ctx, show.ID, order, token); err != nil {
		var busy *SeatLockContentionError
		if errors.As(err, &busy) {
			log.Debug("seat lock busy", slog.String("seat_id", busy.SeatID), slog.String("token", token))
			return nil, metrics.OutcomeContention, err
		}
		log.Warn("seat lock failed", slog.String("token", token), slog.Any("error", err))
		return nil, metrics.OutcomeError, err
	}
	defer o.release(ctx, order, token)

	taken, err := o.reconcile(ctx, show.ID, seats)
	if err != nil {
		log.Warn("booking lookup failed", slog.Any("error", err))
		return nil, metrics.OutcomeError, err
	}
	if len(taken) > 0 {
		log.Info("seats unavailable", slog.Any("seat_ids", taken))
		return nil, metrics.OutcomeUnavailable, &SeatUnavailableError{ShowID: show.ID, SeatIDs: taken}
	}

	b, err := o.commit(ctx, user, show, seats)
	if err != nil {
		var gone *SeatUnavailableError
		if errors.As(err, &gone) {
			return nil, metrics.OutcomeUnavailable, err
		}
		log.Warn("booking commit failed", slog.Any("error", err))
		return nil, metrics.OutcomeError, err
	}
	log.Info("booking confirmed", slog.String("booking_id", b.ID), slog.Int64("total", b.TotalPrice))
	return b, metrics.OutcomeConfirmed, nil
}

func resolve(user *User, show *Show, seatIDs []string) ([]*Seat, error) {
	if user == nil {
		return nil, ErrNilUser
	}
	if show == nil {
		return nil, ErrNilShow
	}
	if len(seatIDs) == 0 {
		return nil, ErrNoSeats
	}
	seen := make(map[string]struct{}, len(seatIDs))
	seats := make([]*Seat, 0, len(seatIDs))
	var missing []string
	for _, id := range seatIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSeat, id)
		}
		seen[id] = struct{}{}
		s, ok := show.Seat(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		seats = append(seats, s)
	}
	if len(missing) > 0 {
		return nil, &UnknownSeatError{ShowID: show.ID, SeatIDs: missing}
	}
	return seats, nil
}

// acquire takes every key of order in sequence. On failure the keys already
// taken are released before returning.
func (o *Orchestrator) acquire(ctx context.Context, showID string, order []seatLock, token string) error {
	for i, sl := range order {
		ok, err := o.tryLock(ctx, sl.key, token)
		if err == nil && ok {
			continue
		}
		o.release(ctx, order[:i], token)
		if err != nil {
			return fmt.Errorf("reserve: lock seat %s: %w", sl.seat.ID, err)
		}
		return &SeatLockContentionError{ShowID: showID, SeatID: sl.seat.ID}
	}
	return nil
}

func (o *Orchestrator) tryLock(ctx context.Context, key, token string) (bool, error) {
	if o.wait <= 0 {
		return o.locker.TryLock(ctx, key, token, o.ttl)
	}
	wctx, cancel := context.WithTimeout(ctx, o.wait)
	defer cancel()
	err := lock.Wait(wctx, o.locker, key, token, o.ttl, o.waitInterval)
	if err == nil {
		return true, nil
	}
	// our own wait budget ran out, the caller's context is still live
	if errors.Is(err, warperrors.ErrTimeout) && ctx.Err() == nil {
		return false, nil
	}
	return false, err
}

// release frees every key of order concurrently. Failures are logged; the
// lease TTL recovers whatever could not be released.
func (o *Orchestrator) release(ctx context.Context, order []seatLock, token string) {
	if len(order) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.releaseTimeout)
	defer cancel()
	var g errgroup.Group
	for _, sl := range order {
		key := sl.key
		g.Go(func() error {
			if err := o.locker.Release(rctx, key, token); err != nil {
				o.logger.Warn("seat lock release failed",
					slog.String("key", key), slog.String("token", token), slog.Any("error", err))
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

// reconcile aligns the local state of seats with the confirmed records of
// showID in the store and returns the ids of the seats those records hold.
// Other processes sharing the store commit without touching our seats, so
// the store decides. The caller must hold the lock of every seat.
func (o *Orchestrator) reconcile(ctx context.Context, showID string, seats []*Seat) ([]string, error) {
	recs, err := o.store.ListByShow(ctx, showID)
	if err != nil {
		return nil, fmt.Errorf("reserve: list bookings of show %s: %w", showID, err)
	}
	held := make(map[string]struct{})
	for _, r := range recs {
		if r.Status != StatusConfirmed {
			continue
		}
		for _, id := range r.SeatIDs {
			held[id] = struct{}{}
		}
	}
	var taken []string
	for _, s := range seats {
		if _, ok := held[s.ID]; ok {
			// already booked is the state we want
			_ = s.Book()
			taken = append(taken, s.ID)
			continue
		}
		// booked here but cancelled through another process
		s.Release()
	}
	return taken, nil
}

// commit books every seat, confirms the booking and persists it. Any
// failure puts the seats booked by this call back to available.
func (o *Orchestrator) commit(ctx context.Context, user *User, show *Show, seats []*Seat) (*Booking, error) {
	booked := make([]*Seat, 0, len(seats))
	rollback := func() {
		for _, s := range booked {
			s.Release()
		}
	}
	for _, s := range seats {
		if err := s.Book(); err != nil {
			rollback()
			return nil, &SeatUnavailableError{ShowID: show.ID, SeatIDs: []string{s.ID}}
		}
		booked = append(booked, s)
	}
	b := newBooking(o.newID(), user, show, seats, o.now())
	b.clock = o.now
	if err := b.Confirm(); err != nil {
		rollback()
		return nil, err
	}
	if err := o.store.Save(ctx, b.Record()); err != nil {
		rollback()
		return nil, fmt.Errorf("reserve: save booking %s: %w", b.ID, err)
	}
	return b, nil
}

// CancelBooking cancels the booking with the given id and returns its seats
// to available. The seats are locked for the duration of the change.
func (o *Orchestrator) CancelBooking(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Orchestrator.CancelBooking", trace.WithAttributes(
		attribute.String("reserve.booking_id", id),
	))
	defer span.End()

	rec, err := o.cancelBooking(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	o.metrics.Cancelled(len(rec.SeatIDs))
	o.publish(ctx, events.TypeBookingCancelled, rec)
	return nil
}

func (o *Orchestrator) cancelBooking(ctx context.Context, id string) (Record, error) {
	rec, err := o.load(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.Status == StatusCancelled {
		return Record{}, &InvalidTransitionError{From: StatusCancelled, To: StatusCancelled}
	}
	show, err := o.catalog.Show(ctx, rec.ShowID)
	if err != nil {
		return Record{}, fmt.Errorf("reserve: resolve show %s of booking %s: %w", rec.ShowID, id, err)
	}
	b, err := restore(rec, show)
	if err != nil {
		return Record{}, err
	}
	b.clock = o.now

	token, err := o.newToken()
	if err != nil {
		return Record{}, fmt.Errorf("reserve: generate lock token: %w", err)
	}
	order := lockOrder(show.ID, b.Seats)
	if err := o.acquire(ctx, show.ID, order, token); err != nil {
		return Record{}, err
	}
	defer o.release(ctx, order, token)

	// a concurrent cancel may have won while we were waiting for the locks
	current, err := o.load(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if current.Status == StatusCancelled {
		return Record{}, &InvalidTransitionError{From: StatusCancelled, To: StatusCancelled}
	}

	if err := b.Cancel(); err != nil {
		return Record{}, err
	}
	out := b.Record()
	if err := o.store.Save(ctx, out); err != nil {
		for _, s := range b.Seats {
			if berr := s.Book(); berr != nil {
				o.logger.Error("seat not restored after failed cancel",
					slog.String("booking_id", id), slog.String("seat_id", s.ID), slog.Any("error", berr))
			}
		}
		return Record{}, fmt.Errorf("reserve: save booking %s: %w", id, err)
	}
	o.logger.Info("booking cancelled", slog.String("booking_id", id), slog.String("show_id", show.ID))
	return out, nil
}

func (o *Orchestrator) load(ctx context.Context, id string) (Record, error) {
	rec, ok, err := o.store.Get(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("reserve: load booking %s: %w", id, err)
	}
	if !ok {
		return Record{}, &BookingNotFoundError{ID: id}
	}
	return rec, nil
}

// Booking returns a snapshot of the booking with the given id.
func (o *Orchestrator) Booking(ctx context.Context, id string) (Record, error) {
	return o.load(ctx, id)
}

// ListBookings returns a snapshot of every booking ordered by creation time.
func (o *Orchestrator) ListBookings(ctx context.Context) ([]Record, error) {
	rs, err := o.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve: list bookings: %w", err)
	}
	SortRecords(rs)
	return rs, nil
}

// Rehydrate marks the seats of the confirmed bookings in the store as
// booked in the catalog and returns the number of bookings applied. It is
// meant to run once at startup. Catalogs other than InMemoryCatalog hold no
// seat state and are left alone.
func (o *Orchestrator) Rehydrate(ctx context.Context) (int, error) {
	c, ok := o.catalog.(*InMemoryCatalog)
	if !ok {
		return 0, nil
	}
	n, seats, err := c.rehydrate(ctx, o.store)
	o.metrics.Restored(seats)
	if err != nil {
		return n, fmt.Errorf("reserve: rehydrate bookings: %w", err)
	}
	return n, nil
}

// Catalog returns the catalog used to resolve shows.
func (o *Orchestrator) Catalog() Catalog {
	return o.catalog
}

func (o *Orchestrator) publish(ctx context.Context, typ string, rec Record) {
	if o.publisher == nil {
		return
	}
	e := events.Event{
		Type:      typ,
		BookingID: rec.ID,
		ShowID:    rec.ShowID,
		UserID:    rec.UserID,
		SeatIDs:   rec.SeatIDs,
		Total:     rec.TotalPrice,
		At:        o.now(),
	}
	if err := o.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		o.logger.Warn("booking event not published",
			slog.String("type", typ), slog.String("booking_id", rec.ID), slog.Any("error", err))
	}
}

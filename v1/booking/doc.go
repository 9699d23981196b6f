// Package booking reserves groups of seats for a show atomically.
//
// The Orchestrator is the only component that mutates seat state. For every
// attempt it derives one lock key per seat, acquires the keys in ascending
// order through a lock.Locker, re-checks availability under the locks,
// commits the booking and releases every key on the way out. The shared key
// order is what keeps concurrent attempts over overlapping seat sets from
// deadlocking.
//
//	o := booking.NewOrchestrator(lock.NewInMemory(), booking.NewInMemoryStore())
//	b, err := o.BookSeats(ctx, user, show, []string{"A1", "A2"})
//	var busy *booking.SeatLockContentionError
//	if errors.As(err, &busy) {
//	    // another attempt holds busy.SeatID, retry later
//	}
package booking

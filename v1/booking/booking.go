package booking

import (
	"fmt"
	"sync"
	"time"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus int

const (
	StatusPending BookingStatus = iota
	StatusConfirmed
	StatusCancelled
)

func (s BookingStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s BookingStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *BookingStatus) UnmarshalText(b []byte) error {
	v, err := ParseBookingStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseBookingStatus converts the String form back to a BookingStatus.
func ParseBookingStatus(v string) (BookingStatus, error) {
	switch v {
	case "pending":
		return StatusPending, nil
	case "confirmed":
		return StatusConfirmed, nil
	case "cancelled":
		return StatusCancelled, nil
	}
	return 0, fmt.Errorf("reserve: unknown booking status %q", v)
}

// User is the customer a booking belongs to.
type User struct {
	ID    string
	Name  string
	Email string
}

// Booking is a reservation of one or more seats of a single show.
// It references seats but does not own them.
type Booking struct {
	ID         string
	User       *User
	Show       *Show
	Seats      []*Seat
	TotalPrice int64
	CreatedAt  time.Time

	mu        sync.RWMutex
	status    BookingStatus
	updatedAt time.Time
	clock     func() time.Time
}

func (b *Booking) stamp() time.Time {
	if b.clock != nil {
		return b.clock()
	}
	return time.Now()
}

func newBooking(id string, user *User, show *Show, seats []*Seat, now time.Time) *Booking {
	return &Booking{
		ID:         id,
		User:       user,
		Show:       show,
		Seats:      seats,
		TotalPrice: int64(len(seats)) * show.PricePerSeat,
		CreatedAt:  now,
		status:     StatusPending,
		updatedAt:  now,
	}
}

// Status returns the current status.
func (b *Booking) Status() BookingStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Confirm moves a pending booking to confirmed.
func (b *Booking) Confirm() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != StatusPending {
		return &InvalidTransitionError{From: b.status, To: StatusConfirmed}
	}
	b.status = StatusConfirmed
	b.updatedAt = b.stamp()
	return nil
}

// Cancel moves the booking to cancelled and returns its seats to available.
// Cancelled is terminal.
func (b *Booking) Cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusCancelled {
		return &InvalidTransitionError{From: b.status, To: StatusCancelled}
	}
	for _, s := range b.Seats {
		s.Release()
	}
	b.status = StatusCancelled
	b.updatedAt = b.stamp()
	return nil
}

// SeatIDs returns the ids of the reserved seats in booking order.
func (b *Booking) SeatIDs() []string {
	ids := make([]string, len(b.Seats))
	for i, s := range b.Seats {
		ids[i] = s.ID
	}
	return ids
}

// Record returns a detached snapshot of the booking.
func (b *Booking) Record() Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r := Record{
		ID:         b.ID,
		SeatIDs:    b.SeatIDs(),
		TotalPrice: b.TotalPrice,
		Status:     b.status,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.updatedAt,
	}
	if b.User != nil {
		r.UserID = b.User.ID
	}
	if b.Show != nil {
		r.ShowID = b.Show.ID
	}
	return r
}

// Record is the flat, serializable form of a booking persisted by stores.
type Record struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	ShowID     string        `json:"show_id"`
	SeatIDs    []string      `json:"seat_ids"`
	TotalPrice int64         `json:"total_price"`
	Status     BookingStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// restore rebuilds a live booking from rec against the seats of show.
func restore(rec Record, show *Show) (*Booking, error) {
	seats := make([]*Seat, 0, len(rec.SeatIDs))
	var missing []string
	for _, id := range rec.SeatIDs {
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
	return &Booking{
		ID:         rec.ID,
		User:       &User{ID: rec.UserID},
		Show:       show,
		Seats:      seats,
		TotalPrice: rec.TotalPrice,
		CreatedAt:  rec.CreatedAt,
		status:     rec.Status,
		updatedAt:  rec.UpdatedAt,
	}, nil
}

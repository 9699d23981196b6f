package booking

import "sync"

// SeatStatus is the reservation state of a seat.
type SeatStatus int

const (
	SeatAvailable SeatStatus = iota
	SeatBooked
)

func (s SeatStatus) String() string {
	switch s {
	case SeatAvailable:
		return "available"
	case SeatBooked:
		return "booked"
	default:
		return "unknown"
	}
}

// Seat is a single bookable place on a screen.
//
// The mutex only makes status reads safe for concurrent goroutines; callers
// must still hold the seat's lock through the Orchestrator before calling
// Book or Release.
type Seat struct {
	ID     string
	Number string

	mu     sync.RWMutex
	status SeatStatus
}

// NewSeat returns an available seat.
func NewSeat(id, number string) *Seat {
	return &Seat{ID: id, Number: number}
}

// Status returns the current status.
func (s *Seat) Status() SeatStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Available reports whether the seat can be booked.
func (s *Seat) Available() bool {
	return s.Status() == SeatAvailable
}

// Book marks the seat as booked.
func (s *Seat) Book() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == SeatBooked {
		return &SeatAlreadyBookedError{SeatID: s.ID}
	}
	s.status = SeatBooked
	return nil
}

// Release makes the seat available again. It is idempotent.
func (s *Seat) Release() {
	s.mu.Lock()
	s.status = SeatAvailable
	s.mu.Unlock()
}

package booking

import "time"

// Movie is the read-only film shown by a Show.
type Movie struct {
	ID       string
	Title    string
	Duration time.Duration
}

// Screen owns an ordered set of seats.
type Screen struct {
	ID   string
	Name string

	seats []*Seat
	index map[string]*Seat
}

// NewScreen returns a screen owning seats in the given order.
func NewScreen(id, name string, seats ...*Seat) *Screen {
	sc := &Screen{ID: id, Name: name, index: make(map[string]*Seat, len(seats))}
	for _, s := range seats {
		sc.seats = append(sc.seats, s)
		sc.index[s.ID] = s
	}
	return sc
}

// Seat returns the seat with the given id.
func (sc *Screen) Seat(id string) (*Seat, bool) {
	s, ok := sc.index[id]
	return s, ok
}

// Seats returns every seat in screen order.
func (sc *Screen) Seats() []*Seat {
	if sc == nil {
		return nil
	}
	return append([]*Seat(nil), sc.seats...)
}

// Show is a screening of a movie on a screen at a fixed price per seat.
type Show struct {
	ID           string
	Movie        *Movie
	Screen       *Screen
	StartsAt     time.Time
	PricePerSeat int64
}

// Seat returns the seat with the given id on the show's screen.
func (sh *Show) Seat(id string) (*Seat, bool) {
	if sh.Screen == nil {
		return nil, false
	}
	return sh.Screen.Seat(id)
}

// Seats returns every seat of the show's screen in screen order.
func (sh *Show) Seats() []*Seat {
	return sh.Screen.Seats()
}

// AvailableSeats returns the available seats in screen order.
func (sh *Show) AvailableSeats() []*Seat {
	if sh.Screen == nil {
		return nil
	}
	var out []*Seat
	for _, s := range sh.Screen.seats {
		if s.Available() {
			out = append(out, s)
		}
	}
	return out
}

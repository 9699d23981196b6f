package booking

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSeats is returned when a booking request names no seats.
	ErrNoSeats = errors.New("reserve: no seats requested")
	// ErrDuplicateSeat is returned when a request names the same seat twice.
	ErrDuplicateSeat = errors.New("reserve: seat requested more than once")
	// ErrNilShow is returned when a booking request carries no show.
	ErrNilShow = errors.New("reserve: show is required")
	// ErrNilUser is returned when a booking request carries no user.
	ErrNilUser = errors.New("reserve: user is required")
	// ErrShowNotFound is returned by catalogs for unknown shows.
	ErrShowNotFound = errors.New("reserve: show not found")
)

// SeatAlreadyBookedError is returned by Seat.Book for a seat that is taken.
type SeatAlreadyBookedError struct {
	SeatID string
}

func (e *SeatAlreadyBookedError) Error() string {
	return fmt.Sprintf("reserve: seat %s is already booked", e.SeatID)
}

// SeatLockContentionError reports a seat whose lock is held by a concurrent
// attempt. The whole request may be retried later.
type SeatLockContentionError struct {
	ShowID string
	SeatID string
}

func (e *SeatLockContentionError) Error() string {
	return fmt.Sprintf("reserve: seat %s of show %s is locked by another booking", e.SeatID, e.ShowID)
}

// SeatUnavailableError reports seats found booked once every lock was held.
type SeatUnavailableError struct {
	ShowID  string
	SeatIDs []string
}

func (e *SeatUnavailableError) Error() string {
	return fmt.Sprintf("reserve: seats %s of show %s are not available", strings.Join(e.SeatIDs, ","), e.ShowID)
}

// UnknownSeatError reports requested seat ids missing from the show's screen.
type UnknownSeatError struct {
	ShowID  string
	SeatIDs []string
}

func (e *UnknownSeatError) Error() string {
	return fmt.Sprintf("reserve: seats %s do not exist in show %s", strings.Join(e.SeatIDs, ","), e.ShowID)
}

// BookingNotFoundError reports a booking id unknown to the store.
type BookingNotFoundError struct {
	ID string
}

func (e *BookingNotFoundError) Error() string {
	return fmt.Sprintf("reserve: booking %s not found", e.ID)
}

// InvalidTransitionError reports a booking state change the state machine forbids.
type InvalidTransitionError struct {
	From BookingStatus
	To   BookingStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("reserve: booking cannot move from %s to %s", e.From, e.To)
}

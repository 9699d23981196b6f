// Package events streams booking notifications. Publishers receive one
// Event per confirmed or cancelled booking; a Bus additionally lets clients
// watch the events of a single show, locally, over NATS, or through the
// SSE and WebSocket handlers.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event types.
const (
	TypeBookingConfirmed = "booking.confirmed"
	TypeBookingCancelled = "booking.cancelled"
)

// Event describes a change of a booking.
type Event struct {
	Type      string    `json:"type"`
	BookingID string    `json:"booking_id"`
	ShowID    string    `json:"show_id"`
	UserID    string    `json:"user_id"`
	SeatIDs   []string  `json:"seat_ids"`
	Total     int64     `json:"total"`
	At        time.Time `json:"at"`
}

// Encode returns the JSON wire form of e.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses the JSON wire form produced by Encode.
func Decode(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publisher delivers booking events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Bus is a Publisher whose events can be watched per show.
type Bus interface {
	Publisher
	// Watch subscribes to the events of showID. The channel receives events
	// until ctx is cancelled or Unwatch is called.
	Watch(ctx context.Context, showID string) (chan Event, error)
	// Unwatch stops delivering events for showID to ch.
	Unwatch(ctx context.Context, showID string, ch chan Event) error
}

// Multi fans an event out to several publishers and returns the first error.
type Multi []Publisher

// Publish implements Publisher.Publish.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

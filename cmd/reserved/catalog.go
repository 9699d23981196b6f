package main

import (
	"fmt"
	"time"

	"github.com/mirkobrombin/go-reserve/v1/booking"
)

// demoCatalog returns two shows on separate screens with rows A to E of ten
// seats each.
func demoCatalog(now time.Time) *booking.InMemoryCatalog {
	movie := &booking.Movie{ID: "m-1", Title: "The Long Night", Duration: 128 * time.Minute}
	day := now.Truncate(24 * time.Hour)
	return booking.NewInMemoryCatalog(
		&booking.Show{
			ID:           "show-1",
			Movie:        movie,
			Screen:       demoScreen("screen-1", "Screen 1"),
			StartsAt:     day.Add(18 * time.Hour),
			PricePerSeat: 200,
		},
		&booking.Show{
			ID:           "show-2",
			Movie:        movie,
			Screen:       demoScreen("screen-2", "Screen 2"),
			StartsAt:     day.Add(21 * time.Hour),
			PricePerSeat: 250,
		},
	)
}

func demoScreen(id, name string) *booking.Screen {
	var seats []*booking.Seat
	for _, row := range "ABCDE" {
		for n := 1; n <= 10; n++ {
			sid := fmt.Sprintf("%c%d", row, n)
			seats = append(seats, booking.NewSeat(sid, sid))
		}
	}
	return booking.NewScreen(id, name, seats...)
}

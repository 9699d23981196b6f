package booking

import (
	"context"
	"sort"
	"sync"
)

// Catalog resolves shows by id. The catalog is read-only from the point of
// view of the orchestrator; seat layout and pricing come from here.
type Catalog interface {
	Show(ctx context.Context, id string) (*Show, error)
}

// InMemoryCatalog is a Catalog holding live Show values.
type InMemoryCatalog struct {
	mu    sync.RWMutex
	shows map[string]*Show
}

// NewInMemoryCatalog returns a catalog seeded with shows.
func NewInMemoryCatalog(shows ...*Show) *InMemoryCatalog {
	c := &InMemoryCatalog{shows: make(map[string]*Show)}
	for _, sh := range shows {
		c.Add(sh)
	}
	return c
}

// Add registers sh, replacing any show with the same id.
func (c *InMemoryCatalog) Add(sh *Show) {
	c.mu.Lock()
	c.shows[sh.ID] = sh
	c.mu.Unlock()
}

// addIfMissing registers sh unless a show with that id is known.
func (c *InMemoryCatalog) addIfMissing(sh *Show) {
	c.mu.Lock()
	if _, ok := c.shows[sh.ID]; !ok {
		c.shows[sh.ID] = sh
	}
	c.mu.Unlock()
}

// Show implements Catalog.Show.
func (c *InMemoryCatalog) Show(ctx context.Context, id string) (*Show, error) {
	c.mu.RLock()
	sh, ok := c.shows[id]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrShowNotFound
	}
	return sh, nil
}

// Shows returns every show ordered by id.
func (c *InMemoryCatalog) Shows() []*Show {
	c.mu.RLock()
	out := make([]*Show, 0, len(c.shows))
	for _, sh := range c.shows {
		out = append(out, sh)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Rehydrate marks the seats of every confirmed record in store as booked.
// It is meant to run once at startup, before any booking attempt, and
// returns the number of bookings applied. Records of unknown shows are
// skipped.
func (c *InMemoryCatalog) Rehydrate(ctx context.Context, store Store) (int, error) {
	n, _, err := c.rehydrate(ctx, store)
	return n, err
}

// rehydrate is Rehydrate also reporting how many seats were marked booked.
func (c *InMemoryCatalog) rehydrate(ctx context.Context, store Store) (bookings, seats int, err error) {
	rs, err := store.List(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, r := range rs {
		if r.Status != StatusConfirmed {
			continue
		}
		sh, err := c.Show(ctx, r.ShowID)
		if err != nil {
			continue
		}
		b, err := restore(r, sh)
		if err != nil {
			return bookings, seats, err
		}
		for _, s := range b.Seats {
			if s.Book() == nil {
				seats++
			}
		}
		bookings++
	}
	return bookings, seats, nil
}

package booking

import (
	"context"
	"sort"
	"sync"
)

// Store persists booking records.
type Store interface {
	// Save inserts or replaces the record with the same id.
	Save(ctx context.Context, r Record) error
	// Get returns the record for id. The boolean reports whether it exists.
	Get(ctx context.Context, id string) (Record, bool, error)
	// List returns every stored record.
	List(ctx context.Context) ([]Record, error)
	// ListByShow returns the records of a single show.
	ListByShow(ctx context.Context, showID string) ([]Record, error)
}

// InMemoryStore is a Store backed by a map.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewInMemoryStore returns a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

// Save implements Store.Save.
func (s *InMemoryStore) Save(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.SeatIDs = append([]string(nil), r.SeatIDs...)
	s.mu.Lock()
	s.records[r.ID] = r
	s.mu.Unlock()
	return nil
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(ctx context.Context, id string) (Record, bool, error) {
	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false, nil
	}
	r.SeatIDs = append([]string(nil), r.SeatIDs...)
	return r, true, nil
}

// List implements Store.List.
func (s *InMemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		r.SeatIDs = append([]string(nil), r.SeatIDs...)
		out = append(out, r)
	}
	s.mu.RUnlock()
	return out, nil
}

// ListByShow implements Store.ListByShow.
func (s *InMemoryStore) ListByShow(ctx context.Context, showID string) ([]Record, error) {
	s.mu.RLock()
	var out []Record
	for _, r := range s.records {
		if r.ShowID != showID {
			continue
		}
		r.SeatIDs = append([]string(nil), r.SeatIDs...)
		out = append(out, r)
	}
	s.mu.RUnlock()
	return out, nil
}

// SortRecords orders records by creation time, then id.
func SortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

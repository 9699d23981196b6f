package lock

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	token  string
	expiry time.Time
}

// InMemory implements Locker using local memory. It stands in for the
// shared store when every caller lives in the same process.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]entry
	opts    options
}

// NewInMemory returns a new in-memory locker.
func NewInMemory(opts ...Option) *InMemory {
	return &InMemory{
		entries: make(map[string]entry),
		opts:    buildOptions(opts),
	}
}

// TryLock implements Locker.TryLock.
func (l *InMemory) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := validate(token, ttl); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, ctxErr(err)
	}
	now := l.opts.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok && now.Before(e.expiry) {
		return false, nil
	}
	l.entries[key] = entry{token: token, expiry: now.Add(ttl)}
	return true, nil
}

// Release implements Locker.Release.
func (l *InMemory) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return nil
	}
	if !l.opts.unfenced && e.token != token {
		return nil
	}
	delete(l.entries, key)
	return nil
}

// Holder implements Inspector.Holder.
func (l *InMemory) Holder(ctx context.Context, key string) (string, bool, error) {
	now := l.opts.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || !now.Before(e.expiry) {
		return "", false, nil
	}
	return e.token, true, nil
}

// Sweep drops expired entries and returns how many were removed.
func (l *InMemory) Sweep() int {
	now := l.opts.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, e := range l.entries {
		if !now.Before(e.expiry) {
			delete(l.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of live entries.
func (l *InMemory) Len() int {
	now := l.opts.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if now.Before(e.expiry) {
			n++
		}
	}
	return n
}

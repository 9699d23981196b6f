package events

import (
	"context"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

const defaultNATSSubjectPrefix = "booking.show."

type natsSubscription struct {
	sub   *nats.Subscription
	chans []chan Event
}

// NATSBus implements Bus using a NATS backend.
type NATSBus struct {
	conn      *nats.Conn
	prefix    string
	mu        sync.Mutex
	subs      map[string]*natsSubscription
	published uint64
	delivered uint64
}

// NATSOption configures a NATSBus.
type NATSOption func(*NATSBus)

// WithSubjectPrefix changes the subject prefix events are published under.
func WithSubjectPrefix(prefix string) NATSOption {
	return func(b *NATSBus) {
		b.prefix = prefix
	}
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn, opts ...NATSOption) *NATSBus {
	b := &NATSBus{
		conn:   conn,
		prefix: defaultNATSSubjectPrefix,
		subs:   make(map[string]*natsSubscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *NATSBus) subject(showID string) string {
	return b.prefix + showID
}

// Publish implements Publisher.Publish.
func (b *NATSBus) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := e.Encode()
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject(e.ShowID), data); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	return nil
}

// Watch implements Bus.Watch.
func (b *NATSBus) Watch(ctx context.Context, showID string) (chan Event, error) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	sub := b.subs[showID]
	if sub == nil {
		ns, err := b.conn.Subscribe(b.subject(showID), func(m *nats.Msg) {
			e, err := Decode(m.Data)
			if err != nil {
				return
			}
			b.mu.Lock()
			defer b.mu.Unlock()
			s := b.subs[showID]
			if s == nil {
				return
			}
			for _, c := range s.chans {
				select {
				case c <- e:
					atomic.AddUint64(&b.delivered, 1)
				default:
				}
			}
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub = &natsSubscription{sub: ns}
		b.subs[showID] = sub
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	// make sure the server registered the interest before returning
	if err := b.conn.Flush(); err != nil {
		_ = b.Unwatch(context.Background(), showID, ch)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		_ = b.Unwatch(context.Background(), showID, ch)
	}()
	return ch, nil
}

// Unwatch implements Bus.Unwatch.
func (b *NATSBus) Unwatch(ctx context.Context, showID string, ch chan Event) error {
	b.mu.Lock()
	sub := b.subs[showID]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	for i, c := range sub.chans {
		if c == ch {
			sub.chans[i] = sub.chans[len(sub.chans)-1]
			sub.chans = sub.chans[:len(sub.chans)-1]
			close(c)
			break
		}
	}
	if len(sub.chans) == 0 {
		delete(b.subs, showID)
		b.mu.Unlock()
		return sub.sub.Unsubscribe()
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}

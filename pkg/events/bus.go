package events

import (
	"sync"
	"sync/atomic"

	"github.com/networktap/networktap/internal/logger"
	"github.com/networktap/networktap/pkg/metrics"
)

const (
	// RingSize is how many recent events are kept per source for
	// late-subscriber replay.
	RingSize = 256

	// SubscriberBuffer is the bounded per-subscriber channel capacity.
	SubscriberBuffer = 256
)

// Bus is the in-process alert fan-out. Publish never blocks: a slow
// subscriber loses its oldest queued events rather than stalling the
// producer.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	rings  map[Source]*ring
	nextID map[Source]uint64
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		rings:  make(map[Source]*ring),
		nextID: make(map[Source]uint64),
	}
}

// Publish assigns the alert its per-source ID, records it in the ring,
// and delivers it to every matching subscriber without blocking.
func (b *Bus) Publish(a Alert) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	b.nextID[a.Source]++
	a.ID = b.nextID[a.Source]

	r, ok := b.rings[a.Source]
	if !ok {
		r = newRing(RingSize)
		b.rings[a.Source] = r
	}
	r.push(a)

	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(string(a.Source)).Inc()

	for _, s := range subs {
		s.deliver(a)
	}
}

// Subscribe registers a new subscriber with a bounded buffer.
func (b *Bus) Subscribe(f Filter) *Subscription {
	s := &Subscription{
		bus: b,
		ch:  make(chan Alert, SubscriberBuffer),
	}
	s.filter.Store(f)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.closed = true
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	metrics.Subscribers.Inc()
	return s
}

// Recent returns up to limit events from the source's ring,
// most-recent-last.
func (b *Bus) Recent(source Source, limit int) []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rings[source]
	if !ok {
		return nil
	}
	return r.snapshot(limit)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches all subscribers and rejects further publishes. Used at
// daemon shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.detach()
	}
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	_, present := b.subs[s]
	delete(b.subs, s)
	b.mu.Unlock()

	if present {
		metrics.Subscribers.Dec()
	}
}

// Subscription is one bounded consumer of the bus.
type Subscription struct {
	bus *Bus
	ch  chan Alert

	// mu serializes deliver against detach so the channel is never
	// written after close.
	mu     sync.Mutex
	closed bool

	filter    atomic.Value // Filter
	dropped   atomic.Uint64
	attempted atomic.Uint64
	lagging   atomic.Bool
}

// C returns the receive channel. It is closed when the subscription is
// closed or the bus shuts down.
func (s *Subscription) C() <-chan Alert {
	return s.ch
}

// SetFilter atomically replaces the subscription filter. Events already
// queued are not re-filtered.
func (s *Subscription) SetFilter(f Filter) {
	s.filter.Store(f)
}

// Dropped returns how many events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Received returns how many delivered events were not subsequently
// dropped; received + dropped always equals the number of events the
// bus attempted to deliver here.
func (s *Subscription) Received() uint64 {
	return s.attempted.Load() - s.dropped.Load()
}

// Close detaches the subscription. Idempotent.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
	s.detach()
}

func (s *Subscription) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// deliver queues the alert, evicting the oldest queued event when the
// buffer is full. Never blocks on the consumer.
func (s *Subscription) deliver(a Alert) {
	f, _ := s.filter.Load().(Filter)
	if !f.Match(a) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for {
		select {
		case s.ch <- a:
			s.attempted.Add(1)
			if s.lagging.Load() && len(s.ch) < SubscriberBuffer/2 {
				s.lagging.Store(false)
			}
			return
		default:
		}

		// Buffer full: evict the oldest queued event and retry.
		select {
		case <-s.ch:
			s.dropped.Add(1)
			metrics.EventsDropped.Inc()
			if s.lagging.CompareAndSwap(false, true) {
				logger.Warn("subscriber lagging, dropping oldest events",
					"source", string(a.Source), "dropped", s.dropped.Load())
			}
		default:
			// Consumer emptied the channel between the two selects;
			// loop and try the send again.
		}
	}
}

// ring is a fixed-size circular buffer of recent alerts.
type ring struct {
	buf  []Alert
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]Alert, size)}
}

func (r *ring) push(a Alert) {
	r.buf[r.next] = a
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// snapshot returns up to limit events, oldest first.
func (r *ring) snapshot(limit int) []Alert {
	var ordered []Alert
	if r.full {
		ordered = append(ordered, r.buf[r.next:]...)
		ordered = append(ordered, r.buf[:r.next]...)
	} else {
		ordered = append(ordered, r.buf[:r.next]...)
	}
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

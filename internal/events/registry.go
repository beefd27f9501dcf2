package events

import (
	"sync"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
)

// Registry fans booking events out to subscribers. Delivery is best-effort:
// a subscriber whose buffer is full is dropped rather than blocking the
// publisher. Per-booking ordering holds because Publish is called from the
// booking's single actor goroutine and each subscriber has its own FIFO
// channel.
type Registry struct {
	mu     sync.Mutex
	subs   map[string][]*subscriber
	buffer int
}

type subscriber struct {
	ch     chan models.Event
	closed bool
}

func NewRegistry(buffer int) *Registry {
	if buffer <= 0 {
		buffer = 16
	}
	return &Registry{subs: make(map[string][]*subscriber), buffer: buffer}
}

// Subscribe registers interest in a booking. The returned cancel func is safe
// to call more than once and after the stream is closed.
func (r *Registry) Subscribe(bookingID string) (<-chan models.Event, func()) {
	s := &subscriber{ch: make(chan models.Event, r.buffer)}
	r.mu.Lock()
	r.subs[bookingID] = append(r.subs[bookingID], s)
	r.mu.Unlock()
	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.remove(bookingID, s)
	}
	return s.ch, cancel
}

// Publish delivers ev to every subscriber of the booking. Slow subscribers
// (full buffer) are dropped; the publisher never blocks.
func (r *Registry) Publish(bookingID string, ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var slow []*subscriber
	for _, s := range r.subs[bookingID] {
		select {
		case s.ch <- ev:
		default:
			slow = append(slow, s)
		}
	}
	for _, s := range slow {
		observability.EventsDropped.Inc()
		r.remove(bookingID, s)
	}
}

// Close tears down every subscription for a booking, closing their channels
// after any buffered events are left to drain.
func (r *Registry) Close(bookingID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs[bookingID] {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
	delete(r.subs, bookingID)
}

// remove must be called with r.mu held.
func (r *Registry) remove(bookingID string, s *subscriber) {
	subs := r.subs[bookingID]
	for i, cur := range subs {
		if cur == s {
			r.subs[bookingID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	if len(r.subs[bookingID]) == 0 {
		delete(r.subs, bookingID)
	}
}

// Package events provides the publish-subscribe bus carrying player
// notifications to SSE clients.
//
// Status events are snapshots: a subscriber only needs the newest one, so
// an undelivered status is replaced by the next instead of queueing behind
// it. Discrete events (eos, seek_complete, route) keep their order and are
// only dropped when a subscriber falls maxPending events behind.
package events

import (
	"log/slog"
	"sync"

	"github.com/micro-nova/lpaplayer/internal/models"
)

const maxPending = 8

// subscriber owns a pending queue drained into out by its own goroutine,
// so Publish never waits on a reader.
type subscriber struct {
	mu      sync.Mutex
	pending []models.Event
	wake    chan struct{}
	done    chan struct{}
	out     chan models.Event
}

func newSubscriber() *subscriber {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan models.Event),
	}
	go s.pump()
	return s
}

// push queues ev, coalescing status snapshots. It reports false when the
// event had to be dropped.
func (s *subscriber) push(ev models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Kind == models.EventStatus {
		// the newer snapshot goes behind any discrete event queued since
		s.dropStatusLocked()
	}
	if len(s.pending) >= maxPending && !s.dropStatusLocked() {
		return false
	}
	s.pending = append(s.pending, ev)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// dropStatusLocked frees a slot by discarding the queued status snapshot.
func (s *subscriber) dropStatusLocked() bool {
	for i := range s.pending {
		if s.pending[i].Kind == models.EventStatus {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (s *subscriber) next() (models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return models.Event{}, false
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, true
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		ev, ok := s.next()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

// Bus is a non-blocking publish-subscribe event bus.
// Publishers never block on slow subscribers, so the player stages can
// publish directly.
type Bus struct {
	mu   sync.Mutex
	subs map[string]*subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]*subscriber),
	}
}

// Subscribe creates a new subscription with the given ID.
// Call Unsubscribe when done to clean up.
func (b *Bus) Subscribe(id string) <-chan models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[id]; ok {
		close(old.done)
	}
	s := newSubscriber()
	b.subs[id] = s
	return s.out
}

// Unsubscribe removes a subscription. Its channel is closed once the
// subscriber goroutine exits; events still pending are discarded.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(s.done)
	}
}

// Publish queues ev for every subscriber.
func (b *Bus) Publish(ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		if !s.push(ev) {
			slog.Debug("events: subscriber behind, event dropped", "id", id, "kind", ev.Kind)
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Package route delivers audio route notifications: whether playback
// should go to the local device or to a connected remote (Bluetooth) sink.
package route

import "sync"

// Event is a route change notification.
type Event struct {
	Remote bool   `json:"remote"`
	Device string `json:"device,omitempty"`
}

// Listener receives route events. It must not block for long.
type Listener func(Event)

// Notifier is the registration surface the controller consumes.
type Notifier interface {
	Subscribe(l Listener) int
	Unsubscribe(id int)
}

// Hub fans route events out to registered listeners.
type Hub struct {
	mu        sync.Mutex
	next      int
	listeners map[int]Listener
	last      Event
}

// NewHub creates an empty hub in the local route.
func NewHub() *Hub {
	return &Hub{listeners: make(map[int]Listener)}
}

// Subscribe registers l and returns its id.
func (h *Hub) Subscribe(l Listener) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.listeners[h.next] = l
	return h.next
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, id)
}

// Publish delivers ev to every listener. Listeners run on the caller's
// goroutine, outside the hub lock.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	h.last = ev
	ls := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		ls = append(ls, l)
	}
	h.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// Current returns the most recently published event.
func (h *Hub) Current() Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Count returns the number of listeners.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

package events_test

import (
	"testing"
	"time"

	"github.com/micro-nova/lpaplayer/internal/events"
	"github.com/micro-nova/lpaplayer/internal/models"
)

func recv(t *testing.T, ch <-chan models.Event) models.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.Event{}
}

func status(pos int64) models.Event {
	return models.Event{Kind: models.EventStatus, Status: models.Status{PositionUs: pos}}
}

func TestBusSubscribePublish(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test1")
	defer bus.Unsubscribe("test1")

	bus.Publish(models.Event{Kind: models.EventEOS, Status: models.Status{PositionUs: 42}})

	if got := recv(t, ch); got.Kind != models.EventEOS || got.Status.PositionUs != 42 {
		t.Errorf("got %+v, want eos event at 42us", got)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test-unsub")
	bus.Publish(status(1))

	bus.Unsubscribe("test-unsub")

	// Channel should be closed; pending events may or may not arrive first
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for channel close")
		}
	}
}

func TestBusCoalescesStatus(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("slow-reader")
	defer bus.Unsubscribe("slow-reader")

	// Publish many snapshots without reading; must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(status(int64(i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// At most one older snapshot was already handed to the pump.
	received := 0
	for {
		ev := recv(t, ch)
		received++
		if ev.Status.PositionUs == 99 {
			break
		}
	}
	if received > 2 {
		t.Errorf("received %d status events, want the latest snapshot after at most one older one", received)
	}
}

func TestBusKeepsDiscreteEventsInOrder(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("s")
	defer bus.Unsubscribe("s")

	bus.Publish(status(1))
	bus.Publish(models.Event{Kind: models.EventSeekComplete})
	bus.Publish(status(2))
	bus.Publish(models.Event{Kind: models.EventEOS})
	bus.Publish(status(3))

	var kinds []string
	for {
		ev := recv(t, ch)
		kinds = append(kinds, ev.Kind)
		if ev.Kind == models.EventStatus && ev.Status.PositionUs == 3 {
			break
		}
	}
	seek, eos := -1, -1
	for i, k := range kinds {
		switch k {
		case models.EventSeekComplete:
			seek = i
		case models.EventEOS:
			eos = i
		}
	}
	if seek < 0 || eos < 0 || seek > eos {
		t.Errorf("kinds = %v, want seek_complete then eos before the final status", kinds)
	}
}

func TestBusDropsWhenDiscreteBacklogFull(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("s")
	defer bus.Unsubscribe("s")

	for i := 0; i < 20; i++ {
		bus.Publish(models.Event{Kind: models.EventRoute, Status: models.Status{PositionUs: int64(i)}})
	}
	got := 0
	for {
		select {
		case <-ch:
			got++
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	// the backlog plus one event already held by the pump
	if got < 8 || got > 9 {
		t.Errorf("received %d route events, want 8 or 9", got)
	}
}

func TestBusSubscriberCount(t *testing.T) {
	bus := events.NewBus()
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
	bus.Subscribe("s1")
	bus.Subscribe("s2")
	if n := bus.SubscriberCount(); n != 2 {
		t.Errorf("expected 2 subscribers, got %d", n)
	}
	bus.Unsubscribe("s1")
	if n := bus.SubscriberCount(); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}
	bus.Unsubscribe("s2")
}

package route_test

import (
	"testing"

	"github.com/micro-nova/lpaplayer/internal/route"
)

func TestHub_SubscribePublish(t *testing.T) {
	h := route.NewHub()
	var a, b []route.Event
	idA := h.Subscribe(func(ev route.Event) { a = append(a, ev) })
	h.Subscribe(func(ev route.Event) { b = append(b, ev) })

	h.Publish(route.Event{Remote: true, Device: "dev"})
	if len(a) != 1 || len(b) != 1 || !a[0].Remote {
		t.Fatalf("after publish a=%v b=%v", a, b)
	}

	h.Unsubscribe(idA)
	h.Publish(route.Event{Remote: false})
	if len(a) != 1 {
		t.Errorf("unsubscribed listener got %d events, want 1", len(a))
	}
	if len(b) != 2 {
		t.Errorf("listener got %d events, want 2", len(b))
	}
	if h.Current().Remote {
		t.Error("Current() = remote, want local")
	}
	if h.Count() != 1 {
		t.Errorf("Count() = %d, want 1", h.Count())
	}
}

func TestHub_UnsubscribeUnknown(t *testing.T) {
	h := route.NewHub()
	h.Unsubscribe(42)
	if h.Count() != 0 {
		t.Errorf("Count() = %d, want 0", h.Count())
	}
}

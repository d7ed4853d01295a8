package controller_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/micro-nova/lpaplayer/internal/config"
	"github.com/micro-nova/lpaplayer/internal/controller"
	"github.com/micro-nova/lpaplayer/internal/effects"
	"github.com/micro-nova/lpaplayer/internal/events"
	"github.com/micro-nova/lpaplayer/internal/hardware"
	"github.com/micro-nova/lpaplayer/internal/models"
	"github.com/micro-nova/lpaplayer/internal/player"
	"github.com/micro-nova/lpaplayer/internal/power"
	"github.com/micro-nova/lpaplayer/internal/route"
	"github.com/micro-nova/lpaplayer/internal/sink"
	"github.com/micro-nova/lpaplayer/internal/source"
)

type testRig struct {
	ctrl  *controller.Controller
	store *config.MemStore
	bus   *events.Bus
	sink  *sink.Mock
	fx    string
}

// testOpener serves tones: "long" lasts ten seconds, anything else 200ms.
// "broken.wav" names a file that fails to open.
func testOpener(name string) (source.Source, error) {
	switch name {
	case "broken.wav":
		return source.NewWAV(filepath.Join(os.TempDir(), "lpaplayer-does-not-exist.wav")), nil
	case "long":
		return source.NewTone(440, 8000, 1, 10_000_000), nil
	}
	return source.NewTone(440, 8000, 1, 200_000), nil
}

func newTestController(t *testing.T) *testRig {
	t.Helper()
	store := config.NewMemStore()
	s := models.DefaultSettings()
	s.BufferSize = models.MinBufferSize
	if err := store.Save(&s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	bus := events.NewBus()
	snk := sink.NewMock(1024)
	fx := filepath.Join(t.TempDir(), "effects.json")

	ctrl, err := controller.New(store, bus, controller.Options{
		Deps: player.Deps{
			PCM:     hardware.NewMock(2 * time.Millisecond),
			Session: hardware.NewAmpSession(""),
			Sink:    snk,
			Lock:    &power.Noop{},
		},
		Open:        testOpener,
		EffectsPath: fx,
	})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })
	return &testRig{ctrl: ctrl, store: store, bus: bus, sink: snk, fx: fx}
}

func waitEvent(t *testing.T, ch <-chan models.Event, kind string) models.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestStart_RequiresMedia(t *testing.T) {
	r := newTestController(t)
	_, appErr := r.ctrl.Start(context.Background(), models.StartRequest{})
	if appErr == nil || appErr.Status != 400 || appErr.Field != "file" {
		t.Fatalf("Start() error = %+v, want 400 on file", appErr)
	}
}

func TestStart_PlaysToEOS(t *testing.T) {
	r := newTestController(t)
	ch := r.bus.Subscribe("t")
	defer r.bus.Unsubscribe("t")

	st, appErr := r.ctrl.Start(context.Background(), models.StartRequest{File: "tone"})
	if appErr != nil {
		t.Fatalf("Start: %v", appErr)
	}
	if st.State != models.StatePlaying || st.SampleRate != 8000 {
		t.Errorf("status after start = %+v", st)
	}

	ev := waitEvent(t, ch, models.EventEOS)
	if !ev.Status.EOS {
		t.Errorf("eos event status = %+v, want EOS set", ev.Status)
	}

	saved, _ := r.store.Load()
	if saved.MediaFile != "tone" {
		t.Errorf("MediaFile = %q, want persisted %q", saved.MediaFile, "tone")
	}

	if _, appErr := r.ctrl.Start(context.Background(), models.StartRequest{File: "tone"}); appErr == nil || appErr.Status != 409 {
		t.Errorf("second Start() = %+v, want 409", appErr)
	}
}

func TestStart_FailureDetachesSource(t *testing.T) {
	r := newTestController(t)
	if _, appErr := r.ctrl.Start(context.Background(), models.StartRequest{File: "broken.wav"}); appErr == nil {
		t.Fatal("Start(broken.wav) succeeded")
	}
	if st := r.ctrl.Status(); st.State != models.StateIdle {
		t.Errorf("state after failed start = %q, want idle", st.State)
	}
	if _, appErr := r.ctrl.Start(context.Background(), models.StartRequest{File: "tone"}); appErr != nil {
		t.Fatalf("Start after failure: %v", appErr)
	}
}

func TestControl_BeforeStart(t *testing.T) {
	r := newTestController(t)
	if _, appErr := r.ctrl.Pause(false); appErr == nil || appErr.Status != 409 {
		t.Errorf("Pause() = %+v, want 409", appErr)
	}
	if _, appErr := r.ctrl.Resume(); appErr == nil || appErr.Status != 409 {
		t.Errorf("Resume() = %+v, want 409", appErr)
	}
	if _, appErr := r.ctrl.Seek(-1); appErr == nil || appErr.Field != "position_us" {
		t.Errorf("Seek(-1) = %+v, want position_us error", appErr)
	}
	if _, appErr := r.ctrl.Seek(1000); appErr != nil {
		t.Errorf("Seek before start: %v", appErr)
	}
	if _, appErr := r.ctrl.Reset(); appErr != nil {
		t.Errorf("Reset before start: %v", appErr)
	}
}

func TestPauseResume(t *testing.T) {
	r := newTestController(t)
	if _, appErr := r.ctrl.Start(context.Background(), models.StartRequest{File: "long", Route: models.RouteLocal}); appErr != nil {
		t.Fatalf("Start: %v", appErr)
	}
	st, appErr := r.ctrl.Pause(false)
	if appErr != nil {
		t.Fatalf("Pause: %v", appErr)
	}
	if st.State != models.StatePaused {
		t.Errorf("state = %q, want paused", st.State)
	}
	st, appErr = r.ctrl.Resume()
	if appErr != nil {
		t.Fatalf("Resume: %v", appErr)
	}
	if st.State != models.StatePlaying {
		t.Errorf("state = %q, want playing", st.State)
	}
}

func TestStart_InvalidRoute(t *testing.T) {
	r := newTestController(t)
	_, appErr := r.ctrl.Start(context.Background(), models.StartRequest{File: "tone", Route: "hdmi"})
	if appErr == nil || appErr.Field != "route" {
		t.Errorf("Start() = %+v, want route error", appErr)
	}
}

func TestSetRoute_PersistsAndPublishes(t *testing.T) {
	r := newTestController(t)
	ch := r.bus.Subscribe("t")
	defer r.bus.Unsubscribe("t")

	st, appErr := r.ctrl.SetRoute(true)
	if appErr != nil {
		t.Fatalf("SetRoute: %v", appErr)
	}
	if st.Route != models.RouteRemote {
		t.Errorf("Route = %q, want remote", st.Route)
	}
	waitEvent(t, ch, models.EventRoute)
	if s := r.ctrl.Settings(); s.Route != models.RouteRemote {
		t.Errorf("settings route = %q, want remote", s.Route)
	}

	// Monitor events move the route without touching settings.
	r.ctrl.HandleRouteEvent(route.Event{Remote: false, Device: "speaker"})
	if st := r.ctrl.Status(); st.Route != models.RouteLocal {
		t.Errorf("Route = %q after monitor event, want local", st.Route)
	}
	if s := r.ctrl.Settings(); s.Route != models.RouteRemote {
		t.Errorf("settings route = %q, monitor event must not persist", s.Route)
	}
}

func TestSetEffects(t *testing.T) {
	r := newTestController(t)

	bad := 30.0
	if _, appErr := r.ctrl.SetEffects(models.EffectsUpdate{GainDB: &bad}); appErr == nil || appErr.Field != "gain_db" {
		t.Errorf("SetEffects(gain 30) = %+v, want gain_db error", appErr)
	}

	on, gain := true, -6.0
	cfg, appErr := r.ctrl.SetEffects(models.EffectsUpdate{Enabled: &on, GainDB: &gain})
	if appErr != nil {
		t.Fatalf("SetEffects: %v", appErr)
	}
	if !cfg.Enabled || cfg.GainDB != -6 {
		t.Errorf("effects = %+v", cfg)
	}
	if got := r.ctrl.Effects(); got != cfg {
		t.Errorf("Effects() = %+v, want %+v", got, cfg)
	}
	if s := r.ctrl.Settings(); s.Effects != cfg {
		t.Errorf("settings effects = %+v, want %+v", s.Effects, cfg)
	}
	onDisk, err := effects.Load(r.fx)
	if err != nil {
		t.Fatalf("effects.Load: %v", err)
	}
	if onDisk != cfg {
		t.Errorf("effects file = %+v, want %+v", onDisk, cfg)
	}
}

func TestRoutes_FollowsHubAndUnsubscribesOnClose(t *testing.T) {
	store := config.NewMemStore()
	hub := route.NewHub()
	ctrl, err := controller.New(store, events.NewBus(), controller.Options{
		Deps: player.Deps{
			PCM:     hardware.NewMock(2 * time.Millisecond),
			Session: hardware.NewAmpSession(""),
			Sink:    sink.NewMock(1024),
			Lock:    &power.Noop{},
		},
		Open:   testOpener,
		Routes: hub,
	})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	if hub.Count() != 1 {
		t.Fatalf("hub listeners = %d, want 1", hub.Count())
	}

	hub.Publish(route.Event{Remote: true, Device: "headset"})
	if st := ctrl.Status(); st.Route != models.RouteRemote {
		t.Errorf("Route = %q after hub event, want remote", st.Route)
	}

	if err := ctrl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if hub.Count() != 0 {
		t.Errorf("hub listeners after Close = %d, want 0", hub.Count())
	}
}

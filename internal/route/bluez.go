package route

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService       = "org.bluez"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	transportIface     = "org.bluez.MediaTransport1"
	sigInterfacesAdd   = objectManagerIface + ".InterfacesAdded"
	sigInterfacesRem   = objectManagerIface + ".InterfacesRemoved"
)

// BlueZ watches BlueZ for A2DP media transports. The route is remote while
// at least one transport exists.
type BlueZ struct {
	hub        *Hub
	transports map[dbus.ObjectPath]bool
	remote     bool
}

// NewBlueZ creates a monitor publishing on hub.
func NewBlueZ(hub *Hub) *BlueZ {
	return &BlueZ{hub: hub, transports: make(map[dbus.ObjectPath]bool)}
}

// Run connects to the system bus and publishes route events until ctx is
// cancelled.
func (b *BlueZ) Run(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("bluez: connect system bus: %w", err)
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(objectManagerIface),
		dbus.WithMatchSender(bluezService),
	); err != nil {
		return fmt.Errorf("bluez: add match: %w", err)
	}
	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := conn.Object(bluezService, "/").Call(objectManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return fmt.Errorf("bluez: get managed objects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return fmt.Errorf("bluez: decode managed objects: %w", err)
	}
	for path, ifaces := range objects {
		if _, ok := ifaces[transportIface]; ok {
			b.transports[path] = true
		}
	}
	b.publish()
	slog.Info("bluez: monitoring media transports", "connected", len(b.transports))

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("bluez: signal channel closed")
			}
			b.handle(sig)
		}
	}
}

// handle applies one ObjectManager signal.
func (b *BlueZ) handle(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	switch sig.Name {
	case sigInterfacesAdd:
		ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok {
			return
		}
		if _, ok := ifaces[transportIface]; !ok {
			return
		}
		slog.Info("bluez: media transport added", "path", path)
		b.transports[path] = true
	case sigInterfacesRem:
		ifaces, ok := sig.Body[1].([]string)
		if !ok {
			return
		}
		for _, iface := range ifaces {
			if iface == transportIface {
				slog.Info("bluez: media transport removed", "path", path)
				delete(b.transports, path)
			}
		}
	default:
		return
	}
	b.publish()
}

// publish emits an event when the route flips.
func (b *BlueZ) publish() {
	remote := len(b.transports) > 0
	if remote == b.remote {
		return
	}
	b.remote = remote
	ev := Event{Remote: remote}
	if remote {
		paths := make([]string, 0, len(b.transports))
		for p := range b.transports {
			paths = append(paths, string(p))
		}
		sort.Strings(paths)
		ev.Device = paths[0]
	}
	b.hub.Publish(ev)
}

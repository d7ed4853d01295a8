// Package power holds the wake lock kept while audio is routed to the
// local device.
package power

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Lock prevents system suspend while held. Acquire and Release are
// idempotent.
type Lock interface {
	Acquire() error
	Release() error
}

// Logind takes a systemd-logind "sleep" inhibitor lock. The lock is held
// for as long as the returned file descriptor stays open.
type Logind struct {
	mu   sync.Mutex
	who  string
	why  string
	conn *dbus.Conn
	fd   *os.File
}

// NewLogind creates an inhibitor lock reported under who/why.
func NewLogind(who, why string) *Logind {
	return &Logind{who: who, why: why}
}

func (l *Logind) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd != nil {
		return nil
	}
	if l.conn == nil {
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			return fmt.Errorf("power: connect system bus: %w", err)
		}
		l.conn = conn
	}
	obj := l.conn.Object("org.freedesktop.login1", "/org/freedesktop/login1")
	var fd dbus.UnixFD
	call := obj.Call("org.freedesktop.login1.Manager.Inhibit", 0, "sleep", l.who, l.why, "block")
	if call.Err != nil {
		return fmt.Errorf("power: inhibit: %w", call.Err)
	}
	if err := call.Store(&fd); err != nil {
		return fmt.Errorf("power: inhibit reply: %w", err)
	}
	l.fd = os.NewFile(uintptr(fd), "logind-inhibit")
	slog.Debug("power: sleep inhibitor acquired", "who", l.who)
	return nil
}

func (l *Logind) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd == nil {
		return nil
	}
	err := l.fd.Close()
	l.fd = nil
	slog.Debug("power: sleep inhibitor released", "who", l.who)
	return err
}

// Close releases the lock and the bus connection.
func (l *Logind) Close() error {
	l.Release()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// Noop is a Lock that only counts calls, for platforms without logind and
// for tests.
type Noop struct {
	mu       sync.Mutex
	held     bool
	acquires int
}

func (n *Noop) Acquire() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.held {
		n.held = true
		n.acquires++
	}
	return nil
}

func (n *Noop) Release() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.held = false
	return nil
}

// Held reports whether the lock is currently held.
func (n *Noop) Held() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.held
}

// Acquires returns how many times the lock went from released to held.
func (n *Noop) Acquires() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.acquires
}

package hardware

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ampSettle is how long the amplifier needs after enable before audio is
// audible without a pop.
const ampSettle = 10 * time.Millisecond

// AmpSession is the local routing session. It powers the output amplifier
// through an enable GPIO (BCM naming, e.g. "GPIO17") while the local route
// is open and mutes it while the session is paused. An empty pin name gives
// a session that only tracks state.
type AmpSession struct {
	mu      sync.Mutex
	pinName string
	pin     gpio.PinIO
	open    bool
	paused  bool
}

// NewAmpSession creates a session driving the named enable pin.
func NewAmpSession(pinName string) *AmpSession {
	return &AmpSession{pinName: pinName}
}

// Open routes audio to the local amplifier for a stream of the given format.
func (s *AmpSession) Open(sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinName != "" && s.pin == nil {
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("amp: gpio host init failed: %w", err)
		}
		pin := gpioreg.ByName(s.pinName)
		if pin == nil {
			return fmt.Errorf("amp: failed to open %s", s.pinName)
		}
		s.pin = pin
	}
	if err := s.setLocked(gpio.High); err != nil {
		return err
	}
	if s.pin != nil {
		time.Sleep(ampSettle)
	}
	s.open, s.paused = true, false
	slog.Debug("amp: session opened", "pin", s.pinName, "rate", sampleRate, "channels", channels)
	return nil
}

// Pause mutes the amplifier without closing the session.
func (s *AmpSession) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.paused = true
	return s.setLocked(gpio.Low)
}

// Resume unmutes a paused session.
func (s *AmpSession) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.paused = false
	return s.setLocked(gpio.High)
}

// Close powers the amplifier down.
func (s *AmpSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open, s.paused = false, false
	slog.Debug("amp: session closed", "pin", s.pinName)
	return s.setLocked(gpio.Low)
}

// IsOpen reports whether the session is routed.
func (s *AmpSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// IsPaused reports whether the session is muted by Pause.
func (s *AmpSession) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *AmpSession) setLocked(level gpio.Level) error {
	if s.pin == nil {
		return nil
	}
	if err := s.pin.Out(level); err != nil {
		return fmt.Errorf("amp: drive %s %v: %w", s.pinName, level, err)
	}
	return nil
}

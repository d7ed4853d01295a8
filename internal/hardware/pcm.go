// Package hardware provides the PCM output devices and the local amplifier
// session used by the player. It defines the PCM interface implemented by
// the ALSA kernel driver, the oto desktop backend and the Mock used in tests.
package hardware

import (
	"context"
	"fmt"
)

// BytesPerSample is the fixed device sample width (signed 16-bit LE).
const BytesPerSample = 2

// Params are the negotiated hardware parameters.
type Params struct {
	SampleRate  int
	Channels    int
	PeriodBytes int // size of one write, normally the pool buffer size
	Periods     int // ring depth in periods
}

// FrameBytes returns the size of one interleaved frame.
func (p Params) FrameBytes() int { return p.Channels * BytesPerSample }

// Validate checks the parameters can be programmed into a device.
func (p Params) Validate() error {
	if p.SampleRate <= 0 {
		return ErrHardware(fmt.Sprintf("invalid sample rate %d", p.SampleRate))
	}
	if p.Channels <= 0 || p.Channels > 8 {
		return ErrHardware(fmt.Sprintf("invalid channel count %d", p.Channels))
	}
	if p.PeriodBytes <= 0 || p.PeriodBytes%p.FrameBytes() != 0 {
		return ErrHardware(fmt.Sprintf("period of %d bytes is not a whole number of frames", p.PeriodBytes))
	}
	return nil
}

// DurationUs converts a byte count at the given format to microseconds.
func DurationUs(bytes int64, sampleRate, channels int) int64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return bytes * 1_000_000 / int64(channels*BytesPerSample*sampleRate)
}

// PCM is a playback device with blocking writes and a completion stream.
// Every successful Write produces exactly one value on Completions once the
// written data has been played, unless Prepare, Reset or Close drops it first.
//
// Written buffers behave like mapped device memory: the device keeps p and
// reads it as playback reaches it, so a rewrite made through Update before
// the completion is what gets played. Audio already inside the hardware
// ring (at most a couple of periods) is past the point of rewriting.
type PCM interface {
	// Open negotiates hardware parameters.
	Open(p Params) error

	// Prepare drops queued audio and readies the device for a fresh stream.
	// The timestamp restarts from zero.
	Prepare() error

	// Write queues one buffer. It blocks while the device ring is full.
	// The caller must not reuse p before its completion or a drop.
	Write(ctx context.Context, p []byte) (int, error)

	// Update runs fn while the device is not reading queued buffers. Every
	// change to the contents of a written buffer must happen inside fn.
	Update(fn func())

	// Start forces playback of queued data shorter than the start threshold.
	Start() error

	// Pause pauses (true) or resumes (false) a running stream.
	Pause(enable bool) error

	// Reset drops queued audio without closing the device.
	Reset() error

	// Timestamp returns microseconds played since the last Prepare.
	Timestamp() int64

	// Completions delivers one value per played write.
	Completions() <-chan struct{}

	// Close releases the device.
	Close() error
}

// HardwareError is returned when a device operation fails.
type HardwareError struct {
	msg string
}

func (e HardwareError) Error() string { return e.msg }

// ErrHardware creates a new hardware error.
func ErrHardware(msg string) error { return HardwareError{msg: msg} }

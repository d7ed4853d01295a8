// Package sink implements remote audio sinks: the output used when the
// route is switched to a Bluetooth device.
package sink

import "time"

// Sink is a remote output accepting partial writes. Write returns fewer
// bytes than requested (possibly zero) when the sink applies back-pressure;
// callers retry with the remainder.
type Sink interface {
	Open(sampleRate, channels, bufferCount int) error
	Start() error
	Pause() error
	Flush() error
	Stop() error
	Close() error
	Write(p []byte) (int, error)

	// BufferSize is the largest chunk one Write accepts.
	BufferSize() int
	Latency() time.Duration
	FrameSize() int
}

// ErrClosed is returned by operations on a sink that is not open.
type ErrClosed struct{ Op string }

func (e ErrClosed) Error() string { return "sink: " + e.Op + " on closed sink" }

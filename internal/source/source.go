// Package source defines the pull-based media source the player decodes
// from, plus the WAV file and tone generator implementations.
package source

import (
	"context"
	"errors"
)

// MIMERaw is the only format the device path accepts: interleaved s16le PCM.
const MIMERaw = "audio/raw"

// ErrFormatChanged is returned by Read when the stream format changed. The
// caller must reconfigure its output from Format before the next Read.
var ErrFormatChanged = errors.New("source: format changed")

// Format describes the decoded stream.
type Format struct {
	MIME       string
	SampleRate int
	Channels   int
}

// ReadOptions modify a single Read.
type ReadOptions struct {
	SeekUs  int64
	HasSeek bool
}

// Seek returns options requesting a seek to us before reading.
func Seek(us int64) ReadOptions {
	return ReadOptions{SeekUs: us, HasSeek: true}
}

// MediaBuffer is one chunk of decoded audio.
type MediaBuffer struct {
	Data   []byte
	TimeUs int64 // presentation time of Data[0]
}

// Source is a pull-based decoder. Read returns io.EOF at end of stream.
type Source interface {
	Start() error
	Read(ctx context.Context, opts ReadOptions) (*MediaBuffer, error)
	Stop() error
	Format() Format
}

// frameTimeUs converts a frame index to microseconds.
func frameTimeUs(frame int64, rate int) int64 {
	if rate <= 0 {
		return 0
	}
	return frame * 1_000_000 / int64(rate)
}

// frameAt converts microseconds to a frame index.
func frameAt(us int64, rate int) int64 {
	if us <= 0 {
		return 0
	}
	return us * int64(rate) / 1_000_000
}

package source

import (
	"context"
	"io"
	"math"
	"sync"
)

// Tone generates a finite sine wave. It backs --mock runs without a media
// file and the player tests.
type Tone struct {
	mu       sync.Mutex
	freq     float64
	rate     int
	channels int
	frames   int64 // total length
	pos      int64
	chunk    int
	amp      float64
}

// NewTone returns a source producing durationUs of a freq Hz tone.
func NewTone(freq float64, rate, channels int, durationUs int64) *Tone {
	return &Tone{
		freq:     freq,
		rate:     rate,
		channels: channels,
		frames:   frameAt(durationUs, rate),
		chunk:    chunkFrames,
		amp:      0.25 * math.MaxInt16,
	}
}

func (t *Tone) Start() error { return nil }

func (t *Tone) Read(ctx context.Context, opts ReadOptions) (*MediaBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if opts.HasSeek {
		t.pos = min(frameAt(opts.SeekUs, t.rate), t.frames)
	}
	if t.pos >= t.frames {
		return nil, io.EOF
	}
	n := min(int64(t.chunk), t.frames-t.pos)
	out := make([]byte, int(n)*t.channels*2)
	for f := int64(0); f < n; f++ {
		v := int16(t.amp * math.Sin(2*math.Pi*t.freq*float64(t.pos+f)/float64(t.rate)))
		for c := 0; c < t.channels; c++ {
			i := (int(f)*t.channels + c) * 2
			out[i] = byte(v)
			out[i+1] = byte(uint16(v) >> 8)
		}
	}
	buf := &MediaBuffer{Data: out, TimeUs: frameTimeUs(t.pos, t.rate)}
	t.pos += n
	return buf, nil
}

func (t *Tone) Stop() error { return nil }

func (t *Tone) Format() Format {
	return Format{MIME: MIMERaw, SampleRate: t.rate, Channels: t.channels}
}

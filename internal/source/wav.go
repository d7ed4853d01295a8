package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	chunkFrames = 4096 // frames per Read

	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAV decodes a RIFF/WAVE file to s16le.
type WAV struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	dec      *wav.Decoder
	buf      *audio.IntBuffer
	format   Format
	bitDepth int
	frame    int64 // next frame to decode
	started  bool
}

// NewWAV creates a source for the file at path. The file is opened by Start.
func NewWAV(path string) *WAV {
	return &WAV{path: path}
}

func (w *WAV) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := w.openLocked(); err != nil {
		return err
	}
	w.started = true
	slog.Info("wav: source started", "path", w.path,
		"rate", w.format.SampleRate, "channels", w.format.Channels, "bits", w.bitDepth)
	return nil
}

func (w *WAV) openLocked() error {
	f, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("wav: open %s: %w", w.path, err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return fmt.Errorf("wav: %s is not a valid WAVE file", w.path)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return fmt.Errorf("wav: seek to PCM data: %w", err)
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		f.Close()
		return fmt.Errorf("wav: unsupported encoding %d, only integer PCM", dec.WavAudioFormat)
	}
	ch := int(dec.NumChans)
	rate := int(dec.SampleRate)
	depth := int(dec.BitDepth)
	switch depth {
	case 8, 16, 24, 32:
	default:
		f.Close()
		return fmt.Errorf("wav: unsupported bit depth %d", depth)
	}

	if w.file != nil {
		w.file.Close()
	}
	w.file = f
	w.dec = dec
	w.bitDepth = depth
	w.format = Format{MIME: MIMERaw, SampleRate: rate, Channels: ch}
	w.buf = &audio.IntBuffer{
		Data:           make([]int, chunkFrames*ch),
		Format:         &audio.Format{NumChannels: ch, SampleRate: rate},
		SourceBitDepth: depth,
	}
	w.frame = 0
	return nil
}

func (w *WAV) Read(ctx context.Context, opts ReadOptions) (*MediaBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil, errors.New("wav: read before start")
	}
	if opts.HasSeek {
		if err := w.seekLocked(opts.SeekUs); err != nil {
			return nil, err
		}
	}

	n, err := w.dec.PCMBuffer(w.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("wav: decode: %w", err)
	}
	if n == 0 {
		return nil, io.EOF
	}
	out := &MediaBuffer{
		Data:   toS16LE(w.buf.Data[:n], w.bitDepth),
		TimeUs: frameTimeUs(w.frame, w.format.SampleRate),
	}
	w.frame += int64(n / w.format.Channels)
	return out, nil
}

// seekLocked reopens the file and discards frames up to us.
func (w *WAV) seekLocked(us int64) error {
	target := frameAt(us, w.format.SampleRate)
	if err := w.openLocked(); err != nil {
		return err
	}
	ch := w.format.Channels
	for w.frame < target {
		want := min(int64(chunkFrames), target-w.frame)
		skip := &audio.IntBuffer{Data: w.buf.Data[:want*int64(ch)], Format: w.buf.Format}
		n, err := w.dec.PCMBuffer(skip)
		if n == 0 || err != nil {
			// seeking past the end leaves the source at EOF
			break
		}
		w.frame += int64(n / ch)
	}
	slog.Debug("wav: seek", "path", w.path, "us", us, "frame", w.frame)
	return nil
}

func (w *WAV) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = false
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.dec = nil
	return err
}

func (w *WAV) Format() Format {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.format
}

// toS16LE packs decoded integer samples as little-endian signed 16-bit.
func toS16LE(samples []int, bitDepth int) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		var s int
		switch bitDepth {
		case 8:
			s = (v - 128) << 8
		case 16:
			s = v
		case 24:
			s = v >> 8
		case 32:
			s = v >> 16
		}
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

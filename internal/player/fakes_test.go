package player_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/micro-nova/lpaplayer/internal/source"
)

// fakeSource serves a synthetic mono or stereo s16le stream whose samples
// carry their own frame index, so any buffer reveals where it came from.
type fakeSource struct {
	mu       sync.Mutex
	mime     string
	rate     int
	channels int
	total    int // bytes
	chunk    int // bytes per Read
	pos      int
	reads    int
	started  bool
	stopped  bool
	startErr error

	blockAt int // 1-based Read number that blocks until release is closed
	blocked chan struct{}
	release chan struct{}

	switchAt       int // 1-based Read number that reports a format change
	switchChannels int
}

func newFakeSource(rate, channels, total, chunk int) *fakeSource {
	return &fakeSource{
		mime:     source.MIMERaw,
		rate:     rate,
		channels: channels,
		total:    total,
		chunk:    chunk,
		blocked:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (s *fakeSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeSource) Format() source.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return source.Format{MIME: s.mime, SampleRate: s.rate, Channels: s.channels}
}

func (s *fakeSource) Read(ctx context.Context, opts source.ReadOptions) (*source.MediaBuffer, error) {
	s.mu.Lock()
	s.reads++
	n := s.reads
	block := s.blockAt > 0 && n == s.blockAt
	s.mu.Unlock()
	if block {
		close(s.blocked)
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.channels * 2
	if s.switchAt > 0 && n == s.switchAt {
		// keep the frame position, rescale to the new frame size
		next := s.switchChannels * 2
		s.pos = s.pos / frame * next
		s.total = s.total / frame * next
		s.channels = s.switchChannels
		return nil, source.ErrFormatChanged
	}
	if opts.HasSeek {
		s.pos = int(opts.SeekUs*int64(s.rate)/1_000_000) * frame
	}
	if s.pos >= s.total {
		return nil, io.EOF
	}
	end := min(s.pos+s.chunk, s.total)
	mb := &source.MediaBuffer{
		Data:   pattern(s.pos, end, s.channels),
		TimeUs: int64(s.pos/frame) * 1_000_000 / int64(s.rate),
	}
	s.pos = end
	return mb, nil
}

func (s *fakeSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// pattern returns stream bytes [from, to): every sample of frame k is k.
func pattern(from, to, channels int) []byte {
	out := make([]byte, 0, to-from)
	var sample [2]byte
	for b := from; b < to; b++ {
		binary.LittleEndian.PutUint16(sample[:], uint16(b/(channels*2)))
		out = append(out, sample[b%2])
	}
	return out
}

// firstFrame decodes the frame index carried by the first sample of p.
func firstFrame(p []byte) int {
	return int(binary.LittleEndian.Uint16(p))
}

type recordingObserver struct {
	mu    sync.Mutex
	eos   int
	seeks int
	eosCh chan struct{}
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{eosCh: make(chan struct{}, 16)}
}

func (o *recordingObserver) PostAudioEOS() {
	o.mu.Lock()
	o.eos++
	o.mu.Unlock()
	o.eosCh <- struct{}{}
}

func (o *recordingObserver) PostAudioSeekComplete() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seeks++
}

func (o *recordingObserver) counts() (eos, seeks int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.eos, o.seeks
}

func (o *recordingObserver) waitEOS(t *testing.T) {
	t.Helper()
	select {
	case <-o.eosCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for end of stream")
	}
}

type fakeSession struct {
	mu      sync.Mutex
	open    bool
	paused  bool
	opens   int
	closes  int
	failErr error
}

func (s *fakeSession) Open(sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.open = true
	s.paused = false
	s.opens++
	return nil
}

func (s *fakeSession) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	return nil
}

func (s *fakeSession) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return errors.New("session not open")
	}
	s.open = false
	s.closes++
	return nil
}

func (s *fakeSession) state() (open bool, opens, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open, s.opens, s.closes
}

// xorProcessor renders src XOR mask, so a buffer shows which
// configuration rendered it.
type xorProcessor struct {
	mu    sync.Mutex
	mask  byte
	calls int
}

func (x *xorProcessor) Process(dst, src []byte, _ int) {
	x.mu.Lock()
	mask := x.mask
	x.calls++
	x.mu.Unlock()
	for i := range src {
		dst[i] = src[i] ^ mask
	}
}

func (x *xorProcessor) setMask(m byte) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.mask = m
}

func (x *xorProcessor) count() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.calls
}

func xorBytes(p []byte, mask byte) []byte {
	out := make([]byte, len(p))
	for i := range p {
		out[i] = p[i] ^ mask
	}
	return out
}

// countingProcessor copies like an inactive chain and counts calls.
type countingProcessor struct {
	mu    sync.Mutex
	calls int
}

func (c *countingProcessor) Process(dst, src []byte, _ int) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	copy(dst, src)
}

func (c *countingProcessor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

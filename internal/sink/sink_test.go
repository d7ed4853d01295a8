package sink_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/micro-nova/lpaplayer/internal/sink"
)

// fakePort records everything written to the UART.
type fakePort struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	resets  int
	closed  bool
	failOps bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOps {
		return 0, errors.New("port failure")
	}
	return p.buf.Write(b)
}

func (p *fakePort) ResetOutputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type frame struct {
	typ     byte
	payload []byte
}

func (p *fakePort) frames(t *testing.T) []frame {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	data := p.buf.Bytes()
	var out []frame
	for len(data) > 0 {
		if len(data) < 3 {
			t.Fatalf("truncated frame header: %v", data)
		}
		n := int(binary.LittleEndian.Uint16(data[1:]))
		out = append(out, frame{typ: data[0], payload: append([]byte(nil), data[3:3+n]...)})
		data = data[3+n:]
	}
	return out
}

func newSerial(t *testing.T) (*sink.Serial, *fakePort) {
	t.Helper()
	port := &fakePort{}
	s := sink.NewSerialWithPort(func() (sink.Port, error) { return port, nil }, 921600)
	if err := s.Open(44100, 2, 4); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s, port
}

func TestSerial_OpenFrame(t *testing.T) {
	_, port := newSerial(t)
	frames := port.frames(t)
	if len(frames) != 1 || frames[0].typ != 'O' {
		t.Fatalf("frames = %+v, want one open frame", frames)
	}
	p := frames[0].payload
	if rate := binary.LittleEndian.Uint32(p); rate != 44100 {
		t.Errorf("open rate = %d, want 44100", rate)
	}
	if p[4] != 2 || p[5] != 4 {
		t.Errorf("open channels/buffers = %d/%d, want 2/4", p[4], p[5])
	}
}

func TestSerial_WriteRefusedUntilStarted(t *testing.T) {
	s, _ := newSerial(t)
	n, err := s.Write(make([]byte, 100))
	if err != nil || n != 0 {
		t.Errorf("Write() before Start = %d, %v; want 0, nil", n, err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	n, err = s.Write(make([]byte, 100))
	if err != nil || n != 100 {
		t.Errorf("Write() = %d, %v; want 100, nil", n, err)
	}
	s.Pause()
	if n, _ := s.Write(make([]byte, 100)); n != 0 {
		t.Errorf("Write() while paused = %d, want 0", n)
	}
}

func TestSerial_WriteIsChunked(t *testing.T) {
	s, port := newSerial(t)
	s.Start()
	n, err := s.Write(make([]byte, 10000))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != s.BufferSize() {
		t.Errorf("Write() = %d, want %d", n, s.BufferSize())
	}
	frames := port.frames(t)
	last := frames[len(frames)-1]
	if last.typ != 'D' || len(last.payload) != s.BufferSize() {
		t.Errorf("last frame = %c/%d", last.typ, len(last.payload))
	}
}

func TestSerial_FlushResetsUART(t *testing.T) {
	s, port := newSerial(t)
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if port.resets != 1 {
		t.Errorf("ResetOutputBuffer calls = %d, want 1", port.resets)
	}
}

func TestSerial_Close(t *testing.T) {
	s, port := newSerial(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !port.closed {
		t.Error("port not closed")
	}
	if _, err := s.Write([]byte{1}); err == nil {
		t.Error("Write() after Close error = nil")
	}
	var ce sink.ErrClosed
	if err := s.Start(); !errors.As(err, &ce) {
		t.Errorf("Start() after Close error = %v, want ErrClosed", err)
	}
}

func TestSerial_OpenFailure(t *testing.T) {
	port := &fakePort{failOps: true}
	s := sink.NewSerialWithPort(func() (sink.Port, error) { return port, nil }, 9600)
	if err := s.Open(48000, 2, 4); err == nil {
		t.Fatal("Open() error = nil, want error")
	}
	if !port.closed {
		t.Error("port left open after failed Open")
	}
}

func TestSerial_Latency(t *testing.T) {
	s, _ := newSerial(t)
	if s.Latency() <= 0 {
		t.Errorf("Latency() = %v, want > 0", s.Latency())
	}
	if s.FrameSize() != 4 {
		t.Errorf("FrameSize() = %d, want 4", s.FrameSize())
	}
}

func TestMock_HalfWrites(t *testing.T) {
	m := sink.NewMock(1024)
	m.Open(48000, 2, 4)
	m.Start()
	n, err := m.Write(make([]byte, 101))
	if err != nil || n != 51 {
		t.Errorf("Write(101) = %d, %v; want 51, nil", n, err)
	}
	m.Pause()
	if n, _ := m.Write(make([]byte, 10)); n != 0 {
		t.Errorf("Write() while paused = %d, want 0", n)
	}
}

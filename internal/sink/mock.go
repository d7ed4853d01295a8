package sink

import (
	"sync"
	"time"
)

// Mock is an in-memory sink. By default it accepts half of every write
// (rounded up) to exercise partial-write handling.
type Mock struct {
	mu       sync.Mutex
	open     bool
	running  bool
	rate     int
	channels int
	bufSize  int
	accept   func(n int) int
	data     []byte
	writes   int
	rejected int
	flushes  int
	opens    int
	failOpen bool
}

// NewMock creates a mock sink with the given per-write buffer size.
func NewMock(bufSize int) *Mock {
	return &Mock{
		bufSize: bufSize,
		accept:  func(n int) int { return (n + 1) / 2 },
	}
}

// SetAccept replaces the function deciding how many of n offered bytes a
// write takes.
func (m *Mock) SetAccept(fn func(n int) int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accept = fn
}

// SetFailOpen configures the mock to fail Open.
func (m *Mock) SetFailOpen(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpen = fail
}

func (m *Mock) Open(sampleRate, channels, bufferCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOpen {
		return ErrClosed{Op: "open (configured failure)"}
	}
	m.open = true
	m.running = false
	m.rate, m.channels = sampleRate, channels
	m.opens++
	return nil
}

func (m *Mock) Start() error { return m.setRunning("start", true) }
func (m *Mock) Pause() error { return m.setRunning("pause", false) }
func (m *Mock) Stop() error  { return m.setRunning("stop", false) }

func (m *Mock) setRunning(op string, run bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrClosed{Op: op}
	}
	m.running = run
	return nil
}

func (m *Mock) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	m.running = false
	return nil
}

func (m *Mock) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		m.rejected++
		return 0, ErrClosed{Op: "write"}
	}
	if !m.running {
		return 0, nil
	}
	n := min(m.accept(len(p)), len(p))
	m.data = append(m.data, p[:n]...)
	m.writes++
	return n, nil
}

func (m *Mock) BufferSize() int { return m.bufSize }

func (m *Mock) FrameSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels * 2
}

func (m *Mock) Latency() time.Duration { return 0 }

// Data returns a copy of every byte accepted so far.
func (m *Mock) Data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Writes returns how many Write calls accepted data.
func (m *Mock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Rejected returns how many writes hit a closed sink.
func (m *Mock) Rejected() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected
}

// Channels returns the channel count of the last Open.
func (m *Mock) Channels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels
}

// Flushes returns how many times Flush was called.
func (m *Mock) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Opens returns how many times Open succeeded.
func (m *Mock) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// IsOpen reports whether the sink is open.
func (m *Mock) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// IsRunning reports whether the sink accepts data.
func (m *Mock) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

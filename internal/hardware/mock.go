package hardware

import (
	"context"
	"sync"
	"time"
)

// Mock is a thread-safe in-memory PCM device for testing and development.
// Each write completes after a fixed delay of unpaused playback. Like a
// mapped ring it keeps the written slice and only reads it when the write
// completes, which is what Played records.
type Mock struct {
	mu        sync.Mutex
	params    Params
	open      bool
	paused    bool
	started   bool
	delay     time.Duration
	pending   [][]byte // unplayed writes, oldest first, not copied
	played    int64    // bytes since last Prepare
	epoch     int      // bumped whenever pending is dropped
	timer     *time.Timer
	compl     chan struct{}
	writes    [][]byte // contents at Write time
	heard     [][]byte // contents at completion time
	failOpen  bool
	failWrite bool

	pauseCalls   int
	startCalls   int
	prepareCalls int
	resetCalls   int
}

// NewMock creates a mock device whose writes complete after delay.
func NewMock(delay time.Duration) *Mock {
	return &Mock{
		delay: delay,
		compl: make(chan struct{}, 64),
	}
}

// SetFailOpen configures the mock to fail Open.
func (m *Mock) SetFailOpen(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpen = fail
}

// SetFailWrite configures the mock to fail all writes.
func (m *Mock) SetFailWrite(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = fail
}

// SetDelay changes the per-write completion delay for subsequent writes.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *Mock) Open(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOpen {
		return ErrHardware("mock: open failure configured")
	}
	m.params = p
	m.open = true
	return nil
}

func (m *Mock) Prepare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrHardware("mock: prepare on closed device")
	}
	m.prepareCalls++
	m.dropLocked()
	m.played = 0
	m.paused = false
	m.started = false
	return nil
}

func (m *Mock) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return 0, ErrHardware("mock: write on closed device")
	}
	if m.failWrite {
		return 0, ErrHardware("mock: write failure configured")
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	m.writes = append(m.writes, cp)
	m.pending = append(m.pending, p)
	m.started = true
	m.armLocked()
	return len(p), nil
}

// Update runs fn with the device lock held so no completion reads a
// queued buffer meanwhile.
func (m *Mock) Update(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

func (m *Mock) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls++
	m.started = true
	m.armLocked()
	return nil
}

func (m *Mock) Pause(enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseCalls++
	m.paused = enable
	if enable {
		m.stopTimerLocked()
		return nil
	}
	m.armLocked()
	return nil
}

func (m *Mock) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCalls++
	m.dropLocked()
	return nil
}

func (m *Mock) Timestamp() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return DurationUs(m.played, m.params.SampleRate, m.params.Channels)
}

func (m *Mock) Completions() <-chan struct{} { return m.compl }

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return nil
	}
	m.dropLocked()
	m.open = false
	return nil
}

// Writes returns copies of every buffer written so far.
func (m *Mock) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// Params returns the parameters of the last successful Open.
func (m *Mock) Params() Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

// Played returns the contents of every completed write as they were when
// the device played them.
func (m *Mock) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.heard))
	copy(out, m.heard)
	return out
}

// PauseCalls returns how many times Pause was called.
func (m *Mock) PauseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseCalls
}

// PrepareCalls returns how many times Prepare was called.
func (m *Mock) PrepareCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prepareCalls
}

// ResetCalls returns how many times Reset was called.
func (m *Mock) ResetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetCalls
}

// IsPaused reports whether the device is currently paused.
func (m *Mock) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// IsOpen reports whether the device is open.
func (m *Mock) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Pending returns how many writes are waiting to complete.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Mock) armLocked() {
	if m.timer != nil || m.paused || !m.started || len(m.pending) == 0 {
		return
	}
	epoch := m.epoch
	m.timer = time.AfterFunc(m.delay, func() { m.fire(epoch) })
}

func (m *Mock) fire(epoch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	m.timer = nil
	if m.paused || len(m.pending) == 0 {
		return
	}
	head := m.pending[0]
	m.heard = append(m.heard, append([]byte(nil), head...))
	m.played += int64(len(head))
	m.pending = m.pending[1:]
	// sent under the lock so a concurrent drop cannot race a stale completion
	select {
	case m.compl <- struct{}{}:
	default:
	}
	m.armLocked()
}

func (m *Mock) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.epoch++
}

func (m *Mock) dropLocked() {
	m.stopTimerLocked()
	m.pending = nil
	// completions already queued belong to dropped writes
	for {
		select {
		case <-m.compl:
		default:
			return
		}
	}
}

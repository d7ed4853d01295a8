package sink

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Frame types understood by the UART A2DP bridge firmware. Each frame is
// type(1) + payload length(2, LE) + payload.
const (
	frameOpen  = 'O' // payload: rate u32 LE, channels u8, buffers u8
	frameStart = 'S'
	framePause = 'P'
	frameFlush = 'F'
	frameStop  = 'T'
	frameClose = 'C'
	frameData  = 'D'

	maxPayload = 4096
)

// Port is the subset of serial.Port the sink uses.
type Port interface {
	io.Writer
	ResetOutputBuffer() error
	Close() error
}

// PortOpener opens the UART.
type PortOpener func() (Port, error)

// SerialOpener returns a PortOpener for a real serial device.
func SerialOpener(dev string, baud int) PortOpener {
	return func() (Port, error) {
		port, err := serial.Open(dev, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", dev, err)
		}
		return port, nil
	}
}

// Serial streams PCM to a Bluetooth A2DP bridge module over a UART.
// Data written while the sink is paused or stopped is refused with a zero
// count.
type Serial struct {
	mu       sync.Mutex
	open     PortOpener
	port     Port
	rate     int
	channels int
	buffers  int
	running  bool
	baud     int
}

// NewSerial creates a sink for the given device and baud rate.
func NewSerial(dev string, baud int) *Serial {
	return NewSerialWithPort(SerialOpener(dev, baud), baud)
}

// NewSerialWithPort creates a sink over a custom port opener.
func NewSerialWithPort(open PortOpener, baud int) *Serial {
	return &Serial{open: open, baud: baud}
}

func (s *Serial) Open(sampleRate, channels, bufferCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return fmt.Errorf("sink: serial already open")
	}
	port, err := s.open()
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	payload := binary.LittleEndian.AppendUint32(nil, uint32(sampleRate))
	payload = append(payload, byte(channels), byte(bufferCount))
	if err := writeFrame(port, frameOpen, payload); err != nil {
		port.Close()
		return fmt.Errorf("sink: open frame: %w", err)
	}
	s.port = port
	s.rate, s.channels, s.buffers = sampleRate, channels, bufferCount
	s.running = false
	slog.Info("sink: serial bridge opened", "rate", sampleRate, "channels", channels, "buffers", bufferCount)
	return nil
}

func (s *Serial) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.controlLocked("start", frameStart); err != nil {
		return err
	}
	s.running = true
	return nil
}

func (s *Serial) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.controlLocked("pause", framePause); err != nil {
		return err
	}
	s.running = false
	return nil
}

// Flush discards bytes still queued in the UART and in the bridge.
func (s *Serial) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrClosed{Op: "flush"}
	}
	if err := s.port.ResetOutputBuffer(); err != nil {
		slog.Debug("sink: reset output buffer", "err", err)
	}
	return writeFrame(s.port, frameFlush, nil)
}

func (s *Serial) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.controlLocked("stop", frameStop); err != nil {
		return err
	}
	s.running = false
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	if err := writeFrame(s.port, frameClose, nil); err != nil {
		slog.Warn("sink: close frame", "err", err)
	}
	err := s.port.Close()
	s.port = nil
	s.running = false
	slog.Info("sink: serial bridge closed")
	return err
}

func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return 0, ErrClosed{Op: "write"}
	}
	if !s.running || len(p) == 0 {
		return 0, nil
	}
	n := min(len(p), maxPayload)
	if err := writeFrame(s.port, frameData, p[:n]); err != nil {
		return 0, fmt.Errorf("sink: data frame: %w", err)
	}
	return n, nil
}

func (s *Serial) BufferSize() int { return maxPayload }

func (s *Serial) FrameSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels * 2
}

// Latency estimates the time queued audio spends in the bridge: every
// bridge buffer full plus the UART transfer time of one frame.
func (s *Serial) Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rate == 0 || s.channels == 0 {
		return 0
	}
	bytesPerSec := s.rate * s.channels * 2
	queued := time.Duration(s.buffers*maxPayload) * time.Second / time.Duration(bytesPerSec)
	var wire time.Duration
	if s.baud > 0 {
		// 10 bits per byte on the wire
		wire = time.Duration((maxPayload+3)*10) * time.Second / time.Duration(s.baud)
	}
	return queued + wire
}

func (s *Serial) controlLocked(op string, typ byte) error {
	if s.port == nil {
		return ErrClosed{Op: op}
	}
	if err := writeFrame(s.port, typ, nil); err != nil {
		return fmt.Errorf("sink: %s frame: %w", op, err)
	}
	return nil
}

func writeFrame(w io.Writer, typ byte, payload []byte) error {
	frame := make([]byte, 3, 3+len(payload))
	frame[0] = typ
	binary.LittleEndian.PutUint16(frame[1:], uint16(len(payload)))
	frame = append(frame, payload...)
	for len(frame) > 0 {
		n, err := w.Write(frame)
		if err != nil {
			return err
		}
		frame = frame[n:]
	}
	return nil
}

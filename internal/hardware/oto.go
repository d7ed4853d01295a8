package hardware

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"
)

// oto allows a single context per process.
var (
	otoMu       sync.Mutex
	otoCtx      *oto.Context
	otoRate     int
	otoChannels int
)

func sharedOtoContext(rate, channels int) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()
	if otoCtx != nil {
		if rate != otoRate || channels != otoChannels {
			return nil, ErrHardware(fmt.Sprintf("oto: context fixed at %d Hz/%d ch, cannot reopen at %d Hz/%d ch",
				otoRate, otoChannels, rate, channels))
		}
		return otoCtx, nil
	}
	ctx, ready, err := oto.NewContext(rate, channels, BytesPerSample)
	if err != nil {
		return nil, fmt.Errorf("oto: create context: %w", err)
	}
	<-ready
	otoCtx, otoRate, otoChannels = ctx, rate, channels
	return ctx, nil
}

// Oto is a PCM device backed by the platform audio API through oto. It is
// meant for development machines without a raw ALSA device. Written slices
// are queued by reference and copied out only when oto pulls them; a write
// completes once oto has pulled all of its bytes.
//
// Player methods are always called without mu held; the oto mixer calls
// Read with its own lock taken.
type Oto struct {
	mu       sync.Mutex
	player   oto.Player
	params   Params
	queue    [][]byte // unplayed writes, oldest first
	headOff  int      // bytes of queue[0] already pulled
	queued   int      // unpulled bytes across queue
	consumed int64
	paused   bool
	closed   bool
	compl    chan struct{}
}

// NewOto creates an unopened oto device.
func NewOto() *Oto {
	return &Oto{compl: make(chan struct{}, 64), closed: true}
}

func (o *Oto) Open(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	ctx, err := sharedOtoContext(p.SampleRate, p.Channels)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.params = p
	o.closed = false
	o.paused = false
	o.dropLocked()
	o.player = ctx.NewPlayer(o)
	slog.Info("oto: device opened", "rate", p.SampleRate, "channels", p.Channels)
	return nil
}

// Read implements io.Reader for the oto player. An empty queue yields
// silence so the stream stays alive.
func (o *Oto) Read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, io.EOF
	}
	if len(o.queue) == 0 {
		clear(p)
		return len(p), nil
	}
	n := 0
	for n < len(p) && len(o.queue) > 0 {
		c := copy(p[n:], o.queue[0][o.headOff:])
		n += c
		o.headOff += c
		if o.headOff < len(o.queue[0]) {
			continue
		}
		o.queue = o.queue[1:]
		o.headOff = 0
		select {
		case o.compl <- struct{}{}:
		default:
		}
	}
	o.queued -= n
	o.consumed += int64(n)
	return n, nil
}

// Update runs fn while oto cannot pull from the queue.
func (o *Oto) Update(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

func (o *Oto) Prepare() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrHardware("oto: prepare on closed device")
	}
	o.dropLocked()
	return nil
}

func (o *Oto) Write(ctx context.Context, p []byte) (int, error) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return 0, ErrHardware("oto: write on closed device")
		}
		limit := o.params.PeriodBytes * max(o.params.Periods, 4)
		if o.queued < limit {
			break
		}
		o.mu.Unlock()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	o.queue = append(o.queue, p)
	o.queued += len(p)
	player, paused := o.player, o.paused
	o.mu.Unlock()

	if !paused && !player.IsPlaying() {
		player.Play()
	}
	return len(p), nil
}

func (o *Oto) Start() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrHardware("oto: start on closed device")
	}
	player, paused := o.player, o.paused
	o.mu.Unlock()
	if !paused {
		player.Play()
	}
	return nil
}

func (o *Oto) Pause(enable bool) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrHardware("oto: pause on closed device")
	}
	o.paused = enable
	player := o.player
	o.mu.Unlock()

	if enable {
		player.Pause()
	} else {
		player.Play()
	}
	return nil
}

func (o *Oto) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropLocked()
	return nil
}

func (o *Oto) Timestamp() int64 {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0
	}
	player, consumed, params := o.player, o.consumed, o.params
	o.mu.Unlock()

	played := consumed - int64(player.UnplayedBufferSize())
	if played < 0 {
		played = 0
	}
	return DurationUs(played, params.SampleRate, params.Channels)
}

func (o *Oto) Completions() <-chan struct{} { return o.compl }

func (o *Oto) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.dropLocked()
	player := o.player
	o.mu.Unlock()
	return player.Close()
}

func (o *Oto) dropLocked() {
	o.queue = nil
	o.headOff = 0
	o.queued = 0
	o.consumed = 0
	for {
		select {
		case <-o.compl:
		default:
			return
		}
	}
}

// Package player implements the low-power audio playback engine: a fixed
// buffer pool cycled between a decode stage and the local PCM device or a
// remote sink, driven by five long-running stages.
//
//	decode   pulls from the source, fills request buffers, writes the device
//	event    consumes device completions and detects end of stream
//	remote   streams filled buffers to the remote sink in partial writes
//	effects  reprocesses queued buffers after an effects change
//	notify   performs route switches
//
// The control methods (Start, Pause, Resume, SeekTo, Reset and the route
// and effects notifications) may be called from any goroutine.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/micro-nova/lpaplayer/internal/bufpool"
	"github.com/micro-nova/lpaplayer/internal/hardware"
	"github.com/micro-nova/lpaplayer/internal/models"
	"github.com/micro-nova/lpaplayer/internal/power"
	"github.com/micro-nova/lpaplayer/internal/sink"
	"github.com/micro-nova/lpaplayer/internal/source"
)

var (
	ErrAlreadyStarted    = errors.New("player: already started")
	ErrNotStarted        = errors.New("player: not started")
	ErrNoSource          = errors.New("player: no source set")
	ErrSourceSet         = errors.New("player: source already set")
	ErrUnsupportedFormat = errors.New("player: unsupported source format")
)

// Observer receives asynchronous playback notifications. Calls come from
// stage goroutines with no player lock held.
type Observer interface {
	PostAudioEOS()
	PostAudioSeekComplete()
}

// Session is the local routing session opened while audio goes to the
// local device.
type Session interface {
	Open(sampleRate, channels int) error
	Pause() error
	Resume() error
	Close() error
}

// Processor renders src into dst. It must read only src so that a buffer
// can be processed again after a configuration change.
type Processor interface {
	Process(dst, src []byte, channels int)
}

// Config sizes the pool and tunes the stages.
type Config struct {
	BufferCount  int
	BufferSize   int
	PauseTimeout time.Duration
	RetryPerSec  float64 // decode retries per second while the source yields nothing
	Remote       bool    // initial route
}

// ConfigFromSettings derives a Config from persisted settings.
func ConfigFromSettings(s models.Settings) Config {
	return Config{
		BufferCount:  s.BufferCount,
		BufferSize:   s.BufferSize,
		PauseTimeout: time.Duration(s.PauseTimeoutMs) * time.Millisecond,
		RetryPerSec:  s.RetryPerSec,
		Remote:       s.Route == models.RouteRemote,
	}
}

// Deps are the collaborators of a Player. PCM, Session and Sink are
// required; the rest default to no-ops.
type Deps struct {
	PCM      hardware.PCM
	Session  Session
	Sink     sink.Sink
	Lock     power.Lock
	Effects  Processor
	Observer Observer
}

type copyProcessor struct{}

func (copyProcessor) Process(dst, src []byte, _ int) { copy(dst, src) }

type nopObserver struct{}

func (nopObserver) PostAudioEOS()          {}
func (nopObserver) PostAudioSeekComplete() {}

type worker struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *worker) stop() {
	w.cancel()
	<-w.done
}

// Player is the playback engine. The zero value is not usable; call New.
type Player struct {
	cfg     Config
	pcm     hardware.PCM
	session Session
	sink    sink.Sink
	lock    power.Lock
	fx      Processor
	obs     Observer

	// ctlMu serializes control methods. Stages never take it.
	ctlMu sync.Mutex
	st    state
	// applyMu serializes effects processing with the device write of the
	// same buffer.
	applyMu sync.Mutex

	writeMu     sync.Mutex
	writeCancel context.CancelFunc

	// routeMu serializes route switches between the notify stage and the
	// control methods that complete a pending switch themselves.
	routeMu sync.Mutex
	// sinkMu is held across each remote write and across any close or
	// reopen of the sink while the stages run.
	sinkMu sync.Mutex

	src    source.Source
	pool   atomic.Pointer[bufpool.Pool]
	retry  *rate.Limiter
	stages []*worker // stop order: effects, decode, event, remote, notify

	decodeWake  *waker
	remoteWake  *waker
	effectsWake *waker
	notifyWake  *waker
	lastBuffer  chan int

	pauseTimer *time.Timer
	pauseGen   int

	// owned by the decode stage while running, by Start and Reset otherwise
	first    *source.MediaBuffer
	input    *source.MediaBuffer
	inputOff int
}

// New creates a stopped player.
func New(cfg Config, deps Deps) *Player {
	if cfg.BufferCount <= 0 {
		cfg.BufferCount = models.DefaultBufferCount
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = models.DefaultBufferSize
	}
	if cfg.PauseTimeout <= 0 {
		cfg.PauseTimeout = time.Duration(models.DefaultPauseTimeoutMs) * time.Millisecond
	}
	if cfg.RetryPerSec <= 0 {
		cfg.RetryPerSec = models.DefaultRetryPerSec
	}
	p := &Player{
		cfg:         cfg,
		pcm:         deps.PCM,
		session:     deps.Session,
		sink:        deps.Sink,
		lock:        deps.Lock,
		fx:          deps.Effects,
		obs:         deps.Observer,
		decodeWake:  newWaker(),
		remoteWake:  newWaker(),
		effectsWake: newWaker(),
		notifyWake:  newWaker(),
		lastBuffer:  make(chan int, 1),
	}
	if p.lock == nil {
		p.lock = &power.Noop{}
	}
	if p.fx == nil {
		p.fx = copyProcessor{}
	}
	if p.obs == nil {
		p.obs = nopObserver{}
	}
	p.st.v.remote = cfg.Remote
	return p
}

// SetSource attaches the media source. It may only be called while no
// source is attached; Reset detaches it.
func (p *Player) SetSource(src source.Source) error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()
	if p.src != nil {
		return ErrSourceSet
	}
	if src == nil {
		return ErrNoSource
	}
	p.src = src
	return nil
}

// Start validates the source format, opens the output for the current
// route, allocates the pool and launches the stages. Nothing is started if
// any step fails.
func (p *Player) Start(ctx context.Context, sourceAlreadyStarted bool) error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.st.get().started {
		return ErrAlreadyStarted
	}
	if p.src == nil {
		return ErrNoSource
	}

	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	if !sourceAlreadyStarted {
		if err := p.src.Start(); err != nil {
			return fmt.Errorf("player: start source: %w", err)
		}
		undo = append(undo, func() { _ = p.src.Stop() })
	}

	// Prime one buffer so the format is known before anything is opened.
	first, err := p.src.Read(ctx, source.ReadOptions{})
	switch {
	case err == nil:
	case errors.Is(err, source.ErrFormatChanged), errors.Is(err, io.EOF):
		first = nil
	default:
		rollback()
		return fmt.Errorf("player: prime source: %w", err)
	}

	format := p.src.Format()
	if !strings.EqualFold(format.MIME, source.MIMERaw) {
		rollback()
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format.MIME)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		rollback()
		return fmt.Errorf("%w: %d Hz, %d channels", ErrUnsupportedFormat, format.SampleRate, format.Channels)
	}

	frame := format.Channels * hardware.BytesPerSample
	size := p.cfg.BufferSize / frame * frame
	pool, err := bufpool.New(p.cfg.BufferCount, size)
	if err != nil {
		rollback()
		return err
	}

	remote := p.st.get().remote
	if remote {
		if err := p.sink.Open(format.SampleRate, format.Channels, p.cfg.BufferCount); err != nil {
			rollback()
			return fmt.Errorf("player: open sink: %w", err)
		}
		undo = append(undo, func() { _ = p.sink.Close() })
		if err := p.sink.Start(); err != nil {
			rollback()
			return fmt.Errorf("player: start sink: %w", err)
		}
	} else {
		if err := p.session.Open(format.SampleRate, format.Channels); err != nil {
			rollback()
			return fmt.Errorf("player: open session: %w", err)
		}
		undo = append(undo, func() { _ = p.session.Close() })
		if err := p.lock.Acquire(); err != nil {
			slog.Warn("player: wake lock not acquired", "err", err)
		}
		undo = append(undo, func() { _ = p.lock.Release() })
	}

	params := hardware.Params{
		SampleRate:  format.SampleRate,
		Channels:    format.Channels,
		PeriodBytes: size,
		Periods:     p.cfg.BufferCount,
	}
	if err := p.pcm.Open(params); err != nil {
		rollback()
		return fmt.Errorf("player: open device: %w", err)
	}
	undo = append(undo, func() { _ = p.pcm.Close() })
	if !remote {
		if err := p.pcm.Prepare(); err != nil {
			rollback()
			return fmt.Errorf("player: prepare device: %w", err)
		}
	}

	p.first, p.input, p.inputOff = first, nil, 0
	p.pool.Store(pool)
	p.retry = rate.NewLimiter(rate.Limit(p.cfg.RetryPerSec), 1)
	p.st.update(func(v *playbackState) {
		v.started = true
		v.paused = false
		v.reachedEOS = false
		v.eosPosted = false
		v.resetting = false
		v.deviceStarted = false
		v.routed = !remote
		v.sinkOpen = remote
		v.sampleRate = format.SampleRate
		v.channels = format.Channels
	})

	p.stages = []*worker{
		p.spawn("effects", func(ctx context.Context) { p.effectsLoop(ctx, pool) }),
		p.spawn("decode", func(ctx context.Context) { p.decodeLoop(ctx, pool) }),
		p.spawn("event", func(ctx context.Context) { p.eventLoop(ctx, pool) }),
		p.spawn("remote", func(ctx context.Context) { p.remoteLoop(ctx, pool) }),
		p.spawn("notify", func(ctx context.Context) { p.notifyLoop(ctx, pool) }),
	}
	slog.Info("player: started",
		"rate", format.SampleRate, "channels", format.Channels,
		"buffers", p.cfg.BufferCount, "buffer_size", size, "remote", remote)
	return nil
}

func (p *Player) spawn(name string, loop func(ctx context.Context)) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{name: name, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		loop(ctx)
		slog.Debug("player: stage exited", "stage", name)
	}()
	return w
}

// Reset stops every stage in a fixed order, stops and detaches the source,
// releases the pool and closes the outputs. The player can then be given a
// new source and started again. The route survives a reset.
func (p *Player) Reset() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if !p.st.get().started {
		p.src = nil
		return nil
	}

	p.st.update(func(v *playbackState) { v.resetting = true })
	p.stopPauseTimer()
	for _, w := range p.stages {
		w.stop()
	}
	p.stages = nil

	var errs []error
	p.first, p.input, p.inputOff = nil, nil, 0
	if err := p.src.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("player: stop source: %w", err))
	}
	p.src = nil

	if pool := p.pool.Swap(nil); pool != nil {
		pool.Release()
	}

	s := p.st.get()
	if err := p.pcm.Close(); err != nil {
		errs = append(errs, fmt.Errorf("player: close device: %w", err))
	}
	if s.sinkOpen {
		if err := p.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("player: close sink: %w", err))
		}
	}
	if s.routed {
		if err := p.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("player: close session: %w", err))
		}
		if err := p.lock.Release(); err != nil {
			errs = append(errs, fmt.Errorf("player: release wake lock: %w", err))
		}
	}

	p.st.update(func(v *playbackState) {
		*v = playbackState{remote: v.remote}
	})
	for _, w := range []*waker{p.decodeWake, p.remoteWake, p.effectsWake, p.notifyWake} {
		w.drain()
	}
	select {
	case <-p.lastBuffer:
	default:
	}
	slog.Info("player: reset")
	return errors.Join(errs...)
}

// MediaTimeUs returns the current presentation position. While paused it
// is the position captured at pause time.
func (p *Player) MediaTimeUs() int64 {
	var t int64
	p.st.update(func(v *playbackState) {
		if v.paused {
			t = v.pauseTimeUs
			return
		}
		t = v.seekTimeUs + p.timestampLocked(v, v.remote)
	})
	return t
}

// timestampLocked is the time played since the seek baseline on the given
// route. The caller holds the state lock.
func (p *Player) timestampLocked(v *playbackState, remote bool) int64 {
	if remote {
		return hardware.DurationUs(v.remoteBytes, v.sampleRate, v.channels)
	}
	if !v.started {
		return 0
	}
	return p.pcm.Timestamp()
}

// Status returns a snapshot for the control surface.
func (p *Player) Status() models.Status {
	pos := p.MediaTimeUs()
	s := p.st.get()
	st := models.Status{
		State:       models.StateIdle,
		Route:       models.RouteLocal,
		Seeking:     s.seeking || s.internalSeeking,
		EOS:         s.reachedEOS,
		PositionUs:  pos,
		SampleRate:  s.sampleRate,
		Channels:    s.channels,
		RemoteBytes: s.remoteBytes,
	}
	if s.remote {
		st.Route = models.RouteRemote
	}
	if s.started {
		st.State = models.StatePlaying
		if s.paused {
			st.State = models.StatePaused
		}
		if played := pos - s.seekTimeUs; played > 0 {
			st.FramesPlayed = played * int64(s.sampleRate) / 1_000_000
		}
	}
	if pool := p.pool.Load(); pool != nil {
		c := pool.Counts()
		st.Requests, st.Responses, st.InFlight = c.Request, c.Response, c.InFlight
	}
	return st
}

// postEOS reports end of stream exactly once per stream or seek.
func (p *Player) postEOS(fn func(v *playbackState) bool) {
	post := false
	p.st.update(func(v *playbackState) {
		if v.eosPosted || v.resetting || !v.reachedEOS {
			return
		}
		if fn != nil && !fn(v) {
			return
		}
		v.eosPosted = true
		post = true
	})
	if post {
		slog.Info("player: end of stream")
		p.obs.PostAudioEOS()
	}
}

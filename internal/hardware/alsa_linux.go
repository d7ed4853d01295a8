//go:build linux

package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

const (
	pcmDevPathFmt = "/dev/snd/pcmC%dD%dp"

	sndrvPcmAccessRWInterleaved = 3
	sndrvPcmFormatS16LE         = 2
	sndrvPcmSubformatStd        = 0

	paramAccess      = 0
	paramFormat      = 1
	paramSubformat   = 2
	paramSampleBits  = 8
	paramFrameBits   = 9
	paramChannels    = 10
	paramRate        = 11
	paramPeriodSize  = 13
	paramPeriods     = 15
	paramFirstInterv = paramSampleBits

	intervalInteger = 1 << 2

	completionTick = 5 * time.Millisecond
	retryPerSec    = 200
	// periods handed to the kernel ahead of playback; the rest stays
	// staged in the caller's buffers and can still be rewritten
	leadPeriods = 2
)

// ALSA ioctl request numbers (asm-generic encoding).
var (
	ioctlHwParams     = ioc(iocRead|iocWrite, 0x11, unsafe.Sizeof(sndHwParams{}))
	ioctlDelay        = ioc(iocRead, 0x21, unsafe.Sizeof(int(0)))
	ioctlPrepare      = ioc(iocNone, 0x40, 0)
	ioctlReset        = ioc(iocNone, 0x41, 0)
	ioctlStart        = ioc(iocNone, 0x42, 0)
	ioctlDrop         = ioc(iocNone, 0x43, 0)
	ioctlPause        = ioc(iocWrite, 0x45, unsafe.Sizeof(int32(0)))
	ioctlWriteiFrames = ioc(iocWrite, 0x50, unsafe.Sizeof(sndXferi{}))
)

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('A')<<8 | nr
}

// sndMask mirrors struct snd_mask.
type sndMask struct {
	bits [8]uint32
}

// sndInterval mirrors struct snd_interval; flags packs openmin/openmax/integer/empty.
type sndInterval struct {
	min, max, flags uint32
}

// sndHwParams mirrors struct snd_pcm_hw_params from sound/asound.h.
type sndHwParams struct {
	flags     uint32
	masks     [3]sndMask
	mres      [5]sndMask
	intervals [12]sndInterval
	ires      [9]sndInterval
	rmask     uint32
	cmask     uint32
	info      uint32
	msbits    uint32
	rateNum   uint32
	rateDen   uint32
	fifoSize  uint
	reserved  [64]byte
}

// sndXferi mirrors struct snd_xferi.
type sndXferi struct {
	result int
	buf    uintptr
	frames uint
}

func (hp *sndHwParams) init() {
	for i := range hp.masks {
		for j := range hp.masks[i].bits {
			hp.masks[i].bits[j] = ^uint32(0)
		}
	}
	for i := range hp.intervals {
		hp.intervals[i].max = ^uint32(0)
	}
	hp.rmask = ^uint32(0)
	hp.info = ^uint32(0)
}

func (hp *sndHwParams) setMask(param int, bit uint32) {
	m := &hp.masks[param]
	for j := range m.bits {
		m.bits[j] = 0
	}
	m.bits[bit>>5] |= 1 << (bit & 31)
}

func (hp *sndHwParams) setInt(param int, val uint32) {
	iv := &hp.intervals[param-paramFirstInterv]
	iv.min = val
	iv.max = val
	iv.flags = intervalInteger
}

// ALSA drives a kernel PCM playback device directly through its ioctl
// interface. Completions are derived from the device delay, sampled on a
// timerfd tick and interruptible through an eventfd. Written buffers are
// staged by reference and fed to the kernel leadPeriods at a time from the
// same tick.
type ALSA struct {
	mu        sync.Mutex
	card      int
	device    int
	fd        int
	params    Params
	periods   int
	staged    [][]byte // accepted writes not yet fully in the kernel
	stagedOff int      // frames of staged[0] already in the kernel
	queued    int64    // frames accepted since last prepare
	written   int64    // frames handed to the kernel since last prepare
	marks     []int64  // end frame of every unplayed write
	compl     chan struct{}
	limiter   *rate.Limiter

	timerFd  int
	eventFd  int
	pollDone chan struct{}
}

// NewALSA creates a driver for /dev/snd/pcmC<card>D<device>p.
func NewALSA(card, device int) *ALSA {
	return &ALSA{
		card:    card,
		device:  device,
		fd:      -1,
		timerFd: -1,
		eventFd: -1,
		compl:   make(chan struct{}, 64),
		limiter: rate.NewLimiter(rate.Limit(retryPerSec), 1),
	}
}

func (a *ALSA) path() string {
	return fmt.Sprintf(pcmDevPathFmt, a.card, a.device)
}

func (a *ALSA) Open(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fd >= 0 {
		return ErrHardware("alsa: device already open")
	}

	fd, err := unix.Open(a.path(), unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("alsa: open %s: %w", a.path(), err)
	}

	periods := p.Periods
	if periods <= 0 {
		periods = 4
	}
	var hp sndHwParams
	hp.init()
	hp.setMask(paramAccess, sndrvPcmAccessRWInterleaved)
	hp.setMask(paramFormat, sndrvPcmFormatS16LE)
	hp.setMask(paramSubformat, sndrvPcmSubformatStd)
	hp.setInt(paramSampleBits, 16)
	hp.setInt(paramFrameBits, uint32(16*p.Channels))
	hp.setInt(paramChannels, uint32(p.Channels))
	hp.setInt(paramRate, uint32(p.SampleRate))
	hp.setInt(paramPeriodSize, uint32(p.PeriodBytes/p.FrameBytes()))
	hp.setInt(paramPeriods, uint32(periods))
	if err := ioctl(fd, ioctlHwParams, uintptr(unsafe.Pointer(&hp))); err != nil {
		unix.Close(fd)
		return fmt.Errorf("alsa: HW_PARAMS rate=%d ch=%d: %w", p.SampleRate, p.Channels, err)
	}

	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("alsa: timerfd: %w", err)
	}
	tick := unix.NsecToTimespec(completionTick.Nanoseconds())
	if err := unix.TimerfdSettime(tfd, 0, &unix.ItimerSpec{Interval: tick, Value: tick}, nil); err != nil {
		unix.Close(tfd)
		unix.Close(fd)
		return fmt.Errorf("alsa: arm timerfd: %w", err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(tfd)
		unix.Close(fd)
		return fmt.Errorf("alsa: eventfd: %w", err)
	}

	a.fd = fd
	a.timerFd = tfd
	a.eventFd = efd
	a.params = p
	a.periods = periods
	a.dropLocked()
	a.pollDone = make(chan struct{})
	go a.pollLoop(tfd, efd, a.pollDone)

	slog.Info("alsa: device opened", "path", a.path(), "rate", p.SampleRate, "channels", p.Channels, "period_bytes", p.PeriodBytes)
	return nil
}

func (a *ALSA) Prepare() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fd < 0 {
		return ErrHardware("alsa: prepare on closed device")
	}
	if err := ioctl(a.fd, ioctlPrepare, 0); err != nil {
		return fmt.Errorf("alsa: PREPARE: %w", err)
	}
	a.dropLocked()
	return nil
}

func (a *ALSA) Write(ctx context.Context, p []byte) (int, error) {
	for {
		a.mu.Lock()
		if a.fd < 0 {
			a.mu.Unlock()
			return 0, ErrHardware("alsa: write on closed device")
		}
		frameBytes := a.params.FrameBytes()
		ring := int64(a.params.PeriodBytes / frameBytes * a.periods)
		pending := a.queued - a.playedLocked()
		if pending == 0 || pending+int64(len(p)/frameBytes) <= ring {
			break
		}
		a.mu.Unlock()
		// ring full, the device drains at the sample rate
		if err := a.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}
	defer a.mu.Unlock()

	frameBytes := a.params.FrameBytes()
	frames := len(p) / frameBytes
	a.staged = append(a.staged, p[:frames*frameBytes])
	a.queued += int64(frames)
	a.marks = append(a.marks, a.queued)
	if err := a.feedLocked(); err != nil {
		a.dropLocked()
		return 0, err
	}
	return frames * frameBytes, nil
}

// feedLocked hands staged frames to the kernel until it holds leadPeriods
// periods or nothing is staged.
func (a *ALSA) feedLocked() error {
	frameBytes := a.params.FrameBytes()
	lead := int64(leadPeriods * a.params.PeriodBytes / frameBytes)
	for len(a.staged) > 0 {
		head := a.staged[0]
		frames := len(head)/frameBytes - a.stagedOff
		if frames <= 0 {
			a.staged = a.staged[1:]
			a.stagedOff = 0
			continue
		}
		room := lead - (a.written - a.playedLocked())
		if room <= 0 {
			return nil
		}
		x := sndXferi{
			buf:    uintptr(unsafe.Pointer(&head[a.stagedOff*frameBytes])),
			frames: uint(min(int64(frames), room)),
		}
		err := ioctl(a.fd, ioctlWriteiFrames, uintptr(unsafe.Pointer(&x)))
		switch {
		case err == nil:
			if x.result <= 0 {
				return nil
			}
			a.written += int64(x.result)
			a.stagedOff += x.result
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			return nil
		case errors.Is(err, unix.EPIPE):
			slog.Warn("alsa: underrun, re-preparing", "path", a.path())
			if perr := ioctl(a.fd, ioctlPrepare, 0); perr != nil {
				return fmt.Errorf("alsa: PREPARE after underrun: %w", perr)
			}
		default:
			return fmt.Errorf("alsa: WRITEI_FRAMES: %w", err)
		}
	}
	return nil
}

// Update runs fn while no staged frames are being fed to the kernel.
func (a *ALSA) Update(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn()
}

func (a *ALSA) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fd < 0 {
		return ErrHardware("alsa: start on closed device")
	}
	// EBADFD means the stream already started on its own threshold
	if err := ioctl(a.fd, ioctlStart, 0); err != nil && !errors.Is(err, unix.EBADFD) {
		return fmt.Errorf("alsa: START: %w", err)
	}
	return nil
}

func (a *ALSA) Pause(enable bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fd < 0 {
		return ErrHardware("alsa: pause on closed device")
	}
	var v uintptr
	if enable {
		v = 1
	}
	if err := ioctl(a.fd, ioctlPause, v); err != nil {
		return fmt.Errorf("alsa: PAUSE(%v): %w", enable, err)
	}
	return nil
}

func (a *ALSA) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fd < 0 {
		return ErrHardware("alsa: reset on closed device")
	}
	if err := ioctl(a.fd, ioctlReset, 0); err != nil {
		return fmt.Errorf("alsa: RESET: %w", err)
	}
	a.dropLocked()
	return nil
}

func (a *ALSA) Timestamp() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	played := a.playedLocked()
	return played * 1_000_000 / int64(max(a.params.SampleRate, 1))
}

func (a *ALSA) Completions() <-chan struct{} { return a.compl }

func (a *ALSA) Close() error {
	a.mu.Lock()
	if a.fd < 0 {
		a.mu.Unlock()
		return nil
	}
	efd, done := a.eventFd, a.pollDone
	a.mu.Unlock()

	var one [8]byte
	one[0] = 1
	if _, err := unix.Write(efd, one[:]); err != nil {
		slog.Warn("alsa: signal poll loop", "err", err)
	}
	<-done

	a.mu.Lock()
	defer a.mu.Unlock()
	_ = ioctl(a.fd, ioctlDrop, 0)
	unix.Close(a.fd)
	unix.Close(a.timerFd)
	unix.Close(a.eventFd)
	a.fd, a.timerFd, a.eventFd = -1, -1, -1
	a.dropLocked()
	slog.Info("alsa: device closed", "path", a.path())
	return nil
}

// pollLoop waits on the completion tick and the kill eventfd.
func (a *ALSA) pollLoop(tfd, efd int, done chan struct{}) {
	defer close(done)
	fds := []unix.PollFd{
		{Fd: int32(tfd), Events: unix.POLLIN},
		{Fd: int32(efd), Events: unix.POLLIN},
	}
	var buf [8]byte
	for {
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			slog.Error("alsa: poll failed", "err", err)
			return
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			return
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			_, _ = unix.Read(tfd, buf[:])
			a.checkCompletions()
		}
	}
}

func (a *ALSA) checkCompletions() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.marks) == 0 || a.fd < 0 {
		return
	}
	if err := a.feedLocked(); err != nil {
		slog.Error("alsa: feed failed", "err", err)
	}
	played := a.playedLocked()
	n := 0
	for n < len(a.marks) && a.marks[n] <= played {
		n++
	}
	a.marks = a.marks[n:]
	for ; n > 0; n-- {
		select {
		case a.compl <- struct{}{}:
		default:
		}
	}
}

// playedLocked returns frames that have left the ring since prepare.
func (a *ALSA) playedLocked() int64 {
	if a.fd < 0 {
		return 0
	}
	var delay int
	if err := ioctl(a.fd, ioctlDelay, uintptr(unsafe.Pointer(&delay))); err != nil {
		// xrun: everything queued has been consumed
		return a.written
	}
	played := a.written - int64(delay)
	if played < 0 {
		return 0
	}
	return played
}

func (a *ALSA) dropLocked() {
	a.staged = nil
	a.stagedOff = 0
	a.queued = 0
	a.written = 0
	a.marks = nil
	for {
		select {
		case <-a.compl:
		default:
			return
		}
	}
}

func ioctl(fd int, req, arg uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg); errno != 0 {
		return errno
	}
	return nil
}

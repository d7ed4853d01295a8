package player

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/micro-nova/lpaplayer/internal/bufpool"
	"github.com/micro-nova/lpaplayer/internal/hardware"
	"github.com/micro-nova/lpaplayer/internal/source"
)

func (p *Player) decodeLoop(ctx context.Context, pool *bufpool.Pool) {
	for ctx.Err() == nil {
		if !p.decodeReady(pool) {
			p.decodeWake.wait(ctx)
			continue
		}
		h, ok := pool.PopRequest()
		if !ok {
			continue
		}
		p.decodeOne(ctx, pool, h)
	}
}

func (p *Player) decodeReady(pool *bufpool.Pool) bool {
	ready := false
	p.st.update(func(v *playbackState) {
		ready = pool.LenRequest() > 0 &&
			!v.reachedEOS &&
			!v.paused &&
			!(v.remote && !v.sinkOpen) &&
			!v.disconnectPause &&
			!v.resetting
	})
	return ready
}

func (p *Player) decodeOne(ctx context.Context, pool *bufpool.Pool, h bufpool.Handle) {
	buf := pool.Buffer(h)
	buf.Clear()
	eos := p.fill(ctx, pool, h, buf)
	if ctx.Err() != nil {
		pool.Return(h)
		return
	}

	valid := buf.Valid
	if valid == 0 {
		p.st.update(func(v *playbackState) {
			stale := pool.Stale(h)
			pool.PushFront(h)
			if eos && !stale {
				v.reachedEOS = true
			}
		})
		if eos {
			// Nothing left in flight means nothing else will report the end.
			p.postEOS(func(*playbackState) bool {
				c := pool.Counts()
				return c.Response == 0 && c.InFlight == 0
			})
			return
		}
		_ = p.retry.Wait(ctx)
		return
	}

	delivered, remote := false, false
	p.st.update(func(v *playbackState) {
		delivered = pool.Deliver(h)
		if delivered && eos {
			v.reachedEOS = true
		}
		remote = v.remote
	})
	if !delivered {
		slog.Debug("player: dropped buffer filled across a flush")
		return
	}
	if remote {
		p.remoteWake.notify(WakeQueue)
		return
	}
	p.writeLocal(ctx, pool, h, valid, eos)
}

// fill copies source data into buf until it is full or the stream ends.
// A seek consumed mid-fill discards what was gathered and restarts the
// fill at the new position.
func (p *Player) fill(ctx context.Context, pool *bufpool.Pool, h bufpool.Handle, buf *bufpool.Buffer) (eos bool) {
	var opts source.ReadOptions
	limit := frameCapacity(buf.Capacity, p.st.get().channels)
	for buf.Valid < limit {
		if ctx.Err() != nil {
			return false
		}
		if seek, ok := p.consumeSeek(pool, h); ok {
			opts = seek
			buf.Valid = 0
			p.first, p.input, p.inputOff = nil, nil, 0
		}

		if p.input == nil {
			var mb *source.MediaBuffer
			if p.first != nil {
				mb, p.first = p.first, nil
			} else {
				var err error
				mb, err = p.src.Read(ctx, opts)
				if errors.Is(err, source.ErrFormatChanged) {
					if p.reconfigure(pool, h) {
						// old-format audio never shares a buffer with the new format
						buf.Valid = 0
						limit = frameCapacity(buf.Capacity, p.st.get().channels)
					}
					continue
				}
				if err != nil {
					if ctx.Err() != nil {
						return false
					}
					if !errors.Is(err, io.EOF) {
						slog.Error("player: source read failed", "err", err)
					}
					return true
				}
				opts = source.ReadOptions{}
			}
			if mb == nil || len(mb.Data) == 0 {
				return false
			}
			p.input, p.inputOff = mb, 0
		}

		n := copy(buf.Local[buf.Valid:limit], p.input.Data[p.inputOff:])
		buf.Valid += n
		p.inputOff += n
		if p.inputOff >= len(p.input.Data) {
			p.input = nil
		}
	}
	return false
}

// consumeSeek takes a pending user or internal seek. The buffer being
// filled is restamped under the state lock, so it survives the flush that
// the seek already performed but not any later one.
func (p *Player) consumeSeek(pool *bufpool.Pool, h bufpool.Handle) (source.ReadOptions, bool) {
	var opts source.ReadOptions
	notify := false
	p.st.update(func(v *playbackState) {
		if !v.seeking && !v.internalSeeking {
			return
		}
		opts = source.Seek(v.seekTimeUs)
		notify = v.seeking && !v.resetting
		v.seeking = false
		v.internalSeeking = false
		pool.Restamp(h)
	})
	if !opts.HasSeek {
		return opts, false
	}
	slog.Debug("player: seek consumed", "position_us", opts.SeekUs)
	if notify {
		p.obs.PostAudioSeekComplete()
	}
	return opts, true
}

// frameCapacity is the largest whole number of frames that fits in
// capacity bytes.
func frameCapacity(capacity, channels int) int {
	frame := max(channels, 1) * hardware.BytesPerSample
	return capacity / frame * frame
}

// reconfigure reopens the active output after the source changed format
// and reports whether the format actually differs. Queued audio in the old
// format is dropped.
func (p *Player) reconfigure(pool *bufpool.Pool, h bufpool.Handle) bool {
	f := p.src.Format()
	if f.SampleRate <= 0 || f.Channels <= 0 {
		slog.Error("player: source switched to an unusable format",
			"rate", f.SampleRate, "channels", f.Channels)
		return false
	}
	var s playbackState
	changed := false
	p.st.update(func(v *playbackState) {
		s = *v
		if f.SampleRate == v.sampleRate && f.Channels == v.channels {
			return
		}
		changed = true
		v.sampleRate, v.channels = f.SampleRate, f.Channels
		v.deviceStarted = false
		v.devicePaused = false
		v.deviceQueued = 0
		if v.remote {
			v.sinkOpen = false
		}
		pool.Flush()
		pool.Restamp(h)
	})
	if !changed {
		return false
	}
	slog.Info("player: source format changed", "rate", f.SampleRate, "channels", f.Channels)

	if s.remote {
		p.reopenSink(f.SampleRate, f.Channels, s.paused)
		return true
	}

	p.applyMu.Lock()
	defer p.applyMu.Unlock()
	_ = p.pcm.Close()
	params := hardware.Params{
		SampleRate:  f.SampleRate,
		Channels:    f.Channels,
		PeriodBytes: frameCapacity(pool.Buffer(h).Capacity, f.Channels),
		Periods:     pool.Len(),
	}
	if err := p.pcm.Open(params); err != nil {
		slog.Error("player: reopen device", "err", err)
		return true
	}
	if err := p.pcm.Prepare(); err != nil {
		slog.Error("player: prepare device", "err", err)
	}
	return true
}

// reopenSink cycles the remote sink for a new format. sinkOpen is already
// cleared, so the remote stage leaves the sink alone until the reopen
// succeeds; sinkMu waits out a write already in progress.
func (p *Player) reopenSink(sampleRate, channels int, paused bool) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	if err := p.sink.Close(); err != nil {
		slog.Warn("player: close sink", "err", err)
	}
	if err := p.sink.Open(sampleRate, channels, p.cfg.BufferCount); err != nil {
		slog.Error("player: reopen sink", "err", err)
		return
	}
	if !paused {
		if err := p.sink.Start(); err != nil {
			slog.Warn("player: start sink", "err", err)
		}
	}
	opened := false
	p.st.update(func(v *playbackState) {
		// a route switch or reset may have claimed the sink meanwhile
		if v.remote && !v.resetting {
			v.sinkOpen = true
			opened = true
		}
	})
	if opened {
		p.remoteWake.notify(WakeQueue)
		p.decodeWake.notify(WakeQueue)
		return
	}
	_ = p.sink.Close()
}

// writeLocal renders a delivered buffer through the effects chain and
// writes it to the device.
func (p *Player) writeLocal(ctx context.Context, pool *bufpool.Pool, h bufpool.Handle, valid int, eos bool) {
	wctx, cancel := context.WithCancel(ctx)
	p.setWriteCancel(cancel)
	defer p.setWriteCancel(nil)
	defer cancel()

	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	skip, channels := false, 0
	p.st.update(func(v *playbackState) {
		skip = v.seeking || v.remote || v.resetting || !pool.InResponse(h)
		channels = v.channels
	})
	if skip {
		return
	}

	buf := pool.Buffer(h)
	// the device may still hold this slot from before a flush
	p.pcm.Update(func() { p.fx.Process(buf.Device[:valid], buf.Local[:valid], channels) })
	if _, err := p.pcm.Write(wctx, buf.Device[:valid]); err != nil {
		if wctx.Err() != nil {
			return
		}
		slog.Error("player: device write failed", "err", err)
		p.st.update(func(v *playbackState) { v.reachedEOS = true })
		p.postEOS(nil)
		return
	}
	p.st.update(func(v *playbackState) {
		v.deviceStarted = true
		v.deviceQueued++
	})

	if eos {
		if err := p.pcm.Start(); err != nil {
			slog.Warn("player: device start failed", "err", err)
		}
	}
	if valid < frameCapacity(buf.Capacity, channels) && pool.LenResponse() == 1 {
		select {
		case p.lastBuffer <- valid:
		default:
		}
	}
}

func (p *Player) setWriteCancel(cancel context.CancelFunc) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.writeCancel = cancel
}

// cancelWrite aborts a device write blocked on a full ring.
func (p *Player) cancelWrite() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.writeCancel != nil {
		p.writeCancel()
	}
}

package player

import (
	"fmt"
	"log/slog"
	"time"
)

// Pause stops playback. With drain set the local path keeps what the
// device already holds and the remote sink is stopped rather than flushed.
// Pausing a paused player does nothing.
func (p *Player) Pause(drain bool) error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if !p.st.get().started {
		return ErrNotStarted
	}
	p.completeRouteSwitch(p.pool.Load())
	s := p.st.get()
	if s.paused {
		return nil
	}
	p.st.update(func(v *playbackState) { v.paused = true })

	switch {
	case s.disconnectPause:
		// The remote output went away; stop it and let the notify stage
		// move the stream back to the local device.
		if err := p.sink.Pause(); err != nil {
			slog.Warn("player: pause remote sink", "err", err)
		}
		p.st.update(func(v *playbackState) {
			v.disconnectPause = false
			v.routePending = true
			v.pauseTimeUs = v.seekTimeUs + p.timestampLocked(v, true)
		})
		p.notifyWake.notify(WakeRoute)
		slog.Info("player: paused for route switch")
		return nil
	case s.remote && drain:
		if err := p.sink.Stop(); err != nil {
			slog.Warn("player: stop remote sink", "err", err)
		}
	case s.remote:
		if err := p.sink.Pause(); err != nil {
			slog.Warn("player: pause remote sink", "err", err)
		}
		if err := p.sink.Flush(); err != nil {
			slog.Warn("player: flush remote sink", "err", err)
		}
	default:
		p.pauseDevice()
		p.armPauseTimeout()
		if err := p.session.Pause(); err != nil {
			slog.Warn("player: pause session", "err", err)
		}
	}

	p.st.update(func(v *playbackState) {
		v.pauseTimeUs = v.seekTimeUs + p.timestampLocked(v, v.remote)
	})
	slog.Info("player: paused", "drain", drain, "remote", s.remote)
	return nil
}

// pauseDevice pauses the local device if it is running. A device that
// never started has nothing to pause.
func (p *Player) pauseDevice() {
	s := p.st.get()
	if !s.deviceStarted || s.devicePaused {
		return
	}
	if err := p.pcm.Pause(true); err != nil {
		slog.Warn("player: pause device", "err", err)
		return
	}
	p.st.update(func(v *playbackState) { v.devicePaused = true })
}

// Resume restarts playback on the current route, reopening whatever the
// pause timeout or a route switch closed.
func (p *Player) Resume() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if !p.st.get().started {
		return ErrNotStarted
	}
	p.completeRouteSwitch(p.pool.Load())
	s := p.st.get()
	if !s.paused {
		return nil
	}

	if s.remote {
		if s.routed {
			if err := p.session.Close(); err != nil {
				slog.Warn("player: close session", "err", err)
			}
			_ = p.lock.Release()
			p.st.update(func(v *playbackState) { v.routed = false })
		}
		p.sinkMu.Lock()
		s = p.st.get()
		if !s.sinkOpen {
			if err := p.sink.Open(s.sampleRate, s.channels, p.cfg.BufferCount); err != nil {
				p.sinkMu.Unlock()
				return fmt.Errorf("player: open remote sink: %w", err)
			}
			p.st.update(func(v *playbackState) { v.sinkOpen = true })
		}
		if err := p.sink.Start(); err != nil {
			slog.Warn("player: start remote sink", "err", err)
		}
		p.sinkMu.Unlock()
	} else {
		p.stopPauseTimer()
		p.sinkMu.Lock()
		if p.st.get().sinkOpen {
			if err := p.sink.Close(); err != nil {
				slog.Warn("player: close remote sink", "err", err)
			}
			p.st.update(func(v *playbackState) { v.sinkOpen = false })
		}
		p.sinkMu.Unlock()
		if !s.routed {
			if err := p.session.Open(s.sampleRate, s.channels); err != nil {
				return fmt.Errorf("player: open session: %w", err)
			}
			if err := p.lock.Acquire(); err != nil {
				slog.Warn("player: wake lock not acquired", "err", err)
			}
			p.st.update(func(v *playbackState) { v.routed = true })
		}
		if s.seeking || s.internalSeeking {
			p.applyMu.Lock()
			if err := p.pcm.Prepare(); err != nil {
				slog.Warn("player: prepare device", "err", err)
			}
			p.st.update(func(v *playbackState) {
				v.deviceStarted = false
				v.devicePaused = false
				v.deviceQueued = 0
			})
			p.applyMu.Unlock()
		} else if s.devicePaused {
			if err := p.pcm.Pause(false); err != nil {
				slog.Warn("player: resume device", "err", err)
			}
			p.st.update(func(v *playbackState) { v.devicePaused = false })
		}
		if err := p.session.Resume(); err != nil {
			slog.Warn("player: resume session", "err", err)
		}
	}

	p.st.update(func(v *playbackState) { v.paused = false })
	p.decodeWake.notify(WakePauseResume)
	p.remoteWake.notify(WakePauseResume)
	p.effectsWake.notify(WakePauseResume)
	slog.Info("player: resumed", "remote", s.remote)
	return nil
}

// SeekTo moves playback to us microseconds. Everything queued is dropped
// in the same critical section that records the target, so no buffer
// filled before the seek can reach an output afterwards. Before Start the
// target is only recorded.
func (p *Player) SeekTo(us int64) error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if us < 0 {
		us = 0
	}
	pool := p.pool.Load()

	p.cancelWrite()
	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	moved := 0
	var s playbackState
	p.st.update(func(v *playbackState) {
		v.reachedEOS = false
		v.eosPosted = false
		v.seeking = true
		v.seekTimeUs = us
		if v.paused {
			v.pauseTimeUs = us
		}
		if v.started && pool != nil {
			moved = pool.Flush()
			v.deviceQueued = 0
			if v.remote {
				v.remoteBytes = 0
			}
		}
		s = *v
	})
	slog.Debug("player: seek", "position_us", us, "flushed", moved)
	if !s.started {
		return nil
	}

	if s.remote {
		if !s.paused {
			if err := p.sink.Pause(); err != nil {
				slog.Warn("player: pause remote sink", "err", err)
			}
			if err := p.sink.Flush(); err != nil {
				slog.Warn("player: flush remote sink", "err", err)
			}
			if err := p.sink.Start(); err != nil {
				slog.Warn("player: start remote sink", "err", err)
			}
		}
		p.remoteWake.notify(WakeSeek)
	} else if !s.paused && s.routed {
		if s.deviceStarted && !s.devicePaused {
			if err := p.pcm.Pause(true); err != nil {
				slog.Warn("player: pause device", "err", err)
			}
		}
		if err := p.pcm.Prepare(); err != nil {
			slog.Warn("player: prepare device", "err", err)
		}
		p.st.update(func(v *playbackState) {
			v.deviceStarted = false
			v.devicePaused = false
		})
	}
	p.decodeWake.notify(WakeSeek)
	return nil
}

func (p *Player) armPauseTimeout() {
	if p.pauseTimer != nil {
		return
	}
	p.pauseGen++
	gen := p.pauseGen
	p.pauseTimer = time.AfterFunc(p.cfg.PauseTimeout, func() { p.onPauseTimeout(gen) })
}

func (p *Player) stopPauseTimer() {
	if p.pauseTimer != nil {
		p.pauseTimer.Stop()
		p.pauseTimer = nil
	}
	p.pauseGen++
}

// onPauseTimeout gives up the local session after a long pause. The next
// Resume reopens it and restarts from the pause position.
func (p *Player) onPauseTimeout(gen int) {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()
	if gen != p.pauseGen {
		return
	}
	p.pauseTimer = nil

	pool := p.pool.Load()
	s := p.st.get()
	if pool == nil || !s.started || !s.paused || s.remote {
		return
	}
	moved := 0
	p.st.update(func(v *playbackState) {
		v.internalSeeking = true
		v.reachedEOS = false
		v.eosPosted = false
		v.seekTimeUs = v.pauseTimeUs
		v.deviceQueued = 0
		moved = pool.Flush()
	})
	if s.routed {
		if err := p.session.Close(); err != nil {
			slog.Warn("player: close session", "err", err)
		}
		if err := p.lock.Release(); err != nil {
			slog.Warn("player: release wake lock", "err", err)
		}
		p.st.update(func(v *playbackState) { v.routed = false })
	}
	slog.Info("player: pause timeout, local session released", "flushed", moved)
}
